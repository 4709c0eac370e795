// Package framing implements the Frame Codec (C4): length-prefixed,
// per-direction-nonced AEAD frames over a connection, generalized from
// the teacher's plain length-prefix TCP encoder to carry an
// authenticated envelope (spec §4.4).
package framing

import (
	"encoding/binary"
	"fmt"
	"io"

	"xfer/application"
	"xfer/cryptography/session"
	"xfer/settings"
	"xfer/wire"
)

// Direction selects which half of the nonce space a Codec draws from.
// Sender-to-receiver frames and receiver-to-sender (retry/control)
// frames use disjoint counters so both ends can compute the expected
// nonce independently (spec §4.4).
type Direction uint32

const (
	SenderToReceiver Direction = 0
	ReceiverToSender Direction = 1
)

// lengthHeaderSize is the u32 big-endian ciphertext length prefix.
const lengthHeaderSize = 4

// maxCiphertextOnWire bounds the length we are willing to read off the
// wire before we've decrypted far enough to know the frame's real tag,
// so a hostile peer can't force an unbounded allocation with a forged
// length header. It is the largest plaintext cap (Manifest) plus tag
// byte plus AEAD tag.
const maxCiphertextOnWire = settings.MaxManifestPlaintext + 1 + 16

// Codec drives one direction of a session's frame stream: it owns the
// per-direction frame counter and turns tagged plaintext payloads into
// authenticated, length-prefixed frames (and back).
//
// A Codec is not safe for concurrent use. A session uses two Codecs,
// one per Direction, sharing the same *session.Context.
type Codec struct {
	ctx     *session.Context
	dir     Direction
	counter uint64
}

// NewCodec returns a Codec for dir, bound to ctx. ctx must already be
// Ready (DeriveSession must have succeeded).
func NewCodec(ctx *session.Context, dir Direction) *Codec {
	return &Codec{ctx: ctx, dir: dir}
}

func (c *Codec) nextNonce() []byte {
	nonce := make([]byte, session.NonceSize)
	binary.BigEndian.PutUint32(nonce[0:4], uint32(c.dir))
	binary.BigEndian.PutUint64(nonce[4:12], c.counter)
	c.counter++
	return nonce
}

// maxPlaintextFor returns the cap on plaintext length (including the
// leading tag byte) for a given tag (spec §4.4). Control frames other
// than Manifest share FileData's cap; the spec only names the two.
func maxPlaintextFor(tag wire.Tag) int {
	if tag == wire.TagManifest {
		return 1 + settings.MaxManifestPlaintext
	}
	return 1 + settings.MaxFileDataPlaintext
}

// WriteFrame seals tag||payload under the next nonce in this
// direction and writes the length-prefixed frame to w.
func (c *Codec) WriteFrame(w io.Writer, tag wire.Tag, payload []byte) error {
	plaintext := make([]byte, 1+len(payload))
	plaintext[0] = byte(tag)
	copy(plaintext[1:], payload)

	if len(plaintext) > maxPlaintextFor(tag) {
		return fmt.Errorf("%w: %s frame plaintext %d bytes exceeds cap", application.ErrProtocol, tag, len(plaintext))
	}

	nonce := c.nextNonce()
	ciphertext, err := c.ctx.Encrypt(nonce, plaintext)
	if err != nil {
		return err
	}

	header := make([]byte, lengthHeaderSize)
	binary.BigEndian.PutUint32(header, uint32(len(ciphertext)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("%w: write frame header: %v", application.ErrNetwork, err)
	}
	if _, err := w.Write(nonce); err != nil {
		return fmt.Errorf("%w: write frame nonce: %v", application.ErrNetwork, err)
	}
	if _, err := w.Write(ciphertext); err != nil {
		return fmt.Errorf("%w: write frame ciphertext: %v", application.ErrNetwork, err)
	}
	return nil
}

// ReadFrame reads and authenticates the next frame from r, returning
// its tag and payload (plaintext with the tag byte stripped).
func (c *Codec) ReadFrame(r io.Reader) (wire.Tag, []byte, error) {
	header := make([]byte, lengthHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("%w: read frame header: %v", application.ErrNetwork, err)
	}
	ciphertextLen := binary.BigEndian.Uint32(header)
	if ciphertextLen > maxCiphertextOnWire || ciphertextLen < 16 {
		return 0, nil, fmt.Errorf("%w: frame declares %d byte ciphertext", application.ErrProtocol, ciphertextLen)
	}

	nonce := make([]byte, session.NonceSize)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return 0, nil, fmt.Errorf("%w: read frame nonce: %v", application.ErrNetwork, err)
	}

	ciphertext := make([]byte, ciphertextLen)
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return 0, nil, fmt.Errorf("%w: read frame ciphertext: %v", application.ErrNetwork, err)
	}

	plaintext, err := c.ctx.Decrypt(nonce, ciphertext)
	if err != nil {
		return 0, nil, err
	}
	if len(plaintext) < 1 {
		return 0, nil, fmt.Errorf("%w: empty frame plaintext", application.ErrProtocol)
	}

	tag := wire.Tag(plaintext[0])
	switch tag {
	case wire.TagManifest, wire.TagFileData, wire.TagRetryRequest, wire.TagEndOfStream, wire.TagAck, wire.TagSkipSet:
	default:
		return 0, nil, fmt.Errorf("%w: unknown frame tag 0x%02x", application.ErrProtocol, byte(tag))
	}
	if len(plaintext) > maxPlaintextFor(tag) {
		return 0, nil, fmt.Errorf("%w: %s frame plaintext %d bytes exceeds cap", application.ErrProtocol, tag, len(plaintext))
	}

	return tag, plaintext[1:], nil
}
