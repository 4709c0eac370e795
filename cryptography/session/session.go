// Package session implements the Crypto Context (C3): ephemeral X25519
// key agreement bound to the human-communicable token, and the
// ChaCha20-Poly1305 AEAD the Frame Codec drives per frame.
package session

import (
	"crypto/cipher"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"xfer/application"
	"xfer/infrastructure/cryptography/mem"
	"xfer/infrastructure/cryptography/primitives"
)

const (
	// NonceSize is the ChaCha20-Poly1305 nonce length (spec §4.3/§4.4).
	NonceSize = chacha20poly1305.NonceSize
	// PublicKeySize is the raw X25519 public key encoding length.
	PublicKeySize = 32
)

// Context holds one session's key material: the ephemeral keypair and,
// once derive'd, the AEAD cipher used for both encrypt and decrypt.
// Context is not safe for concurrent use; spec §5 calls for a single
// session to be driven by one goroutine.
type Context struct {
	deriver primitives.KeyDeriver

	private   [32]byte
	public    []byte
	aead      cipher.AEAD
	destroyed bool
}

// NewContext generates a fresh X25519 keypair using the platform CSPRNG.
// The returned Context has no cipher until DeriveSession succeeds.
func NewContext() (*Context, error) {
	return newContextWithDeriver(&primitives.DefaultKeyDeriver{})
}

func newContextWithDeriver(d primitives.KeyDeriver) (*Context, error) {
	public, private, err := d.GenerateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: generate keypair: %v", application.ErrHandshake, err)
	}
	return &Context{deriver: d, private: private, public: public}, nil
}

// PublicBytes returns the raw 32-byte X25519 public key to send to the
// peer during the handshake.
func (c *Context) PublicBytes() []byte {
	out := make([]byte, len(c.public))
	copy(out, c.public)
	return out
}

// DeriveSession computes the X25519 shared secret with peerPublicBytes,
// derives a 32-byte session key via HKDF-SHA256 with salt=utf8(token)
// and info="session", and initializes the AEAD cipher (spec §4.3).
// On failure the Context's cipher remains unset.
func (c *Context) DeriveSession(peerPublicBytes []byte, token string) error {
	if len(peerPublicBytes) != PublicKeySize {
		return fmt.Errorf("%w: peer public key must be %d bytes, got %d",
			application.ErrHandshake, PublicKeySize, len(peerPublicBytes))
	}

	sharedSecret, err := c.deriver.ECDH(c.private, peerPublicBytes)
	if err != nil {
		return fmt.Errorf("%w: ecdh: %v", application.ErrHandshake, err)
	}
	defer mem.ZeroBytes(sharedSecret)

	salt := []byte(token)
	info := []byte("session")
	key, err := c.deriver.DeriveKey(sharedSecret, salt, info)
	if err != nil {
		return fmt.Errorf("%w: hkdf: %v", application.ErrHandshake, err)
	}
	defer mem.ZeroBytes(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("%w: aead init: %v", application.ErrHandshake, err)
	}

	c.aead = aead
	return nil
}

// Ready reports whether DeriveSession has succeeded.
func (c *Context) Ready() bool {
	return c.aead != nil
}

// Encrypt seals plaintext under nonce, returning ciphertext||tag
// (len(plaintext)+16 bytes). nonce must be exactly NonceSize bytes and
// must never repeat under this session key (the Frame Codec owns that
// discipline).
func (c *Context) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if !c.Ready() {
		return nil, fmt.Errorf("%w: session key not derived", application.ErrHandshake)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", application.ErrProtocol, NonceSize, len(nonce))
	}
	return c.aead.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext under nonce. On authentication failure it
// returns ErrAuthFailed and no plaintext is ever returned.
func (c *Context) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if !c.Ready() {
		return nil, fmt.Errorf("%w: session key not derived", application.ErrHandshake)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", application.ErrProtocol, NonceSize, len(nonce))
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w", application.ErrAuthFailed)
	}
	return plaintext, nil
}

// Destroy zeroes the private key material. Safe to call more than
// once; a best-effort defense, not a guarantee (see mem.ZeroBytes).
func (c *Context) Destroy() {
	if c.destroyed {
		return
	}
	mem.ZeroBytes(c.private[:])
	c.destroyed = true
}

// fingerprint is exposed for tests that want a stable, non-secret
// identifier for a public key without printing raw key bytes.
func fingerprint(pub []byte) [32]byte {
	return sha256.Sum256(pub)
}
