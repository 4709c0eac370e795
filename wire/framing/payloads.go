package framing

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/s2"

	"xfer/application"
	"xfer/settings"
	"xfer/wire"
)

// EncodeManifest marshals m to the canonical UTF-8 JSON document
// carried as a Manifest frame's payload (spec §6).
func EncodeManifest(m *wire.Manifest) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: encode manifest: %v", application.ErrProtocol, err)
	}
	return b, nil
}

// DecodeManifest parses a Manifest frame's payload and rejects an
// unrecognized document version.
func DecodeManifest(payload []byte) (*wire.Manifest, error) {
	var m wire.Manifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", application.ErrProtocol, err)
	}
	if m.Version != wire.CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported manifest version %q", application.ErrProtocol, m.Version)
	}
	return &m, nil
}

// EncodeFileData builds a FileData frame payload: u64_be(offset)
// followed by data, optionally block-compressed (spec §4.4). The
// compression choice is the session-wide value negotiated once in the
// Manifest, not a per-frame flag.
func EncodeFileData(offset uint64, data []byte, compress bool) []byte {
	out := make([]byte, 8, 8+len(data))
	binary.BigEndian.PutUint64(out, offset)
	if compress {
		return append(out, s2.Encode(nil, data)...)
	}
	return append(out, data...)
}

// DecodeFileData parses a FileData frame payload, reversing
// EncodeFileData. When compress is true the block's declared decoded
// length is checked against the FileData plaintext cap before
// decoding, and the decoded result is checked again, since a malicious
// or corrupt block could claim a small on-wire size but expand past
// the frame cap on decompression.
func DecodeFileData(payload []byte, compress bool) (offset uint64, data []byte, err error) {
	if len(payload) < 8 {
		return 0, nil, fmt.Errorf("%w: file data payload shorter than offset field", application.ErrProtocol)
	}
	offset = binary.BigEndian.Uint64(payload[:8])
	raw := payload[8:]

	if !compress {
		return offset, raw, nil
	}

	declared, err := s2.DecodedLen(raw)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: decompress file data: %v", application.ErrProtocol, err)
	}
	if declared > settings.MaxFileDataPlaintext {
		return 0, nil, fmt.Errorf("%w: compressed file data declares %d bytes, exceeds cap", application.ErrProtocol, declared)
	}

	decoded, err := s2.Decode(nil, raw)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: decompress file data: %v", application.ErrProtocol, err)
	}
	if len(decoded) > settings.MaxFileDataPlaintext {
		return 0, nil, fmt.Errorf("%w: decompressed file data %d bytes exceeds cap", application.ErrProtocol, len(decoded))
	}
	return offset, decoded, nil
}

// EncodeRetryRequest builds a RetryRequest frame payload: a UTF-8 JSON
// array of relative_path strings (spec §4.4).
func EncodeRetryRequest(paths []string) ([]byte, error) {
	b, err := json.Marshal(paths)
	if err != nil {
		return nil, fmt.Errorf("%w: encode retry request: %v", application.ErrProtocol, err)
	}
	return b, nil
}

// DecodeRetryRequest parses a RetryRequest frame payload.
func DecodeRetryRequest(payload []byte) ([]string, error) {
	var paths []string
	if err := json.Unmarshal(payload, &paths); err != nil {
		return nil, fmt.Errorf("%w: decode retry request: %v", application.ErrProtocol, err)
	}
	return paths, nil
}

// EncodeAck builds an Ack frame payload: a single status byte.
func EncodeAck(status wire.AckStatus) []byte {
	return []byte{byte(status)}
}

// DecodeAck parses an Ack frame payload.
func DecodeAck(payload []byte) (wire.AckStatus, error) {
	if len(payload) != 1 {
		return 0, fmt.Errorf("%w: ack payload must be 1 byte, got %d", application.ErrProtocol, len(payload))
	}
	return wire.AckStatus(payload[0]), nil
}

// EncodeSkipSet builds a SkipSet frame payload: a UTF-8 JSON array of
// relative_path strings the receiver already has (supplemented
// optimization profile, spec §9).
func EncodeSkipSet(paths []string) ([]byte, error) {
	b, err := json.Marshal(paths)
	if err != nil {
		return nil, fmt.Errorf("%w: encode skip set: %v", application.ErrProtocol, err)
	}
	return b, nil
}

// DecodeSkipSet parses a SkipSet frame payload.
func DecodeSkipSet(payload []byte) ([]string, error) {
	var paths []string
	if err := json.Unmarshal(payload, &paths); err != nil {
		return nil, fmt.Errorf("%w: decode skip set: %v", application.ErrProtocol, err)
	}
	return paths, nil
}
