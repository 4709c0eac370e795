// Package wire defines the plaintext message shapes exchanged once a
// session key is established: frame tags and the Manifest document
// (spec §4.4, §6). Encoding/decoding of the encrypted envelope around
// these payloads lives in wire/framing.
package wire

// Tag identifies the type of a frame's plaintext payload. It is the
// single leading byte of every frame payload (spec §4.4).
type Tag byte

const (
	TagManifest     Tag = 0x01
	TagFileData     Tag = 0x02
	TagRetryRequest Tag = 0x03
	TagEndOfStream  Tag = 0x04
	TagAck          Tag = 0x05
	// TagSkipSet is a supplemented, capability-gated optimization: a
	// pre-stream frame listing files the receiver already has, letting
	// the sender omit their FileData frames entirely (spec §9's
	// "Skip-set optimization" open question; not part of the baseline
	// contract). Neither engine sends it, and both treat an incoming
	// SkipSet frame as a protocol error.
	TagSkipSet Tag = 0x06
)

func (t Tag) String() string {
	switch t {
	case TagManifest:
		return "Manifest"
	case TagFileData:
		return "FileData"
	case TagRetryRequest:
		return "RetryRequest"
	case TagEndOfStream:
		return "EndOfStream"
	case TagAck:
		return "Ack"
	case TagSkipSet:
		return "SkipSet"
	default:
		return "Unknown"
	}
}

// AckStatus is the single status byte carried by an Ack frame.
type AckStatus byte

const (
	AckOK   AckStatus = 0x00
	AckFail AckStatus = 0x01
)
