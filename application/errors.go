package application

import "errors"

// Error taxonomy (spec §7). Each sentinel maps to a terminal state of
// the sender or receiver state machine. Call sites wrap these with
// fmt.Errorf("...: %w", Err...) to retain context; callers that need to
// branch on the class of failure use errors.Is against these sentinels.
var (
	// ErrNetwork covers bind/connect/timeout/unexpected-EOF/local-endpoint
	// unavailable conditions.
	ErrNetwork = errors.New("network error")

	// ErrAuthentication covers overlay verification failure or a
	// pod-mode peer that is not 127.0.0.1.
	ErrAuthentication = errors.New("authentication failed")

	// ErrAuthFailed is an AEAD tag verification failure.
	ErrAuthFailed = errors.New("crypto: auth failed")

	// ErrHandshake covers bad public-key length or HKDF failure.
	ErrHandshake = errors.New("crypto: handshake failed")

	// ErrProtocol covers unknown frame tags, oversized frames, out of
	// range offsets, and frames unexpected in the current state.
	ErrProtocol = errors.New("protocol error")

	// ErrIntegrity is a file hash mismatch surfaced only after retries
	// are exhausted.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrPathUnsafe is a manifest entry with a disallowed relative path.
	ErrPathUnsafe = errors.New("unsafe path")

	// ErrFilesystem is a non-recoverable disk I/O error.
	ErrFilesystem = errors.New("filesystem error")

	// ErrLockCorruption marks a lock document that failed validation
	// and was treated as absent.
	ErrLockCorruption = errors.New("lock document corrupted")
)
