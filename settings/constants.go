// Package settings collects the fixed protocol constants from spec §5
// and §6: the TCP port, wall-clock timeouts, and frame size caps.
package settings

import "time"

// Port is the fixed TCP port the sender listens on and the receiver
// dials (spec §6).
const Port = 15820

// Wall-clock timeouts (spec §5).
const (
	SenderAcceptTimeout    = 300 * time.Second
	ReceiverConnectTimeout = 30 * time.Second
	RetryLoopReadTimeout   = 120 * time.Second
	OverlayCLITimeout      = 5 * time.Second
	ManifestFrameTimeout   = 120 * time.Second
	IdleDataFrameTimeout   = 60 * time.Second

	// OverlayPeerCacheTTL is how long the overlay peer cache (C1) is
	// considered fresh before a whole-cache refresh (spec §4.1).
	OverlayPeerCacheTTL = 30 * time.Second

	// LockStaleAfter is how old a lock document's timestamp may be
	// before it is treated as absent (spec §4.9, P10).
	LockStaleAfter = 24 * time.Hour
)

// Frame size caps, spec §4.4.
const (
	MaxFileDataPlaintext = 1 << 20  // 1 MiB
	MaxManifestPlaintext = 16 << 20 // 16 MiB

	// fileDataFrameOverhead is the FileData frame's tag byte plus its
	// u64 offset_in_stream prefix, counted against MaxFileDataPlaintext
	// alongside the data itself (wire/framing's WriteFrame caps
	// tag+payload as a whole, not data alone).
	fileDataFrameOverhead = 1 + 8

	// ReadBufferSize is the sender's streaming read chunk size (spec
	// §4.6 step 5), sized so a full read plus fileDataFrameOverhead
	// never exceeds MaxFileDataPlaintext.
	ReadBufferSize = MaxFileDataPlaintext - fileDataFrameOverhead
)

// Retry bounds, spec §4.6 step 6 and §4.7 step 10.
const MaxRetryAttempts = 3

// Lock Manager flush policy, spec §4.9.
const (
	LockFlushMaxPending = 150
	LockFlushMaxAge     = 2 * time.Second
)

// ResourceMonitor warning threshold, spec §4.10.
const ResourceMonitorWarnRatio = 0.8
