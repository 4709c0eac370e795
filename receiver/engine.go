// Package receiver implements the Receiver Engine (C7): connecting to
// a sender, running the handshake, loading and classifying resume
// state, driving File Writers, verifying integrity, and requesting
// retries (spec §4.7).
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"xfer/application"
	"xfer/cryptography/session"
	"xfer/manifest"
	"xfer/receiver/filewriter"
	"xfer/receiver/lockfile"
	"xfer/resource"
	"xfer/settings"
	"xfer/wire"
	"xfer/wire/framing"
)

// State names one node of the C7 state machine (spec §4.7).
type State int

const (
	StateParsing State = iota
	StateVerifying
	StateConnecting
	StateHandshaking
	StateLoadingLock
	StatePlanning
	StateWriting
	StateVerifyingIntegrity
	StateRetrying
	StateFinalizing
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateParsing:
		return "Parsing"
	case StateVerifying:
		return "Verifying"
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateLoadingLock:
		return "LoadingLock"
	case StatePlanning:
		return "Planning"
	case StateWriting:
		return "Writing"
	case StateVerifyingIntegrity:
		return "VerifyingIntegrity"
	case StateRetrying:
		return "Retrying"
	case StateFinalizing:
		return "Finalizing"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// connectionStringPattern matches the user-visible "ip:word-word"
// connection string (spec §6).
var connectionStringPattern = regexp.MustCompile(`^(\d{1,3}(?:\.\d{1,3}){3}):([a-z]+-[a-z]+)$`)

// Config wires the Receiver Engine's external collaborators and
// policy knobs.
type Config struct {
	ConnectionString string

	// Port overrides the fixed port (spec §6 port 15820) for tests
	// that need to dial an ephemeral listener. Zero means
	// settings.Port.
	Port int

	// WorkDir is the receiver's working directory: files are written
	// relative to it, and ".transfer_lock.json" lives at its root
	// (spec §6).
	WorkDir string

	PodMode   bool
	Overwrite bool
	// Continue is the resume policy flowing in from the CLI
	// collaborator; true ("continue") is the spec's default (§9 open
	// question).
	Continue bool

	Overlay application.OverlayAdapter
	Logger  application.Logger
	Warn    application.WarningSink
	Monitor resource.Monitor
}

// Engine drives one receive session end to end. An Engine is
// single-use: construct a fresh one per invocation.
type Engine struct {
	cfg   Config
	state State
}

// New returns an Engine for cfg.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, state: StateParsing}
}

// State returns the engine's current state, mainly for observability
// and tests.
func (e *Engine) State() State {
	return e.state
}

// writerSlot tracks one manifest entry's resume disposition and, for
// non-skipped entries, its live Writer (spec §4.7 steps 7-9).
type writerSlot struct {
	entry  wire.ManifestEntry
	offset uint64 // offset_in_stream of this file's first byte
	skip   bool   // completed (or resumed-to-completion): discard all incoming bytes
	writer *filewriter.Writer

	// resumeBytes is how much of this file the Writer already held
	// when it was opened (spec §4.7 step 8's writer_offset
	// computation). The sender streams every file in full regardless
	// of resume state (the baseline profile, spec §9), so bytes below
	// this offset arrive again on the wire and must be discarded
	// rather than re-appended.
	resumeBytes uint64

	completed bool // Complete() has succeeded for this slot

	// permanentFailure marks a slot that cannot be fixed by re-streaming
	// within this session (Open or WriteChunk hit a filesystem error,
	// spec §7's FilesystemError handling): it blocks a clean finish but
	// is excluded from the in-session retry loop, which only re-sends
	// bytes for a writer that is actually able to accept them.
	permanentFailure bool
}

// needsRetry reports whether slot should be re-streamed: it has
// neither completed nor hit a permanent failure, and was never skipped
// as already-complete.
func (s *writerSlot) needsRetry() bool {
	return !s.skip && !s.completed && !s.permanentFailure
}

// Run executes the full C7 state machine.
func (e *Engine) Run(ctx context.Context) error {
	ip, tok, err := e.parseConnectionString()
	if err != nil {
		e.state = StateFailed
		return err
	}

	e.state = StateVerifying
	if err := e.verifyPeer(ip); err != nil {
		e.state = StateFailed
		return err
	}

	e.state = StateConnecting
	conn, err := e.connectWithContext(ctx, ip)
	if err != nil {
		e.state = StateFailed
		return err
	}
	defer conn.Close()

	stopWatchdog := make(chan struct{})
	defer close(stopWatchdog)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopWatchdog:
		}
	}()

	e.state = StateHandshaking
	ctxSession, txCodec, rxCodec, err := e.handshake(conn, tok)
	if err != nil {
		e.state = StateFailed
		return err
	}
	defer ctxSession.Destroy()

	if err := conn.SetReadDeadline(time.Now().Add(settings.ManifestFrameTimeout)); err != nil {
		e.state = StateFailed
		return fmt.Errorf("%w: set manifest read deadline: %v", application.ErrNetwork, err)
	}
	tag, payload, err := txCodec.ReadFrame(conn)
	if err != nil {
		e.state = StateFailed
		return err
	}
	if tag != wire.TagManifest {
		e.state = StateFailed
		return fmt.Errorf("%w: expected Manifest frame, got %s", application.ErrProtocol, tag)
	}
	m, err := framing.DecodeManifest(payload)
	if err != nil {
		e.state = StateFailed
		return err
	}
	for _, ent := range m.Entries {
		if err := manifest.ValidatePath(ent.Path); err != nil {
			e.state = StateFailed
			return err
		}
	}

	e.state = StateLoadingLock
	lockPath := filepath.Join(e.cfg.WorkDir, ".transfer_lock.json")
	lockMgr := lockfile.NewManager(lockPath, e.cfg.Warn)
	_, found := lockMgr.Load()

	e.state = StatePlanning
	incoming := make([]lockfile.IncomingEntry, len(m.Entries))
	for i, ent := range m.Entries {
		incoming[i] = lockfile.IncomingEntry{RelativePath: ent.Path, Size: ent.Size, SourceHashHex: ent.HashHex}
	}

	var classifications map[string]lockfile.Classification
	if found && e.cfg.Continue {
		list := lockMgr.Classify(incoming)
		classifications = make(map[string]lockfile.Classification, len(list))
		for _, c := range list {
			classifications[c.RelativePath] = c
		}
	} else {
		if _, err := lockMgr.Create(senderEndpointOf(conn), incoming); err != nil {
			e.state = StateFailed
			return err
		}
		classifications = make(map[string]lockfile.Classification, len(incoming))
		for _, ie := range incoming {
			classifications[ie.RelativePath] = lockfile.Classification{RelativePath: ie.RelativePath, Plan: lockfile.PlanFresh}
		}
	}

	if e.cfg.Monitor != nil {
		if warn, current, limit := resource.WarnIfLow(e.cfg.Monitor, uint64(len(m.Entries)), settings.ResourceMonitorWarnRatio); warn {
			e.cfg.Warn.Warn(fmt.Sprintf("receiver: file-descriptor usage high: %d open, limit %d, about to open %d more", current, limit, len(m.Entries)))
		}
	}

	slots := make([]*writerSlot, len(m.Entries))
	var offset uint64
	for i, ent := range m.Entries {
		slot := &writerSlot{entry: ent, offset: offset}
		offset += ent.Size

		class := classifications[ent.Path]
		switch class.Plan {
		case lockfile.PlanCompleted:
			slot.skip = true

		case lockfile.PlanPartial, lockfile.PlanFresh:
			resumeBytes := class.ResumeBytes
			w := filewriter.New(e.cfg.WorkDir, ent.Path, ent.Size, ent.HashHex, class.PartialHash, e.cfg.Overwrite, lockMgr, e.cfg.Warn)
			status, openErr := w.Open(resumeBytes)
			if openErr != nil && errors.Is(openErr, application.ErrIntegrity) {
				e.cfg.Warn.Warn(fmt.Sprintf("receiver: %s resumed part file failed verification, restarting fresh: %v", ent.Path, openErr))
				if err := w.ResetForRetry(); err != nil {
					e.state = StateFailed
					return err
				}
				resumeBytes = 0
				status, openErr = w.Open(0)
			}
			if openErr != nil {
				e.cfg.Warn.Warn(fmt.Sprintf("receiver: %s cannot open for writing, marking failed: %v", ent.Path, openErr))
				_ = lockMgr.SetStatus(ent.Path, lockfile.StatusFailed)
				slot.permanentFailure = true
				break
			}
			if status == filewriter.StatusCompleted && w.Written() == ent.Size {
				_ = lockMgr.RecordProgress(ent.Path, ent.Size, ent.HashHex)
				_ = lockMgr.SetStatus(ent.Path, lockfile.StatusCompleted)
				slot.skip = true
				break
			}
			if err := lockMgr.SetStatus(ent.Path, lockfile.StatusInProgress); err != nil {
				e.state = StateFailed
				return err
			}
			slot.writer = w
			slot.resumeBytes = resumeBytes

		default:
			slot.skip = true
		}
		slots[i] = slot
	}

	attempt := 0
	for {
		e.state = StateWriting
		if err := e.writeLoop(conn, txCodec, slots, m.Compression, lockMgr); err != nil {
			e.state = StateFailed
			return err
		}

		e.state = StateVerifyingIntegrity
		var retryPaths []string
		for _, slot := range slots {
			if slot.needsRetry() {
				retryPaths = append(retryPaths, slot.entry.Path)
			}
		}

		if len(retryPaths) == 0 {
			break
		}
		attempt++
		if attempt > settings.MaxRetryAttempts {
			e.cfg.Warn.Warn(fmt.Sprintf("receiver: %d file(s) still incomplete after %d retry attempts", len(retryPaths), settings.MaxRetryAttempts))
			break
		}

		e.state = StateRetrying
		for _, slot := range slots {
			if !slot.needsRetry() {
				continue
			}
			if err := slot.writer.ResetForRetry(); err != nil {
				e.state = StateFailed
				return err
			}
			if _, err := slot.writer.Open(0); err != nil {
				e.state = StateFailed
				return err
			}
			slot.resumeBytes = 0
			_ = lockMgr.SetStatus(slot.entry.Path, lockfile.StatusPending)
			_ = lockMgr.SetStatus(slot.entry.Path, lockfile.StatusInProgress)
		}
		retryPayload, err := framing.EncodeRetryRequest(retryPaths)
		if err != nil {
			e.state = StateFailed
			return err
		}
		if err := rxCodec.WriteFrame(conn, wire.TagRetryRequest, retryPayload); err != nil {
			e.state = StateFailed
			return err
		}
	}

	e.state = StateFinalizing
	var stillFailed []string
	var anyPermanentFailure bool
	for _, slot := range slots {
		if slot.skip {
			continue
		}
		if slot.permanentFailure || !slot.completed {
			stillFailed = append(stillFailed, slot.entry.Path)
		}
		if slot.permanentFailure {
			anyPermanentFailure = true
		}
	}

	if len(stillFailed) == 0 {
		if err := rxCodec.WriteFrame(conn, wire.TagAck, framing.EncodeAck(wire.AckOK)); err != nil {
			e.state = StateFailed
			return err
		}
		if err := lockMgr.CleanupOnSuccess(); err != nil {
			e.state = StateFailed
			return err
		}
		e.state = StateComplete
		return nil
	}

	if err := rxCodec.WriteFrame(conn, wire.TagAck, framing.EncodeAck(wire.AckFail)); err != nil {
		e.state = StateFailed
		return err
	}
	e.state = StateFailed
	if anyPermanentFailure {
		return fmt.Errorf("%w: %d file(s) failed to complete: %v", application.ErrFilesystem, len(stillFailed), stillFailed)
	}
	return fmt.Errorf("%w: %d file(s) failed integrity verification: %v", application.ErrIntegrity, len(stillFailed), stillFailed)
}

// parseConnectionString validates and splits the "ip:word-word"
// connection string (spec §4.7 step 1).
func (e *Engine) parseConnectionString() (ip, tok string, err error) {
	match := connectionStringPattern.FindStringSubmatch(e.cfg.ConnectionString)
	if match == nil {
		return "", "", fmt.Errorf("%w: malformed connection string %q", application.ErrNetwork, e.cfg.ConnectionString)
	}
	if net.ParseIP(match[1]) == nil || net.ParseIP(match[1]).To4() == nil {
		return "", "", fmt.Errorf("%w: %q is not a valid IPv4 address", application.ErrNetwork, match[1])
	}
	return match[1], match[2], nil
}

// verifyPeer authenticates ip as an overlay peer unless pod-mode is
// set, in which case only loopback is accepted (spec §4.7 step 2).
func (e *Engine) verifyPeer(ip string) error {
	if e.cfg.PodMode {
		if ip != "127.0.0.1" {
			return fmt.Errorf("%w: pod-mode requires target 127.0.0.1, got %s", application.ErrAuthentication, ip)
		}
		return nil
	}
	authenticated, hostname := e.cfg.Overlay.VerifyPeer(ip)
	if !authenticated {
		return fmt.Errorf("%w: %s (%s) is not an authenticated overlay peer", application.ErrAuthentication, ip, hostname)
	}
	return nil
}

// connectWithContext races connect against ctx, so a cancelled context
// (operator interrupt) aborts the dial instead of riding out the full
// connect timeout.
func (e *Engine) connectWithContext(ctx context.Context, ip string) (*net.TCPConn, error) {
	type result struct {
		conn *net.TCPConn
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		conn, err := e.connect(ip)
		resultCh <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-resultCh; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("%w: %v", application.ErrNetwork, ctx.Err())
	case res := <-resultCh:
		return res.conn, res.err
	}
}

// connect dials the sender with the fixed connect timeout and applies
// TCP_NODELAY (spec §4.7 step 3).
func (e *Engine) connect(ip string) (*net.TCPConn, error) {
	port := e.cfg.Port
	if port == 0 {
		port = settings.Port
	}
	dialer := net.Dialer{Timeout: settings.ReceiverConnectTimeout}
	raw, err := dialer.Dial("tcp", net.JoinHostPort(ip, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, fmt.Errorf("%w: connect to %s:%d: %v", application.ErrNetwork, ip, port, err)
	}
	conn, ok := raw.(*net.TCPConn)
	if !ok {
		raw.Close()
		return nil, fmt.Errorf("%w: unexpected connection type %T", application.ErrNetwork, raw)
	}
	if err := conn.SetNoDelay(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: set no-delay: %v", application.ErrNetwork, err)
	}
	return conn, nil
}

// handshake mirrors sender.Engine's fixed ordering: the sender writes
// its public key first, so the receiver reads before it writes (spec
// §4.7 step 4).
func (e *Engine) handshake(conn io.ReadWriter, tok string) (*session.Context, *framing.Codec, *framing.Codec, error) {
	ctx, err := session.NewContext()
	if err != nil {
		return nil, nil, nil, err
	}

	peerPub := make([]byte, session.PublicKeySize)
	if _, err := io.ReadFull(conn, peerPub); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: read peer public key: %v", application.ErrNetwork, err)
	}

	if _, err := conn.Write(ctx.PublicBytes()); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: write public key: %v", application.ErrNetwork, err)
	}

	if err := ctx.DeriveSession(peerPub, tok); err != nil {
		return nil, nil, nil, err
	}

	return ctx, framing.NewCodec(ctx, framing.SenderToReceiver), framing.NewCodec(ctx, framing.ReceiverToSender), nil
}

// writeLoop reads frames until EndOfStream, routing FileData payloads
// to the writer slot whose offset range contains them (spec §4.7
// steps 8-9). Frame interleaving across files is tolerated since
// slots are addressed by offset, not arrival order.
func (e *Engine) writeLoop(r io.Reader, codec *framing.Codec, slots []*writerSlot, compression bool, lockMgr *lockfile.Manager) error {
	for {
		if conn, ok := r.(interface{ SetReadDeadline(time.Time) error }); ok {
			if err := conn.SetReadDeadline(time.Now().Add(settings.IdleDataFrameTimeout)); err != nil {
				return fmt.Errorf("%w: set idle read deadline: %v", application.ErrNetwork, err)
			}
		}

		tag, payload, err := codec.ReadFrame(r)
		if err != nil {
			return err
		}

		switch tag {
		case wire.TagEndOfStream:
			return nil

		case wire.TagFileData:
			offset, data, decErr := framing.DecodeFileData(payload, compression)
			if decErr != nil {
				return decErr
			}
			slot := findSlot(slots, offset)
			if slot == nil {
				return fmt.Errorf("%w: file data offset %d out of manifest range", application.ErrProtocol, offset)
			}
			if slot.skip || slot.writer == nil || slot.completed || slot.permanentFailure {
				continue
			}

			filePos := offset - slot.offset
			data = discardResumedPrefix(filePos, data, slot.resumeBytes)
			if len(data) == 0 {
				continue
			}

			status, err := slot.writer.WriteChunk(data)
			if err != nil {
				if errors.Is(err, application.ErrFilesystem) {
					e.cfg.Warn.Warn(fmt.Sprintf("receiver: %s: %v", slot.entry.Path, err))
					slot.permanentFailure = true
					_ = lockMgr.SetStatus(slot.entry.Path, lockfile.StatusFailed)
					continue
				}
				if errors.Is(err, application.ErrIntegrity) {
					continue
				}
				return err
			}
			if status == filewriter.StatusCompleted && slot.writer.Written() == slot.entry.Size {
				slot.completed = true
			}
		default:
			return fmt.Errorf("%w: unexpected frame %s while writing", application.ErrProtocol, tag)
		}
	}
}

// discardResumedPrefix drops the portion of a FileData chunk that
// falls at or before a file's already-resumed byte count, since the
// baseline streaming profile re-sends every byte of every file
// regardless of resume state (spec §4.7 step 8, §9's baseline
// contract). filePos is the chunk's 0-based offset within its file.
func discardResumedPrefix(filePos uint64, data []byte, resumeBytes uint64) []byte {
	chunkEnd := filePos + uint64(len(data))
	if chunkEnd <= resumeBytes {
		return nil
	}
	if filePos >= resumeBytes {
		return data
	}
	return data[resumeBytes-filePos:]
}

// findSlot returns the slot whose [offset, offset+size) range
// contains streamOffset, or nil if out of range.
func findSlot(slots []*writerSlot, streamOffset uint64) *writerSlot {
	i := sort.Search(len(slots), func(i int) bool {
		return slots[i].offset+slots[i].entry.Size > streamOffset
	})
	if i == len(slots) || streamOffset < slots[i].offset {
		return nil
	}
	return slots[i]
}

// senderEndpointOf returns conn's remote address for display in the
// lock document (spec §3's Lock Document.sender_endpoint).
func senderEndpointOf(conn net.Conn) string {
	return conn.RemoteAddr().String()
}
