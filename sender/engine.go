// Package sender implements the Sender Engine (C6): the state machine
// that binds a listener, accepts one authenticated peer, runs the
// handshake, streams the enumerated files, and honors selective retry
// requests (spec §4.6).
package sender

import (
	"bufio"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"xfer/application"
	"xfer/cryptography/session"
	"xfer/manifest"
	"xfer/settings"
	"xfer/token"
	"xfer/wire"
	"xfer/wire/framing"
)

// State names one node of the C6 state machine (spec §4.6).
type State int

const (
	StateIdle State = iota
	StateListening
	StateHandshaking
	StateStreaming
	StateRetryLoop
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateListening:
		return "Listening"
	case StateHandshaking:
		return "Handshaking"
	case StateStreaming:
		return "Streaming"
	case StateRetryLoop:
		return "RetryLoop"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Config wires the Sender Engine's external collaborators and policy
// knobs. Everything CLI-facing (argument parsing, progress bars,
// prompts) lives outside the core per spec §1.
type Config struct {
	InputPaths   []string
	ExcludeGlobs []string
	Compression  bool
	PodMode      bool

	// ListenAddr overrides the fixed port (spec §6 port 15820) for
	// tests that need an ephemeral listener. Empty means
	// ":<settings.Port>".
	ListenAddr string

	Overlay application.OverlayAdapter
	Logger  application.Logger
	Warn    application.WarningSink
}

// Engine drives one send session end to end. An Engine is single-use:
// construct a fresh one per invocation.
type Engine struct {
	cfg   Config
	state State
}

// New returns an Engine for cfg.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, state: StateIdle}
}

// State returns the engine's current state, mainly for observability
// and tests.
func (e *Engine) State() State {
	return e.state
}

// Run executes the full C6 state machine. announce is invoked once
// with the connection string ("ip:word-word") the operator must relay
// to the receiver out of band (spec §4.6 step 1); it may be nil.
func (e *Engine) Run(ctx context.Context, announce func(connectionString string)) error {
	entries, err := manifest.Enumerate(e.cfg.InputPaths, e.cfg.ExcludeGlobs, e.cfg.Warn)
	if err != nil {
		e.state = StateFailed
		return err
	}

	localIP, ok := e.localEndpoint()
	if !ok {
		e.state = StateFailed
		return fmt.Errorf("%w: local overlay endpoint unavailable", application.ErrNetwork)
	}

	tok, err := token.Generate()
	if err != nil {
		e.state = StateFailed
		return fmt.Errorf("%w: generate token: %v", application.ErrNetwork, err)
	}

	addr := e.cfg.ListenAddr
	if addr == "" {
		addr = fmt.Sprintf(":%d", settings.Port)
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		e.state = StateFailed
		return fmt.Errorf("%w: resolve listen address: %v", application.ErrNetwork, err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		e.state = StateFailed
		return fmt.Errorf("%w: bind listener: %v", application.ErrNetwork, err)
	}
	defer ln.Close()

	e.state = StateListening
	if announce != nil {
		announce(fmt.Sprintf("%s:%s", localIP, tok))
	}
	e.cfg.Logger.Printf("sender: listening, token=%s", tok)

	conn, err := e.acceptWithContext(ctx, ln)
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

	sessionID, err := wire.NewSessionID()
	if err != nil {
		e.state = StateFailed
		return fmt.Errorf("%w: %v", application.ErrNetwork, err)
	}

	m := &wire.Manifest{
		Version:     wire.CurrentVersion,
		SessionID:   sessionID,
		Compression: e.cfg.Compression,
		Entries:     make([]wire.ManifestEntry, len(entries)),
	}
	for i, ent := range entries {
		m.Entries[i] = wire.ManifestEntry{Path: ent.RelativePath, Size: ent.Size, HashHex: ent.HashHex()}
	}
	payload, err := framing.EncodeManifest(m)
	if err != nil {
		e.state = StateFailed
		return err
	}
	if err := txCodec.WriteFrame(conn, wire.TagManifest, payload); err != nil {
		e.state = StateFailed
		return err
	}

	e.state = StateStreaming
	byPath := make(map[string]manifest.Entry, len(entries))
	for _, ent := range entries {
		byPath[ent.RelativePath] = ent
	}
	for _, ent := range entries {
		if err := e.streamFile(conn, txCodec, ent); err != nil {
			e.state = StateFailed
			return err
		}
	}
	if err := txCodec.WriteFrame(conn, wire.TagEndOfStream, nil); err != nil {
		e.state = StateFailed
		return err
	}

	e.state = StateRetryLoop
	for attempt := 0; attempt <= settings.MaxRetryAttempts; attempt++ {
		if err := conn.SetReadDeadline(time.Now().Add(settings.RetryLoopReadTimeout)); err != nil {
			e.state = StateFailed
			return fmt.Errorf("%w: set retry read deadline: %v", application.ErrNetwork, err)
		}
		tag, rxPayload, err := rxCodec.ReadFrame(conn)
		if err != nil {
			e.state = StateFailed
			return err
		}

		switch tag {
		case wire.TagAck:
			status, err := framing.DecodeAck(rxPayload)
			if err != nil {
				e.state = StateFailed
				return err
			}
			if status != wire.AckOK {
				e.state = StateFailed
				return fmt.Errorf("%w: receiver reported failure", application.ErrIntegrity)
			}
			e.state = StateComplete
			return nil

		case wire.TagRetryRequest:
			if attempt == settings.MaxRetryAttempts {
				e.state = StateFailed
				return fmt.Errorf("%w: exceeded %d retry iterations", application.ErrProtocol, settings.MaxRetryAttempts)
			}
			paths, err := framing.DecodeRetryRequest(rxPayload)
			if err != nil {
				e.state = StateFailed
				return err
			}
			for _, p := range paths {
				ent, found := byPath[p]
				if !found {
					e.state = StateFailed
					return fmt.Errorf("%w: retry request for unknown path %q", application.ErrProtocol, p)
				}
				if err := e.streamFile(conn, txCodec, ent); err != nil {
					e.state = StateFailed
					return err
				}
			}
			if err := txCodec.WriteFrame(conn, wire.TagEndOfStream, nil); err != nil {
				e.state = StateFailed
				return err
			}

		default:
			e.state = StateFailed
			return fmt.Errorf("%w: unexpected frame %s in retry loop", application.ErrProtocol, tag)
		}
	}

	e.state = StateFailed
	return fmt.Errorf("%w: exceeded %d retry iterations", application.ErrProtocol, settings.MaxRetryAttempts)
}

// localEndpoint resolves the address the sender announces: the
// overlay's local IPv4 in normal mode, or loopback in pod-mode (spec
// §4.6 step 1).
func (e *Engine) localEndpoint() (string, bool) {
	if e.cfg.PodMode {
		return "127.0.0.1", true
	}
	return e.cfg.Overlay.LocalEndpoint()
}

// acceptWithContext races accept against ctx, so a cancelled context
// (operator interrupt) aborts the wait instead of riding out the full
// accept timeout.
func (e *Engine) acceptWithContext(ctx context.Context, ln *net.TCPListener) (*net.TCPConn, error) {
	type result struct {
		conn *net.TCPConn
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		conn, err := e.accept(ln)
		resultCh <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		_ = ln.Close()
		res := <-resultCh
		if res.conn != nil {
			res.conn.Close()
		}
		return nil, fmt.Errorf("%w: %v", application.ErrNetwork, ctx.Err())
	case res := <-resultCh:
		return res.conn, res.err
	}
}

// accept waits for exactly one inbound connection within the fixed
// accept timeout, applies TCP_NODELAY, and verifies the peer's
// overlay identity (spec §4.6 step 2).
func (e *Engine) accept(ln *net.TCPListener) (*net.TCPConn, error) {
	if err := ln.SetDeadline(time.Now().Add(settings.SenderAcceptTimeout)); err != nil {
		return nil, fmt.Errorf("%w: set accept deadline: %v", application.ErrNetwork, err)
	}
	conn, err := ln.AcceptTCP()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, fmt.Errorf("%w: accept timed out: %v", application.ErrNetwork, err)
		}
		return nil, fmt.Errorf("%w: accept: %v", application.ErrNetwork, err)
	}
	if err := conn.SetNoDelay(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: set no-delay: %v", application.ErrNetwork, err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: clear accept deadline: %v", application.ErrNetwork, err)
	}

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: parse peer address: %v", application.ErrNetwork, err)
	}

	if e.cfg.PodMode {
		if host != "127.0.0.1" {
			conn.Close()
			return nil, fmt.Errorf("%w: pod-mode requires peer 127.0.0.1, got %s", application.ErrAuthentication, host)
		}
		return conn, nil
	}

	authenticated, hostname := e.cfg.Overlay.VerifyPeer(host)
	if !authenticated {
		conn.Close()
		return nil, fmt.Errorf("%w: peer %s (%s) is not an authenticated overlay peer", application.ErrAuthentication, host, hostname)
	}
	return conn, nil
}

// handshake exchanges raw X25519 public keys (sender first, per spec
// §9's recommended order) and derives the session key, returning the
// two directional Codecs the rest of the session drives (spec §4.6
// step 3).
func (e *Engine) handshake(conn io.ReadWriter, tok string) (*session.Context, *framing.Codec, *framing.Codec, error) {
	ctx, err := session.NewContext()
	if err != nil {
		return nil, nil, nil, err
	}

	if _, err := conn.Write(ctx.PublicBytes()); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: write public key: %v", application.ErrNetwork, err)
	}

	peerPub := make([]byte, session.PublicKeySize)
	if _, err := io.ReadFull(conn, peerPub); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: read peer public key: %v", application.ErrNetwork, err)
	}

	if err := ctx.DeriveSession(peerPub, tok); err != nil {
		return nil, nil, nil, err
	}

	return ctx, framing.NewCodec(ctx, framing.SenderToReceiver), framing.NewCodec(ctx, framing.ReceiverToSender), nil
}

// streamFile reads ent's source file through a fixed-size buffer,
// running-hashing each chunk and wrapping it in a FileData frame with
// the correct absolute offset_in_stream (spec §4.6 step 5). A mismatch
// between the freshly-computed hash and the manifest's announced
// source_hash (the file changed after enumeration) is logged, not
// treated as fatal: the receiver's own integrity check will request a
// retry if needed.
func (e *Engine) streamFile(w io.Writer, codec *framing.Codec, ent manifest.Entry) error {
	f, err := os.Open(ent.AbsolutePath)
	if err != nil {
		return fmt.Errorf("%w: open %s for streaming: %v", application.ErrFilesystem, ent.RelativePath, err)
	}
	defer f.Close()

	buf := make([]byte, settings.ReadBufferSize)
	r := bufio.NewReaderSize(f, settings.ReadBufferSize)
	hasher := sha256.New()
	var sent uint64

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
			payload := framing.EncodeFileData(ent.OffsetInStream+sent, buf[:n], e.cfg.Compression)
			if err := codec.WriteFrame(w, wire.TagFileData, payload); err != nil {
				return err
			}
			sent += uint64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("%w: read %s while streaming: %v", application.ErrFilesystem, ent.RelativePath, readErr)
		}
	}

	if sent != ent.Size {
		e.cfg.Warn.Warn(fmt.Sprintf("sender: %s size changed since enumeration (was %d, now %d)", ent.RelativePath, ent.Size, sent))
	}
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	if sum != ent.SourceHash {
		e.cfg.Warn.Warn(fmt.Sprintf("sender: %s hash no longer matches the manifest source_hash", ent.RelativePath))
	}
	return nil
}
