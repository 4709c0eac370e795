// Package overlay implements the Overlay Adapter (C1): local endpoint
// discovery and peer verification by shelling out to the overlay
// network's own CLI, with a short-lived whole-cache peer mapping
// (spec §4.1).
package overlay

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"xfer/application"
	"xfer/infrastructure/PAL/exec_commander"
	"xfer/settings"
)

// defaultCLIPath is the overlay CLI binary name assumed to be on
// PATH; its absence is handled gracefully (every call site treats a
// run failure as NotAvailable / unknown_peer, never an exception).
const defaultCLIPath = "overlayctl"

var (
	localIPArgs    = []string{"ip"}
	peerStatusArgs = []string{"status", "--json"}
)

// peerRecord is one entry of the overlay CLI's structured peer
// listing (spec §4.1's "structured peer listing").
type peerRecord struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostName"`
}

// Adapter implements application.OverlayAdapter over a Commander,
// invoking the overlay CLI as a fixed argument list (never shell
// interpolation) and bounding every call with a hard wall-clock
// timeout.
type Adapter struct {
	commander exec_commander.Commander
	cliPath   string
	timeout   time.Duration
	ttl       time.Duration

	mu        sync.RWMutex
	peers     map[string]string // overlay IP -> hostname
	expiresAt time.Time
}

// NewAdapter returns an Adapter that invokes cliPath (defaultCLIPath
// if empty) through commander.
func NewAdapter(commander exec_commander.Commander, cliPath string) *Adapter {
	if cliPath == "" {
		cliPath = defaultCLIPath
	}
	return &Adapter{
		commander: commander,
		cliPath:   cliPath,
		timeout:   settings.OverlayCLITimeout,
		ttl:       settings.OverlayPeerCacheTTL,
	}
}

// LocalEndpoint prints the overlay CLI's local IPv4 address. It
// returns ok=false (never an error) on any timeout, missing binary,
// non-zero exit, or output that doesn't parse as exactly one IPv4
// address (spec §4.1).
func (a *Adapter) LocalEndpoint() (addr string, ok bool) {
	out, err := a.run(localIPArgs...)
	if err != nil {
		return "", false
	}

	fields := strings.Fields(string(out))
	if len(fields) != 1 {
		return "", false
	}
	parsed := net.ParseIP(fields[0])
	if parsed == nil || parsed.To4() == nil {
		return "", false
	}
	return parsed.String(), true
}

// VerifyPeer reports whether ip is a currently-authenticated overlay
// peer, refreshing the whole peer cache first if it is absent or
// older than the TTL (spec §4.1).
func (a *Adapter) VerifyPeer(ip string) (authenticated bool, hostname string) {
	peers := a.freshPeers()
	if peers == nil {
		return false, "unknown_peer"
	}
	if name, found := peers[ip]; found {
		return true, name
	}
	return false, "unknown_peer"
}

// freshPeers returns the current peer mapping, refreshing it first if
// stale. A refresh failure returns nil, so VerifyPeer reports
// unknown_peer; an expired mapping is never used.
func (a *Adapter) freshPeers() map[string]string {
	if cached, ok := a.cachedPeers(); ok {
		return cached
	}

	out, err := a.run(peerStatusArgs...)
	if err != nil {
		return nil
	}

	var records []peerRecord
	if err := json.Unmarshal(out, &records); err != nil {
		return nil
	}

	rebuilt := make(map[string]string, len(records))
	for _, r := range records {
		if r.IP != "" {
			rebuilt[r.IP] = r.Hostname
		}
	}

	// Swap the whole map under the lock: an observer sees either the
	// pre-refresh mapping or the fully rebuilt one, never a partial
	// rebuild (spec §4.1 invariant).
	a.mu.Lock()
	a.peers = rebuilt
	a.expiresAt = time.Now().Add(a.ttl)
	a.mu.Unlock()

	return rebuilt
}

func (a *Adapter) cachedPeers() (map[string]string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.peers != nil && time.Now().Before(a.expiresAt) {
		return a.peers, true
	}
	return a.peers, false
}

// run invokes the overlay CLI with a hard timeout. The underlying
// subprocess call is not cancellable through exec_commander.Commander
// (the teacher's interface predates context.Context), so a timed-out
// call's goroutine is abandoned rather than killed; it reports
// NotAvailable to the caller regardless of what the process does
// later.
func (a *Adapter) run(args ...string) ([]byte, error) {
	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := a.commander.Output(a.cliPath, args...)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: overlay cli: %v", application.ErrNetwork, res.err)
		}
		return res.out, nil
	case <-time.After(a.timeout):
		return nil, fmt.Errorf("%w: overlay cli timed out after %s", application.ErrNetwork, a.timeout)
	}
}

var _ application.OverlayAdapter = (*Adapter)(nil)
