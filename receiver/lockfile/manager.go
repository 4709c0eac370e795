package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"xfer/application"
	"xfer/settings"
	"xfer/wire"
)

// Manager is the sole writer of one receiver's lock document. It owns
// the buffered-progress discipline from spec §4.9: record_progress
// calls accumulate until a flush threshold is crossed, and Flush
// itself writes to a sibling temp file, fsyncs, then renames over the
// target (the teacher's server_configuration/writer.go pattern,
// hardened with the fsync+rename step it lacks).
type Manager struct {
	path string
	warn application.WarningSink

	mu             sync.Mutex
	doc            *Document
	pendingUpdates int
	lastFlush      time.Time
}

// NewManager returns a Manager persisting to path. warn receives
// non-fatal diagnostics (a corrupt or stale lock is never a fatal
// error, per spec §4.9/§7's LockCorruption handling).
func NewManager(path string, warn application.WarningSink) *Manager {
	return &Manager{path: path, warn: warn}
}

// Load reads and validates the lock document at path. It returns
// found=false (never an error) for a missing file, an unparseable
// file, an unrecognized version, or a document older than
// settings.LockStaleAfter — all per spec §4.9's load_or_new and
// §7's LockCorruption ("treated as absent, non-fatal, logged").
func (m *Manager) Load() (doc *Document, found bool) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.warn.Warn(fmt.Sprintf("lockfile: cannot read %s: %v", m.path, err))
		}
		return nil, false
	}

	var loaded Document
	if err := json.Unmarshal(data, &loaded); err != nil {
		m.warn.Warn(fmt.Sprintf("lockfile: %s is corrupt, treating as absent: %v", m.path, err))
		return nil, false
	}
	if loaded.Version != CurrentVersion {
		m.warn.Warn(fmt.Sprintf("lockfile: %s has unsupported version %q, treating as absent", m.path, loaded.Version))
		return nil, false
	}
	if time.Since(loaded.Timestamp) > settings.LockStaleAfter {
		m.warn.Warn(fmt.Sprintf("lockfile: %s is stale (timestamp %s), treating as absent", m.path, loaded.Timestamp))
		return nil, false
	}

	m.mu.Lock()
	m.doc = &loaded
	m.lastFlush = time.Now()
	m.mu.Unlock()
	return &loaded, true
}

// Create initializes a fresh document for a new session and performs
// an immediate durable write (spec §4.9 create).
func (m *Manager) Create(senderEndpoint string, entries []IncomingEntry) (*Document, error) {
	sessionID, err := wire.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", application.ErrFilesystem, err)
	}

	files := make(map[string]*FileState, len(entries))
	var totalSize uint64
	now := time.Now().UTC()
	for _, e := range entries {
		files[e.RelativePath] = &FileState{
			Status:       StatusPending,
			Size:         e.Size,
			SourceHash:   e.SourceHashHex,
			LastModified: now,
		}
		totalSize += e.Size
	}

	doc := &Document{
		Version:        CurrentVersion,
		SessionID:      sessionID,
		Timestamp:      now,
		SenderEndpoint: senderEndpoint,
		TotalFiles:     len(entries),
		TotalSize:      totalSize,
		Files:          files,
	}

	m.mu.Lock()
	m.doc = doc
	m.mu.Unlock()

	if err := m.Flush(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Classify compares incoming manifest entries against stored state
// (spec §4.9 classify / §4.7 step 6). It never touches disk itself:
// the recorded partial_hash is carried into the Classification so the
// File Writer can verify the resumed bytes against it before the
// resume is trusted.
func (m *Manager) Classify(incoming []IncomingEntry) []Classification {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Classification, 0, len(incoming))
	for _, e := range incoming {
		state := m.doc.Files[e.RelativePath]
		switch {
		case state == nil:
			out = append(out, Classification{e.RelativePath, PlanFresh, 0, ""})
		case state.Status == StatusCompleted && state.SourceHash == e.SourceHashHex:
			out = append(out, Classification{e.RelativePath, PlanCompleted, e.Size, ""})
		case state.Status == StatusInProgress && state.Size == e.Size &&
			state.SourceHash == e.SourceHashHex && state.PartialHash != "":
			out = append(out, Classification{e.RelativePath, PlanPartial, state.TransferredBytes, state.PartialHash})
		default:
			out = append(out, Classification{e.RelativePath, PlanFresh, 0, ""})
		}
	}
	return out
}

// SetStatus updates a file's status and flushes immediately: a status
// change is one of the unconditional flush triggers (spec §4.9).
func (m *Manager) SetStatus(relativePath string, status FileStatus) error {
	m.mu.Lock()
	state := m.doc.Files[relativePath]
	if state == nil {
		state = &FileState{}
		m.doc.Files[relativePath] = state
	}
	state.Status = status
	state.LastModified = time.Now().UTC()
	m.mu.Unlock()
	return m.Flush()
}

// RecordProgress buffers a per-chunk progress update, flushing when
// the pending count or age threshold is crossed (spec §4.9).
func (m *Manager) RecordProgress(relativePath string, transferredBytes uint64, partialHashHex string) error {
	m.mu.Lock()
	state := m.doc.Files[relativePath]
	if state == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: record_progress for unknown path %q", application.ErrProtocol, relativePath)
	}
	state.TransferredBytes = transferredBytes
	if partialHashHex != "" {
		state.PartialHash = partialHashHex
	}
	state.LastModified = time.Now().UTC()
	m.pendingUpdates++

	shouldFlush := m.pendingUpdates >= settings.LockFlushMaxPending ||
		time.Since(m.lastFlush) >= settings.LockFlushMaxAge
	m.mu.Unlock()

	if shouldFlush {
		return m.Flush()
	}
	return nil
}

// Flush durably writes the current document: write to a sibling temp
// file, fsync, rename over the target.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

func (m *Manager) flushLocked() error {
	data, err := json.MarshalIndent(m.doc, "", "\t")
	if err != nil {
		return fmt.Errorf("%w: marshal lock document: %v", application.ErrFilesystem, err)
	}

	tmpPath := m.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create temp lock file: %v", application.ErrFilesystem, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: write temp lock file: %v", application.ErrFilesystem, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: fsync temp lock file: %v", application.ErrFilesystem, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close temp lock file: %v", application.ErrFilesystem, err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		return fmt.Errorf("%w: rename lock file into place: %v", application.ErrFilesystem, err)
	}

	m.pendingUpdates = 0
	m.lastFlush = time.Now()
	return nil
}

// CleanupOnSuccess deletes the lock file (spec §4.9 cleanup_on_success,
// §4.7 step 11).
func (m *Manager) CleanupOnSuccess() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove lock file: %v", application.ErrFilesystem, err)
	}
	return nil
}
