package lockfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type recordingSink struct {
	warnings []string
}

func (r *recordingSink) Warn(message string) {
	r.warnings = append(r.warnings, message)
}

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), ".transfer_lock.json")
}

func TestLoad_MissingFileIsAbsent(t *testing.T) {
	sink := &recordingSink{}
	m := NewManager(lockPath(t), sink)
	_, found := m.Load()
	if found {
		t.Fatal("expected found=false for a missing lock file")
	}
	if len(sink.warnings) != 0 {
		t.Fatalf("expected no warning for a simply-missing file, got %v", sink.warnings)
	}
}

func TestCreateThenLoad_RoundTrips(t *testing.T) {
	path := lockPath(t)
	sink := &recordingSink{}
	m := NewManager(path, sink)

	entries := []IncomingEntry{
		{RelativePath: "a/b.txt", Size: 10, SourceHashHex: "deadbeef"},
	}
	created, err := m.Create("100.64.1.1:15820", entries)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.TotalFiles != 1 || created.TotalSize != 10 {
		t.Fatalf("unexpected document: %+v", created)
	}

	m2 := NewManager(path, sink)
	loaded, found := m2.Load()
	if !found {
		t.Fatal("expected found=true after Create")
	}
	if loaded.SessionID != created.SessionID {
		t.Fatalf("session id mismatch: %q vs %q", loaded.SessionID, created.SessionID)
	}
	if loaded.Files["a/b.txt"].Status != StatusPending {
		t.Fatalf("expected pending status, got %q", loaded.Files["a/b.txt"].Status)
	}
}

func TestLoad_CorruptFileIsTreatedAsAbsentAndWarned(t *testing.T) {
	path := lockPath(t)
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	sink := &recordingSink{}
	m := NewManager(path, sink)

	_, found := m.Load()
	if found {
		t.Fatal("expected found=false for a corrupt lock file")
	}
	if len(sink.warnings) != 1 {
		t.Fatalf("expected exactly 1 warning, got %v", sink.warnings)
	}
}

func TestLoad_StaleDocumentIsTreatedAsAbsent(t *testing.T) {
	path := lockPath(t)
	sink := &recordingSink{}
	m := NewManager(path, sink)
	if _, err := m.Create("100.64.1.1:15820", []IncomingEntry{{RelativePath: "a.txt", Size: 1, SourceHashHex: "aa"}}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	m.mu.Lock()
	m.doc.Timestamp = time.Now().Add(-25 * time.Hour)
	m.mu.Unlock()
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	m2 := NewManager(path, sink)
	_, found := m2.Load()
	if found {
		t.Fatal("expected a 25h-old lock document to be treated as absent (P10)")
	}
}

func TestClassify_CompletedPartialFresh(t *testing.T) {
	path := lockPath(t)
	sink := &recordingSink{}
	m := NewManager(path, sink)
	entries := []IncomingEntry{
		{RelativePath: "done.txt", Size: 5, SourceHashHex: "hash-done"},
		{RelativePath: "half.txt", Size: 100, SourceHashHex: "hash-half"},
		{RelativePath: "new.txt", Size: 5, SourceHashHex: "hash-new"},
	}
	if _, err := m.Create("1.2.3.4:15820", entries); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.SetStatus("done.txt", StatusCompleted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := m.RecordProgress("half.txt", 40, "partial-hash-40"); err != nil {
		t.Fatalf("RecordProgress: %v", err)
	}
	if err := m.SetStatus("half.txt", StatusInProgress); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	got := m.Classify(entries)
	byPath := make(map[string]Classification, len(got))
	for _, c := range got {
		byPath[c.RelativePath] = c
	}

	if byPath["done.txt"].Plan != PlanCompleted {
		t.Errorf("done.txt: expected PlanCompleted, got %v", byPath["done.txt"].Plan)
	}
	if byPath["half.txt"].Plan != PlanPartial || byPath["half.txt"].ResumeBytes != 40 {
		t.Errorf("half.txt: expected PlanPartial/40, got %+v", byPath["half.txt"])
	}
	if byPath["new.txt"].Plan != PlanFresh {
		t.Errorf("new.txt: expected PlanFresh, got %v", byPath["new.txt"].Plan)
	}
}

func TestClassify_SourceHashMismatchForcesFresh(t *testing.T) {
	path := lockPath(t)
	sink := &recordingSink{}
	m := NewManager(path, sink)
	if _, err := m.Create("1.2.3.4:15820", []IncomingEntry{{RelativePath: "a.txt", Size: 5, SourceHashHex: "old-hash"}}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.SetStatus("a.txt", StatusCompleted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	got := m.Classify([]IncomingEntry{{RelativePath: "a.txt", Size: 5, SourceHashHex: "new-hash"}})
	if got[0].Plan != PlanFresh {
		t.Fatalf("expected PlanFresh on source hash mismatch, got %v", got[0].Plan)
	}
}

func TestRecordProgress_FlushesAtPendingThreshold(t *testing.T) {
	path := lockPath(t)
	sink := &recordingSink{}
	m := NewManager(path, sink)
	if _, err := m.Create("1.2.3.4:15820", []IncomingEntry{{RelativePath: "a.txt", Size: 1000, SourceHashHex: "h"}}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Reset lastFlush far in the past is unnecessary: the pending-count
	// trigger fires regardless of age.
	for i := 0; i < 150; i++ {
		if err := m.RecordProgress("a.txt", uint64(i+1), ""); err != nil {
			t.Fatalf("RecordProgress: %v", err)
		}
	}

	m.mu.Lock()
	pending := m.pendingUpdates
	m.mu.Unlock()
	if pending != 0 {
		t.Fatalf("expected pendingUpdates to reset to 0 after threshold flush, got %d", pending)
	}
}

func TestCleanupOnSuccess_RemovesFile(t *testing.T) {
	path := lockPath(t)
	sink := &recordingSink{}
	m := NewManager(path, sink)
	if _, err := m.Create("1.2.3.4:15820", []IncomingEntry{{RelativePath: "a.txt", Size: 1, SourceHashHex: "h"}}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.CleanupOnSuccess(); err != nil {
		t.Fatalf("CleanupOnSuccess: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected lock file to be removed, stat err = %v", err)
	}
	// Idempotent.
	if err := m.CleanupOnSuccess(); err != nil {
		t.Fatalf("CleanupOnSuccess (second call): %v", err)
	}
}
