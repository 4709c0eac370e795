// Package filewriter implements the File Writer (C8): a per-file
// incremental writer with bounded file-descriptor lifetime, a running
// hash that doubles as the resumable partial_hash, and atomic
// completion with conflict-resolving rename (spec §4.8).
package filewriter

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"xfer/application"
)

// ProgressRecorder is the Writer's back-reference to the Lock
// Manager (spec §3 "File Writer State... back-reference to Lock
// Manager"): every chunk reports its running hash as the candidate
// partial_hash, since the hasher's state at any point IS the SHA-256
// of the bytes written so far.
type ProgressRecorder interface {
	RecordProgress(relativePath string, transferredBytes uint64, partialHashHex string) error
}

// Status reports whether an Open, WriteChunk or Complete call
// succeeded. StatusCompleted from Open or WriteChunk does not by
// itself mean the file is complete; compare Written with the declared
// size.
type Status int

const (
	StatusFailed Status = iota
	StatusCompleted
)

// Writer drives one file's on-disk life: a bounded-lifetime `.part`
// writer that never holds its file descriptor across chunk
// boundaries (spec §4.8 invariant).
type Writer struct {
	baseDir      string
	relativePath string
	size         uint64
	sourceHash   string // declared, lowercase hex

	// expectedPartialHash is the Lock Document's recorded partial_hash
	// for a resumed file (spec §4.9's "verified partial hash"). Empty
	// when there is nothing to verify against (a fresh file, or a
	// resume predating this field).
	expectedPartialHash string

	progress  ProgressRecorder
	warn      application.WarningSink
	overwrite bool

	hasher  hash.Hash
	written uint64

	// finalPath is set once Complete succeeds: the conflict-resolved
	// destination, which may differ from the nominal target path.
	finalPath string
}

// New returns a Writer for relativePath rooted at baseDir (the
// receiver's working directory). expectedPartialHashHex is the lock
// document's recorded partial_hash for a resumed file, checked against
// the resumed bytes' own hash before the resume is trusted (spec
// §4.9); pass "" when there is none to check.
func New(baseDir, relativePath string, size uint64, sourceHashHex, expectedPartialHashHex string, overwrite bool, progress ProgressRecorder, warn application.WarningSink) *Writer {
	return &Writer{
		baseDir:             baseDir,
		relativePath:        relativePath,
		size:                size,
		sourceHash:          sourceHashHex,
		expectedPartialHash: expectedPartialHashHex,
		overwrite:           overwrite,
		progress:            progress,
		warn:                warn,
		hasher:              sha256.New(),
	}
}

func (w *Writer) partPath() string {
	return filepath.Join(w.baseDir, filepath.FromSlash(w.relativePath)) + ".part"
}

func (w *Writer) targetPath() string {
	return filepath.Join(w.baseDir, filepath.FromSlash(w.relativePath))
}

// Open prepares the writer for resumeBytes of already-on-disk data
// (0 for a fresh file), per spec §4.8 open().
func (w *Writer) Open(resumeBytes uint64) (Status, error) {
	if err := os.MkdirAll(filepath.Dir(w.partPath()), 0o755); err != nil {
		return StatusFailed, fmt.Errorf("%w: create parent directories for %s: %v", application.ErrFilesystem, w.relativePath, err)
	}

	if resumeBytes == 0 {
		if err := os.Remove(w.partPath()); err != nil && !os.IsNotExist(err) {
			return StatusFailed, fmt.Errorf("%w: remove stale part file for %s: %v", application.ErrFilesystem, w.relativePath, err)
		}
		w.hasher = sha256.New()
		w.written = 0
		return StatusCompleted, nil
	}

	info, err := os.Stat(w.partPath())
	if err != nil || uint64(info.Size()) != resumeBytes {
		w.warn.Warn(fmt.Sprintf("filewriter: %s part file does not match expected resume size, restarting fresh", w.relativePath))
		return w.Open(0)
	}

	// Fold the resumed bytes into the hasher now, rather than
	// deferring to the first WriteChunk, so a corrupted .part file can
	// be caught and discarded before any new bytes are appended to it
	// (spec §4.9's "verified partial hash").
	w.hasher = sha256.New()
	if err := w.foldExisting(); err != nil {
		return StatusFailed, err
	}
	if w.expectedPartialHash != "" {
		gotHex := fmt.Sprintf("%x", w.hasher.Sum(nil))
		if gotHex != w.expectedPartialHash {
			w.warn.Warn(fmt.Sprintf("filewriter: %s part file's hash does not match its recorded partial hash, restarting fresh", w.relativePath))
			return w.Open(0)
		}
	}
	w.written = resumeBytes

	if resumeBytes == w.size {
		return w.Complete()
	}
	return StatusCompleted, nil
}

// foldExisting reopens the part file and folds its full contents into
// the running hasher, used once by Open to verify (and continue) a
// resumed partial file.
func (w *Writer) foldExisting() error {
	f, err := os.Open(w.partPath())
	if err != nil {
		return fmt.Errorf("%w: reopen part file for rehash of %s: %v", application.ErrFilesystem, w.relativePath, err)
	}
	defer f.Close()
	if _, err := io.Copy(w.hasher, f); err != nil {
		return fmt.Errorf("%w: rehash part file for %s: %v", application.ErrFilesystem, w.relativePath, err)
	}
	return nil
}

// WriteChunk appends data to the part file, updates the running hash,
// and reports progress. If this call reaches the declared size, it
// invokes Complete (spec §4.8 write_chunk).
func (w *Writer) WriteChunk(data []byte) (Status, error) {
	f, err := os.OpenFile(w.partPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return StatusFailed, fmt.Errorf("%w: open part file for %s: %v", application.ErrFilesystem, w.relativePath, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return StatusFailed, fmt.Errorf("%w: write part file for %s: %v", application.ErrFilesystem, w.relativePath, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return StatusFailed, fmt.Errorf("%w: fsync part file for %s: %v", application.ErrFilesystem, w.relativePath, err)
	}
	if err := f.Close(); err != nil {
		return StatusFailed, fmt.Errorf("%w: close part file for %s: %v", application.ErrFilesystem, w.relativePath, err)
	}

	w.written += uint64(len(data))
	w.hasher.Write(data)

	if w.progress != nil {
		partialHex := fmt.Sprintf("%x", w.hasher.Sum(nil))
		if err := w.progress.RecordProgress(w.relativePath, w.written, partialHex); err != nil {
			return StatusFailed, err
		}
	}

	if w.written == w.size {
		return w.Complete()
	}
	return StatusCompleted, nil
}

// Complete verifies the running hash against the declared source hash
// and, on match, atomically renames the part file into place with
// conflict resolution (spec §4.8 complete()).
func (w *Writer) Complete() (Status, error) {
	gotHex := fmt.Sprintf("%x", w.hasher.Sum(nil))
	if gotHex != w.sourceHash {
		return StatusFailed, fmt.Errorf("%w: %s hash mismatch: got %s want %s", application.ErrIntegrity, w.relativePath, gotHex, w.sourceHash)
	}

	finalPath, err := w.renameIntoPlace()
	if err != nil {
		return StatusFailed, err
	}
	w.finalPath = finalPath
	return StatusCompleted, nil
}

// FinalPath returns the path Complete renamed the file to. Only valid
// after a successful Complete.
func (w *Writer) FinalPath() string {
	return w.finalPath
}

func (w *Writer) renameIntoPlace() (string, error) {
	target := w.targetPath()

	if w.overwrite {
		if err := os.Rename(w.partPath(), target); err == nil {
			return target, nil
		}
		// Fall through to the suffix scheme below.
	} else if _, err := os.Stat(target); os.IsNotExist(err) {
		if err := os.Rename(w.partPath(), target); err != nil {
			return "", fmt.Errorf("%w: rename %s into place: %v", application.ErrFilesystem, w.relativePath, err)
		}
		return target, nil
	}

	ext := filepath.Ext(target)
	base := strings.TrimSuffix(target, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			if err := os.Rename(w.partPath(), candidate); err != nil {
				return "", fmt.Errorf("%w: rename %s into place: %v", application.ErrFilesystem, w.relativePath, err)
			}
			return candidate, nil
		}
	}
}

// ResetForRetry discards the part file and resets the writer to a
// fresh state, for a file the Receiver Engine is about to re-stream
// (spec §4.8 reset_for_retry). The caller is responsible for also
// resetting the corresponding Lock Manager status to pending.
func (w *Writer) ResetForRetry() error {
	if err := os.Remove(w.partPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove part file for %s: %v", application.ErrFilesystem, w.relativePath, err)
	}
	w.hasher = sha256.New()
	w.written = 0
	w.finalPath = ""
	return nil
}

// Written returns the number of bytes written so far.
func (w *Writer) Written() uint64 {
	return w.written
}
