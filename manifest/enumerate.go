// Package manifest implements the File Enumerator (C5): walking the
// sender's input paths into a deterministic, sorted list of transfer
// entries with streamed SHA-256 hashes, and validating the resulting
// relative paths for safety on both ends of a session.
package manifest

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"xfer/application"
)

// Entry is one file discovered during enumeration, with both its
// local source location and the wire-facing fields from spec §3.
type Entry struct {
	RelativePath   string
	Size           uint64
	SourceHash     [32]byte
	OffsetInStream uint64

	// AbsolutePath is the sender-local file to stream from; it is
	// never part of the wire Manifest.
	AbsolutePath string
}

// HashHex returns the lowercase hex encoding of SourceHash, matching
// the wire Manifest's hash_hex field (spec §6).
func (e Entry) HashHex() string {
	return fmt.Sprintf("%x", e.SourceHash)
}

// Enumerate walks inputPaths (files or directories) into a sorted,
// deduplicated list of Entry values, skipping anything matched by
// excludeGlobs and anything unreadable or not a regular file. Warnings
// for skipped entries are reported through warn rather than failing
// the whole enumeration (spec §4.5 steps 3-5, 7).
func Enumerate(inputPaths []string, excludeGlobs []string, warn application.WarningSink) ([]Entry, error) {
	seen := make(map[string]struct{})
	var entries []Entry

	for _, root := range inputPaths {
		info, err := os.Lstat(root)
		if err != nil {
			warn.Warn(fmt.Sprintf("manifest: cannot stat input path %q: %v", root, err))
			continue
		}

		if info.Mode().IsRegular() {
			rel := filepath.Base(root)
			entry, ok, err := buildEntry(root, rel, info.Size(), excludeGlobs, warn)
			if err != nil {
				return nil, err
			}
			if ok {
				addEntry(&entries, seen, entry, warn)
			}
			continue
		}

		if !info.IsDir() {
			warn.Warn(fmt.Sprintf("manifest: skipping special file %q", root))
			continue
		}

		parent := filepath.Dir(root)
		walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				warn.Warn(fmt.Sprintf("manifest: cannot read %q: %v", p, err))
				return nil
			}
			if d.IsDir() {
				return nil
			}

			rel, relErr := filepath.Rel(parent, p)
			if relErr != nil {
				warn.Warn(fmt.Sprintf("manifest: cannot relativize %q: %v", p, relErr))
				return nil
			}
			relSlash := filepath.ToSlash(rel)

			fi, infoErr := d.Info()
			if infoErr != nil {
				warn.Warn(fmt.Sprintf("manifest: cannot stat %q: %v", p, infoErr))
				return nil
			}
			if !fi.Mode().IsRegular() {
				warn.Warn(fmt.Sprintf("manifest: skipping special file %q", relSlash))
				return nil
			}

			entry, ok, buildErr := buildEntry(p, relSlash, fi.Size(), excludeGlobs, warn)
			if buildErr != nil {
				return buildErr
			}
			if ok {
				addEntry(&entries, seen, entry, warn)
			}
			return nil
		})
		if walkErr != nil {
			return nil, fmt.Errorf("%w: enumerate %q: %v", application.ErrFilesystem, root, walkErr)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].RelativePath < entries[j].RelativePath })

	var offset uint64
	for i := range entries {
		entries[i].OffsetInStream = offset
		offset += entries[i].Size
	}

	return entries, nil
}

func addEntry(entries *[]Entry, seen map[string]struct{}, entry Entry, warn application.WarningSink) {
	if _, dup := seen[entry.RelativePath]; dup {
		warn.Warn(fmt.Sprintf("manifest: duplicate relative_path %q across input roots, keeping first", entry.RelativePath))
		return
	}
	seen[entry.RelativePath] = struct{}{}
	*entries = append(*entries, entry)
}

// buildEntry validates, hashes, and sizes one candidate file. ok is
// false when the file was excluded or skipped (not an error).
func buildEntry(absolutePath, relativePath string, expectedSize int64, excludeGlobs []string, warn application.WarningSink) (Entry, bool, error) {
	if err := ValidatePath(relativePath); err != nil {
		return Entry{}, false, err
	}
	if matchesAnyGlob(relativePath, excludeGlobs) {
		return Entry{}, false, nil
	}

	f, err := os.Open(absolutePath)
	if err != nil {
		warn.Warn(fmt.Sprintf("manifest: cannot open %q: %v", relativePath, err))
		return Entry{}, false, nil
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		warn.Warn(fmt.Sprintf("manifest: cannot read %q: %v", relativePath, err))
		return Entry{}, false, nil
	}
	if n != expectedSize {
		warn.Warn(fmt.Sprintf("manifest: %q changed size during enumeration (stat=%d, read=%d); using observed size", relativePath, expectedSize, n))
	}

	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))

	return Entry{
		RelativePath: relativePath,
		Size:         uint64(n),
		SourceHash:   sum,
		AbsolutePath: absolutePath,
	}, true, nil
}

// matchesAnyGlob reports whether any path component of relativePath
// matches any of globs (spec §4.5 step 3: case-sensitive, per
// component).
func matchesAnyGlob(relativePath string, globs []string) bool {
	if len(globs) == 0 {
		return false
	}
	components := splitComponents(relativePath)
	for _, glob := range globs {
		for _, component := range components {
			if matched, _ := path.Match(glob, component); matched {
				return true
			}
		}
	}
	return false
}

func splitComponents(relativePath string) []string {
	var out []string
	for _, c := range filepathSplitSlash(relativePath) {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func filepathSplitSlash(p string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			parts = append(parts, p[start:i])
			start = i + 1
		}
	}
	parts = append(parts, p[start:])
	return parts
}
