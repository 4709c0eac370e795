// Package lockfile implements the Lock Manager (C9): the receiver's
// durable resume-state document, its batched flush discipline, and
// the completed/partial/fresh classification of an incoming manifest
// against previously recorded state (spec §4.9).
package lockfile

import "time"

// FileStatus is one FileState's lifecycle stage (spec §3).
type FileStatus string

const (
	StatusPending    FileStatus = "pending"
	StatusInProgress FileStatus = "in_progress"
	StatusCompleted  FileStatus = "completed"
	StatusFailed     FileStatus = "failed"
)

// CurrentVersion is the Lock Document schema version this build
// writes and requires on load (spec §6: "Version is \"1.0\"").
const CurrentVersion = "1.0"

// FileState is the persisted per-file resume record (spec §3).
type FileState struct {
	Status           FileStatus `json:"status"`
	Size             uint64     `json:"size"`
	SourceHash       string     `json:"source_hash"`
	TransferredBytes uint64     `json:"transferred_bytes"`
	PartialHash      string     `json:"partial_hash,omitempty"`
	LastModified     time.Time  `json:"last_modified"`
}

// Document is the Lock Document persisted at
// "<receiver_cwd>/.transfer_lock.json" (spec §3, §6).
type Document struct {
	Version        string                `json:"version"`
	SessionID      string                `json:"session_id"`
	Timestamp      time.Time             `json:"timestamp"`
	SenderEndpoint string                `json:"sender_endpoint"`
	TotalFiles     int                   `json:"total_files"`
	TotalSize      uint64                `json:"total_size"`
	Files          map[string]*FileState `json:"files"`
}

// IncomingEntry is the subset of a manifest entry Classify needs: it
// deliberately excludes offset_in_stream, which plays no role in
// resume classification.
type IncomingEntry struct {
	RelativePath  string
	Size          uint64
	SourceHashHex string
}

// ResumePlan is the outcome of classifying one file against stored
// lock state (spec §4.7 step 6, §4.9).
type ResumePlan string

const (
	PlanCompleted ResumePlan = "completed"
	PlanPartial   ResumePlan = "partial"
	PlanFresh     ResumePlan = "fresh"
)

// Classification is one file's resume plan plus, for PlanPartial or
// PlanCompleted, the number of bytes already on disk. PartialHash
// carries the recorded partial_hash forward for PlanPartial so the
// File Writer can verify the resumed bytes before trusting them (spec
// §4.9); it is empty for PlanCompleted and PlanFresh.
type Classification struct {
	RelativePath string
	Plan         ResumePlan
	ResumeBytes  uint64
	PartialHash  string
}
