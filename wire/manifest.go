package wire

// Manifest is the canonical structured document carried inside a
// Manifest frame, UTF-8 JSON encoded (spec §6). Field order and names
// are part of the wire contract; do not rename the JSON tags.
type Manifest struct {
	Version     string         `json:"version"`
	SessionID   string         `json:"session_id"`
	Compression bool           `json:"compression"`
	Entries     []ManifestEntry `json:"entries"`
}

// ManifestEntry describes one file in the transfer (spec §4.5).
// OffsetInStream is not part of the wire JSON — it is derivable by the
// receiver from the entry order and sizes (spec §4.5 invariant:
// offset_in_stream[i] = sum of size[j<i]) and is recomputed locally by
// both sides rather than trusted from the wire.
type ManifestEntry struct {
	Path    string `json:"path"`
	Size    uint64 `json:"size"`
	HashHex string `json:"hash_hex"`
}

// CurrentVersion is the Manifest document version this build emits
// and requires on receipt.
const CurrentVersion = "1"
