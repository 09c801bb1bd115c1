// Package bundle implements C2 (bundle index parsing, including the
// size-inconsistency recovery heuristic) and C3 (the bundle/version
// registry and its active-file-set computation).
//
// Grounded on original_source/crates/stingray/src/bundle.rs and
// crates/stingray/src/file/mod.rs; the container shape (a registry keyed by
// a 64-bit hash, holding an ordered list of on-disk records) is kept from
// the teacher's pkg/bundle, generalized from GGPK's single-version bundle
// list to Stingray's patch-versioned one.
package bundle

import "fmt"

// Patch identifies which patch layer a bundle version belongs to. Patch 0
// is the base game; values 1..999 are successive patch bundles, applied
// newest-first when computing a bundle's active file set.
type Patch uint16

const maxPatch = 999

// NewPatch validates and constructs a Patch in [0, 999] from a parsed integer.
func NewPatch(v int) (Patch, error) {
	if v < 0 || v > maxPatch {
		return 0, fmt.Errorf("bundle: patch %d out of range [0, %d]", v, maxPatch)
	}
	return Patch(v), nil
}

// BasePatch is the patch value used by the unpatched base bundle.
const BasePatch Patch = 0

// IsBase reports whether p is the base patch.
func (p Patch) IsBase() bool { return p == BasePatch }

// FileFlags records per-entry anomalies discovered while parsing or
// resolving a bundle's index.
type FileFlags uint8

const (
	// FlagBadOffset marks a file whose index-declared offset/size could
	// not be trusted after Δ-recovery and must be located by boundary scan
	// at read time (§4.2, §4.3).
	FlagBadOffset FileFlags = 1 << iota
	// FlagDeleted marks a tombstoned entry (zero effective size).
	FlagDeleted
	// FlagDeletedAlt marks the alternate tombstone encoding observed in
	// some patch bundles; callers treat it identically to FlagDeleted.
	FlagDeletedAlt
)

// Has reports whether flag is set.
func (f FileFlags) Has(flag FileFlags) bool { return f&flag != 0 }

// IndexFormat is the on-disk layout version of a bundle's index blob.
type IndexFormat uint32

const (
	// FormatLegacy is index format 5: entries do not carry an explicit
	// size field, so Δ-recovery cannot selectively grow one entry and
	// instead must flag every entry BadOffset.
	FormatLegacy IndexFormat = 5
	// FormatSized is index format 6: entries carry an explicit size
	// field, letting Δ-recovery repair a single offending entry without
	// discarding the whole index's offsets.
	FormatSized IndexFormat = 6
)

// entrySize returns the packed on-disk width of one file-entry record for
// this format.
func (f IndexFormat) entrySize() int {
	if f >= FormatSized {
		return 24
	}
	return 20
}

// headerOpaqueSize is the width of the header region (offsets 4..260 of
// the index blob) whose contents this reader ignores beyond passing
// through on request (§4.2) — the format version itself lives in the
// bundle file's own 12-byte compressed-stream header, not in here.
const headerOpaqueSize = 256

// File is one entry in a BundleVersion's index: a logical file packed
// somewhere in the version's decompressed chunk stream.
type File struct {
	ExtHash  uint64
	NameHash uint64
	Offset   int64
	Size     int64
	Flags    FileFlags
}

// Deleted reports whether the entry is a tombstone with no live content.
// Tombstone status is entirely flag-driven: parseEntries sets FlagDeleted/
// FlagDeletedAlt from the entry's on-disk kind field (and, for sized
// formats, from an explicit zero size), so a format-5 entry — which never
// carries a size at all — is never mistaken for a tombstone just because
// its zero-value Size was never populated.
func (f File) Deleted() bool {
	return f.Flags.Has(FlagDeleted) || f.Flags.Has(FlagDeletedAlt)
}
