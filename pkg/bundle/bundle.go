package bundle

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/user/stingrayext/pkg/container"
	"github.com/user/stingrayext/pkg/filekind"
)

// indexFileCountSize is the width of the file_count field at the start of
// every index blob.
const indexFileCountSize = 4

// indexHeaderSize is the combined width of file_count plus the 256-byte
// opaque header region (§4.2). Nothing in that region is interpreted —
// the index format tag lives in the bundle file's own 12-byte compressed-
// stream header instead (§4.1), not inside the index blob.
const indexHeaderSize = indexFileCountSize + headerOpaqueSize

// ParseIndex reads the file_count and packed file-entry array from the
// start of r's decompressed stream — format is supplied by the caller, read
// from the bundle file's own 12-byte compressed-stream header (§4.1), not
// from anywhere inside the index blob itself, whose bytes 4..260 are
// entirely opaque (§4.2) — then runs Δ-recovery against uncompressedSize
// (the size that same header reports for the uncompressed stream) to
// repair or flag any entries whose declared size the resource compiler got
// wrong. The returned entries are sorted by (ExtHash, NameHash), per the
// BundleVersion invariant that callers binary-search against.
func ParseIndex(r *container.Reader, format IndexFormat, uncompressedSize int64) (IndexFormat, []File, int64, error) {
	header, err := r.ReadFull(0, indexHeaderSize)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("bundle: reading index header: %w", err)
	}
	fileCount := binary.LittleEndian.Uint32(header[0:4])

	entrySize := format.entrySize()
	entryBytes, err := r.ReadFull(int64(indexHeaderSize), int(fileCount)*entrySize)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("bundle: reading %d index entries: %w", fileCount, err)
	}

	entries, err := parseEntries(format, entryBytes, int(fileCount))
	if err != nil {
		return 0, nil, 0, err
	}

	dataSize := uncompressedSize - int64(indexHeaderSize) - int64(len(entries))*int64(entrySize)
	entries, diff := recoverSizes(format, entries, dataSize)

	// recoverSizes works relative to the start of the data region; File.Offset
	// is a position in the decompressed stream, so shift past the index.
	dataStart := int64(indexHeaderSize) + int64(len(entries))*int64(entrySize)
	for i := range entries {
		entries[i].Offset += dataStart
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ExtHash != entries[j].ExtHash {
			return entries[i].ExtHash < entries[j].ExtHash
		}
		return entries[i].NameHash < entries[j].NameHash
	})
	return format, entries, diff, nil
}

func parseEntries(format IndexFormat, buf []byte, count int) ([]File, error) {
	size := format.entrySize()
	if len(buf) < count*size {
		return nil, fmt.Errorf("bundle: entry buffer too short: have %d, need %d", len(buf), count*size)
	}
	entries := make([]File, count)
	for i := 0; i < count; i++ {
		chunk := buf[i*size : (i+1)*size]
		e := File{
			ExtHash:  binary.LittleEndian.Uint64(chunk[0:8]),
			NameHash: binary.LittleEndian.Uint64(chunk[8:16]),
		}
		switch binary.LittleEndian.Uint32(chunk[16:20]) {
		case 1:
			e.Flags |= FlagDeleted
		case 2:
			e.Flags |= FlagDeletedAlt
		}
		if format >= FormatSized {
			e.Size = int64(binary.LittleEndian.Uint32(chunk[20:24]))
			if e.Size == 0 {
				e.Flags |= FlagDeleted
			}
		}
		entries[i] = e
	}
	return entries, nil
}

// entryWidth returns how many bytes of the uncompressed stream entry
// occupies: a tombstone (deleted by either flag) occupies a 24-byte
// tombstone header with no body; a live entry occupies its 36-byte file
// header plus its declared size (§4.2's file-offset reconstruction rule).
func entryWidth(e File) int64 {
	if e.Flags.Has(FlagDeleted) || e.Flags.Has(FlagDeletedAlt) {
		return 24
	}
	return int64(filekind.FileHeaderSize) + e.Size
}

// recoverSizes walks entries in on-disk order, assigning each a logical
// offset immediately following the previous file's header+body, then
// compares the resulting total against dataSize (the portion of the
// version's uncompressed stream left after the index itself). A mismatch
// Δ means at least one entry's size is untrustworthy:
//
//   - format < FormatSized carries no explicit size at all, so every entry
//     is flagged BadOffset and resolved later by boundary scan (§4.3).
//   - FormatSized entries do carry a size, so Δ-recovery narrows the
//     blame to the contiguous run of "unreliable extension" entries
//     (extensions the resource compiler is known to mis-size): a
//     single-entry run just absorbs Δ into that entry's size; a
//     multi-entry run is flagged BadOffset instead, with every entry past
//     the run shifted by Δ.
func recoverSizes(format IndexFormat, entries []File, dataSize int64) ([]File, int64) {
	assignOffsets(entries, 0)
	if len(entries) == 0 {
		return entries, dataSize
	}
	last := entries[len(entries)-1]
	total := last.Offset + entryWidth(last)
	diff := dataSize - total
	if diff == 0 {
		return entries, 0
	}

	if format < FormatSized {
		for i := range entries {
			entries[i].Flags |= FlagBadOffset
		}
		return entries, diff
	}

	start, end := unreliableRun(entries)
	if start == -1 {
		for i := range entries {
			entries[i].Flags |= FlagBadOffset
		}
		return entries, diff
	}

	if start == end {
		entries[start].Size += diff
		assignOffsets(entries, start)
	} else {
		for i := start; i <= end; i++ {
			entries[i].Flags |= FlagBadOffset
		}
		for i := end + 1; i < len(entries); i++ {
			entries[i].Offset += diff
		}
	}
	return entries, diff
}

// assignOffsets recomputes Offset for entries[from:] in place, chaining
// from entries[from-1] when from > 0.
func assignOffsets(entries []File, from int) {
	var pos int64
	if from > 0 {
		prev := entries[from-1]
		pos = prev.Offset + entryWidth(prev)
	}
	for i := from; i < len(entries); i++ {
		entries[i].Offset = pos
		pos += entryWidth(entries[i])
	}
}

// unreliableRun returns the bounds [start, end] of the first contiguous
// run of entries whose extension is in the known-unreliable set, or
// (-1, -1) if there is none.
func unreliableRun(entries []File) (int, int) {
	start, end := -1, -1
	for i, e := range entries {
		if filekind.IsUnreliable(e.ExtHash) {
			if start == -1 {
				start = i
			}
			end = i
		} else if start != -1 {
			break
		}
	}
	return start, end
}

// boundaryMarkerSize is the width of the duplicate ext_hash||name_hash
// marker every logical file's header begins with, used to relocate a
// BadOffset file by scanning for its own header in the raw stream.
const boundaryMarkerSize = 16

// ResolveBadOffset relocates a BadOffset entry by scanning r's decompressed
// stream for the entry's own 16-byte ext_hash||name_hash marker in the window
// from 4096 bytes before hint (the entry's pre-recovery offset guess) to 4096
// bytes after it, and returns the offset of the first match in that window.
func ResolveBadOffset(r *container.Reader, entry File, hint int64, streamLen int64) (int64, error) {
	var want [boundaryMarkerSize]byte
	binary.LittleEndian.PutUint64(want[0:8], entry.ExtHash)
	binary.LittleEndian.PutUint64(want[8:16], entry.NameHash)

	const window = 4096
	lo := hint - window
	if lo < 0 {
		lo = 0
	}
	hi := hint + window + boundaryMarkerSize
	if hi > streamLen {
		hi = streamLen
	}
	if hi <= lo {
		return 0, fmt.Errorf("bundle: empty search window for bad-offset entry (ext=%x name=%x)", entry.ExtHash, entry.NameHash)
	}

	buf, err := r.ReadFull(lo, int(hi-lo))
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("bundle: scanning for bad-offset marker: %w", err)
	}
	for i := 0; i+boundaryMarkerSize <= len(buf); i++ {
		if string(buf[i:i+boundaryMarkerSize]) == string(want[:]) {
			return lo + int64(i), nil
		}
	}
	return 0, fmt.Errorf("bundle: marker not found for bad-offset entry (ext=%x name=%x)", entry.ExtHash, entry.NameHash)
}

// BundleVersion is one patch layer of a Bundle: its own index and its own
// decompressed chunk stream.
type BundleVersion struct {
	Patch  Patch
	Format IndexFormat
	Diff   int64
	Files  []File

	reader *container.Reader
}

// NewBundleVersion parses a version's index from r and returns the
// populated BundleVersion, bound to r for subsequent reads. format is the
// bundle file's own format version (read from its 12-byte compressed-
// stream header, §4.1), not something ParseIndex discovers on its own.
func NewBundleVersion(patch Patch, format IndexFormat, r *container.Reader, uncompressedSize int64) (*BundleVersion, error) {
	format, files, diff, err := ParseIndex(r, format, uncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("bundle: parsing version (patch %d): %w", patch, err)
	}
	return &BundleVersion{Patch: patch, Format: format, Diff: diff, Files: files, reader: r}, nil
}

// findFile binary-searches v's (ExtHash, NameHash)-sorted Files for the
// entry matching the given key (§4.3).
func (v *BundleVersion) findFile(extHash, nameHash uint64) (File, bool) {
	files := v.Files
	i := sort.Search(len(files), func(i int) bool {
		if files[i].ExtHash != extHash {
			return files[i].ExtHash >= extHash
		}
		return files[i].NameHash >= nameHash
	})
	if i < len(files) && files[i].ExtHash == extHash && files[i].NameHash == nameHash {
		return files[i], true
	}
	return File{}, false
}

// Reader returns the container reader backing this version's decompressed
// stream.
func (v *BundleVersion) Reader() *container.Reader { return v.reader }

// SetReader attaches a container reader to a version reconstructed from
// the incremental cache, which carries the parsed Files but not a live
// handle to the underlying bundle file.
func (v *BundleVersion) SetReader(r *container.Reader) { v.reader = r }

// Bundle is the registry entry for one bundle hash: the set of patch
// versions that exist for it, kept sorted ascending by Patch.
type Bundle struct {
	Hash     uint64
	Versions []*BundleVersion
}

// NewBundle returns an empty registry entry for hash.
func NewBundle(hash uint64) *Bundle {
	return &Bundle{Hash: hash}
}

// AddVersion inserts v into the registry in patch order, replacing any
// existing version with the same patch.
func (b *Bundle) AddVersion(v *BundleVersion) {
	i := sort.Search(len(b.Versions), func(i int) bool { return b.Versions[i].Patch >= v.Patch })
	if i < len(b.Versions) && b.Versions[i].Patch == v.Patch {
		b.Versions[i] = v
		return
	}
	b.Versions = append(b.Versions, nil)
	copy(b.Versions[i+1:], b.Versions[i:])
	b.Versions[i] = v
}

// RemoveVersion removes the version for patch, if present.
func (b *Bundle) RemoveVersion(patch Patch) {
	i := sort.Search(len(b.Versions), func(i int) bool { return b.Versions[i].Patch >= patch })
	if i < len(b.Versions) && b.Versions[i].Patch == patch {
		b.Versions = append(b.Versions[:i], b.Versions[i+1:]...)
	}
}

// ActiveFiles computes the bundle's active file set: walking versions from
// newest patch to oldest (base last), each (ExtHash, NameHash) key is
// claimed by the first (i.e. newest) version that mentions it; deleted
// entries still claim the key (so an older patch's file stays shadowed)
// but are excluded from the returned set.
func (b *Bundle) ActiveFiles() []File {
	type key struct{ ext, name uint64 }
	claimed := make(map[key]bool)
	var out []File

	for i := len(b.Versions) - 1; i >= 0; i-- {
		v := b.Versions[i]
		for _, f := range v.Files {
			k := key{f.ExtHash, f.NameHash}
			if claimed[k] {
				continue
			}
			claimed[k] = true
			if !f.Deleted() {
				out = append(out, f)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ExtHash != out[j].ExtHash {
			return out[i].ExtHash < out[j].ExtHash
		}
		return out[i].NameHash < out[j].NameHash
	})
	return out
}

// VersionForFile returns the newest version that owns the given file
// (ext/name hash pair), or nil if no version in this bundle has it live.
// Each version's Files is sorted by (ExtHash, NameHash), so the per-version
// lookup is a binary search (§4.3) rather than a linear scan.
func (b *Bundle) VersionForFile(extHash, nameHash uint64) *BundleVersion {
	for i := len(b.Versions) - 1; i >= 0; i-- {
		v := b.Versions[i]
		if f, ok := v.findFile(extHash, nameHash); ok {
			if f.Deleted() {
				return nil
			}
			return v
		}
	}
	return nil
}

// Registry holds every Bundle discovered under a game's data directory,
// keyed by bundle hash (C3).
type Registry struct {
	bundles map[uint64]*Bundle
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bundles: make(map[uint64]*Bundle)}
}

// GetOrCreate returns the Bundle for hash, creating it if absent.
func (r *Registry) GetOrCreate(hash uint64) *Bundle {
	b, ok := r.bundles[hash]
	if !ok {
		b = NewBundle(hash)
		r.bundles[hash] = b
	}
	return b
}

// Get returns the Bundle for hash, or nil if unknown.
func (r *Registry) Get(hash uint64) *Bundle { return r.bundles[hash] }

// Remove drops hash from the registry entirely (§4.6: a bundle whose last
// remaining on-disk file disappeared between runs is pruned, not kept as
// an empty, version-less entry).
func (r *Registry) Remove(hash uint64) { delete(r.bundles, hash) }

// All returns every bundle in the registry, unordered.
func (r *Registry) All() []*Bundle {
	out := make([]*Bundle, 0, len(r.bundles))
	for _, b := range r.bundles {
		out = append(out, b)
	}
	return out
}

// Len reports how many distinct bundle hashes are registered.
func (r *Registry) Len() int { return len(r.bundles) }
