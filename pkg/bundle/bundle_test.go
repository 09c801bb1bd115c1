package bundle

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"testing"

	"github.com/user/stingrayext/pkg/container"
	"github.com/user/stingrayext/pkg/filekind"
	"github.com/user/stingrayext/pkg/hash"
)

// buildIndexStream packs a synthetic index blob (file_count, opaque
// header, entries, then each file's 36-byte header plus its body) into the
// chunked-container wire format so it can be fed straight into
// container.NewReader. Format is never embedded in the blob itself (§4.1:
// it lives in the bundle file's own 12-byte header) — callers pass it to
// ParseIndex directly, same as index.go's real caller does. kinds may be
// nil, meaning every entry has kind 0 (normal).
func buildIndexStream(t *testing.T, format IndexFormat, entries []File, kinds []uint32, bodies [][]byte) []byte {
	t.Helper()
	var payload bytes.Buffer

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(entries)))
	payload.Write(countBuf[:])
	payload.Write(make([]byte, headerOpaqueSize))

	entrySize := format.entrySize()
	for i, e := range entries {
		buf := make([]byte, entrySize)
		binary.LittleEndian.PutUint64(buf[0:8], e.ExtHash)
		binary.LittleEndian.PutUint64(buf[8:16], e.NameHash)
		if kinds != nil {
			binary.LittleEndian.PutUint32(buf[16:20], kinds[i])
		}
		if format >= FormatSized {
			binary.LittleEndian.PutUint32(buf[20:24], uint32(e.Size))
		}
		payload.Write(buf)
	}

	for i, body := range bodies {
		var hdr [filekind.FileHeaderSize]byte
		binary.LittleEndian.PutUint64(hdr[0:8], entries[i].ExtHash)
		binary.LittleEndian.PutUint64(hdr[8:16], entries[i].NameHash)
		payload.Write(hdr[:])
		payload.Write(body)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(payload.Bytes()); err != nil {
		t.Fatalf("zlib.Write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib.Close: %v", err)
	}

	var out bytes.Buffer
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(compressed.Len()))
	out.Write(lenBuf[:])
	out.Write(compressed.Bytes())
	return out.Bytes()
}

type readerAtBytes struct{ data []byte }

func (r readerAtBytes) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.data)) {
		return 0, errShortRead
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, errShortRead
	}
	return n, nil
}

type shortReadErr struct{}

func (shortReadErr) Error() string { return "short read" }

var errShortRead = shortReadErr{}

// parsedByName returns the parsed entry with the given name hash; ParseIndex
// sorts its output, so entries cannot be matched up by on-disk position.
func parsedByName(t *testing.T, parsed []File, nameHash uint64) File {
	t.Helper()
	for _, p := range parsed {
		if p.NameHash == nameHash {
			return p
		}
	}
	t.Fatalf("no parsed entry with name hash %x", nameHash)
	return File{}
}

func TestParseIndexExactSizes(t *testing.T) {
	luaExt, _ := filekind.WithName("lua")
	entries := []File{
		{ExtHash: luaExt, NameHash: hash.MurmurString("scripts/a")},
		{ExtHash: luaExt, NameHash: hash.MurmurString("scripts/b")},
	}
	bodies := [][]byte{
		bytes.Repeat([]byte{1}, 10),
		bytes.Repeat([]byte{2}, 20),
	}
	entries[0].Size = int64(len(bodies[0]))
	entries[1].Size = int64(len(bodies[1]))

	stream := buildIndexStream(t, FormatSized, entries, nil, bodies)
	r := container.NewReader(readerAtBytes{stream}, 0)

	totalLogical := int64(indexHeaderSize) + int64(len(entries))*int64(FormatSized.entrySize())
	for _, e := range entries {
		totalLogical += int64(filekind.FileHeaderSize) + e.Size
	}

	format, parsed, diff, err := ParseIndex(r, FormatSized, totalLogical)
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	if format != FormatSized {
		t.Fatalf("format = %d, want %d", format, FormatSized)
	}
	if diff != 0 {
		t.Fatalf("diff = %d, want 0 for an exactly-sized index", diff)
	}
	for i, e := range entries {
		p := parsedByName(t, parsed, e.NameHash)
		if p.Flags.Has(FlagBadOffset) {
			t.Errorf("entry %d unexpectedly flagged BadOffset", i)
		}
		if p.Size != e.Size {
			t.Errorf("entry %d size = %d, want %d", i, p.Size, e.Size)
		}
	}
}

func TestParseIndexSingleEntryDeltaAbsorbed(t *testing.T) {
	luaExt, _ := filekind.WithName("lua")
	stringsExt, _ := filekind.WithName("strings")

	entries := []File{
		{ExtHash: luaExt, NameHash: 1, Size: 10},
		{ExtHash: stringsExt, NameHash: 2, Size: 5}, // declared size is wrong
		{ExtHash: luaExt, NameHash: 3, Size: 7},
	}
	bodies := [][]byte{
		bytes.Repeat([]byte{1}, 10),
		bytes.Repeat([]byte{2}, 40), // actual body is bigger than declared
		bytes.Repeat([]byte{3}, 7),
	}

	stream := buildIndexStream(t, FormatSized, entries, nil, bodies)
	r := container.NewReader(readerAtBytes{stream}, 0)

	totalLogical := int64(indexHeaderSize) + int64(len(entries))*int64(FormatSized.entrySize())
	for _, b := range bodies {
		totalLogical += int64(filekind.FileHeaderSize) + int64(len(b))
	}

	_, parsed, diff, err := ParseIndex(r, FormatSized, totalLogical)
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	if diff == 0 {
		t.Fatalf("expected nonzero Δ given the undersized strings entry")
	}
	stringsEntry := parsedByName(t, parsed, 2)
	after := parsedByName(t, parsed, 3)
	if stringsEntry.Size != int64(len(bodies[1])) {
		t.Errorf("strings entry size = %d, want %d (Δ absorbed)", stringsEntry.Size, len(bodies[1]))
	}
	if stringsEntry.Flags.Has(FlagBadOffset) {
		t.Errorf("single-entry Δ run should not be flagged BadOffset")
	}
	if after.Offset != stringsEntry.Offset+int64(filekind.FileHeaderSize)+stringsEntry.Size {
		t.Errorf("entry 2 offset not shifted to follow corrected entry 1")
	}
}

func TestParseIndexLegacyFormatFlagsEverything(t *testing.T) {
	luaExt, _ := filekind.WithName("lua")
	entries := []File{
		{ExtHash: luaExt, NameHash: 1, Size: 0},
		{ExtHash: luaExt, NameHash: 2, Size: 0},
	}
	bodies := [][]byte{
		bytes.Repeat([]byte{1}, 12),
		bytes.Repeat([]byte{2}, 8),
	}
	stream := buildIndexStream(t, FormatLegacy, entries, nil, bodies)
	r := container.NewReader(readerAtBytes{stream}, 0)

	totalLogical := int64(indexHeaderSize) + int64(len(entries))*int64(FormatLegacy.entrySize())
	for _, b := range bodies {
		totalLogical += int64(filekind.FileHeaderSize) + int64(len(b))
	}

	format, parsed, _, err := ParseIndex(r, FormatLegacy, totalLogical)
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	if format != FormatLegacy {
		t.Fatalf("format = %d, want %d", format, FormatLegacy)
	}
	for i, p := range parsed {
		if !p.Flags.Has(FlagBadOffset) {
			t.Errorf("entry %d not flagged BadOffset under legacy format", i)
		}
	}
}

// TestParseIndexKindFieldDrivesDeletion covers the on-disk kind field
// actually reaching File.Flags: a sized-format entry with kind 1 or 2 must
// come out deleted, and one with kind 0 and a nonzero size must not.
func TestParseIndexKindFieldDrivesDeletion(t *testing.T) {
	luaExt, _ := filekind.WithName("lua")
	entries := []File{
		{ExtHash: luaExt, NameHash: 1, Size: 10},
		{ExtHash: luaExt, NameHash: 2, Size: 0},
		{ExtHash: luaExt, NameHash: 3, Size: 0},
	}
	kinds := []uint32{0, 1, 2}
	bodies := [][]byte{
		bytes.Repeat([]byte{1}, 10),
		nil,
		nil,
	}

	stream := buildIndexStream(t, FormatSized, entries, kinds, bodies)
	r := container.NewReader(readerAtBytes{stream}, 0)

	totalLogical := int64(indexHeaderSize) + int64(len(entries))*int64(FormatSized.entrySize())
	for _, e := range entries {
		totalLogical += int64(filekind.FileHeaderSize) + e.Size
	}

	_, parsed, _, err := ParseIndex(r, FormatSized, totalLogical)
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	if parsed[0].Deleted() {
		t.Errorf("kind-0 entry should not be deleted")
	}
	if !parsed[1].Flags.Has(FlagDeleted) || !parsed[1].Deleted() {
		t.Errorf("kind-1 entry should carry FlagDeleted")
	}
	if !parsed[2].Flags.Has(FlagDeletedAlt) || !parsed[2].Deleted() {
		t.Errorf("kind-2 entry should carry FlagDeletedAlt")
	}
}

// TestBundleLegacyFormatDoesNotHideZeroSizeActiveFiles guards against the
// bug where a format-5 (legacy) entry with no size field on disk — Size is
// always left at its Go zero value — was indistinguishable from a
// tombstone, so ActiveFiles/VersionForFile silently dropped every file in
// every legacy-format bundle.
func TestBundleLegacyFormatDoesNotHideZeroSizeActiveFiles(t *testing.T) {
	b := NewBundle(1)
	v := &BundleVersion{Patch: BasePatch, Format: FormatLegacy, Files: []File{
		{ExtHash: 1, NameHash: 1, Size: 0},
		{ExtHash: 1, NameHash: 2, Size: 0, Flags: FlagDeleted},
	}}
	b.AddVersion(v)

	active := b.ActiveFiles()
	if len(active) != 1 || active[0].NameHash != 1 {
		t.Fatalf("ActiveFiles() = %+v, want only the non-tombstone entry", active)
	}
	if got := b.VersionForFile(1, 1); got == nil {
		t.Errorf("VersionForFile should find the live legacy entry despite Size == 0")
	}
	if got := b.VersionForFile(1, 2); got != nil {
		t.Errorf("VersionForFile should not return the tombstoned entry")
	}
}

// TestParseIndexEntriesSortedByExtAndNameHash covers §4.2/invariant #2:
// ParseIndex must return entries sorted by (ExtHash, NameHash), regardless
// of their on-disk order, so VersionForFile's binary search is valid.
func TestParseIndexEntriesSortedByExtAndNameHash(t *testing.T) {
	entries := []File{
		{ExtHash: 5, NameHash: 9, Size: 1},
		{ExtHash: 2, NameHash: 100, Size: 1},
		{ExtHash: 5, NameHash: 1, Size: 1},
		{ExtHash: 2, NameHash: 1, Size: 1},
	}
	bodies := [][]byte{{0}, {0}, {0}, {0}}

	stream := buildIndexStream(t, FormatSized, entries, nil, bodies)
	r := container.NewReader(readerAtBytes{stream}, 0)

	totalLogical := int64(indexHeaderSize) + int64(len(entries))*int64(FormatSized.entrySize())
	for _, e := range entries {
		totalLogical += int64(filekind.FileHeaderSize) + e.Size
	}

	_, parsed, _, err := ParseIndex(r, FormatSized, totalLogical)
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	for i := 1; i < len(parsed); i++ {
		prev, cur := parsed[i-1], parsed[i]
		if prev.ExtHash > cur.ExtHash || (prev.ExtHash == cur.ExtHash && prev.NameHash > cur.NameHash) {
			t.Fatalf("entries not sorted by (ExtHash, NameHash): %+v", parsed)
		}
	}
}

func TestBundleActiveFilesNewestPatchWins(t *testing.T) {
	b := NewBundle(0x1234)

	base := &BundleVersion{Patch: BasePatch, Files: []File{
		{ExtHash: 1, NameHash: 1, Size: 10},
		{ExtHash: 1, NameHash: 2, Size: 20},
	}}
	p1 := &BundleVersion{Patch: Patch(1), Files: []File{
		{ExtHash: 1, NameHash: 1, Size: 99}, // overrides base
	}}
	p2 := &BundleVersion{Patch: Patch(2), Files: []File{
		{ExtHash: 1, NameHash: 2, Size: 0, Flags: FlagDeleted}, // tombstones base's entry
	}}

	b.AddVersion(p2)
	b.AddVersion(base)
	b.AddVersion(p1)

	if len(b.Versions) != 3 || b.Versions[0].Patch != BasePatch || b.Versions[2].Patch != Patch(2) {
		t.Fatalf("versions not sorted by patch: %+v", b.Versions)
	}

	active := b.ActiveFiles()
	if len(active) != 1 {
		t.Fatalf("active files = %d, want 1 (got %+v)", len(active), active)
	}
	if active[0].NameHash != 1 || active[0].Size != 99 {
		t.Fatalf("active file = %+v, want the patch-1 override", active[0])
	}
}

func TestBundleRemoveVersion(t *testing.T) {
	b := NewBundle(1)
	b.AddVersion(&BundleVersion{Patch: BasePatch})
	b.AddVersion(&BundleVersion{Patch: Patch(5)})
	b.RemoveVersion(Patch(5))
	if len(b.Versions) != 1 || b.Versions[0].Patch != BasePatch {
		t.Fatalf("after remove: %+v", b.Versions)
	}
}

func TestRegistryGetOrCreate(t *testing.T) {
	reg := NewRegistry()
	a := reg.GetOrCreate(1)
	b := reg.GetOrCreate(1)
	if a != b {
		t.Fatalf("GetOrCreate should return the same *Bundle for the same hash")
	}
	if reg.Len() != 1 {
		t.Fatalf("registry length = %d, want 1", reg.Len())
	}
}

func TestNewPatchRange(t *testing.T) {
	if _, err := NewPatch(-1); err == nil {
		t.Error("expected error for negative patch")
	}
	if _, err := NewPatch(1000); err == nil {
		t.Error("expected error for patch > 999")
	}
	p, err := NewPatch(6)
	if err != nil || p != Patch(6) {
		t.Errorf("NewPatch(6) = %v, %v", p, err)
	}
}
