// Package storage probes the physical medium a game's data directory lives
// on, so the prefetcher (C4) can decide whether to reorder reads by
// physical disk offset (spinning media) or fan out reads freely (solid
// state). Grounded on original_source/crates/drive/src/lib.rs; the
// Windows-only GetDriveType probe uses golang.org/x/sys/windows the way the
// teacher's pkg/bundle reaches for golang.org/x/sys for platform syscalls.
package storage

// Kind classifies the storage medium backing a path.
type Kind int

const (
	// Unknown means the platform has no reliable way to tell; callers
	// should treat this the same as SSD (the safer default: no reordering
	// penalty on true SSDs, a missed optimization on true HDDs).
	Unknown Kind = iota
	SSD
	HDD
)

// Probe reports what's known about the medium backing path and, where
// supported, a stable ordering key derived from the physical location of a
// given byte offset — used to sort reads so they travel across the disk in
// one direction instead of seeking randomly.
type Probe interface {
	MediumKind(path string) Kind
	// PhysicalOffset returns a monotonic-with-seek-order key for byte
	// offset `logical` within the open file fd, or false if unsupported.
	PhysicalOffset(fd uintptr, logical int64) (int64, bool)
}

// noopProbe reports Unknown and never has a physical offset; used on
// platforms without a native implementation.
type noopProbe struct{}

func (noopProbe) MediumKind(string) Kind                        { return Unknown }
func (noopProbe) PhysicalOffset(uintptr, int64) (int64, bool) { return 0, false }
