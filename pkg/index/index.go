package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/user/stingrayext/pkg/bundle"
	"github.com/user/stingrayext/pkg/container"
)

// bundleHeaderSize is the width of the small header that precedes a
// bundle's chunked container stream: a u16 format version, 2 unused bytes,
// a u32 uncompressed size, and 4 more unused bytes (§4.1). Grounded on
// original_source/crates/stingray/src/reader.rs's
// BUNDLE_COMPRESSED_HEADER_SIZE.
const bundleHeaderSize = 12

// bundleNamePattern matches the on-disk names bundle files use:
// "<16 hex hash>" or "<16 hex hash>.patch_<3 digits>".
var bundleNamePattern = regexp.MustCompile(`^[0-9a-f]{16}(\.patch_[0-9]{3})?$`)

// Index is the top-level, process-lifetime view of a game's bundle set: a
// Registry of every Bundle/BundleVersion discovered under Dir, backed by an
// incremental Cache that lets repeat runs skip re-parsing unchanged
// bundles (C6).
type Index struct {
	Dir      string
	Registry *bundle.Registry
	cache    *Cache

	mu      sync.Mutex
	readers map[string]*os.File
}

// Open loads dir's incremental cache (if any) and performs a full or
// incremental scan, re-parsing only bundle files whose mtime differs from
// the cached one, and returns a ready-to-query Index. A changed directory
// fingerprint does not discard the cache; it is only recorded.
func Open(ctx context.Context, dir, cachePath string, workers int) (*Index, error) {
	ix := &Index{
		Dir:      dir,
		Registry: bundle.NewRegistry(),
		cache:    NewCache(cachePath),
		readers:  make(map[string]*os.File),
	}

	fingerprint, fpErr := Fingerprint(dir)
	if loadErr := ix.cache.Load(); loadErr == nil {
		ix.Registry = ix.cache.Rebuild()
	}
	if fpErr == nil {
		ix.cache.SetFingerprint(fingerprint)
	}

	if err := ix.scan(ctx, workers); err != nil {
		return nil, err
	}
	return ix, nil
}

// scan walks Dir for bundle files, and for every one whose mtime doesn't
// match the cache, (re)parses its index and merges it into Registry. Work
// is fanned out across workers goroutines with golang.org/x/sync/errgroup,
// mirroring the teacher's use of bounded concurrency for directory-wide
// operations.
func (ix *Index) scan(ctx context.Context, workers int) error {
	entries, err := os.ReadDir(ix.Dir)
	if err != nil {
		return fmt.Errorf("index: reading %s: %w", ix.Dir, err)
	}

	type job struct {
		name    string
		hash    uint64
		patch   bundle.Patch
		mtime   int64
		reindex bool
	}
	var jobs []job
	seen := make(map[cacheKey]bool)
	for _, e := range entries {
		if e.IsDir() || !bundleNamePattern.MatchString(e.Name()) {
			continue
		}
		h, patch, err := bundle.ParseName(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mtime := info.ModTime().Unix()
		jobs = append(jobs, job{name: e.Name(), hash: h, patch: patch, mtime: mtime, reindex: ix.cache.NeedsReindex(h, patch, mtime)})
		seen[cacheKey{BundleHash: h, Patch: patch}] = true
	}

	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			if j.reindex {
				v, err := ix.parseBundleFile(j.name, j.patch)
				if err != nil {
					return fmt.Errorf("index: %s: %w", j.name, err)
				}
				mu.Lock()
				b := ix.Registry.GetOrCreate(j.hash)
				b.AddVersion(v)
				ix.cache.Record(b, v, j.mtime)
				mu.Unlock()
				return nil
			}

			// Cache hit: the parsed file list already lives in the
			// rebuilt registry, but it still needs a live reader bound
			// to the actual bundle file before anything can extract
			// from it.
			f, err := ix.openReader(j.name)
			if err != nil {
				return fmt.Errorf("index: reopening cached bundle %s: %w", j.name, err)
			}
			mu.Lock()
			b := ix.Registry.Get(j.hash)
			if b != nil {
				for _, v := range b.Versions {
					if v.Patch == j.patch {
						v.SetReader(container.NewReader(f, bundleHeaderSize))
						break
					}
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	ix.pruneMissing(seen)
	return nil
}

// pruneMissing drops any BundleVersion a stale cache rebuild left behind
// for a bundle/patch file no longer present in Dir (§4.6), and removes the
// same entries from the cache payload so they don't resurrect on the next
// warm-cache run. A bundle left with no versions is removed entirely.
func (ix *Index) pruneMissing(seen map[cacheKey]bool) {
	for _, b := range ix.Registry.All() {
		for _, v := range append([]*bundle.BundleVersion(nil), b.Versions...) {
			if !seen[cacheKey{BundleHash: b.Hash, Patch: v.Patch}] {
				b.RemoveVersion(v.Patch)
			}
		}
		if len(b.Versions) == 0 {
			ix.Registry.Remove(b.Hash)
		}
	}
	ix.cache.PruneMissing(seen)
}

// openReader opens name under Dir and registers the handle for later
// Close, without parsing its header (the caller already trusts the cached
// index for this version).
func (ix *Index) openReader(name string) (*os.File, error) {
	f, err := os.Open(filepath.Join(ix.Dir, name))
	if err != nil {
		return nil, err
	}
	ix.mu.Lock()
	ix.readers[name] = f
	ix.mu.Unlock()
	return f, nil
}

// parseBundleFile opens and parses one bundle file's header and index. The
// underlying *os.File is kept open and registered under name, since the
// returned BundleVersion's container.Reader lazily decompresses chunks
// from it on later reads (extraction happens well after indexing).
func (ix *Index) parseBundleFile(name string, patch bundle.Patch) (*bundle.BundleVersion, error) {
	f, err := os.Open(filepath.Join(ix.Dir, name))
	if err != nil {
		return nil, err
	}

	var hdr [bundleHeaderSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading bundle header: %w", err)
	}
	format := bundle.IndexFormat(binary.LittleEndian.Uint16(hdr[0:2]))
	uncompressedSize := int64(binary.LittleEndian.Uint32(hdr[4:8]))

	r := container.NewReader(f, bundleHeaderSize)
	v, err := bundle.NewBundleVersion(patch, format, r, uncompressedSize)
	if err != nil {
		f.Close()
		return nil, err
	}

	ix.mu.Lock()
	ix.readers[name] = f
	ix.mu.Unlock()
	return v, nil
}

// Save persists the incremental cache if anything changed during Open's
// scan.
func (ix *Index) Save() error {
	return ix.cache.Save()
}

// Close releases every bundle file handle the index opened during its scan
// and kept open for the versions' container readers.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var firstErr error
	for _, f := range ix.readers {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	ix.readers = make(map[string]*os.File)
	return firstErr
}
