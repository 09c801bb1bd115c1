// Package extractpipe implements C5: matching the selected bundle files
// against the requested glob patterns, scheduling them through a
// storage-aware queue, decoding each one, and resolving its output path.
//
// Grounded on original_source/crates/core/reader/mod.rs's
// extract_files_with_progress/extract_files_mt.
package extractpipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/stingrayext/pkg/bundle"
	"github.com/user/stingrayext/pkg/filekind"
	"github.com/user/stingrayext/pkg/keytable"
	"github.com/user/stingrayext/pkg/prefetch"
	"github.com/user/stingrayext/pkg/progress"
	"github.com/user/stingrayext/pkg/storage"
)

// Options configures one extraction run.
type Options struct {
	OutDir       string
	Workers      int
	Medium       storage.Kind
	Keys         *keytable.Table
	Events       chan progress.Event // optional; nil disables progress reporting
	Force        bool                // overwrite existing output files
	HashFallback bool                // write unresolved names/extensions as bare hex hashes instead of skipping them
}

// Run extracts every file in reg's active sets that matches any of
// patterns, writing output under opts.OutDir. Patterns may be empty to
// mean "everything".
func Run(ctx context.Context, reg *bundle.Registry, patterns []Pattern, opts Options) error {
	workers := opts.Workers
	if opts.Medium == storage.HDD {
		// Concurrent reads across a spinning disk thrash the seek head;
		// a single worker following the storage-sorted queue order beats
		// any amount of parallelism here (§5).
		workers = 1
	}
	if workers < 1 {
		workers = 1
	}

	q := prefetch.New(opts.Medium)

	enumDone := make(chan struct{})
	go func() {
		defer close(enumDone)
		defer q.CloseEnumeration()
		for _, b := range reg.All() {
			for _, f := range b.ActiveFiles() {
				if !MatchesAny(patterns, f.ExtHash, f.NameHash) {
					continue
				}
				v := b.VersionForFile(f.ExtHash, f.NameHash)
				if v == nil {
					continue
				}
				if opts.Events != nil {
					opts.Events <- progress.Event{Kind: progress.EventSize, Size: f.Size}
				}
				q.Enqueue(prefetch.Item{
					BundleHash:   b.Hash,
					Version:      v,
					File:         f,
					PhysicalHint: f.Offset,
				})
			}
		}
	}()

	if opts.Medium == storage.HDD {
		// Sort must see every item the enumerator will ever produce — a
		// Sort() that races the enumerator would flip the queue sorted
		// before enumeration finishes, and every item Enqueued afterward
		// is merely appended, breaking the ascending-offset guarantee this
		// branch exists for (§4.4/§4.5).
		<-enumDone
		q.Sort()
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				default:
				}
				item, ok := q.Pop()
				if !ok {
					return
				}
				if err := extractOne(item, opts); err != nil {
					errs <- err
					return
				}
				if opts.Events != nil {
					opts.Events <- progress.Event{Kind: progress.EventProgress, Size: item.File.Size}
					opts.Events <- progress.Event{Kind: progress.EventEnd}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// extractOne reads, decodes, and writes one queued file.
func extractOne(item prefetch.Item, opts Options) error {
	r := item.Version.Reader()
	if r == nil {
		return fmt.Errorf("extractpipe: no reader attached for bundle %016x patch %d", item.BundleHash, item.Version.Patch)
	}

	offset := item.File.Offset
	if item.File.Flags.Has(bundle.FlagBadOffset) {
		resolved, err := bundle.ResolveBadOffset(r, item.File, offset, offset+filekind.FileHeaderSize+item.File.Size+65536)
		if err != nil {
			return fmt.Errorf("extractpipe: resolving bad offset for %016x/%016x: %w", item.File.ExtHash, item.File.NameHash, err)
		}
		offset = resolved
	}

	length := int(filekind.FileHeaderSize + item.File.Size)
	buf, err := r.ReadFull(offset, length)
	if err != nil {
		return fmt.Errorf("extractpipe: reading %016x/%016x: %w", item.File.ExtHash, item.File.NameHash, err)
	}

	decoder := filekind.Dispatch(item.File.ExtHash)
	name, ext, ok := resolveName(item.File, decoder, buf, opts.Keys, opts.HashFallback)
	if !ok {
		return nil
	}

	outPath := filepath.Join(opts.OutDir, filepath.FromSlash(name)+"."+ext)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("extractpipe: creating output directory for %s: %w", outPath, err)
	}

	if !opts.Force {
		if _, err := os.Stat(outPath); err == nil {
			return nil
		}
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("extractpipe: creating %s: %w", outPath, err)
	}
	defer out.Close()

	if _, err := decoder.Write(buf, out); err != nil {
		return fmt.Errorf("extractpipe: writing %s: %w", outPath, err)
	}
	return nil
}

// resolveName implements the §4.5 fallback chain for turning a file's
// hashes into a human-usable output path, applied independently to the
// name and the extension:
//
//  1. the key table's (or, for the extension, the known-extensions table's)
//     reverse lookup, if it knows the hash;
//  2. else the decoder's own self-name/self-extension;
//  3. else, if hashFallback is set, the bare 16-hex-digit hash;
//  4. else the whole file is skipped (ok=false) — neither half is allowed
//     to fall back to a hash on its own while the other doesn't.
func resolveName(f bundle.File, decoder filekind.Decoder, buf []byte, keys *keytable.Table, hashFallback bool) (name, ext string, ok bool) {
	nameOK := false
	if keys != nil {
		if n, found := keys.Lookup(f.NameHash); found {
			name, nameOK = n, true
		}
	}
	ext = filekind.Name(f.ExtHash)
	extOK := ext != ""

	if !nameOK || !extOK {
		if selfName, selfExt, found := decoder.SelfName(buf); found {
			if !nameOK {
				name, nameOK = selfName, true
			}
			if !extOK && selfExt != "" {
				ext, extOK = selfExt, true
			}
		}
	}

	if !nameOK {
		if !hashFallback {
			return "", "", false
		}
		name = fmt.Sprintf("%016x", f.NameHash)
	}
	if !extOK {
		if !hashFallback {
			return "", "", false
		}
		ext = fmt.Sprintf("%016x", f.ExtHash)
	}
	return name, ext, true
}
