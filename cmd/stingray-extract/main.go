// Command stingray-extract indexes a Stingray-engine game's bundle
// directory and extracts matching files to an output directory.
//
// Flag set grounded on original_source/crates/core/main.rs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/user/stingrayext/pkg/extractpipe"
	"github.com/user/stingrayext/pkg/hash"
	"github.com/user/stingrayext/pkg/index"
	"github.com/user/stingrayext/pkg/keytable"
	"github.com/user/stingrayext/pkg/progress"
	"github.com/user/stingrayext/pkg/storage"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "stingray-extract:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("stingray-extract", flag.ContinueOnError)

	dir := fs.String("dir", "", "game bundle directory (alias -d)")
	fs.StringVar(dir, "d", "", "alias for --dir")
	out := fs.String("out", "", "output directory for extracted files (alias -o)")
	fs.StringVar(out, "o", "", "alias for --out")
	cachePath := fs.String("cache", "", "incremental cache file path (alias -c); defaults to <dir>/.stingrayext-cache")
	fs.StringVar(cachePath, "c", "", "alias for --cache")
	keysPath := fs.String("keys", "", "optional dictionary file of known paths (alias -k)")
	fs.StringVar(keysPath, "k", "", "alias for --keys")
	threads := fs.Int("threads", runtime.NumCPU(), "extraction worker count (alias -t)")
	fs.IntVar(threads, "t", runtime.NumCPU(), "alias for --threads")
	extractGlob := fs.String("extract", "", "comma-separated glob patterns to extract, e.g. \"lua,*.strings,scripts/main.lua\" (alias -e)")
	fs.StringVar(extractGlob, "e", "", "alias for --extract")
	force := fs.Bool("force", false, "overwrite existing output files (alias -f)")
	fs.BoolVar(force, "f", false, "alias for --force")
	hashFallback := fs.Bool("hash-fallback", false, "write files with no key-table match or decoder self-name under their bare hex hash instead of skipping them")
	noSave := fs.Bool("no-save", false, "don't persist the incremental cache after this run")
	buffered := fs.Bool("buffered", false, "ignore the detected storage medium and schedule as for unknown media (no HDD single-worker ordering)")
	info := fs.Bool("info", false, "print a summary of the indexed bundle set and exit (alias -i)")
	fs.BoolVar(info, "i", false, "alias for --info")
	showHash := fs.String("hash", "", "print the murmur64a hash of the given string and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	runID := uuid.New().String()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("run_id", runID)

	if *showHash != "" {
		return printHash(*showHash)
	}
	if *dir == "" {
		return fmt.Errorf("--dir is required")
	}

	probe := storage.NewProbe()
	medium := probe.MediumKind(*dir)
	if *buffered {
		medium = storage.Unknown
	}
	logger.Info("probed storage medium", "dir", *dir, "medium", mediumName(medium))

	cp := *cachePath
	if cp == "" {
		cp = *dir + string(os.PathSeparator) + ".stingrayext-cache"
	}

	ctx := context.Background()
	ix, err := index.Open(ctx, *dir, cp, *threads)
	if err != nil {
		return fmt.Errorf("indexing %s: %w", *dir, err)
	}
	defer ix.Close()

	if !*noSave {
		if err := ix.Save(); err != nil {
			logger.Warn("failed to persist incremental cache", "error", err)
		}
	}

	if *info {
		printInfo(ix)
		return nil
	}

	if *out == "" {
		return fmt.Errorf("--out is required unless --info is given")
	}

	patterns, err := parsePatterns(*extractGlob)
	if err != nil {
		return fmt.Errorf("parsing --extract patterns: %w", err)
	}

	var keys *keytable.Table
	if *keysPath != "" {
		keys, err = keytable.LoadFile(*keysPath)
		if err != nil {
			return fmt.Errorf("loading --keys: %w", err)
		}
	}

	events := make(chan progress.Event, 64)
	agg := progress.NewAggregator(events, os.Stdout)
	done := make(chan struct{})
	go func() {
		agg.Run()
		close(done)
	}()

	err = extractpipe.Run(ctx, ix.Registry, patterns, extractpipe.Options{
		OutDir:       *out,
		Workers:      *threads,
		Medium:       medium,
		Keys:         keys,
		Events:       events,
		Force:        *force,
		HashFallback: *hashFallback,
	})
	close(events)
	<-done

	if err != nil {
		return fmt.Errorf("extracting: %w", err)
	}
	return nil
}

func parsePatterns(glob string) ([]extractpipe.Pattern, error) {
	if glob == "" {
		return nil, nil
	}
	var patterns []extractpipe.Pattern
	for _, part := range strings.Split(glob, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := extractpipe.ParsePattern(part)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

func mediumName(k storage.Kind) string {
	switch k {
	case storage.SSD:
		return "ssd"
	case storage.HDD:
		return "hdd"
	default:
		return "unknown"
	}
}

func printInfo(ix *index.Index) {
	bundles := ix.Registry.All()
	var totalFiles int
	for _, b := range bundles {
		totalFiles += len(b.ActiveFiles())
	}
	fmt.Printf("%d bundles, %d active files\n", len(bundles), totalFiles)
}

func printHash(s string) error {
	fmt.Printf("%016x\n", hash.MurmurString(s))
	return nil
}
