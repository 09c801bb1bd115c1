// Package keytable implements the optional hash→string reverse lookup
// used by the extraction pipeline's name-resolution fallback chain (§4.5):
// it is tried first, and a dictionary of known path strings lets a file's
// name_hash resolve back to a readable path before the decoder's self-name
// or the bare hex hash is used.
//
// Grounded on original_source/crates/core/reader/mod.rs's load_keys.
package keytable

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/user/stingrayext/pkg/hash"
)

// Table maps a murmur64a hash back to the string that produced it.
type Table struct {
	byHash map[uint64]string
}

// New returns an empty Table.
func New() *Table {
	return &Table{byHash: make(map[uint64]string)}
}

// Add hashes s and records the mapping, returning the hash.
func (t *Table) Add(s string) uint64 {
	h := hash.MurmurString(s)
	t.byHash[h] = s
	return h
}

// Lookup returns the string that hashes to h, if known.
func (t *Table) Lookup(h uint64) (string, bool) {
	s, ok := t.byHash[h]
	return s, ok
}

// Len reports how many distinct strings are loaded.
func (t *Table) Len() int { return len(t.byHash) }

// LoadFile reads a plain-text dictionary file, one candidate path per
// line, blank lines and lines starting with '#' ignored. Paths and their
// directory components (everything up to each '/') are hashed separately
// so the hash of a directory prefix resolves too.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("keytable: opening %s: %w", path, err)
	}
	defer f.Close()

	t := New()
	scanner := bufio.NewScanner(f)
	// Dictionary files can contain very long generated paths; grow the
	// scan buffer well past bufio's 64KiB default line limit.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t.Add(line)
		for i := 0; i < len(line); i++ {
			if line[i] == '/' {
				t.Add(line[:i])
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("keytable: scanning %s: %w", path, err)
	}
	return t, nil
}
