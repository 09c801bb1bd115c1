package extractpipe

import (
	"fmt"
	"strings"

	"github.com/user/stingrayext/pkg/filekind"
	"github.com/user/stingrayext/pkg/hash"
)

// Pattern is a parsed extraction glob: "[<name>.]<ext>", where either
// component may be "*" to match anything. Grounded on
// original_source/crates/core/reader/mod.rs's extract_files_with_progress,
// which splits its glob argument on the first '.'.
type Pattern struct {
	nameHash  uint64
	anyName   bool
	extHash   uint64
	anyExt    bool
}

// ParsePattern parses one glob component from the --extract flag.
func ParsePattern(s string) (Pattern, error) {
	if s == "" {
		return Pattern{}, fmt.Errorf("extractpipe: empty pattern")
	}
	if s == "*" {
		return Pattern{anyName: true, anyExt: true}, nil
	}

	idx := strings.LastIndex(s, ".")
	if idx < 0 {
		// An extension-only pattern, e.g. "lua".
		return patternFromExt(s), nil
	}

	name, ext := s[:idx], s[idx+1:]
	p := patternFromExt(ext)
	if name == "*" {
		p.anyName = true
	} else {
		p.nameHash = hash.MurmurString(name)
	}
	return p, nil
}

func patternFromExt(ext string) Pattern {
	if ext == "*" {
		return Pattern{anyName: true, anyExt: true}
	}
	h, _ := filekind.WithName(ext)
	return Pattern{anyName: true, extHash: h}
}

// Matches reports whether a file's (extHash, nameHash) pair satisfies the
// pattern.
func (p Pattern) Matches(extHash, nameHash uint64) bool {
	if !p.anyExt && p.extHash != extHash {
		return false
	}
	if !p.anyName && p.nameHash != nameHash {
		return false
	}
	return true
}

// MatchesAny reports whether extHash/nameHash satisfies any of patterns;
// an empty pattern list matches everything (the default "extract all"
// behavior when --extract is omitted).
func MatchesAny(patterns []Pattern, extHash, nameHash uint64) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p.Matches(extHash, nameHash) {
			return true
		}
	}
	return false
}
