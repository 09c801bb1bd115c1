package extractpipe

import (
	"testing"

	"github.com/user/stingrayext/pkg/filekind"
	"github.com/user/stingrayext/pkg/hash"
)

func TestParsePatternExtOnly(t *testing.T) {
	p, err := ParsePattern("lua")
	if err != nil {
		t.Fatalf("ParsePattern: %v", err)
	}
	luaHash, _ := filekind.WithName("lua")
	if !p.Matches(luaHash, 12345) {
		t.Error("extension-only pattern should match any name with that extension")
	}
	otherHash, _ := filekind.WithName("texture")
	if p.Matches(otherHash, 12345) {
		t.Error("extension-only pattern should not match a different extension")
	}
}

func TestParsePatternNameAndExt(t *testing.T) {
	p, err := ParsePattern("scripts/main.lua")
	if err != nil {
		t.Fatalf("ParsePattern: %v", err)
	}
	luaHash, _ := filekind.WithName("lua")
	wantName := hash.MurmurString("scripts/main")
	if !p.Matches(luaHash, wantName) {
		t.Error("expected exact name+ext match")
	}
	if p.Matches(luaHash, hash.MurmurString("scripts/other")) {
		t.Error("should not match a different name")
	}
}

func TestParsePatternWildcard(t *testing.T) {
	p, err := ParsePattern("*")
	if err != nil {
		t.Fatalf("ParsePattern: %v", err)
	}
	if !p.Matches(1, 2) {
		t.Error("* should match anything")
	}
}

func TestMatchesAnyEmptyMeansEverything(t *testing.T) {
	if !MatchesAny(nil, 1, 2) {
		t.Error("an empty pattern list should match everything")
	}
}
