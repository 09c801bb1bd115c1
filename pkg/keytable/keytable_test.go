package keytable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/user/stingrayext/pkg/hash"
)

func TestAddAndLookup(t *testing.T) {
	tbl := New()
	h := tbl.Add("content/levels/intro")
	got, ok := tbl.Lookup(h)
	if !ok || got != "content/levels/intro" {
		t.Fatalf("Lookup(%x) = %q, %v", h, got, ok)
	}
	if _, ok := tbl.Lookup(0xdeadbeef); ok {
		t.Error("Lookup of an unknown hash should fail")
	}
}

func TestLoadFileSkipsBlankAndComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.txt")
	content := "# a comment\n\ncontent/levels/intro\ncontent/levels/boss\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tbl, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if tbl.Len() == 0 {
		t.Fatal("expected at least the two path entries plus directory components")
	}
	if _, ok := tbl.Lookup(hash.MurmurString("content/levels/intro")); !ok {
		t.Error("expected the full path to be present")
	}
	if _, ok := tbl.Lookup(hash.MurmurString("content/levels")); !ok {
		t.Error("expected the directory component to also be hashed")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile("/nonexistent/path/keys.txt"); err == nil {
		t.Error("expected an error for a missing dictionary file")
	}
}
