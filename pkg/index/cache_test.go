package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/user/stingrayext/pkg/bundle"
)

func TestCacheSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.bin")

	c := NewCache(path)
	c.SetFingerprint(0xdeadbeef)
	b := bundle.NewBundle(0x1111)
	v := &bundle.BundleVersion{Patch: bundle.BasePatch, Format: bundle.FormatSized, Files: []bundle.File{
		{ExtHash: 1, NameHash: 2, Size: 10},
	}}
	c.Record(b, v, 12345)

	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := NewCache(path)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.FingerprintValue() != 0xdeadbeef {
		t.Errorf("fingerprint = %x, want %x", loaded.FingerprintValue(), 0xdeadbeef)
	}
	if loaded.NeedsReindex(0x1111, bundle.BasePatch, 12345) {
		t.Error("NeedsReindex should be false for an unchanged mtime")
	}
	if !loaded.NeedsReindex(0x1111, bundle.BasePatch, 99999) {
		t.Error("NeedsReindex should be true for a changed mtime")
	}

	reg := loaded.Rebuild()
	got := reg.Get(0x1111)
	if got == nil || len(got.Versions) != 1 || len(got.Versions[0].Files) != 1 {
		t.Fatalf("rebuilt registry missing expected bundle/version: %+v", got)
	}
}

func TestCacheSaveIsIdempotentWhenNotDirty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.bin")

	c := NewCache(path)
	if err := c.Save(); err != nil {
		t.Fatalf("Save (no-op, nothing dirty): %v", err)
	}
	if _, err := os.Stat(path); err == nil {
		t.Error("Save should not create a file when nothing is dirty")
	}
}

func TestCacheLoadRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.bin")
	if err := os.WriteFile(path, []byte("not a cache file at all"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c := NewCache(path)
	if err := c.Load(); err == nil {
		t.Error("expected Load to reject a file with bad magic")
	}
}

func TestFingerprintReflectsManifestContent(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, databaseFileName)
	if err := os.WriteFile(manifestPath, []byte("bundle-a\nbundle-b\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fp1, err := Fingerprint(dir)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	if err := os.WriteFile(manifestPath, []byte("bundle-a\nbundle-b\nbundle-c\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	fp2, err := Fingerprint(dir)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	if fp1 == fp2 {
		t.Error("fingerprint should change when the manifest content changes")
	}
}
