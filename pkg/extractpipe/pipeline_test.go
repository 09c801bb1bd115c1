package extractpipe

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/stingrayext/pkg/bundle"
	"github.com/user/stingrayext/pkg/container"
	"github.com/user/stingrayext/pkg/filekind"
	"github.com/user/stingrayext/pkg/storage"
)

// chunkedBytes wraps a payload as a single-chunk compressed container
// stream readable by container.NewReader at baseOffset 0.
func chunkedBytes(t *testing.T, payload []byte) []byte {
	t.Helper()
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(payload); err != nil {
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
		return 0, os.ErrClosed
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, os.ErrClosed
	}
	return n, nil
}

func TestRunExtractsMatchingRawFile(t *testing.T) {
	unitExt, _ := filekind.WithName("unit")
	body := bytes.Repeat([]byte{0x42}, 16)

	var payload bytes.Buffer
	var hdr [filekind.FileHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], unitExt)
	binary.LittleEndian.PutUint64(hdr[8:16], 777)
	payload.Write(hdr[:])
	payload.Write(body)

	stream := chunkedBytes(t, payload.Bytes())
	r := container.NewReader(readerAtBytes{stream}, 0)

	v := &bundle.BundleVersion{Patch: bundle.BasePatch, Files: []bundle.File{
		{ExtHash: unitExt, NameHash: 777, Size: int64(len(body))},
	}}
	v.SetReader(r)

	reg := bundle.NewRegistry()
	b := reg.GetOrCreate(0xabc)
	b.AddVersion(v)

	outDir := t.TempDir()
	err := Run(context.Background(), reg, nil, Options{
		OutDir:       outDir,
		Workers:      2,
		Medium:       storage.SSD,
		Force:        true,
		HashFallback: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantPath := filepath.Join(outDir, "0000000000000309.unit")
	got, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("expected output file at %s: %v", wantPath, err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("extracted content mismatch: got %x want %x", got, body)
	}
}

func TestRunSkipsNonMatchingPattern(t *testing.T) {
	textureExt, _ := filekind.WithName("texture")
	body := []byte("irrelevant")

	var payload bytes.Buffer
	var hdr [filekind.FileHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], textureExt)
	binary.LittleEndian.PutUint64(hdr[8:16], 1)
	payload.Write(hdr[:])
	payload.Write(body)

	stream := chunkedBytes(t, payload.Bytes())
	r := container.NewReader(readerAtBytes{stream}, 0)

	v := &bundle.BundleVersion{Patch: bundle.BasePatch, Files: []bundle.File{
		{ExtHash: textureExt, NameHash: 1, Size: int64(len(body))},
	}}
	v.SetReader(r)

	reg := bundle.NewRegistry()
	b := reg.GetOrCreate(1)
	b.AddVersion(v)

	luaPattern, err := ParsePattern("lua")
	if err != nil {
		t.Fatalf("ParsePattern: %v", err)
	}

	outDir := t.TempDir()
	if err := Run(context.Background(), reg, []Pattern{luaPattern}, Options{
		OutDir: outDir, Workers: 1, Medium: storage.SSD, Force: true,
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no files extracted, got %v", entries)
	}
}

// TestRunSkipsUnresolvedNameWithoutHashFallback covers the §4.5 fallback
// chain's last step: a file with no key-table hit and no decoder self-name
// is skipped entirely when --hash-fallback wasn't requested, rather than
// always falling back to a bare hex name.
func TestRunSkipsUnresolvedNameWithoutHashFallback(t *testing.T) {
	textureExt, _ := filekind.WithName("texture")
	body := []byte("unnamed")

	var payload bytes.Buffer
	var hdr [filekind.FileHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], textureExt)
	binary.LittleEndian.PutUint64(hdr[8:16], 42)
	payload.Write(hdr[:])
	payload.Write(body)

	stream := chunkedBytes(t, payload.Bytes())
	r := container.NewReader(readerAtBytes{stream}, 0)

	v := &bundle.BundleVersion{Patch: bundle.BasePatch, Files: []bundle.File{
		{ExtHash: textureExt, NameHash: 42, Size: int64(len(body))},
	}}
	v.SetReader(r)

	reg := bundle.NewRegistry()
	b := reg.GetOrCreate(2)
	b.AddVersion(v)

	outDir := t.TempDir()
	if err := Run(context.Background(), reg, nil, Options{
		OutDir: outDir, Workers: 1, Medium: storage.SSD, Force: true,
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected the unresolved file to be skipped, got %v", entries)
	}
}
