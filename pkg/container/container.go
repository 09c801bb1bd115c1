// Package container implements the chunked zlib-deflate stream that backs
// every bundle's uncompressed payload: a sequence of fixed-stride chunks,
// each independently compressed and prefixed by its own compressed length,
// so random access never requires decompressing the whole bundle.
//
// Grounded on original_source/crates/stingray/src/reader.rs (BundleReader /
// ReadBuffer); the zlib codec itself is github.com/klauspost/compress/zlib,
// a drop-in replacement for compress/zlib that the teacher pack's other
// examples (distr1-distri) also reach for over the stdlib implementation.
package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// ChunkSize is the fixed logical stride of every chunk in the compressed
// stream (ZLIB_CHUNK_SIZE in the original).
const ChunkSize = 0x10000

// chunkHeaderSize is the width of the u32 LE compressed-length prefix that
// precedes each chunk's bytes.
const chunkHeaderSize = 4

// Reader provides random access to the logical, uncompressed byte stream
// stored as a sequence of independently-compressed chunks starting at
// baseOffset within ra. It is safe for concurrent use; chunk boundaries are
// discovered lazily and cached as they're visited; a single decompressed
// chunk is cached so adjacent/straddling reads don't redo work.
type Reader struct {
	ra         io.ReaderAt
	baseOffset int64

	mu             sync.Mutex
	chunkOffsets   []int64  // compressed byte offset of chunk i, relative to baseOffset
	chunkLens      []uint32 // compressed length of chunk i (ChunkSize means stored raw)
	knownThrough   int      // number of chunks whose offset/len are known
	cacheIndex     int
	cacheValid     bool
	cacheBytes     []byte
}

// NewReader builds a Reader over the compressed chunk stream beginning at
// baseOffset in ra.
func NewReader(ra io.ReaderAt, baseOffset int64) *Reader {
	return &Reader{
		ra:         ra,
		baseOffset: baseOffset,
		cacheIndex: -1,
	}
}

// growTableTo ensures chunk offset/length metadata is known for chunks
//0..=index. Must be called with mu held.
func (r *Reader) growTableTo(index int) error {
	for r.knownThrough <= index {
		var off int64
		if r.knownThrough == 0 {
			off = 0
		} else {
			off = r.chunkOffsets[r.knownThrough-1] + chunkHeaderSize + int64(r.chunkLens[r.knownThrough-1])
		}

		var lenBuf [chunkHeaderSize]byte
		if _, err := r.ra.ReadAt(lenBuf[:], r.baseOffset+off); err != nil {
			return fmt.Errorf("container: reading chunk %d length prefix: %w", r.knownThrough, err)
		}
		length := binary.LittleEndian.Uint32(lenBuf[:])

		r.chunkOffsets = append(r.chunkOffsets, off)
		r.chunkLens = append(r.chunkLens, length)
		r.knownThrough++
	}
	return nil
}

// decompressChunk returns the decompressed bytes of chunk index, using and
// populating the single-chunk cache.
func (r *Reader) decompressChunk(index int) ([]byte, error) {
	if err := r.growTableTo(index); err != nil {
		return nil, err
	}
	if r.cacheValid && r.cacheIndex == index {
		return r.cacheBytes, nil
	}

	length := r.chunkLens[index]
	compressedOff := r.baseOffset + r.chunkOffsets[index] + chunkHeaderSize
	raw := make([]byte, length)
	if _, err := r.ra.ReadAt(raw, compressedOff); err != nil {
		return nil, fmt.Errorf("container: reading chunk %d body: %w", index, err)
	}

	var out []byte
	if length == ChunkSize {
		// A full-size chunk is stored uncompressed: compressing it would
		// never shrink it below the stride, so the format stores it raw
		// and uses the sentinel length to say so.
		out = raw
	} else {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("container: chunk %d zlib header: %w", index, err)
		}
		defer zr.Close()
		decoded, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("container: chunk %d inflate: %w", index, err)
		}
		out = decoded
	}

	r.cacheIndex = index
	r.cacheBytes = out
	r.cacheValid = true
	return out, nil
}

// ReadAt implements io.ReaderAt over the logical uncompressed stream.
// Per io.ReaderAt's contract, a short read only happens at end of stream;
// ReadAt returns a non-nil error whenever n < len(p).
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("container: negative offset %d", off)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for total < len(p) {
		logical := off + int64(total)
		chunkIndex := int(logical / ChunkSize)
		withinChunk := int(logical % ChunkSize)

		chunk, err := r.decompressChunk(chunkIndex)
		if err != nil {
			return total, err
		}
		if withinChunk >= len(chunk) {
			return total, io.EOF
		}
		n := copy(p[total:], chunk[withinChunk:])
		total += n
		if n == 0 {
			return total, io.EOF
		}
	}
	return total, nil
}

// ReadFull decompresses and returns exactly length bytes of logical stream
// starting at logical offset off.
func (r *Reader) ReadFull(off int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := r.ReadAt(buf, off)
	if err != nil && !(err == io.EOF && n == length) {
		return nil, err
	}
	return buf[:n], nil
}

// LastChunkUncompressedSize returns the decompressed size of a given
// logical total-size's final, possibly partial, chunk.
func LastChunkUncompressedSize(totalUncompressedSize int64) int {
	rem := int(totalUncompressedSize % ChunkSize)
	if rem == 0 && totalUncompressedSize > 0 {
		return ChunkSize
	}
	return rem
}
