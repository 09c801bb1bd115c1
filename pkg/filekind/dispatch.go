package filekind

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FileHeaderSize is the size, in bytes, of the duplicate ext_hash/name_hash
// header that precedes every non-tombstone logical file inside a bundle's
// uncompressed stream (§4.2).
const FileHeaderSize = 36

// Decoder is the external-collaborator contract consumed by the extraction
// pipeline (§6): given the uncompressed bytes of one logical file (header
// included), recover an optional self-name/self-extension and stream the
// file's external representation.
type Decoder interface {
	SelfName(buf []byte) (name string, ext string, ok bool)
	Write(buf []byte, out io.Writer) (int, error)
}

// Dispatch returns the Decoder registered for ext_hash. Every extension not
// handled by a dedicated decoder uses the raw passthrough decoder.
func Dispatch(extHash uint64) Decoder {
	switch WithHash(extHash) {
	case Lua:
		return luaDecoder{}
	case WwiseDep:
		return wwiseDepDecoder{}
	case Strings:
		return stringsDecoder{}
	case Texture:
		return textureDecoder{}
	default:
		return rawDecoder{}
	}
}

// rawDecoder copies everything past the 36-byte file header, used for
// bones and every other extension without a dedicated decoder.
type rawDecoder struct{}

func (rawDecoder) SelfName(buf []byte) (string, string, bool) { return "", "", false }

func (rawDecoder) Write(buf []byte, out io.Writer) (int, error) {
	if len(buf) < FileHeaderSize {
		return 0, fmt.Errorf("filekind: raw file shorter than header (%d bytes)", len(buf))
	}
	body := buf[FileHeaderSize:]
	n, err := out.Write(body)
	return n, err
}

func fileHashes(buf []byte) (extHash, nameHash uint64, err error) {
	if len(buf) < 16 {
		return 0, 0, fmt.Errorf("filekind: file shorter than 16-byte hash prefix")
	}
	return binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint64(buf[8:16]), nil
}
