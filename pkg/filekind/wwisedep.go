package filekind

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/user/stingrayext/pkg/hash"
)

// wwiseDepVersion is the expected embedded version tag at offset 36 of a
// wwise_dep file's payload (ground: original_source
// crates/stingray/src/file/wwise_dep.rs).
const wwiseDepVersion = 0x05000000

// wwiseDepDecoder copies everything past the 36-byte file header and can
// recover its own source path from an embedded length-prefixed string,
// validated against the file's own name_hash so a corrupt embed never
// produces a wrong name silently.
type wwiseDepDecoder struct{}

func (wwiseDepDecoder) Write(buf []byte, out io.Writer) (int, error) {
	if len(buf) < FileHeaderSize {
		return 0, fmt.Errorf("filekind: wwise_dep file shorter than header (%d bytes)", len(buf))
	}
	n, err := out.Write(buf[FileHeaderSize:])
	return n, err
}

func (wwiseDepDecoder) SelfName(buf []byte) (string, string, bool) {
	_, nameHash, err := fileHashes(buf)
	if err != nil || len(buf) < 44 {
		return "", "", false
	}
	version := binary.LittleEndian.Uint32(buf[36:40])
	if version != wwiseDepVersion {
		return "", "", false
	}
	strLen := int(binary.LittleEndian.Uint32(buf[40:44]))
	// strLen includes the trailing null terminator.
	end := 44 + strLen - 1
	if strLen < 1 || end > len(buf) || end < 44 {
		return "", "", false
	}
	s := string(buf[44:end])
	if !utf8.ValidString(s) {
		return "", "", false
	}
	if hash.MurmurString(s) != nameHash {
		return "", "", false
	}
	return s, "wwise_dep", true
}
