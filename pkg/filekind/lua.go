package filekind

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// luaMagic is the LuaJIT bytecode magic word (bytes ESC 'L' 'J' 0x02) read
// as a little-endian u32, as it appears after the 12-byte Stingray prelude
// (ground: original_source crates/stingray/src/file/lua.rs).
const luaMagic = 0x024a4c1b

// luaDecoder strips the 12-byte Stingray prelude (offsets 36..48 of the
// logical file) and validates the LuaJIT magic word at offset 48.
type luaDecoder struct{}

func (luaDecoder) Write(buf []byte, out io.Writer) (int, error) {
	if len(buf) < 52 {
		return 0, fmt.Errorf("filekind: lua chunk too short for prelude (%d bytes)", len(buf))
	}
	magic := binary.LittleEndian.Uint32(buf[48:52])
	if magic != luaMagic {
		return 0, fmt.Errorf("filekind: lua magic word mismatch, expected %08x got %08x", luaMagic, magic)
	}
	body := buf[48:]
	n, err := out.Write(body)
	return n, err
}

// SelfName recovers the embedded LuaJIT debug-info chunk name, which
// Stingray stores as a length-prefixed, '@'-prefixed source path.
func (luaDecoder) SelfName(buf []byte) (string, string, bool) {
	if len(buf) < 55 {
		return "", "", false
	}
	strLen := int(buf[53])
	// 55 skips the '@' character embedded in the debug-info string; the
	// trailing 5 bytes ('@' plus ".lua") are excluded from the recovered
	// path stem.
	end := 55 + strLen - 5
	if strLen < 5 || end > len(buf) || end < 55 {
		return "", "", false
	}
	name := string(buf[55:end])
	if !utf8.ValidString(name) {
		return "", "", false
	}
	return name, "lua", true
}
