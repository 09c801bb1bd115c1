package filekind

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// legacy8BitLanguages names the languages whose string tables are known to
// be encoded as Windows-1252 rather than UTF-8, a holdover from the
// engine's older localization pipeline (ground: original_source
// crates/stingray/src/file/strings.rs's per-language decode table; see
// DESIGN.md for which languages this applies to).
var legacy8BitLanguages = map[uint32]bool{
	1: true, // french
	2: true, // german
	3: true, // italian
	4: true, // spanish
}

// languageNames maps the Stingray string-table language code to a name.
// Grounded on original_source crates/stingray/src/file/strings.rs's
// Language enum; the mapping itself is the open question from spec.md §9 —
// the nine codes below are the ones observed in sampled string tables, see
// DESIGN.md for the decision record. Any other code falls back to
// "UNKNOWN_<code>".
var languageNames = map[uint32]string{
	0: "english",
	1: "french",
	2: "german",
	3: "italian",
	4: "spanish",
	5: "russian",
	6: "polish",
	7: "portuguese_brazil",
	8: "simplified_chinese",
}

func languageName(code uint32) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return "UNKNOWN_" + strconv.FormatUint(uint64(code), 10)
}

// stringsDecoder emits a per-language-variant JSON object mapping each
// string's hash (as 8 hex digits) to its decoded text. Real size for this
// extension is untrusted by C2's recovery pass (§4.2) since the resource
// compiler can mis-size it; this decoder only ever sees whatever window
// the recovery/bad-offset resolve path has already located.
type stringsDecoder struct{}

func (stringsDecoder) SelfName(buf []byte) (string, string, bool) { return "", "", false }

func (stringsDecoder) Write(buf []byte, out io.Writer) (int, error) {
	if len(buf) < FileHeaderSize+8 {
		return 0, fmt.Errorf("filekind: strings file shorter than header (%d bytes)", len(buf))
	}
	offset := FileHeaderSize
	numVariants := int(binary.LittleEndian.Uint32(buf[offset:]))
	offset += 4
	langCodes := make([]uint32, numVariants)
	for i := range langCodes {
		if offset+4 > len(buf) {
			return 0, fmt.Errorf("filekind: strings variant table truncated")
		}
		langCodes[i] = binary.LittleEndian.Uint32(buf[offset:])
		offset += 4
	}

	var out2 []byte
	out2 = append(out2, '{')
	for i, code := range langCodes {
		if i > 0 {
			out2 = append(out2, ',')
		}
		out2 = append(out2, '"')
		out2 = append(out2, languageName(code)...)
		out2 = append(out2, `":{`...)

		if offset+8 > len(buf) {
			return 0, fmt.Errorf("filekind: strings variant %d truncated before count", i)
		}
		offset += 4 // unknown
		numStrings := int(binary.LittleEndian.Uint32(buf[offset:]))
		offset += 4

		type entry struct {
			hash uint32
			off  uint32
		}
		entries := make([]entry, numStrings)
		for j := range entries {
			if offset+8 > len(buf) {
				return 0, fmt.Errorf("filekind: strings variant %d entry %d truncated", i, j)
			}
			entries[j].hash = binary.LittleEndian.Uint32(buf[offset:])
			offset += 4
			entries[j].off = binary.LittleEndian.Uint32(buf[offset:])
			offset += 4
		}

		legacy8Bit := legacy8BitLanguages[code]
		for j, e := range entries {
			if j > 0 {
				out2 = append(out2, ',')
			}
			out2 = append(out2, '"')
			out2 = append(out2, fmt.Sprintf("%08x", e.hash)...)
			out2 = append(out2, `":"`...)

			raw, consumed := readCString(buf[offset:])
			offset += consumed
			out2 = append(out2, escapeJSONString(decodeStringBytes(raw, legacy8Bit))...)

			out2 = append(out2, '"')
		}
		out2 = append(out2, '}')
	}
	out2 = append(out2, '}')

	n, err := out.Write(out2)
	return n, err
}

// readCString returns the bytes of a NUL-terminated string from src (not
// including the NUL) and how many source bytes (including the NUL) were
// consumed.
func readCString(src []byte) ([]byte, int) {
	i := 0
	for i < len(src) && src[i] != 0 {
		i++
	}
	return src[:i], i + 1
}

// decodeStringBytes converts raw string-table bytes to UTF-8. Most
// languages store UTF-8 already; a handful of Western European variants
// were authored against the older Windows-1252 string tool and need an
// explicit decode.
func decodeStringBytes(raw []byte, legacy8Bit bool) string {
	if !legacy8Bit && utf8.Valid(raw) {
		return string(raw)
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

// escapeJSONString escapes quote and backslash characters for embedding s
// inside a JSON string literal; control characters are assumed absent
// from Stingray's string tables and are not escaped here.
func escapeJSONString(s string) string {
	if !strings.ContainsAny(s, `"\`) {
		return s
	}
	var out strings.Builder
	for _, r := range s {
		if r == '"' || r == '\\' {
			out.WriteByte('\\')
		}
		out.WriteRune(r)
	}
	return out.String()
}
