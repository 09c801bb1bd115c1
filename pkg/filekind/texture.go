package filekind

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// textureStreamedFlag marks a texture payload whose mip chain was written
// with an extra lz4 pass on top of the bundle's own zlib stream — a space
// optimization the resource compiler applies to the largest (base) mip
// level of streamed textures, which otherwise dominates a texture
// package's size.
const textureStreamedFlag = 1

// textureDecoder reads a one-byte flags field right after the 36-byte file
// header and copies everything past it, undoing the optional extra lz4
// frame first when the stream-compression flag is set.
type textureDecoder struct{}

func (textureDecoder) SelfName(buf []byte) (string, string, bool) { return "", "", false }

func (textureDecoder) Write(buf []byte, out io.Writer) (int, error) {
	if len(buf) < FileHeaderSize+5 {
		return 0, fmt.Errorf("filekind: texture file shorter than header (%d bytes)", len(buf))
	}
	flags := buf[FileHeaderSize]
	body := buf[FileHeaderSize+1:]

	if flags&textureStreamedFlag == 0 {
		return out.Write(body)
	}
	if len(body) < 4 {
		return 0, fmt.Errorf("filekind: streamed texture missing lz4 length prefix")
	}
	decompressedSize := int(binary.LittleEndian.Uint32(body[:4]))
	decompressed := make([]byte, decompressedSize)
	n, err := lz4.UncompressBlock(body[4:], decompressed)
	if err != nil {
		return 0, fmt.Errorf("filekind: lz4-decompressing streamed texture: %w", err)
	}
	return out.Write(decompressed[:n])
}
