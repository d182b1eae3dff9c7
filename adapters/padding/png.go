package padding

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/Skryldev/sizefit/core"
)

// pngChunkType is ancillary, private and safe-to-copy, so every decoder
// skips it.
const pngChunkType = "szFt"

const (
	pngChunkOverhead = 12 // length + type + crc
	pngMaxChunk      = 1<<31 - 1
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// PNG pads with private ancillary chunks inserted before IEND.
type PNG struct{}

func NewPNG() *PNG { return &PNG{} }

func (p *PNG) CanPad(format core.Format) bool { return format == core.FormatPNG }

func (p *PNG) Overhead() int64 { return pngChunkOverhead }

func (p *PNG) Pad(data []byte, n int64) ([]byte, error) {
	const op = "padding.png"
	if err := checkLength(op, n); err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, malformed(op, "missing PNG signature")
	}
	if n == 0 {
		return data, nil
	}

	iend := findIEND(data)
	if iend < 0 {
		return nil, malformed(op, "IEND chunk not found")
	}

	var out bytes.Buffer
	out.Grow(len(data) + int(n) + pngChunkOverhead)
	out.Write(data[:iend])
	remaining := n
	for remaining > 0 {
		size := remaining - pngChunkOverhead
		if size < 0 {
			size = 0
		}
		if size > pngMaxChunk {
			size = pngMaxChunk
		}
		writeChunk(&out, pngChunkType, make([]byte, size))
		remaining -= size + pngChunkOverhead
	}
	out.Write(data[iend:])
	return out.Bytes(), nil
}

// findIEND walks the chunk list and returns the offset of the IEND chunk.
func findIEND(data []byte) int {
	off := len(pngSignature)
	for off+8 <= len(data) {
		length := int64(binary.BigEndian.Uint32(data[off : off+4]))
		if string(data[off+4:off+8]) == "IEND" {
			return off
		}
		next := int64(off) + length + pngChunkOverhead
		if next > int64(len(data)) {
			return -1
		}
		off = int(next)
	}
	return -1
}

func writeChunk(w *bytes.Buffer, typ string, payload []byte) {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(payload)))
	copy(hdr[4:], typ)
	w.Write(hdr[:])
	w.Write(payload)
	crc := crc32.NewIEEE()
	crc.Write(hdr[4:])
	crc.Write(payload)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	w.Write(sum[:])
}
