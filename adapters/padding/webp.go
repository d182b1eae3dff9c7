package padding

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/image/webp"

	"github.com/Skryldev/sizefit/core"
)

const (
	webpChunkOverhead = 8  // FourCC + size
	webpVP8XSize      = 18 // header + 10 byte payload
	webpChunkType     = "SZFT"

	vp8xAlphaFlag = 0x10
)

// WebP pads with an unknown RIFF chunk appended after the image data.
// Simple (VP8/VP8L only) files are promoted to the extended VP8X layout first,
// since unknown chunks are only valid there. RIFF chunks are even-sized, so an
// odd remainder lands one byte short of the requested growth.
type WebP struct{}

func NewWebP() *WebP { return &WebP{} }

func (w *WebP) CanPad(format core.Format) bool { return format == core.FormatWebP }

// Overhead is the chunk header cost; promoting a simple file adds another
// webpVP8XSize bytes.
func (w *WebP) Overhead() int64 { return webpChunkOverhead }

func (w *WebP) Pad(data []byte, n int64) ([]byte, error) {
	const op = "padding.webp"
	if err := checkLength(op, n); err != nil {
		return nil, err
	}
	if len(data) < 20 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return nil, malformed(op, "missing RIFF/WEBP header")
	}
	if n == 0 {
		return data, nil
	}

	var out bytes.Buffer
	out.Grow(len(data) + int(n) + webpVP8XSize + webpChunkOverhead)
	out.Write(data[:12])

	base := int64(webpChunkOverhead)
	if string(data[12:16]) != "VP8X" {
		cfg, err := webp.DecodeConfig(bytes.NewReader(data))
		if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
			return nil, malformed(op, "cannot read canvas size")
		}
		writeVP8X(&out, cfg.Width, cfg.Height, losslessHasAlpha(data))
		base += webpVP8XSize
	}
	out.Write(data[12:])

	size := n - base
	if size < 0 {
		size = 0
	}
	size &^= 1
	hdr := make([]byte, webpChunkOverhead)
	copy(hdr, webpChunkType)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(size))
	out.Write(hdr)
	out.Write(make([]byte, size))

	b := out.Bytes()
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(b)-8))
	return b, nil
}

// writeVP8X emits an extended-format header. Only the alpha flag can apply
// to a promoted simple file.
func writeVP8X(w *bytes.Buffer, width, height int, alpha bool) {
	var c [webpVP8XSize]byte
	copy(c[:4], "VP8X")
	binary.LittleEndian.PutUint32(c[4:8], 10)
	if alpha {
		c[8] = vp8xAlphaFlag
	}
	putUint24(c[12:15], uint32(width-1))
	putUint24(c[15:18], uint32(height-1))
	w.Write(c[:])
}

// losslessHasAlpha reads the alpha_is_used bit of a simple VP8L header:
// signature byte 0x2f, then 14 bits width-1, 14 bits height-1, 1 bit alpha.
// Simple lossy files cannot carry alpha.
func losslessHasAlpha(data []byte) bool {
	if len(data) < 25 || string(data[12:16]) != "VP8L" || data[20] != 0x2f {
		return false
	}
	bits := binary.LittleEndian.Uint32(data[21:25])
	return bits>>28&1 == 1
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}
