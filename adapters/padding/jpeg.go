package padding

import (
	"bytes"

	"github.com/Skryldev/sizefit/core"
)

const (
	markerSOI   = 0xD8
	markerAPP0  = 0xE0
	markerAPP15 = 0xEF

	// marker (2) + length (2) + identifier
	jpegSegmentOverhead = 4 + len(Identifier)
	// the length field counts itself, so payload tops out at 65535-2-len(Identifier)
	jpegMaxPayload = 0xFFFF - 2 - len(Identifier)
)

// JPEG pads by splicing APP15 segments in after SOI (and after a JFIF APP0
// segment, which must stay first).
type JPEG struct{}

func NewJPEG() *JPEG { return &JPEG{} }

func (j *JPEG) CanPad(format core.Format) bool { return format == core.FormatJPEG }

func (j *JPEG) Overhead() int64 { return int64(jpegSegmentOverhead) }

func (j *JPEG) Pad(data []byte, n int64) ([]byte, error) {
	const op = "padding.jpeg"
	if err := checkLength(op, n); err != nil {
		return nil, err
	}
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, malformed(op, "missing SOI marker")
	}
	if n == 0 {
		return data, nil
	}

	at := 2
	if data[2] == 0xFF && data[3] == markerAPP0 {
		if len(data) < 6 {
			return nil, malformed(op, "truncated APP0 segment")
		}
		length := int(data[4])<<8 | int(data[5])
		if 4+length > len(data) {
			return nil, malformed(op, "truncated APP0 segment")
		}
		at = 4 + length
	}

	sizes := jpegPayloads(n)
	var out bytes.Buffer
	out.Grow(len(data) + int(n) + jpegSegmentOverhead)
	out.Write(data[:at])
	for _, p := range sizes {
		l := 2 + len(Identifier) + p
		out.Write([]byte{0xFF, markerAPP15, byte(l >> 8), byte(l)})
		out.WriteString(Identifier)
		out.Write(make([]byte, p))
	}
	out.Write(data[at:])
	return out.Bytes(), nil
}

// jpegPayloads splits a growth of n bytes into per-segment payload sizes such
// that the total growth is exactly n whenever n >= jpegSegmentOverhead.
func jpegPayloads(n int64) []int {
	var sizes []int
	remaining := n
	for remaining > 0 {
		if remaining <= int64(jpegSegmentOverhead) {
			sizes = append(sizes, 0)
			break
		}
		p := remaining - int64(jpegSegmentOverhead)
		if p > int64(jpegMaxPayload) {
			p = int64(jpegMaxPayload)
		}
		left := remaining - p - int64(jpegSegmentOverhead)
		if left > 0 && left < int64(jpegSegmentOverhead) {
			// leave exactly enough for one empty segment
			p -= int64(jpegSegmentOverhead) - left
		}
		sizes = append(sizes, int(p))
		remaining -= p + int64(jpegSegmentOverhead)
	}
	return sizes
}
