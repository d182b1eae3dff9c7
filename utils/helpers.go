package utils

import (
	"bytes"
	"encoding/base64"
	"errors"
	"math"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
	"github.com/h2non/filetype/types"
)

const (
	formatJPEG    = "jpeg"
	formatPNG     = "png"
	formatWebP    = "webp"
	formatUnknown = "unknown"
)

// DetectFormat sniffs the leading bytes of data and returns the image format.
// Recognised non-target types (gif, bmp, tiff, ...) are returned by their
// extension so callers can tell "other image" from "not an image".
func DetectFormat(data []byte) string {
	format, _ := Sniff(data)
	return format
}

// Sniff returns the detected format name and MIME type of data.
func Sniff(data []byte) (format, mime string) {
	if len(data) < 4 {
		return formatUnknown, ""
	}
	kind, err := filetype.Match(data)
	if err != nil || kind == types.Unknown {
		return formatUnknown, ""
	}
	switch kind {
	case matchers.TypeJpeg:
		return formatJPEG, kind.MIME.Value
	case matchers.TypePng:
		return formatPNG, kind.MIME.Value
	case matchers.TypeWebp:
		return formatWebP, kind.MIME.Value
	}
	return kind.Extension, kind.MIME.Value
}

// ScaleDimensions computes output (w, h) preserving aspect ratio.
// Pass 0 for either axis to calculate it from the other.
func ScaleDimensions(srcW, srcH, targetW, targetH int) (int, int) {
	if targetW == 0 && targetH == 0 {
		return srcW, srcH
	}
	if targetW == 0 {
		ratio := float64(targetH) / float64(srcH)
		return int(float64(srcW) * ratio), targetH
	}
	if targetH == 0 {
		ratio := float64(targetW) / float64(srcW)
		return targetW, int(float64(srcH) * ratio)
	}
	return targetW, targetH
}

// ScaleByFactor multiplies both axes by factor, rounding half away from zero.
func ScaleByFactor(w, h int, factor float64) (int, int) {
	return int(math.Round(float64(w) * factor)), int(math.Round(float64(h) * factor))
}

// KBToBytes converts kilobytes (1 KB = 1024 bytes) to a rounded byte count.
func KBToBytes(kb float64) int64 {
	return int64(math.Round(kb * 1024))
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// BytesReader creates an io.Reader backed by b without allocation.
func BytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

// ErrDataURI is returned for malformed data URIs.
var ErrDataURI = errors.New("malformed data URI")

// ParseDataURI splits "data:<mime>;base64,<payload>" into its MIME type and
// decoded bytes. A missing MIME type defaults to image/jpeg.
func ParseDataURI(uri string) (mime string, data []byte, err error) {
	header, payload, ok := strings.Cut(uri, ",")
	if !ok || payload == "" || !strings.HasPrefix(header, "data:") {
		return "", nil, ErrDataURI
	}
	params := strings.Split(strings.TrimPrefix(header, "data:"), ";")
	if params[len(params)-1] != "base64" {
		return "", nil, ErrDataURI
	}
	mime = params[0]
	if mime == "" || mime == "base64" {
		mime = "image/jpeg"
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, errors.Join(ErrDataURI, err)
	}
	return mime, data, nil
}

// FormatDataURI renders data as a base64 data URI.
func FormatDataURI(mime string, data []byte) string {
	var sb strings.Builder
	sb.Grow(len("data:;base64,") + len(mime) + base64.StdEncoding.EncodedLen(len(data)))
	sb.WriteString("data:")
	sb.WriteString(mime)
	sb.WriteString(";base64,")
	sb.WriteString(base64.StdEncoding.EncodeToString(data))
	return sb.String()
}
