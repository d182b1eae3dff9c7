// Package encoder provides format-specific image encoders.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
)

// JPEG encodes images to JPEG format.
type JPEG struct {
	DefaultQuality int // used when EncodeOptions.Quality == 0
}

func NewJPEG(defaultQuality int) *JPEG {
	if defaultQuality <= 0 {
		defaultQuality = 85
	}
	return &JPEG{DefaultQuality: defaultQuality}
}

func (j *JPEG) CanEncode(format core.Format) bool {
	return format == core.FormatJPEG
}

func (j *JPEG) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "jpeg.encode", err)
	}

	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "jpeg.encode", errNotImage)
	}

	quality, err := resolveQuality("jpeg.encode", opts.Quality, j.DefaultQuality)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(estimateSize(src))
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "jpeg.encode", apperrors.Join(apperrors.ErrEncodeFailure, err))
	}
	return buf.Bytes(), nil
}

// resolveQuality applies the default for 0 and rejects anything outside 1-100.
func resolveQuality(op string, q, def int) (int, error) {
	if q == 0 {
		return def, nil
	}
	if q < 1 || q > 100 {
		return 0, apperrors.Newf(apperrors.CategoryEncode, op, apperrors.ErrEncodeFailure, "quality %d outside 1-100", q)
	}
	return q, nil
}

// estimateSize pre-sizes the output buffer at roughly one byte per pixel,
// capped so huge images do not reserve memory up front.
func estimateSize(img image.Image) int {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n > 4<<20 {
		n = 4 << 20
	}
	return n
}

var errNotImage = fmt.Errorf("%w: image was not decoded", apperrors.ErrEmptyInput)
