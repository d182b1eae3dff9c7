package encoder

import (
	"bytes"
	"context"
	"image"

	"github.com/chai2010/webp"

	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
)

// WebP encodes images to WebP format using github.com/chai2010/webp.
type WebP struct {
	DefaultQuality int
}

func NewWebP(defaultQuality int) *WebP {
	if defaultQuality <= 0 {
		defaultQuality = 85
	}
	return &WebP{DefaultQuality: defaultQuality}
}

func (w *WebP) CanEncode(format core.Format) bool { return format == core.FormatWebP }

func (w *WebP) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "webp.encode", err)
	}

	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "webp.encode", errNotImage)
	}

	quality, err := resolveQuality("webp.encode", opts.Quality, w.DefaultQuality)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(estimateSize(src) / 2)
	if err := webp.Encode(&buf, src, &webp.Options{Lossless: opts.Lossless, Quality: float32(quality)}); err != nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "webp.encode", apperrors.Join(apperrors.ErrEncodeFailure, err))
	}
	return buf.Bytes(), nil
}
