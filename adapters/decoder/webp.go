package decoder

import (
	"context"
	"io"

	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
	"github.com/Skryldev/sizefit/utils"
	"golang.org/x/image/webp"
)

// WebP decodes lossy and lossless WebP images using golang.org/x/image/webp.
// Animated WebP is not supported.
type WebP struct{}

func NewWebP() *WebP { return &WebP{} }

func (w *WebP) CanDecode(format core.Format) bool {
	return format == core.FormatWebP
}

func (w *WebP) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.decode", err)
	}

	// x/image/webp wants the whole RIFF payload; buffer it through the pool.
	buf, err := utils.DrainReader(ctx, r, 32*1024)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.drain", err)
	}
	defer utils.ReleaseBuffer(buf)

	img, err := webp.Decode(utils.BytesReader(buf.Bytes()))
	if err != nil {
		return nil, corrupt("webp.decode", err)
	}
	return decoded(img, core.FormatWebP), nil
}

func (w *WebP) DecodeConfig(ctx context.Context, r io.Reader) (core.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return core.Metadata{}, apperrors.Wrap(apperrors.CategoryDecode, "webp.config", err)
	}
	cfg, err := webp.DecodeConfig(r)
	if err != nil {
		return core.Metadata{}, corrupt("webp.config", err)
	}
	return configMeta(cfg, core.FormatWebP), nil
}
