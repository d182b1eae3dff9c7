package decoder

import (
	"context"
	"image/png"
	"io"

	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
)

// PNG decodes PNG images using the standard library.
type PNG struct{}

func NewPNG() *PNG { return &PNG{} }

func (p *PNG) CanDecode(format core.Format) bool {
	return format == core.FormatPNG
}

func (p *PNG) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "png.decode", err)
	}

	img, err := png.Decode(r)
	if err != nil {
		return nil, corrupt("png.decode", err)
	}
	return decoded(img, core.FormatPNG), nil
}

func (p *PNG) DecodeConfig(ctx context.Context, r io.Reader) (core.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return core.Metadata{}, apperrors.Wrap(apperrors.CategoryDecode, "png.config", err)
	}
	cfg, err := png.DecodeConfig(r)
	if err != nil {
		return core.Metadata{}, corrupt("png.config", err)
	}
	return configMeta(cfg, core.FormatPNG), nil
}
