// Package decoder provides format-specific image decoders.
package decoder

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"

	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
)

// JPEG decodes JPEG images using the standard library.
type JPEG struct{}

// NewJPEG returns an initialised JPEG decoder.
func NewJPEG() *JPEG { return &JPEG{} }

func (j *JPEG) CanDecode(format core.Format) bool {
	return format == core.FormatJPEG
}

func (j *JPEG) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}

	img, err := jpeg.Decode(r)
	if err != nil {
		return nil, corrupt("jpeg.decode", err)
	}
	return decoded(img, core.FormatJPEG), nil
}

func (j *JPEG) DecodeConfig(ctx context.Context, r io.Reader) (core.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return core.Metadata{}, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.config", err)
	}
	cfg, err := jpeg.DecodeConfig(r)
	if err != nil {
		return core.Metadata{}, corrupt("jpeg.config", err)
	}
	return configMeta(cfg, core.FormatJPEG), nil
}

// decoded packages a decoded image with its metadata.
func decoded(img image.Image, f core.Format) *core.ImageData {
	bounds := img.Bounds()
	return &core.ImageData{
		Image:  img,
		Format: f,
		Meta: core.Metadata{
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
			Format:     f,
			ColorSpace: colorSpace(img),
			HasAlpha:   hasAlpha(img),
		},
	}
}

func configMeta(cfg image.Config, f core.Format) core.Metadata {
	return core.Metadata{
		Width:      cfg.Width,
		Height:     cfg.Height,
		Format:     f,
		ColorSpace: modelColorSpace(cfg.ColorModel),
		HasAlpha:   modelHasAlpha(cfg.ColorModel),
	}
}

func corrupt(op string, err error) error {
	return apperrors.New(apperrors.CategoryDecode, op, apperrors.Join(apperrors.ErrCorruptImage, err))
}

// colorSpace returns the colour space of an image.Image.
func colorSpace(img image.Image) core.ColorSpace {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return core.ColorSpaceGray
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64:
		return core.ColorSpaceRGBA
	case *image.CMYK:
		return core.ColorSpaceCMYK
	}
	return core.ColorSpaceRGB
}

func hasAlpha(img image.Image) bool {
	switch img.(type) {
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64, *image.NYCbCrA:
		return true
	}
	return false
}

func modelColorSpace(m color.Model) core.ColorSpace {
	switch m {
	case color.GrayModel, color.Gray16Model:
		return core.ColorSpaceGray
	case color.RGBAModel, color.NRGBAModel, color.RGBA64Model, color.NRGBA64Model:
		return core.ColorSpaceRGBA
	case color.CMYKModel:
		return core.ColorSpaceCMYK
	}
	return core.ColorSpaceRGB
}

func modelHasAlpha(m color.Model) bool {
	switch m {
	case color.RGBAModel, color.NRGBAModel, color.RGBA64Model, color.NRGBA64Model, color.NYCbCrAModel:
		return true
	}
	if _, ok := m.(color.Palette); ok {
		return true
	}
	return false
}
