package pipeline

import (
	"bytes"
	"context"

	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
	"github.com/Skryldev/sizefit/utils"
)

// Inspect identifies data and reads its dimensions without decoding pixels.
//
// It fails with ErrUnsupportedFormat for recognised images outside
// jpeg/png/webp, ErrCorruptImage when the bytes cannot be parsed, and
// ErrMissingDimensions when the header parses but reports no size.
func Inspect(ctx context.Context, reg core.Registry, data []byte) (core.Metadata, error) {
	const op = "inspect"
	if len(data) == 0 {
		return core.Metadata{}, apperrors.New(apperrors.CategoryInput, op, apperrors.ErrEmptyInput)
	}

	name := utils.DetectFormat(data)
	format := core.Format(name)
	switch {
	case format == core.FormatUnknown:
		return core.Metadata{}, apperrors.Newf(apperrors.CategoryDecode, op, apperrors.ErrCorruptImage, "unrecognised image data")
	case !format.Supported():
		return core.Metadata{}, apperrors.Newf(apperrors.CategoryInput, op, apperrors.ErrUnsupportedFormat, "%s", name)
	}

	dec, ok := reg.DecoderFor(format)
	if !ok {
		return core.Metadata{}, apperrors.Newf(apperrors.CategoryInput, op, apperrors.ErrUnsupportedFormat, "no decoder for %s", format)
	}
	meta, err := dec.DecodeConfig(ctx, bytes.NewReader(data))
	if err != nil {
		return core.Metadata{}, apperrors.WrapAs(apperrors.CategoryDecode, op, apperrors.ErrCorruptImage, err)
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return core.Metadata{}, apperrors.Newf(apperrors.CategoryDecode, op, apperrors.ErrMissingDimensions,
			"decoder reported %dx%d", meta.Width, meta.Height)
	}
	meta.Format = format
	meta.SizeBytes = int64(len(data))
	return meta, nil
}

// ── Inspect + decode ─────────────────────────────────────────────────────────

// InspectStep validates img.Data and decodes it into img.Image.
// The encoded bytes are carried through untouched.
type InspectStep struct {
	Registry core.Registry
}

func (s *InspectStep) Name() string { return "inspect" }

func (s *InspectStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	meta, err := Inspect(ctx, s.Registry, img.Data)
	if err != nil {
		return nil, err
	}

	dec, _ := s.Registry.DecoderFor(meta.Format)
	decoded, err := dec.Decode(ctx, bytes.NewReader(img.Data))
	if err != nil {
		return nil, apperrors.WrapAs(apperrors.CategoryDecode, s.Name(), apperrors.ErrCorruptImage, err)
	}

	// Header dimensions win; the decoded metadata only adds colour details.
	meta.ColorSpace = decoded.Meta.ColorSpace
	meta.HasAlpha = decoded.Meta.HasAlpha

	out := *img
	out.Image = decoded.Image
	out.Format = meta.Format
	out.Meta = meta
	out.Original = meta
	out.OriginalSize = int64(len(img.Data))
	return &out, nil
}
