// Package pipeline provides the built-in steps that inspect, scale, encode
// and pad images, plus the size-targeting controller that drives them.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
	"github.com/Skryldev/sizefit/utils"
)

// scalable is implemented by decoded handles that resize themselves
// (the libvips backend) instead of exposing Go pixels.
type scalable interface {
	Scaled(factor float64) (img interface{}, width, height int, err error)
}

// rasterizer renders a native handle into Go pixels.
type rasterizer interface {
	Pixels() (image.Image, error)
}

// pixels returns the decoded image as an image.Image.
func pixels(v interface{}) (image.Image, error) {
	switch im := v.(type) {
	case image.Image:
		if im != nil {
			return im, nil
		}
	case rasterizer:
		return im.Pixels()
	}
	return nil, apperrors.ErrEmptyInput
}

// ── Scale ─────────────────────────────────────────────────────────────────────

// ScaleStep resizes the decoded image. A positive Factor scales both axes
// (rounded to the nearest pixel); otherwise Width/Height are used, preserving
// aspect ratio when one axis is 0. The encoded bytes are dropped since they no
// longer match the pixels.
type ScaleStep struct {
	Factor        float64
	Width, Height int
	// Resampler controls quality vs speed.  Defaults to draw.CatmullRom.
	Resampler xdraw.Interpolator
}

func (s *ScaleStep) Name() string { return "scale" }

func (s *ScaleStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}

	if sc, ok := img.Image.(scalable); ok && s.Factor > 0 {
		scaled, w, h, err := sc.Scaled(s.Factor)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
		}
		out := *img
		out.Image = scaled
		out.Data = nil
		out.Meta.Width, out.Meta.Height = w, h
		out.Meta.SizeBytes = 0
		return &out, nil
	}

	src, err := pixels(img.Image)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}

	srcB := src.Bounds()
	var dstW, dstH int
	if s.Factor > 0 {
		dstW, dstH = utils.ScaleByFactor(srcB.Dx(), srcB.Dy(), s.Factor)
	} else {
		dstW, dstH = utils.ScaleDimensions(srcB.Dx(), srcB.Dy(), s.Width, s.Height)
	}

	if dstW == srcB.Dx() && dstH == srcB.Dy() {
		return img, nil // nothing to do
	}
	if dstW <= 0 || dstH <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
	}

	sampler := s.Resampler
	if sampler == nil {
		sampler = xdraw.CatmullRom
	}

	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	sampler.Scale(dst, dst.Bounds(), src, srcB, xdraw.Src, nil)

	out := *img
	out.Image = dst
	out.Data = nil
	out.Meta.Width = dstW
	out.Meta.Height = dstH
	out.Meta.SizeBytes = 0
	return &out, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises img.Image into img.Data using the registry.
type EncodeStep struct {
	Registry    core.Registry
	BaseOptions core.EncodeOptions
}

func (s *EncodeStep) Name() string { return "encode" }

func (s *EncodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	enc, ok := s.Registry.EncoderFor(img.Format)
	if !ok {
		return nil, apperrors.Newf(apperrors.CategoryEncode, s.Name(), apperrors.ErrUnsupportedFormat, "no encoder for %s", img.Format)
	}

	data, err := enc.Encode(ctx, img, s.BaseOptions)
	if err != nil {
		return nil, apperrors.WrapAs(apperrors.CategoryEncode, s.Name(), apperrors.ErrEncodeFailure, err)
	}

	out := *img
	out.Data = data
	out.Meta.SizeBytes = int64(len(data))
	out.Search.Attempts++
	if img.Format.Lossy() {
		out.Search.Quality = s.BaseOptions.Quality
	}
	return &out, nil
}

// ── Pad ───────────────────────────────────────────────────────────────────────

// PadStep appends inert padding equal to the remaining deficit when img.Data
// is below the target. It never changes pixel data or dimensions.
type PadStep struct {
	Registry core.Registry
	Target   core.TargetSpec
}

func (s *PadStep) Name() string { return "pad" }

func (s *PadStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	current := int64(len(img.Data))
	deficit := s.Target.TargetBytes - current
	if deficit <= 0 {
		return img, nil
	}

	p, ok := s.Registry.PadderFor(img.Format)
	if !ok {
		return nil, apperrors.Newf(apperrors.CategoryEncode, s.Name(), apperrors.ErrUnsupportedFormat, "no padder for %s", img.Format)
	}
	data, err := p.Pad(img.Data, deficit)
	if err != nil {
		return nil, err
	}

	out := *img
	out.Data = data
	out.Meta.SizeBytes = int64(len(data))
	out.Search.PaddingBytes = int64(len(data)) - current
	return &out, nil
}

// ── Overshoot correction ─────────────────────────────────────────────────────

// CorrectStep re-encodes a lossy image once at a moderate quality when the
// current bytes overshoot the tolerance window. The re-encode is kept only if
// it is smaller. Lossless formats accept the overshoot.
type CorrectStep struct {
	Registry core.Registry
	Target   core.TargetSpec
	Quality  int
}

func (s *CorrectStep) Name() string { return "correct" }

func (s *CorrectStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if !img.Format.Lossy() || int64(len(img.Data)) <= s.Target.Upper() {
		return img, nil
	}
	enc, ok := s.Registry.EncoderFor(img.Format)
	if !ok {
		return nil, apperrors.Newf(apperrors.CategoryEncode, s.Name(), apperrors.ErrUnsupportedFormat, "no encoder for %s", img.Format)
	}

	data, err := enc.Encode(ctx, img, core.EncodeOptions{Quality: s.Quality})
	if err != nil {
		return nil, apperrors.WrapAs(apperrors.CategoryEncode, s.Name(), apperrors.ErrEncodeFailure, err)
	}

	out := *img
	out.Search.Attempts++
	if len(data) < len(img.Data) {
		out.Data = data
		out.Meta.SizeBytes = int64(len(data))
		out.Search.Quality = s.Quality
		out.Search.PaddingBytes = 0
		out.Search.Corrected = true
	}
	return &out, nil
}

// ── Thumbnail ────────────────────────────────────────────────────────────────

// ThumbnailStep renders a JPEG preview that fits within Size×Size.
type ThumbnailStep struct {
	Size    int // bounding box in pixels
	Quality int // JPEG quality; default 80
}

func (s *ThumbnailStep) Name() string { return "thumbnail" }

func (s *ThumbnailStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	src, err := pixels(img.Image)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if s.Size <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
	}
	quality := s.Quality
	if quality <= 0 {
		quality = 80
	}

	thumb := imaging.Fit(src, s.Size, s.Size, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(), fmt.Errorf("%w: %v", apperrors.ErrEncodeFailure, err))
	}

	b := thumb.Bounds()
	return &core.ImageData{
		Data:   buf.Bytes(),
		Format: core.FormatJPEG,
		Image:  thumb,
		Meta: core.Metadata{
			Width:      b.Dx(),
			Height:     b.Dy(),
			Format:     core.FormatJPEG,
			ColorSpace: core.ColorSpaceRGB,
			SizeBytes:  int64(buf.Len()),
		},
	}, nil
}
