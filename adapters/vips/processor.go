//go:build vips

// Package vips is a libvips codec backend. Build with -tags vips; it needs
// libvips headers at compile time.
package vips

import (
	"context"
	"fmt"
	"image"
	"io"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
	"github.com/Skryldev/sizefit/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	DefaultQuality int
	MaxCacheSize   int
	MaxWorkers     int
	ReportLeaks    bool
}

// Backend is a libvips-powered Decoder and Encoder.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = 85
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanDecode(f core.Format) bool { return f.Supported() }

func (b *Backend) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	raw, ref, err := b.load(ctx, r, "vips.decode")
	if err != nil {
		return nil, err
	}
	runtime.SetFinalizer(ref, func(r *govips.ImageRef) { r.Close() })

	meta := metadata(ref)
	meta.SizeBytes = int64(len(raw))
	return &core.ImageData{
		Data:         raw,
		Format:       meta.Format,
		Image:        &VipsImage{ref: ref},
		Meta:         meta,
		OriginalSize: int64(len(raw)),
	}, nil
}

// DecodeConfig loads the image lazily and reports its header fields.
func (b *Backend) DecodeConfig(ctx context.Context, r io.Reader) (core.Metadata, error) {
	_, ref, err := b.load(ctx, r, "vips.decode_config")
	if err != nil {
		return core.Metadata{}, err
	}
	defer ref.Close()
	return metadata(ref), nil
}

func (b *Backend) load(ctx context.Context, r io.Reader, op string) ([]byte, *govips.ImageRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CategoryDecode, op, err)
	}
	raw, err := utils.ReadAll(ctx, r, -1, 0, 0)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CategoryDecode, op, err)
	}

	ref, err := govips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, nil, apperrors.New(apperrors.CategoryDecode, op, apperrors.Join(apperrors.ErrCorruptImage, err))
	}
	return raw, ref, nil
}

func metadata(ref *govips.ImageRef) core.Metadata {
	return core.Metadata{
		Width:      ref.Width(),
		Height:     ref.Height(),
		Format:     vipsFormatToCore(ref.Format()),
		ColorSpace: vipsInterpretationToColorSpace(ref.Interpretation()),
		HasAlpha:   ref.HasAlpha(),
	}
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanEncode(f core.Format) bool { return f.Supported() }

func (b *Backend) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	const op = "vips.encode"
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, op, err)
	}

	vi, ok := img.Image.(*VipsImage)
	if !ok || vi == nil {
		return nil, apperrors.Newf(apperrors.CategoryEncode, op, apperrors.ErrEncodeFailure,
			"image must be decoded with the vips backend first")
	}

	quality := opts.Quality
	if quality == 0 {
		quality = b.cfg.DefaultQuality
	}
	if quality < 1 || quality > 100 {
		return nil, apperrors.Newf(apperrors.CategoryEncode, op, apperrors.ErrEncodeFailure, "quality %d out of range", quality)
	}

	var (
		buf []byte
		err error
	)
	switch img.Format {
	case core.FormatJPEG:
		ep := govips.NewJpegExportParams()
		ep.Quality = quality
		buf, _, err = vi.ref.ExportJpeg(ep)
	case core.FormatPNG:
		ep := govips.NewPngExportParams()
		if opts.Lossless {
			ep.Compression = 9
		}
		buf, _, err = vi.ref.ExportPng(ep)
	case core.FormatWebP:
		ep := govips.NewWebpExportParams()
		ep.Quality = quality
		ep.Lossless = opts.Lossless
		buf, _, err = vi.ref.ExportWebp(ep)
	default:
		return nil, apperrors.Newf(apperrors.CategoryEncode, op, apperrors.ErrUnsupportedFormat, "%s", img.Format)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryEncode, op, apperrors.Join(apperrors.ErrEncodeFailure, err))
	}
	return buf, nil
}

// ─── VipsImage ────────────────────────────────────────────────────────────────

// VipsImage wraps a *govips.ImageRef for storage in core.ImageData.Image.
type VipsImage struct {
	ref *govips.ImageRef
}

func (v *VipsImage) Width() int            { return v.ref.Width() }
func (v *VipsImage) Height() int           { return v.ref.Height() }
func (v *VipsImage) Ref() *govips.ImageRef { return v.ref }
func (v *VipsImage) Close()                { v.ref.Close() }

// Scaled returns a resized copy; the receiver is left untouched so earlier
// pipeline stages still see the source pixels.
func (v *VipsImage) Scaled(factor float64) (interface{}, int, int, error) {
	cp, err := v.ref.Copy()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("vips copy: %w", err)
	}
	if err := cp.Resize(factor, govips.KernelLanczos3); err != nil {
		cp.Close()
		return nil, 0, 0, fmt.Errorf("vips resize: %w", err)
	}
	runtime.SetFinalizer(cp, func(r *govips.ImageRef) { r.Close() })
	return &VipsImage{ref: cp}, cp.Width(), cp.Height(), nil
}

// Pixels renders the image into a Go image for steps that need raw pixels.
func (v *VipsImage) Pixels() (image.Image, error) {
	return v.ref.ToImage(nil)
}

// ─── Registration ─────────────────────────────────────────────────────────────

// RegisterVipsBackend replaces the Go codecs with libvips for all formats.
// Padders are container-level and stay as registered.
func RegisterVipsBackend(reg core.Registry, b *Backend) {
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatWebP} {
		reg.RegisterDecoder(f, b)
		reg.RegisterEncoder(f, b)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func vipsFormatToCore(f govips.ImageType) core.Format {
	switch f {
	case govips.ImageTypeJPEG:
		return core.FormatJPEG
	case govips.ImageTypePNG:
		return core.FormatPNG
	case govips.ImageTypeWEBP:
		return core.FormatWebP
	default:
		return core.FormatUnknown
	}
}

func vipsInterpretationToColorSpace(i govips.Interpretation) core.ColorSpace {
	switch i {
	case govips.InterpretationBW:
		return core.ColorSpaceGray
	case govips.InterpretationCMYK:
		return core.ColorSpaceCMYK
	default:
		return core.ColorSpaceRGB
	}
}

// compile-time interface checks
var (
	_ core.Decoder = (*Backend)(nil)
	_ core.Encoder = (*Backend)(nil)
)
