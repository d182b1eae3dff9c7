package encoder

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"

	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
)

// PNG encodes images to PNG format. Quality is ignored; Lossless selects
// maximum-strength compression.
type PNG struct {
	pool png.EncoderBufferPool
}

func NewPNG() *PNG { return &PNG{pool: &bufferPool{}} }

func (p *PNG) CanEncode(format core.Format) bool { return format == core.FormatPNG }

func (p *PNG) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "png.encode", err)
	}

	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "png.encode", errNotImage)
	}

	enc := &png.Encoder{CompressionLevel: png.DefaultCompression, BufferPool: p.pool}
	if opts.Lossless {
		enc.CompressionLevel = png.BestCompression
	}

	var buf bytes.Buffer
	if err := enc.Encode(&buf, src); err != nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "png.encode", apperrors.Join(apperrors.ErrEncodeFailure, err))
	}
	return buf.Bytes(), nil
}

// bufferPool lets concurrent PNG encodes reuse zlib scratch buffers.
type bufferPool struct{ p sync.Pool }

func (b *bufferPool) Get() *png.EncoderBuffer {
	eb, _ := b.p.Get().(*png.EncoderBuffer)
	return eb
}

func (b *bufferPool) Put(eb *png.EncoderBuffer) { b.p.Put(eb) }
