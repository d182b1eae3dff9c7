package core

import (
	"context"
	"io"
)

// Decoder converts raw bytes / a reader into an in-memory ImageData.
// Implementations live in adapters/decoder/.
type Decoder interface {
	// Decode reads from r and returns a decoded ImageData.
	Decode(ctx context.Context, r io.Reader) (*ImageData, error)
	// DecodeConfig reads only the header and reports format and dimensions.
	DecodeConfig(ctx context.Context, r io.Reader) (Metadata, error)
	// CanDecode reports whether this decoder handles the given format hint.
	CanDecode(format Format) bool
}

// Encoder serialises an ImageData to bytes in a target format.
// Implementations live in adapters/encoder/.
type Encoder interface {
	Encode(ctx context.Context, img *ImageData, opts EncodeOptions) ([]byte, error)
	CanEncode(format Format) bool
}

// EncodeOptions carries format-specific encoding parameters.
type EncodeOptions struct {
	Quality  int  // 1-100; 0 = use encoder default
	Lossless bool // WebP lossless mode / PNG best compression
}

// Padder appends inert bytes to an encoded image inside a container block
// that decoders skip when rendering pixels.
// Implementations live in adapters/padding/.
type Padder interface {
	// Pad grows data by n bytes. A negative n is rejected with
	// errors.ErrPaddingOverflow.
	Pad(data []byte, n int64) ([]byte, error)
	// Overhead is the smallest growth a single padding block can add.
	Overhead() int64
	CanPad(format Format) bool
}

// StorageAdapter persists processed images and retrieves them later.
// Implementations live in adapters/storage/.
type StorageAdapter interface {
	Put(ctx context.Context, key StorageKey, r io.Reader, meta map[string]string) error
	Get(ctx context.Context, key StorageKey) (io.ReadCloser, error)
	Delete(ctx context.Context, key StorageKey) error
	Exists(ctx context.Context, key StorageKey) (bool, error)
	// Ref returns a retrievable reference (URL or path) for key.
	Ref(key StorageKey) string
}

// HistoryStore records completed resizes. It is observational only.
// Implementations live in adapters/history/.
type HistoryStore interface {
	Add(ctx context.Context, entry HistoryEntry) (string, error)
	List(ctx context.Context, limit int) ([]HistoryEntry, error)
}

// MetricsCollector receives performance observations from the pipeline.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d interface{ Seconds() float64 })
	RecordThroughput(bytes int64)
	RecordError(stepName string, category string)
	RecordSearch(stats SearchStats)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Registry maps Format values to Decoder/Encoder/Padder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	PadderFor(format Format) (Padder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
	RegisterPadder(format Format, p Padder)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
