package core

import (
	"context"
	"io"
	"math"
	"time"

	"github.com/Skryldev/sizefit/utils"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// Supported reports whether f is one of the formats the engine re-encodes.
func (f Format) Supported() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatWebP:
		return true
	}
	return false
}

// Lossy reports whether the format has a tunable quality parameter.
func (f Format) Lossy() bool { return f == FormatJPEG || f == FormatWebP }

// MIME returns the canonical MIME type for f.
func (f Format) MIME() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	}
	return "application/octet-stream"
}

// Ext returns the canonical file extension for f, without the dot.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	}
	return "bin"
}

// FormatFromMIME maps MIME types to Format values.
func FormatFromMIME(ct string) Format {
	switch ct {
	case "image/jpeg", "image/jpg":
		return FormatJPEG
	case "image/png":
		return FormatPNG
	case "image/webp":
		return FormatWebP
	}
	return FormatUnknown
}

// ColorSpace represents the image colour model.
type ColorSpace string

const (
	ColorSpaceRGB  ColorSpace = "rgb"
	ColorSpaceRGBA ColorSpace = "rgba"
	ColorSpaceCMYK ColorSpace = "cmyk"
	ColorSpaceGray ColorSpace = "gray"
)

// Metadata holds extracted image information without loading pixel data.
type Metadata struct {
	Width      int
	Height     int
	Format     Format
	ColorSpace ColorSpace
	HasAlpha   bool
	SizeBytes  int64
}

// ImageData is the in-memory representation passed through a pipeline.
// Data holds encoded bytes; Image holds the decoded pixel buffer when needed.
type ImageData struct {
	// Encoded bytes. For the source image this is the caller's buffer and is
	// never written to.
	Data   []byte
	Format Format

	// Decoded pixel buffer, populated by the inspect step.
	// Using image.Image keeps us CGO-free; libvips adapters store their own
	// handle type here.
	Image interface{}

	Meta Metadata

	// Size of the original raw input, for branch decisions.
	OriginalSize int64

	// Original is the inspection result of the source bytes. Steps that
	// rescale or re-encode leave it untouched.
	Original Metadata

	// Search records how the size-targeting controller produced Data.
	Search SearchStats
}

// TargetSpec is a validated size goal in bytes.
type TargetSpec struct {
	TargetBytes    int64
	ToleranceBytes int64
}

// Upper is the largest acceptable size.
func (t TargetSpec) Upper() int64 { return t.TargetBytes + t.ToleranceBytes }

// Lower is the smallest acceptable size.
func (t TargetSpec) Lower() int64 { return t.TargetBytes - t.ToleranceBytes }

// Within reports whether size lies inside the tolerance window.
func (t TargetSpec) Within(size int64) bool {
	d := size - t.TargetBytes
	if d < 0 {
		d = -d
	}
	return d <= t.ToleranceBytes
}

// Branch names the controller decision taken for a request.
type Branch string

const (
	BranchPassThrough Branch = "pass_through"
	BranchShrink      Branch = "shrink"
	BranchGrow        Branch = "grow"
)

// EncodeAttempt is one iteration of the quality search.
type EncodeAttempt struct {
	Quality int
	Data    []byte
	Size    int64
}

// SearchStats describes the controller run that produced an output.
type SearchStats struct {
	Branch       Branch
	Attempts     int  // encode passes performed by the controller
	Quality      int  // quality of the accepted encode; 0 for lossless or pass-through
	PaddingBytes int64
	Corrected    bool // an overshoot-correction encode replaced the padded result
	Converged    bool // achieved size is within tolerance of the target
}

// ResizeRequest is the caller-facing input to a resize.
type ResizeRequest struct {
	Source      Source
	TargetKB    float64
	ToleranceKB *float64 // nil = configured default; 0 asks for the exact size
}

// Tolerance returns kb as a ResizeRequest.ToleranceKB value.
func Tolerance(kb float64) *float64 { return &kb }

// ResizeResult is the final output of a resize. Ownership of Data transfers
// to the caller.
type ResizeResult struct {
	Data        []byte
	Format      Format
	MIME        string
	SizeBytes   int64
	SizeKB      float64 // rounded to 2 decimals
	Width       int
	Height      int
	FileName    string
	Original    Metadata
	Search      SearchStats
	ProcessTime time.Duration
	StepTimings map[string]time.Duration
}

// DataURI renders the output as a base64 data URI.
func (r *ResizeResult) DataURI() string { return utils.FormatDataURI(r.MIME, r.Data) }

// KB converts a byte count to kilobytes rounded to two decimals.
func KB(n int64) float64 {
	return math.Round(float64(n)/1024*100) / 100
}

// ProcessingResult is returned by Processor.Process after the step chain completes.
type ProcessingResult struct {
	Primary *ImageData

	ProcessingTime time.Duration
	StepTimings    map[string]time.Duration
}

// Source abstracts where raw bytes come from (reader, file path, data URI, etc.).
type Source struct {
	Reader      io.Reader
	ContentType string // optional hint
	Name        string // optional logical name / filename
	Size        int64  // -1 if unknown
}

// Job encapsulates a single resize for the worker pool.
type Job struct {
	ID      string
	Ctx     context.Context //nolint:containedctx // intentional for async jobs
	Request ResizeRequest
	// Result channel; nil for fire-and-forget.
	ResultCh chan<- JobResult
}

// JobResult wraps the outcome of an async job.
type JobResult struct {
	JobID  string
	Result *ResizeResult
	Err    error
}

// Step is the fundamental pipeline building block.  Each Step transforms an
// *ImageData value and must be safe for concurrent use across goroutines.
type Step interface {
	Name() string
	Execute(ctx context.Context, img *ImageData) (*ImageData, error)
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, img *ImageData)
	AfterStep(ctx context.Context, stepName string, img *ImageData, d time.Duration, err error)
}

// StorageKey uniquely identifies a stored image.
type StorageKey struct {
	Bucket string
	Path   string
}

// StoredResult lists the references produced by persisting a resize.
type StoredResult struct {
	ImageRef     string
	ThumbnailRef string
	HistoryID    string
}

// HistoryEntry records one completed resize.
type HistoryEntry struct {
	ID             string    `json:"id"`
	FileName       string    `json:"fileName"`
	OriginalSizeKB float64   `json:"originalSizeKB"`
	OriginalWidth  int       `json:"originalWidth"`
	OriginalHeight int       `json:"originalHeight"`
	ThumbnailURL   string    `json:"thumbnailUrl"`
	ResizedSizeKB  float64   `json:"resizedSizeKB"`
	ResizedWidth   int       `json:"resizedWidth"`
	ResizedHeight  int       `json:"resizedHeight"`
	ResizedURL     string    `json:"resizedImageUrl"`
	Timestamp      time.Time `json:"timestamp"`
}
