// Package sizefit re-encodes JPEG, PNG and WebP images so their encoded size
// lands within a tolerance of a requested number of kilobytes.
//
// Large images are shrunk by searching the encoder quality (or, for PNG, by
// one best-compression pass); small images are upscaled and then padded with
// inert container bytes. The output keeps the input format.
//
//	p, err := sizefit.New(sizefit.DefaultConfig())
//	res, err := p.Resize(ctx, core.ResizeRequest{
//		Source:   sizefit.FromReader(f),
//		TargetKB: 100,
//	})
package sizefit

import (
	"context"
	"io"
	"math"
	"os"
	"strings"

	"github.com/Skryldev/sizefit/adapters/decoder"
	"github.com/Skryldev/sizefit/adapters/encoder"
	"github.com/Skryldev/sizefit/adapters/history"
	"github.com/Skryldev/sizefit/adapters/padding"
	"github.com/Skryldev/sizefit/adapters/storage"
	"github.com/Skryldev/sizefit/config"
	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
	"github.com/Skryldev/sizefit/pipeline"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	WebP = core.FormatWebP
)

// ThumbnailSize is the bounding box of thumbnails stored next to resized images.
const ThumbnailSize = 128

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Processor is the primary entry point.
type Processor struct {
	inner   *core.Processor
	reg     *core.DefaultRegistry
	cfg     config.Config
	storage core.StorageAdapter
	history core.HistoryStore
	closers []io.Closer
}

// New creates a fully wired Processor with the JPEG, PNG and WebP codecs and
// padders registered. Storage and history follow cfg; an "s3" backend stays
// unset until UseS3 or WithStorage supplies a client.
func New(cfg config.Config) (*Processor, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "new", err)
	}

	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(cfg.DefaultQuality))
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	reg.RegisterEncoder(core.FormatWebP, encoder.NewWebP(cfg.DefaultQuality))
	padding.Register(reg)

	p := &Processor{inner: core.New(cfg, reg), reg: reg, cfg: cfg}
	p.inner.SetHandler(p.Resize)

	if cfg.Storage == config.StorageLocal {
		local, err := storage.NewLocal(cfg.Local.RootDir, cfg.Local.BaseURL, os.FileMode(cfg.Local.Permissions))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryConfig, "new.storage", err)
		}
		p.storage = local
	}

	if cfg.History.Path != "" {
		j, err := history.OpenJournal(cfg.History.Path)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryConfig, "new.history", err)
		}
		p.history = j
		p.closers = append(p.closers, j)
	} else {
		p.history = history.NewMemory()
	}
	return p, nil
}

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l core.Logger) {
	p.inner.SetLogger(l)
	if j, ok := p.history.(*history.Journal); ok {
		j.SetLogger(l)
	}
}

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m core.MetricsCollector) { p.inner.SetMetrics(m) }

// AddHook registers an observer for pipeline step events.
func (p *Processor) AddHook(h core.Hook) { p.inner.AddHook(h) }

// RegisterDecoder registers a custom decoder for the given format.
func (p *Processor) RegisterDecoder(f core.Format, d core.Decoder) { p.reg.RegisterDecoder(f, d) }

// RegisterEncoder registers a custom encoder for the given format.
func (p *Processor) RegisterEncoder(f core.Format, e core.Encoder) { p.reg.RegisterEncoder(f, e) }

// RegisterPadder registers a custom padder for the given format.
func (p *Processor) RegisterPadder(f core.Format, pd core.Padder) { p.reg.RegisterPadder(f, pd) }

// Registry exposes the codec registry.
func (p *Processor) Registry() core.Registry { return p.reg }

// WithStorage replaces the storage adapter used by ResizeAndStore.
func (p *Processor) WithStorage(s core.StorageAdapter) *Processor {
	p.storage = s
	return p
}

// WithHistory replaces the history store.
func (p *Processor) WithHistory(h core.HistoryStore) *Processor {
	if h != nil {
		p.history = h
	}
	return p
}

// UseS3 installs S3 storage for the configured bucket.
func (p *Processor) UseS3(client storage.S3Client) error {
	s, err := storage.NewS3(client, p.cfg.S3.Bucket)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryConfig, "use_s3", err)
	}
	p.storage = s
	return nil
}

// Start starts the background worker pool.
func (p *Processor) Start() { p.inner.Start() }

// Stop drains the worker pool and releases history resources.
func (p *Processor) Stop() {
	p.inner.Stop()
	for _, c := range p.closers {
		_ = c.Close()
	}
	p.closers = nil
}

// Process runs arbitrary steps over src synchronously. Resize is built on it.
func (p *Processor) Process(ctx context.Context, src core.Source, steps ...core.Step) (*core.ProcessingResult, error) {
	return p.inner.Process(ctx, src, steps...)
}

// Submit enqueues an async resize for the worker pool.
func (p *Processor) Submit(job core.Job) error { return p.inner.Submit(job) }

// Stats returns lightweight processing statistics.
func (p *Processor) Stats() (processed, errors int64) {
	return p.inner.ProcessedCount(), p.inner.ErrorCount()
}

// ── Resizing ──────────────────────────────────────────────────────────────────

// Target converts a request's kilobyte figures into a validated byte window.
// A nil toleranceKB selects the configured default tolerance.
func (p *Processor) Target(targetKB float64, toleranceKB *float64) (core.TargetSpec, error) {
	return NewTarget(targetKB, toleranceKB, p.cfg.Search.ToleranceKB)
}

// NewTarget validates a target size and tolerance in kilobytes (1 KB = 1024
// bytes). Any finite positive target is accepted; it is rounded to whole
// bytes with a floor of one.
func NewTarget(targetKB float64, toleranceKB *float64, defaultToleranceKB float64) (core.TargetSpec, error) {
	const op = "target"
	if math.IsNaN(targetKB) || math.IsInf(targetKB, 0) || targetKB <= 0 {
		return core.TargetSpec{}, apperrors.Newf(apperrors.CategoryInput, op, apperrors.ErrInvalidTarget, "target %v KB", targetKB)
	}
	tol := defaultToleranceKB
	if toleranceKB != nil {
		tol = *toleranceKB
	}
	if math.IsNaN(tol) || math.IsInf(tol, 0) || tol < 0 {
		return core.TargetSpec{}, apperrors.Newf(apperrors.CategoryInput, op, apperrors.ErrInvalidTarget, "tolerance %v KB", tol)
	}

	target := int64(math.Round(targetKB * 1024))
	if target < 1 {
		target = 1
	}
	return core.TargetSpec{
		TargetBytes:    target,
		ToleranceBytes: int64(math.Round(tol * 1024)),
	}, nil
}

// Resize re-encodes req.Source toward req.TargetKB. Missing the tolerance
// window is not an error: the closest achieved output is returned with
// Search.Converged false.
func (p *Processor) Resize(ctx context.Context, req core.ResizeRequest) (*core.ResizeResult, error) {
	target, err := p.Target(req.TargetKB, req.ToleranceKB)
	if err != nil {
		p.inner.CountError()
		return nil, p.fail("resize", req.Source.Name, err)
	}

	res, err := p.inner.Process(ctx, req.Source,
		&pipeline.InspectStep{Registry: p.reg},
		&pipeline.TargetSizeStep{
			Registry: p.reg,
			Target:   target,
			Search:   p.cfg.Search,
			Hooks:    p.inner.Hooks(),
			Logger:   p.inner.Logger(),
		},
	)
	if err != nil {
		return nil, p.fail("resize", req.Source.Name, err)
	}

	img := res.Primary
	out := &core.ResizeResult{
		Data:        img.Data,
		Format:      img.Format,
		MIME:        img.Format.MIME(),
		SizeBytes:   int64(len(img.Data)),
		SizeKB:      core.KB(int64(len(img.Data))),
		Width:       img.Meta.Width,
		Height:      img.Meta.Height,
		FileName:    fileName(req.Source.Name, img.Format),
		Original:    img.Original,
		Search:      img.Search,
		ProcessTime: res.ProcessingTime,
		StepTimings: res.StepTimings,
	}

	if m := p.inner.Metrics(); m != nil {
		m.RecordSearch(out.Search)
	}
	p.inner.Logger().Info("resize.done",
		"file", out.FileName,
		"branch", out.Search.Branch,
		"original_kb", core.KB(out.Original.SizeBytes),
		"target_kb", core.KB(target.TargetBytes),
		"size_kb", out.SizeKB,
		"attempts", out.Search.Attempts,
		"converged", out.Search.Converged,
		"elapsed", out.ProcessTime,
	)
	return out, nil
}

// ResizeBatch resolves requests concurrently. Results and errors are
// positional.
func (p *Processor) ResizeBatch(ctx context.Context, reqs []core.ResizeRequest) ([]*core.ResizeResult, []error) {
	return p.inner.Batch(ctx, reqs)
}

// ResizeAndStore resizes req and then persists the output, a thumbnail of
// the original and a history entry. Persistence failures never hide the
// resize: they are returned together with the non-nil result.
func (p *Processor) ResizeAndStore(ctx context.Context, req core.ResizeRequest) (*core.ResizeResult, *core.StoredResult, error) {
	src, err := bufferSource(ctx, req.Source)
	if err != nil {
		return nil, nil, p.fail("resize_and_store", req.Source.Name, err)
	}
	req.Source = src.source()

	res, err := p.Resize(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	stored, err := p.persist(ctx, src.data, res)
	if err != nil {
		p.inner.CountError()
		p.inner.Logger().Warn("resize.persist_failed", "file", res.FileName, "error", err.Error())
		return res, stored, err
	}
	return res, stored, nil
}

// History lists recorded resizes, newest first. limit <= 0 uses the
// configured default.
func (p *Processor) History(ctx context.Context, limit int) ([]core.HistoryEntry, error) {
	if limit <= 0 {
		limit = p.cfg.History.Limit
	}
	entries, err := p.history.List(ctx, limit)
	if err != nil {
		return nil, apperrors.WrapAs(apperrors.CategoryStorage, "history", apperrors.ErrStorageUnavailable, err)
	}
	return entries, nil
}

// fail logs err in full and returns the form safe to hand to callers:
// classified errors pass through, anything else becomes ErrInternal.
func (p *Processor) fail(op, name string, err error) error {
	var cat apperrors.Category
	var pe *apperrors.ProcessingError
	if apperrors.As(err, &pe) {
		cat = pe.Category
	}
	p.inner.Logger().Error("resize.failed", "op", op, "file", name, "category", cat, "error", err.Error())

	if apperrors.Classified(err) ||
		apperrors.Is(err, context.Canceled) || apperrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if m := p.inner.Metrics(); m != nil {
		m.RecordError(op, string(apperrors.CategoryPipeline))
	}
	return apperrors.New(apperrors.CategoryPipeline, op, apperrors.ErrInternal)
}

// fileName keeps the caller's file name, or derives one from the format.
func fileName(name string, f core.Format) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "resized." + f.Ext()
	}
	return name
}
