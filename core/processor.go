package core

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/sizefit/config"
	apperrors "github.com/Skryldev/sizefit/errors"
	"github.com/Skryldev/sizefit/utils"
)

// Handler resolves one resize request. The root package installs the
// size-search pipeline here; the worker pool and Batch only schedule calls.
type Handler func(ctx context.Context, req ResizeRequest) (*ResizeResult, error)

// Processor is the central orchestrator.  It is safe for concurrent use.
type Processor struct {
	cfg      config.Config
	registry Registry
	hooks    []Hook
	logger   Logger
	metrics  MetricsCollector
	handler  Handler

	// Worker pool.
	jobQueue chan Job
	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once
	shutdown chan struct{}

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

// New creates a Processor with the given config.  Call Start() before
// submitting jobs; call Stop() when done.
func New(cfg config.Config, reg Registry) *Processor {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Processor{
		cfg:      cfg,
		registry: reg,
		logger:   NopLogger{},
		jobQueue: make(chan Job, queueSize),
		shutdown: make(chan struct{}),
	}
}

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l Logger) {
	if l == nil {
		l = NopLogger{}
	}
	p.logger = l
}

// Logger returns the attached logger (never nil).
func (p *Processor) Logger() Logger { return p.logger }

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m MetricsCollector) { p.metrics = m }

// Metrics returns the attached metrics collector, or nil.
func (p *Processor) Metrics() MetricsCollector { return p.metrics }

// SetHandler installs the function that resolves queued and batched requests.
func (p *Processor) SetHandler(h Handler) { p.handler = h }

// AddHook registers a pipeline hook.
func (p *Processor) AddHook(h Hook) { p.hooks = append(p.hooks, h) }

// Hooks returns the registered hooks.
func (p *Processor) Hooks() []Hook { return p.hooks }

// Registry returns the underlying registry so callers can register
// encoders/decoders/padders after construction.
func (p *Processor) Registry() Registry { return p.registry }

// Config returns the configuration the processor was built with.
func (p *Processor) Config() config.Config { return p.cfg }

// Start launches the worker pool.  It is idempotent.
func (p *Processor) Start() {
	p.once.Do(func() {
		workerCount := p.cfg.WorkerCount
		if workerCount <= 0 {
			workerCount = runtime.NumCPU()
		}
		for i := 0; i < workerCount; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Stop shuts down all workers after their current job.  It is idempotent.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.shutdown) })
	p.wg.Wait()
}

// Process reads src into memory and runs steps over it. It is the synchronous
// building block under every resize.
func (p *Processor) Process(ctx context.Context, src Source, steps ...Step) (*ProcessingResult, error) {
	if len(steps) == 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, "process", apperrors.ErrEmptyInput)
	}
	if src.Reader == nil {
		atomic.AddInt64(&p.errorCount, 1)
		return nil, apperrors.New(apperrors.CategoryInput, "process", apperrors.ErrEmptyInput)
	}

	start := time.Now()

	// --- 1. Drain source into memory (respecting max size limit) -------------
	rawBytes, err := utils.ReadAll(ctx, src.Reader, src.Size, p.cfg.MaxImageBytes, p.cfg.ChunkSize)
	if errors.Is(err, utils.ErrTooLarge) {
		atomic.AddInt64(&p.errorCount, 1)
		return nil, apperrors.Newf(apperrors.CategoryInput, "process", apperrors.ErrInvalidInputFormat,
			"input exceeds %d bytes", p.cfg.MaxImageBytes)
	}
	if err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return nil, apperrors.Wrap(apperrors.CategoryInput, "process.drain", err)
	}
	if len(rawBytes) == 0 {
		atomic.AddInt64(&p.errorCount, 1)
		return nil, apperrors.New(apperrors.CategoryInput, "process", apperrors.ErrEmptyInput)
	}

	// --- 2. Format hint ------------------------------------------------------
	// The inspect step sniffs the bytes; the declared type is only a hint.
	img := &ImageData{
		Data:         rawBytes,
		Format:       FormatFromMIME(src.ContentType),
		OriginalSize: int64(len(rawBytes)),
	}

	// --- 3. Run steps --------------------------------------------------------
	timings := make(map[string]time.Duration, len(steps))
	current := img
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			atomic.AddInt64(&p.errorCount, 1)
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}
		p.notifyBefore(ctx, step.Name(), current)
		t := time.Now()
		next, stepErr := step.Execute(ctx, current)
		elapsed := time.Since(t)
		timings[step.Name()] = elapsed
		p.notifyAfter(ctx, step.Name(), next, elapsed, stepErr)
		if stepErr != nil {
			atomic.AddInt64(&p.errorCount, 1)
			return nil, stepErr
		}
		current = next
	}

	atomic.AddInt64(&p.processedCount, 1)

	return &ProcessingResult{
		Primary:        current,
		ProcessingTime: time.Since(start),
		StepTimings:    timings,
	}, nil
}

// Submit enqueues an async job.  Returns ErrWorkerPoolFull if the queue is full.
func (p *Processor) Submit(job Job) error {
	select {
	case p.jobQueue <- job:
		return nil
	default:
		return apperrors.New(apperrors.CategoryPipeline, "submit", apperrors.ErrWorkerPoolFull)
	}
}

// Batch resolves multiple requests concurrently (fan-out / fan-in).
// Requests share nothing, so no locking is needed beyond the result slots.
func (p *Processor) Batch(ctx context.Context, reqs []ResizeRequest) ([]*ResizeResult, []error) {
	results := make([]*ResizeResult, len(reqs))
	errs := make([]error, len(reqs))
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		go func(idx int, r ResizeRequest) {
			defer wg.Done()
			results[idx], errs[idx] = p.handle(ctx, r)
		}(i, req)
	}
	wg.Wait()
	return results, errs
}

// ── worker pool internals ──────────────────────────────────────────────────────

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.processJob(job)
		}
	}
}

func (p *Processor) processJob(job Job) {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := p.cfg.JobTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := p.handle(ctx, job.Request)
	if job.ResultCh == nil {
		return
	}
	res := JobResult{JobID: job.ID, Result: result, Err: err}
	select {
	case job.ResultCh <- res:
		return
	default:
	}
	// Nobody is receiving yet. Give up once the caller or the pool goes away
	// so Stop never waits on an abandoned channel.
	var done <-chan struct{}
	if job.Ctx != nil {
		done = job.Ctx.Done()
	}
	select {
	case job.ResultCh <- res:
	case <-done:
		p.logger.Warn("worker.result_dropped", "job", job.ID, "reason", "caller gone")
	case <-p.shutdown:
		p.logger.Warn("worker.result_dropped", "job", job.ID, "reason", "shutdown")
	}
}

func (p *Processor) handle(ctx context.Context, req ResizeRequest) (*ResizeResult, error) {
	if p.handler == nil {
		return nil, apperrors.Newf(apperrors.CategoryConfig, "handle", apperrors.ErrInternal, "no handler installed")
	}
	return p.handler(ctx, req)
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// configured retry budget is spent.
func (p *Processor) Retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i <= p.cfg.MaxRetries; i++ {
		err = fn()
		if err == nil || !apperrors.IsRetryable(err) {
			return err
		}
		if i < p.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return apperrors.Wrap(apperrors.CategoryPipeline, op, ctx.Err())
			case <-time.After(p.cfg.RetryDelay):
			}
		}
	}
	return err
}

func (p *Processor) notifyBefore(ctx context.Context, name string, img *ImageData) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, img)
	}
}

func (p *Processor) notifyAfter(ctx context.Context, name string, img *ImageData, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStep(ctx, name, img, d, err)
	}
}

// ProcessedCount returns the total number of successfully processed images.
func (p *Processor) ProcessedCount() int64 { return atomic.LoadInt64(&p.processedCount) }

// ErrorCount returns the total number of processing errors.
func (p *Processor) ErrorCount() int64 { return atomic.LoadInt64(&p.errorCount) }

// CountError records a failure that happened outside Process.
func (p *Processor) CountError() { atomic.AddInt64(&p.errorCount, 1) }
