// Package pipeline wires steps together, runs hooks, and handles retries.
package pipeline

import (
	"context"
	"time"

	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
)

// Pipeline executes a sequence of Steps with hook and retry support.
// The grow branch of the size search runs through one of these.
type Pipeline struct {
	steps      []core.Step
	hooks      []core.Hook
	logger     core.Logger
	maxRetries int
	retryDelay time.Duration
}

// New returns an empty Pipeline.
func New() *Pipeline { return &Pipeline{logger: core.NopLogger{}} }

// Use appends steps to the pipeline.  Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers an observer.
func (p *Pipeline) AddHook(h core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h)
	return p
}

// WithLogger sets the logger used for per-step debug lines.
func (p *Pipeline) WithLogger(l core.Logger) *Pipeline {
	if l != nil {
		p.logger = l
	}
	return p
}

// WithRetry sets the maximum retry count and delay for transient failures.
// Encode and padding failures are never transient, so in practice only
// storage-backed steps retry.
func (p *Pipeline) WithRetry(maxRetries int, delay time.Duration) *Pipeline {
	p.maxRetries = maxRetries
	p.retryDelay = delay
	return p
}

// StepNames lists the configured steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Run executes the pipeline on img and returns the final ImageData with the
// time spent in each step.
func (p *Pipeline) Run(ctx context.Context, img *core.ImageData) (*core.ImageData, map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(p.steps))
	current := img

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, timings, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}

		next, elapsed, err := p.runStep(ctx, step, current)
		timings[step.Name()] += elapsed
		if err != nil {
			return nil, timings, err
		}
		p.logger.Debug("pipeline.step",
			"step", step.Name(),
			"size", len(next.Data),
			"elapsed", elapsed,
		)
		current = next
	}
	return current, timings, nil
}

// runStep executes one step with hooks, retrying while the error is transient.
func (p *Pipeline) runStep(ctx context.Context, step core.Step, img *core.ImageData) (*core.ImageData, time.Duration, error) {
	name := step.Name()
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, img)
	}

	var (
		result  *core.ImageData
		elapsed time.Duration
		err     error
	)
	for attempt := 0; ; attempt++ {
		start := time.Now()
		result, err = step.Execute(ctx, img)
		elapsed += time.Since(start)
		if err == nil || !apperrors.IsRetryable(err) || attempt >= p.maxRetries {
			break
		}
		if werr := p.wait(ctx, name); werr != nil {
			err = werr
			break
		}
	}

	for _, h := range p.hooks {
		h.AfterStep(ctx, name, result, elapsed, err)
	}
	return result, elapsed, err
}

func (p *Pipeline) wait(ctx context.Context, op string) error {
	t := time.NewTimer(p.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return apperrors.Wrap(apperrors.CategoryPipeline, op, ctx.Err())
	case <-t.C:
		return nil
	}
}

// Clone returns a shallow copy of the pipeline so templates can be reused
// safely across goroutines.
func (p *Pipeline) Clone() *Pipeline {
	cp := &Pipeline{
		steps:      append([]core.Step(nil), p.steps...),
		hooks:      append([]core.Hook(nil), p.hooks...),
		logger:     p.logger,
		maxRetries: p.maxRetries,
		retryDelay: p.retryDelay,
	}
	return cp
}
