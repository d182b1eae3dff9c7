package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/Skryldev/sizefit"
	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
)

// debounceDelay lets a copy finish before the file is read.
const debounceDelay = 500 * time.Millisecond

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// watcher resizes every image written into a directory.
type watcher struct {
	proc   *sizefit.Processor
	logger core.Logger
	in     string
	out    string
	target float64
	tol    *float64
	store  bool

	mu      sync.Mutex
	pending map[string]*time.Timer
	names   map[string]string // job ID -> output path
	results chan core.JobResult
}

func (w *watcher) run(ctx context.Context) error {
	if err := os.MkdirAll(w.out, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.in); err != nil {
		return fmt.Errorf("watch %s: %w", w.in, err)
	}

	w.pending = make(map[string]*time.Timer)
	w.names = make(map[string]string)
	w.results = make(chan core.JobResult, 16)
	go w.collect(ctx)

	w.logger.Info("watch.started", "dir", w.in, "out", w.out, "target_kb", w.target)
	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".") || !imageExts[strings.ToLower(filepath.Ext(name))] {
				continue
			}
			w.schedule(ctx, ev.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch.error", "error", err.Error())
		}
	}
}

// schedule (re)starts the debounce timer for path.
func (w *watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.handle(ctx, path)
	})
}

func (w *watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
}

func (w *watcher) handle(ctx context.Context, path string) {
	out := filepath.Join(w.out, filepath.Base(path))
	if w.store {
		if err := resizeFile(ctx, w.proc, path, out, w.target, w.tol, true); err != nil {
			w.logger.Warn("watch.resize_failed", "file", path, "error", err.Error())
		}
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("watch.read_failed", "file", path, "error", err.Error())
		return
	}
	id := uuid.NewString()
	w.mu.Lock()
	w.names[id] = out
	w.mu.Unlock()

	err = w.proc.Submit(core.Job{
		ID:  id,
		Ctx: ctx,
		Request: core.ResizeRequest{
			Source:      sizefit.FromBytes(data, filepath.Base(path)),
			TargetKB:    w.target,
			ToleranceKB: w.tol,
		},
		ResultCh: w.results,
	})
	if err != nil {
		w.mu.Lock()
		delete(w.names, id)
		w.mu.Unlock()
		w.logger.Warn("watch.submit_failed", "file", path, "error", apperrors.Public(err).Message)
	}
}

// collect writes finished jobs to the output directory.
func (w *watcher) collect(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-w.results:
			w.mu.Lock()
			out := w.names[r.JobID]
			delete(w.names, r.JobID)
			w.mu.Unlock()

			if r.Err != nil {
				w.logger.Warn("watch.resize_failed", "file", out, "error", apperrors.Public(r.Err).Message)
				continue
			}
			if err := os.WriteFile(out, r.Result.Data, 0o644); err != nil {
				w.logger.Warn("watch.write_failed", "file", out, "error", err.Error())
				continue
			}
			w.logger.Info("watch.resized",
				"file", out,
				"size_kb", r.Result.SizeKB,
				"branch", r.Result.Search.Branch,
				"converged", r.Result.Search.Converged,
			)
		}
	}
}
