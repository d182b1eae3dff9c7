package sizefit_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	chaiwebp "github.com/chai2010/webp"
	"golang.org/x/image/bmp"
	xwebp "golang.org/x/image/webp"

	"github.com/Skryldev/sizefit"
	"github.com/Skryldev/sizefit/config"
	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
	"github.com/Skryldev/sizefit/hooks"
	"github.com/Skryldev/sizefit/utils"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

// noisyImage is a gradient with per-pixel noise so encoders cannot compress
// it away.
func noisyImage(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := rng.Intn(97) - 48
			img.Set(x, y, color.NRGBA{
				R: clamp(x*255/w + n),
				G: clamp(y*255/h - n),
				B: clamp((x+y)*255/(w+h) + n/2),
				A: 255,
			})
		}
	}
	return img
}

func clamp(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func noisyJPEG(t testing.TB, w, h, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, noisyImage(w, h, 1), &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func noisyPNG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, noisyImage(w, h, 2)); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func smallJPEG(t testing.TB) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 50, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func newProc(t *testing.T) *sizefit.Processor {
	t.Helper()
	cfg := sizefit.DefaultConfig()
	cfg.WorkerCount = 2
	cfg.QueueSize = 16
	return newProcWith(t, cfg)
}

func newProcWith(t *testing.T, cfg config.Config) *sizefit.Processor {
	t.Helper()
	p, err := sizefit.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func resize(p *sizefit.Processor, data []byte, targetKB, toleranceKB float64) (*core.ResizeResult, error) {
	return p.Resize(context.Background(), core.ResizeRequest{
		Source:      sizefit.FromBytes(data, "photo"),
		TargetKB:    targetKB,
		ToleranceKB: core.Tolerance(toleranceKB),
	})
}

// ── Size targeting ────────────────────────────────────────────────────────────

func TestResize_ShrinksLargeJPEG(t *testing.T) {
	proc := newProc(t)
	raw := noisyJPEG(t, 600, 600, 98)
	if len(raw) <= 150*1024 {
		t.Fatalf("test image too small to exercise shrinking: %d bytes", len(raw))
	}

	res, err := resize(proc, raw, 100, 2)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if res.Search.Branch != core.BranchShrink {
		t.Errorf("branch: got %s, want shrink", res.Search.Branch)
	}
	if res.SizeBytes > 102*1024 {
		t.Errorf("size: got %d bytes, want <= %d", res.SizeBytes, 102*1024)
	}
	if res.Width != 600 || res.Height != 600 {
		t.Errorf("dimensions changed: %dx%d", res.Width, res.Height)
	}
	if res.Format != core.FormatJPEG || res.MIME != "image/jpeg" {
		t.Errorf("format: got %s %s", res.Format, res.MIME)
	}
	if res.Search.Attempts < 1 || res.Search.Attempts > config.DefaultSearch().MaxAttempts {
		t.Errorf("attempts out of range: %d", res.Search.Attempts)
	}
	if _, err := jpeg.Decode(bytes.NewReader(res.Data)); err != nil {
		t.Errorf("output does not decode: %v", err)
	}
	if res.Original.SizeBytes != int64(len(raw)) || res.Original.Width != 600 {
		t.Errorf("original metadata: %+v", res.Original)
	}
}

func TestResize_GrowsSmallPNG(t *testing.T) {
	proc := newProc(t)
	raw := noisyPNG(t, 60, 60)

	res, err := resize(proc, raw, 200, 5)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if res.Search.Branch != core.BranchGrow {
		t.Errorf("branch: got %s, want grow", res.Search.Branch)
	}
	// 60 * 1.15 = 69
	if res.Width != 69 || res.Height != 69 {
		t.Errorf("dimensions: got %dx%d, want 69x69", res.Width, res.Height)
	}
	if res.SizeBytes < 195*1024 || res.SizeBytes > 205*1024 {
		t.Errorf("size %d outside [195,205] KB", res.SizeBytes)
	}
	if !res.Search.Converged {
		t.Error("expected convergence")
	}
	if res.Search.PaddingBytes <= 0 {
		t.Errorf("expected padding, got %d", res.Search.PaddingBytes)
	}
	decoded, err := png.Decode(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("padded output does not decode: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 69 || b.Dy() != 69 {
		t.Errorf("decoded dimensions: %v", b)
	}
}

func TestResize_GrowsSmallJPEG(t *testing.T) {
	proc := newProc(t)
	raw := smallJPEG(t)

	res, err := resize(proc, raw, 50, 1)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if res.Search.Branch != core.BranchGrow {
		t.Errorf("branch: got %s, want grow", res.Search.Branch)
	}
	if res.SizeBytes != 50*1024 {
		t.Errorf("size: got %d, want exactly %d", res.SizeBytes, 50*1024)
	}
	img, err := jpeg.Decode(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("padded jpeg does not decode: %v", err)
	}
	if img.Bounds().Dx() != 37 { // round(32 * 1.15)
		t.Errorf("width: got %d, want 37", img.Bounds().Dx())
	}
}

func noisyWebP(t testing.TB, w, h int, quality float32) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := chaiwebp.Encode(&buf, noisyImage(w, h, 3), &chaiwebp.Options{Quality: quality}); err != nil {
		t.Fatalf("encode test webp: %v", err)
	}
	return buf.Bytes()
}

func TestResize_WebP(t *testing.T) {
	proc := newProc(t)

	t.Run("shrink", func(t *testing.T) {
		raw := noisyWebP(t, 400, 400, 100)
		targetKB := float64(len(raw)) / 2 / 1024
		res, err := resize(proc, raw, targetKB, targetKB/10)
		if err != nil {
			t.Fatalf("Resize: %v", err)
		}
		if res.Search.Branch != core.BranchShrink || res.SizeBytes >= int64(len(raw)) {
			t.Errorf("branch %s, %d bytes from %d", res.Search.Branch, res.SizeBytes, len(raw))
		}
		cfg, err := xwebp.DecodeConfig(bytes.NewReader(res.Data))
		if err != nil || cfg.Width != 400 {
			t.Errorf("output: %v %+v", err, cfg)
		}
	})

	t.Run("grow", func(t *testing.T) {
		raw := noisyWebP(t, 64, 64, 75)
		res, err := resize(proc, raw, 60, 2)
		if err != nil {
			t.Fatalf("Resize: %v", err)
		}
		if res.Search.Branch != core.BranchGrow || !res.Search.Converged {
			t.Errorf("search: %+v", res.Search)
		}
		if res.Width != 74 || res.MIME != "image/webp" {
			t.Errorf("got %dx%d %s", res.Width, res.Height, res.MIME)
		}
		img, err := xwebp.Decode(bytes.NewReader(res.Data))
		if err != nil {
			t.Fatalf("padded webp does not decode: %v", err)
		}
		if img.Bounds().Dx() != 74 {
			t.Errorf("decoded width %d", img.Bounds().Dx())
		}
	})
}

func TestResize_PassThroughKeepsBytes(t *testing.T) {
	proc := newProc(t)
	raw := noisyJPEG(t, 200, 200, 85)
	targetKB := float64(len(raw)) / 1024

	res, err := resize(proc, raw, targetKB, 1)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if res.Search.Branch != core.BranchPassThrough {
		t.Errorf("branch: got %s, want pass_through", res.Search.Branch)
	}
	if !bytes.Equal(res.Data, raw) {
		t.Error("pass-through changed the bytes")
	}
	if res.Search.Attempts != 0 {
		t.Errorf("attempts: got %d, want 0", res.Search.Attempts)
	}
	if res.SizeKB != core.KB(int64(len(raw))) {
		t.Errorf("size KB: got %v", res.SizeKB)
	}
}

// ── Validation and error taxonomy ─────────────────────────────────────────────

func TestResize_InvalidTarget(t *testing.T) {
	proc := newProc(t)
	raw := smallJPEG(t)

	tests := []struct {
		name      string
		target    float64
		tolerance float64
		wantErr   bool
	}{
		{"zero", 0, 0, true},
		{"negative", -5, 0, true},
		{"nan", math.NaN(), 0, true},
		{"inf", math.Inf(1), 0, true},
		{"negative tolerance", 10, -1, true},
		{"tiny positive", 0.0001, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := resize(proc, raw, tc.target, tc.tolerance)
			if tc.wantErr != (err != nil) {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, apperrors.ErrInvalidTarget) {
				t.Errorf("got %v, want ErrInvalidTarget", err)
			}
		})
	}
}

func TestNewTarget_Units(t *testing.T) {
	tests := []struct {
		name           string
		targetKB       float64
		tolKB          *float64
		wantT, wantTol int64
	}{
		{"explicit", 100, core.Tolerance(5), 102400, 5120},
		{"default tolerance", 100, nil, 102400, 5120},
		{"exact", 100, core.Tolerance(0), 102400, 0},
		{"floor of one byte", 0.0001, nil, 1, 5120},
		{"fractional", 1.5, core.Tolerance(0.25), 1536, 256},
	}
	for _, tc := range tests {
		got, err := sizefit.NewTarget(tc.targetKB, tc.tolKB, 5)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got.TargetBytes != tc.wantT || got.ToleranceBytes != tc.wantTol {
			t.Errorf("%s: got %+v; want %d/%d", tc.name, got, tc.wantT, tc.wantTol)
		}
	}
}

func TestResize_ExactTolerance(t *testing.T) {
	proc := newProc(t)

	def, err := proc.Target(60, nil)
	if err != nil || def.ToleranceBytes != 5120 {
		t.Fatalf("default window: %+v %v", def, err)
	}

	res, err := resize(proc, noisyPNG(t, 20, 20), 60, 0)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if res.Search.Branch != core.BranchGrow || !res.Search.Converged {
		t.Errorf("search: %+v", res.Search)
	}
	if len(res.Data) != 60*1024 {
		t.Errorf("size = %d, want exactly %d", len(res.Data), 60*1024)
	}
}

func TestResize_UnsupportedFormats(t *testing.T) {
	proc := newProc(t)
	src := image.NewPaletted(image.Rect(0, 0, 16, 16), []color.Color{color.Black, color.White})

	var gifBuf, bmpBuf bytes.Buffer
	if err := gif.Encode(&gifBuf, src, nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	if err := bmp.Encode(&bmpBuf, src); err != nil {
		t.Fatalf("encode bmp: %v", err)
	}

	for name, data := range map[string][]byte{"gif": gifBuf.Bytes(), "bmp": bmpBuf.Bytes()} {
		t.Run(name, func(t *testing.T) {
			// Target equal to the input size would otherwise pass through.
			_, err := resize(proc, data, float64(len(data))/1024, 0)
			if !errors.Is(err, apperrors.ErrUnsupportedFormat) {
				t.Fatalf("got %v, want ErrUnsupportedFormat", err)
			}
			if pub := apperrors.Public(err); pub.Code != apperrors.CodeUnsupportedFormat {
				t.Errorf("public code: got %s", pub.Code)
			}
		})
	}
}

func TestResize_CorruptInput(t *testing.T) {
	proc := newProc(t)
	tests := map[string][]byte{
		"truncated jpeg": {0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00},
		"text":           []byte("definitely not an image file"),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := resize(proc, data, 10, 0)
			if !errors.Is(err, apperrors.ErrCorruptImage) {
				t.Fatalf("got %v, want ErrCorruptImage", err)
			}
		})
	}
}

func TestResize_EmptyInput(t *testing.T) {
	proc := newProc(t)
	_, err := resize(proc, nil, 10, 0)
	if !errors.Is(err, apperrors.ErrEmptyInput) {
		t.Fatalf("got %v, want ErrEmptyInput", err)
	}
}

func TestResize_ContextCancel(t *testing.T) {
	proc := newProc(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := proc.Resize(ctx, core.ResizeRequest{
		Source:   sizefit.FromBytes(smallJPEG(t), "x.jpg"),
		TargetKB: 10,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

// failingPadder returns an error outside the taxonomy.
type failingPadder struct{}

func (failingPadder) Pad([]byte, int64) ([]byte, error) { return nil, fmt.Errorf("disk on fire") }
func (failingPadder) Overhead() int64                   { return 0 }
func (failingPadder) CanPad(core.Format) bool           { return true }

func TestResize_UnclassifiedErrorIsOpaque(t *testing.T) {
	proc := newProc(t)
	proc.RegisterPadder(core.FormatPNG, failingPadder{})

	_, err := resize(proc, noisyPNG(t, 20, 20), 100, 1)
	if !errors.Is(err, apperrors.ErrInternal) {
		t.Fatalf("got %v, want ErrInternal", err)
	}
	if strings.Contains(err.Error(), "disk on fire") {
		t.Errorf("internal detail leaked: %v", err)
	}
	if pub := apperrors.Public(err); pub.Code != apperrors.CodeInternal {
		t.Errorf("public code: got %s", pub.Code)
	}
}

// ── Data URIs ─────────────────────────────────────────────────────────────────

func TestFromDataURI(t *testing.T) {
	proc := newProc(t)
	raw := noisyPNG(t, 20, 20)

	src, err := sizefit.FromDataURI(utils.FormatDataURI("image/png", raw), "in.png")
	if err != nil {
		t.Fatalf("FromDataURI: %v", err)
	}
	res, err := proc.Resize(context.Background(), core.ResizeRequest{Source: src, TargetKB: 30})
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if uri := res.DataURI(); !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Errorf("DataURI prefix: %.40s", uri)
	}

	for _, bad := range []string{"", "image/png;base64,AAAA", "data:image/png,AAAA", "data:image/png;base64,!!!"} {
		if _, err := sizefit.FromDataURI(bad, ""); !errors.Is(err, apperrors.ErrInvalidInputFormat) {
			t.Errorf("FromDataURI(%q): got %v, want ErrInvalidInputFormat", bad, err)
		}
	}
}

// ── Concurrency ───────────────────────────────────────────────────────────────

func TestResize_ConcurrentSafety(t *testing.T) {
	proc := newProc(t)
	raw := noisyJPEG(t, 200, 200, 95)

	const goroutines = 12
	var wg sync.WaitGroup
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = resize(proc, raw, 8, 1)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d: %v", i, err)
		}
	}
}

func TestResizeBatch(t *testing.T) {
	proc := newProc(t)
	raw := smallJPEG(t)

	reqs := make([]core.ResizeRequest, 4)
	for i := range reqs {
		reqs[i] = core.ResizeRequest{Source: sizefit.FromBytes(raw, ""), TargetKB: 20}
	}
	reqs[3].TargetKB = -1

	results, errs := proc.ResizeBatch(context.Background(), reqs)
	for i := 0; i < 3; i++ {
		if errs[i] != nil || results[i] == nil {
			t.Errorf("batch[%d]: %v", i, errs[i])
		}
	}
	if !errors.Is(errs[3], apperrors.ErrInvalidTarget) || results[3] != nil {
		t.Errorf("batch[3]: got %v", errs[3])
	}
}

func TestSubmit_Async(t *testing.T) {
	proc := newProc(t)

	resultCh := make(chan core.JobResult, 1)
	job := core.Job{
		ID:  "job-1",
		Ctx: context.Background(),
		Request: core.ResizeRequest{
			Source:   sizefit.FromBytes(smallJPEG(t), "a.jpg"),
			TargetKB: 20,
		},
		ResultCh: resultCh,
	}
	if err := proc.Submit(job); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case res := <-resultCh:
		if res.Err != nil {
			t.Fatalf("async job error: %v", res.Err)
		}
		if res.JobID != "job-1" || res.Result.FileName != "a.jpg" {
			t.Errorf("unexpected job result: %+v", res)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("async job timed out")
	}
}

// ── Persistence and history ───────────────────────────────────────────────────

func TestResizeAndStore_Local(t *testing.T) {
	dir := t.TempDir()
	cfg := sizefit.DefaultConfig()
	cfg.Storage = config.StorageLocal
	cfg.Local.RootDir = filepath.Join(dir, "store")
	cfg.History.Path = filepath.Join(dir, "history.zst")
	proc := newProcWith(t, cfg)

	raw := noisyPNG(t, 40, 30)
	res, stored, err := proc.ResizeAndStore(context.Background(), core.ResizeRequest{
		Source:   sizefit.FromBytes(raw, "shot.png"),
		TargetKB: 20,
	})
	if err != nil {
		t.Fatalf("ResizeAndStore: %v", err)
	}
	for _, ref := range []string{stored.ImageRef, stored.ThumbnailRef} {
		if _, err := os.Stat(ref); err != nil {
			t.Errorf("stored file %s: %v", ref, err)
		}
	}
	if !strings.HasSuffix(stored.ImageRef, ".png") || !strings.HasSuffix(stored.ThumbnailRef, ".jpg") {
		t.Errorf("refs: %s %s", stored.ImageRef, stored.ThumbnailRef)
	}

	entries, err := proc.History(context.Background(), 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("history entries: got %d, want 1", len(entries))
	}
	e := entries[0]
	if e.ID != stored.HistoryID || e.FileName != "shot.png" {
		t.Errorf("entry: %+v", e)
	}
	if e.OriginalWidth != 40 || e.ResizedWidth != res.Width || e.ResizedSizeKB != res.SizeKB {
		t.Errorf("entry sizes: %+v", e)
	}
	if e.ResizedURL != stored.ImageRef || e.ThumbnailURL != stored.ThumbnailRef {
		t.Errorf("entry refs: %+v", e)
	}
}

func TestResizeAndStore_NoStorageStillReturnsResult(t *testing.T) {
	proc := newProc(t)

	res, _, err := proc.ResizeAndStore(context.Background(), core.ResizeRequest{
		Source:   sizefit.FromBytes(smallJPEG(t), ""),
		TargetKB: 10,
	})
	if res == nil {
		t.Fatal("expected a result even though persistence failed")
	}
	if !errors.Is(err, apperrors.ErrStorageUnavailable) {
		t.Fatalf("got %v, want ErrStorageUnavailable", err)
	}
	if res.FileName != "resized.jpg" {
		t.Errorf("file name: got %s", res.FileName)
	}
}

// ── Hooks / metrics ───────────────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	m := hooks.NewInMemoryMetrics()
	proc := newProc(t)
	proc.SetMetrics(m)
	proc.AddHook(hooks.NewMetricsHook(m))

	if _, err := resize(proc, noisyPNG(t, 30, 30), 40, 2); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	snap := m.Snapshot()
	if snap.Branches[core.BranchGrow] != 1 || snap.Searches != 1 {
		t.Errorf("branches: %+v", snap.Branches)
	}
	for _, step := range []string{"inspect", "target_size", "scale", "encode", "pad"} {
		if snap.StepCalls[step] == 0 {
			t.Errorf("step %q not recorded", step)
		}
	}
	if processed, _ := proc.Stats(); processed != 1 {
		t.Errorf("processed: got %d, want 1", processed)
	}
}

// ── Custom step ───────────────────────────────────────────────────────────────

// invertStep is a custom pipeline step for testing extensibility.
type invertStep struct{}

func (invertStep) Name() string { return "invert" }
func (invertStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	out := *img
	out.Data = append([]byte(nil), img.Data...)
	for i := range out.Data {
		out.Data[i] = ^out.Data[i]
	}
	return &out, nil
}

func TestProcess_CustomStep(t *testing.T) {
	proc := newProc(t)
	raw := []byte{1, 2, 3}

	res, err := proc.Process(context.Background(), sizefit.FromBytes(raw, ""), invertStep{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !bytes.Equal(res.Primary.Data, []byte{0xFE, 0xFD, 0xFC}) {
		t.Errorf("data: %v", res.Primary.Data)
	}
}

// ── Benchmarks ────────────────────────────────────────────────────────────────

func BenchmarkResize_ShrinkJPEG(b *testing.B) {
	proc, err := sizefit.New(sizefit.DefaultConfig())
	if err != nil {
		b.Fatal(err)
	}
	raw := noisyJPEG(b, 800, 600, 95)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := resize(proc, raw, 60, 2); err != nil {
			b.Fatalf("Resize: %v", err)
		}
	}
}

func BenchmarkResize_GrowPNG(b *testing.B) {
	proc, err := sizefit.New(sizefit.DefaultConfig())
	if err != nil {
		b.Fatal(err)
	}
	raw := noisyPNG(b, 100, 100)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := resize(proc, raw, 300, 5); err != nil {
			b.Fatalf("Resize: %v", err)
		}
	}
}
