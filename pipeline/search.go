package pipeline

import (
	"context"

	"github.com/Skryldev/sizefit/config"
	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
)

// TargetSizeStep re-encodes an inspected image so its byte size lands within
// Target's tolerance window.
//
// Exactly one branch runs:
//   - pass-through when the source is already within tolerance;
//   - shrink when it is above: one best-compression pass for PNG, or a
//     descending quality search for JPEG/WebP that stops at the first attempt
//     at or under target+tolerance;
//   - grow when it is below: upscale by Search.UpscaleFactor, pad the
//     remaining deficit, then one corrective re-encode if that overshot.
//
// Missing the window is not an error; the best achieved bytes are returned
// and Search.Converged reports the outcome.
type TargetSizeStep struct {
	Registry core.Registry
	Target   core.TargetSpec
	Search   config.SearchConfig
	Hooks    []core.Hook
	Logger   core.Logger
}

func (s *TargetSizeStep) Name() string { return "target_size" }

func (s *TargetSizeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if len(img.Data) == 0 || img.Image == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	size := int64(len(img.Data))
	var (
		out *core.ImageData
		err error
	)
	switch {
	case s.Target.Within(size):
		out = s.passThrough(img)
	case size > s.Target.Upper():
		out, err = s.shrink(ctx, img)
	default:
		out, err = s.grow(ctx, img)
	}
	if err != nil {
		return nil, err
	}

	out.Meta.SizeBytes = int64(len(out.Data))
	out.Search.Converged = s.Target.Within(out.Meta.SizeBytes)
	s.logger().Debug("search.done",
		"branch", out.Search.Branch,
		"attempts", out.Search.Attempts,
		"size", out.Meta.SizeBytes,
		"target", s.Target.TargetBytes,
		"converged", out.Search.Converged,
	)
	return out, nil
}

func (s *TargetSizeStep) passThrough(img *core.ImageData) *core.ImageData {
	out := *img
	out.Search = core.SearchStats{Branch: core.BranchPassThrough}
	return &out
}

// ── shrink ───────────────────────────────────────────────────────────────────

// shrinkState is the controller's per-request view of the quality search.
type shrinkState struct {
	attempts int
	best     *core.EncodeAttempt // smallest attempt so far
	accepted *core.EncodeAttempt // first attempt inside the upper bound
}

func (st *shrinkState) observe(a core.EncodeAttempt, upper int64) {
	st.attempts++
	if st.best == nil || a.Size < st.best.Size {
		st.best = &a
	}
	if a.Size <= upper {
		st.accepted = &a
	}
}

func (s *TargetSizeStep) shrink(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	enc, ok := s.Registry.EncoderFor(img.Format)
	if !ok {
		return nil, apperrors.Newf(apperrors.CategoryEncode, s.Name(), apperrors.ErrUnsupportedFormat, "no encoder for %s", img.Format)
	}
	s.logger().Debug("search.branch", "branch", core.BranchShrink, "format", img.Format, "size", len(img.Data))

	out := *img
	out.Search = core.SearchStats{Branch: core.BranchShrink}

	if !img.Format.Lossy() {
		data, err := enc.Encode(ctx, img, core.EncodeOptions{Lossless: true})
		if err != nil {
			return nil, apperrors.WrapAs(apperrors.CategoryEncode, s.Name(), apperrors.ErrEncodeFailure, err)
		}
		out.Search.Attempts = 1
		// Recompression can lose to the source encoder; keep whichever is smaller.
		if len(data) < len(img.Data) {
			out.Data = data
		}
		return &out, nil
	}

	var st shrinkState
	upper := s.Target.Upper()
	for q := s.Search.InitialQuality; q >= s.Search.MinQuality && st.attempts < s.Search.MaxAttempts; q -= s.Search.StepSize {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
		}
		data, err := enc.Encode(ctx, img, core.EncodeOptions{Quality: q})
		if err != nil {
			return nil, apperrors.WrapAs(apperrors.CategoryEncode, s.Name(), apperrors.ErrEncodeFailure, err)
		}
		a := core.EncodeAttempt{Quality: q, Data: data, Size: int64(len(data))}
		st.observe(a, upper)
		s.logger().Debug("search.attempt", "quality", q, "size", a.Size, "upper", upper)
		if st.accepted != nil {
			break
		}
	}

	chosen := st.accepted
	if chosen == nil {
		chosen = st.best
	}
	out.Search.Attempts = st.attempts
	if chosen != nil {
		out.Data = chosen.Data
		out.Search.Quality = chosen.Quality
	}
	return &out, nil
}

// ── grow ─────────────────────────────────────────────────────────────────────

func (s *TargetSizeStep) grow(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	s.logger().Debug("search.branch", "branch", core.BranchGrow, "format", img.Format, "size", len(img.Data))

	opts := core.EncodeOptions{}
	if img.Format.Lossy() {
		opts.Quality = s.Search.GrowQuality
	}

	pl := New().WithLogger(s.logger()).Use(
		&ScaleStep{Factor: s.Search.UpscaleFactor},
		&EncodeStep{Registry: s.Registry, BaseOptions: opts},
		&PadStep{Registry: s.Registry, Target: s.Target},
		&CorrectStep{Registry: s.Registry, Target: s.Target, Quality: s.Search.CorrectionQuality},
	)
	for _, h := range s.Hooks {
		pl.AddHook(h)
	}

	start := *img
	start.Search = core.SearchStats{Branch: core.BranchGrow}
	out, _, err := pl.Run(ctx, &start)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *TargetSizeStep) logger() core.Logger {
	if s.Logger == nil {
		return core.NopLogger{}
	}
	return s.Logger
}
