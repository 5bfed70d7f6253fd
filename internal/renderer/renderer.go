package renderer

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/clipforge/video-compositor/internal/config"
	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/internal/media"
	"github.com/clipforge/video-compositor/internal/models"
	"github.com/clipforge/video-compositor/internal/pipeline"
	"github.com/clipforge/video-compositor/internal/processor"
	"github.com/clipforge/video-compositor/pkg/logger"
)

// Renderer composes one normalized intermediate MP4 per segment. Segments
// render concurrently under the performance semaphore; a failed segment is
// isolated and the batch carries on unless strict mode demands otherwise.
type Renderer struct {
	cfg    *config.Config
	runner media.Runner
	probe  *media.Probe
	log    logger.Logger
}

func NewRenderer(cfg *config.Config, runner media.Runner, probe *media.Probe, log logger.Logger) *Renderer {
	return &Renderer{cfg: cfg, runner: runner, probe: probe, log: log}
}

func (r *Renderer) Name() string         { return "render_segments" }
func (r *Renderer) Kind() processor.Kind { return processor.IOBound }

// Process renders every segment of the job and returns the ordered list of
// successful clips.
func (r *Renderer) Process(ctx context.Context, input interface{}, pc *pipeline.Context) (interface{}, error) {
	job, ok := input.(*models.Job)
	if !ok {
		return nil, core.NewError(core.KindProcessing, "render input must be a job")
	}

	items := make([]interface{}, len(job.Segments))
	for i := range job.Segments {
		items[i] = &job.Segments[i]
	}

	batch := processor.NewBatch("render_segments",
		r.cfg.Performance.MaxConcurrentSegments, r.cfg.Performance.StrictMode, r.log)
	results, err := batch.Process(ctx, items, func(ctx context.Context, idx int, item interface{}) (interface{}, error) {
		seg := item.(*models.Segment)
		clip, err := r.RenderSegment(ctx, seg, idx, pc)
		if err != nil {
			return nil, &core.Error{
				Kind:      core.KindProcessing,
				SegmentID: seg.ID,
				Message:   "segment render failed",
				Cause:     err,
			}
		}
		return clip, nil
	})
	if err != nil {
		return nil, err
	}

	clips := make([]*models.Clip, 0, len(results))
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			seg := items[res.Index].(*models.Segment)
			pc.AddWarning(fmt.Sprintf("segment %s failed to render: %v", seg.ID, res.Err))
			continue
		}
		clips = append(clips, res.Output.(*models.Clip))
	}
	pc.Metrics().Inc("segments_rendered", len(clips))
	pc.Metrics().Inc("segments_failed", failed)
	return clips, nil
}

// RenderSegment builds and executes the ffmpeg plan for one segment.
func (r *Renderer) RenderSegment(ctx context.Context, seg *models.Segment, index int, pc *pipeline.Context) (*models.Clip, error) {
	var src SourceInfo
	if seg.VoiceOver != nil && seg.VoiceOver.LocalPath != "" {
		dur, err := r.probe.Duration(ctx, seg.VoiceOver.LocalPath)
		if err != nil {
			return nil, errors.Wrapf(err, "probe voice-over for segment %s", seg.ID)
		}
		src.VoiceDuration = dur
	}
	if seg.UsesVideo() {
		if seg.Video.LocalPath == "" {
			return nil, errors.Errorf("segment %s video has no local path", seg.ID)
		}
		dur, err := r.probe.Duration(ctx, seg.Video.LocalPath)
		if err != nil {
			return nil, errors.Wrapf(err, "probe video for segment %s", seg.ID)
		}
		src.VideoDuration = dur
	} else if seg.Image == nil || seg.Image.LocalPath == "" {
		return nil, errors.Errorf("segment %s has no usable visual", seg.ID)
	}

	out := pc.Scope().Path(fmt.Sprintf("segment_%03d_%s.mp4", index, seg.ID))
	plan, err := BuildPlan(seg, src, out, ParamsFromConfig(r.cfg))
	if err != nil {
		return nil, err
	}
	for _, w := range plan.Warnings {
		r.log.Warnf("%s", w)
		pc.AddWarning(w)
		pc.Metrics().Inc("transition_degraded", 1)
	}

	// Subprocesses get a deadline of 10x the clip they are producing, with
	// a floor for very short segments.
	runCtx, cancel := context.WithTimeout(ctx, media.SubprocessTimeout(plan.EffectiveDuration))
	defer cancel()
	if err := r.runner.Run(runCtx, "ffmpeg", plan.Args...); err != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, core.WrapError(core.KindTimeout, err,
				fmt.Sprintf("segment %s render exceeded its deadline", seg.ID))
		}
		return nil, errors.Wrapf(err, "render segment %s", seg.ID)
	}
	if _, err := os.Stat(out); err != nil {
		return nil, errors.Wrapf(err, "segment %s output missing", seg.ID)
	}

	duration := plan.EffectiveDuration
	if probed, err := r.probe.Duration(ctx, out); err == nil && probed > 0 {
		duration = probed
	}

	return &models.Clip{
		SegmentID:            seg.ID,
		Index:                index,
		Path:                 out,
		Duration:             duration,
		HasAudio:             true,
		TransitionIn:         plan.TransitionIn,
		TransitionOut:        plan.TransitionOut,
		TransitionInApplied:  plan.TransitionInApplied,
		TransitionOutApplied: plan.TransitionOutApplied,
	}, nil
}
