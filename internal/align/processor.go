package align

import (
	"context"
	"fmt"

	"github.com/clipforge/video-compositor/internal/config"
	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/internal/media"
	"github.com/clipforge/video-compositor/internal/models"
	"github.com/clipforge/video-compositor/internal/pipeline"
	"github.com/clipforge/video-compositor/internal/processor"
	"github.com/clipforge/video-compositor/pkg/logger"
)

// Aligner turns voice-over audio plus transcript text into timed text
// overlays. Remote failures never abort the pipeline: spans fall back to a
// uniform distribution across the voice-over duration.
type Aligner struct {
	cfg      *config.Config
	client   *Client
	splitter *SpanSplitter
	probe    *media.Probe
	log      logger.Logger
}

func NewAligner(cfg *config.Config, client *Client, splitter *SpanSplitter, probe *media.Probe, log logger.Logger) *Aligner {
	return &Aligner{cfg: cfg, client: client, splitter: splitter, probe: probe, log: log}
}

func (a *Aligner) Name() string         { return "align_text" }
func (a *Aligner) Kind() processor.Kind { return processor.IOBound }

func (a *Aligner) Process(ctx context.Context, input interface{}, pc *pipeline.Context) (interface{}, error) {
	job, ok := input.(*models.Job)
	if !ok {
		return nil, core.NewError(core.KindProcessing, "align input must be a job")
	}
	for i := range job.Segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg := &job.Segments[i]
		if seg.VoiceOver == nil || seg.VoiceOver.Content == "" || seg.VoiceOver.LocalPath == "" {
			continue
		}
		if len(seg.TextOver) > 0 {
			// Author-provided overlays win over generated captions.
			continue
		}
		if err := a.alignSegment(ctx, seg, pc); err != nil {
			return nil, err
		}
	}
	return job, nil
}

func (a *Aligner) alignSegment(ctx context.Context, seg *models.Segment, pc *pipeline.Context) error {
	duration, err := a.probe.Duration(ctx, seg.VoiceOver.LocalPath)
	if err != nil {
		return core.WrapError(core.KindProcessing, err,
			fmt.Sprintf("segment %s: cannot probe voice-over duration", seg.ID))
	}

	spans := a.splitter.Split(ctx, seg.VoiceOver.Content)
	if len(spans) == 0 {
		return nil
	}

	windows, warn := a.resolveWindows(ctx, seg, spans, duration)
	if warn != "" {
		a.log.Warnf("segment %s: %s", seg.ID, warn)
		pc.AddWarning(fmt.Sprintf("segment %s: %s", seg.ID, warn))
		pc.Metrics().Inc("aligner_unavailable", 1)
	}
	if len(windows) != len(spans) {
		return nil
	}

	for i, span := range spans {
		seg.TextOver = append(seg.TextOver, models.TextOverlay{
			Text:  span,
			Start: windows[i].Start,
			End:   windows[i].End,
		})
	}
	pc.Metrics().Inc("text_spans_created", len(spans))
	return nil
}

// resolveWindows asks the forced aligner for word timings and maps spans to
// them; any failure yields the uniform fallback plus a warning.
func (a *Aligner) resolveWindows(ctx context.Context, seg *models.Segment, spans []string, duration float64) ([]Window, string) {
	if a.client == nil || a.cfg.AI.AlignerURL == "" {
		return UniformWindows(spans, duration), ""
	}
	words, err := a.client.Align(ctx, seg.VoiceOver.LocalPath, seg.VoiceOver.Content)
	if err != nil {
		return UniformWindows(spans, duration), fmt.Sprintf("aligner unavailable, using uniform timing: %v", err)
	}
	windows, err := MapSpans(spans, words)
	if err != nil {
		return UniformWindows(spans, duration), fmt.Sprintf("span mapping failed, using uniform timing: %v", err)
	}
	return windows, ""
}
