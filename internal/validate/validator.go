package validate

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/clipforge/video-compositor/internal/config"
	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/internal/models"
	"github.com/clipforge/video-compositor/internal/pipeline"
	"github.com/clipforge/video-compositor/internal/processor"
	"github.com/clipforge/video-compositor/pkg/logger"
)

// Result reports the outcome of both validation phases. Errors are fatal,
// warnings are surfaced and carried on.
type Result struct {
	OK       bool
	Errors   []string
	Warnings []string
}

// Validator runs the structural phase (schema shape via struct tags) and the
// semantic phase (cross-field rules) over a job document.
type Validator struct {
	cfg      *config.Config
	validate *validator.Validate
	log      logger.Logger
}

func New(cfg *config.Config, log logger.Logger) *Validator {
	return &Validator{
		cfg:      cfg,
		validate: validator.New(),
		log:      log,
	}
}

func (v *Validator) Name() string         { return "validate" }
func (v *Validator) Kind() processor.Kind { return processor.CPUBound }

func (v *Validator) Process(_ context.Context, input interface{}, pc *pipeline.Context) (interface{}, error) {
	job, ok := input.(*models.Job)
	if !ok {
		return nil, core.NewError(core.KindValidation, "validate input must be a job")
	}
	res := v.ValidateJob(job)
	for _, w := range res.Warnings {
		v.log.Warnf("validation warning: %s", w)
		pc.AddWarning(w)
	}
	pc.Metrics().Inc("validation_warnings", len(res.Warnings))
	if !res.OK {
		return nil, core.NewError(core.KindValidation, strings.Join(res.Errors, "; "))
	}
	return job, nil
}

func (v *Validator) ValidateJob(job *models.Job) Result {
	var res Result
	v.structural(job, &res)
	if len(res.Errors) == 0 {
		v.semantic(job, &res)
	}
	res.OK = len(res.Errors) == 0
	return res
}

func (v *Validator) structural(job *models.Job, res *Result) {
	if err := v.validate.Struct(job); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				res.Errors = append(res.Errors, fmt.Sprintf("field %s failed rule %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			res.Errors = append(res.Errors, err.Error())
		}
	}

	seen := make(map[string]bool)
	for i := range job.Segments {
		seg := &job.Segments[i]
		if seg.ID != "" {
			if seen[seg.ID] {
				res.Errors = append(res.Errors, fmt.Sprintf("duplicate segment id %q", seg.ID))
			}
			seen[seg.ID] = true
		}

		hasImage := seg.Image != nil && seg.Image.URL != ""
		hasVideo := seg.Video != nil && seg.Video.URL != ""
		if !hasImage && !hasVideo {
			res.Errors = append(res.Errors, fmt.Sprintf("segment %q needs an image or a video", seg.ID))
		}
		if hasImage && hasVideo {
			res.Warnings = append(res.Warnings, fmt.Sprintf("segment %q has both visuals, video wins", seg.ID))
		}

		v.checkTransition(seg.ID, "transition_in", seg.TransitionIn, res)
		v.checkTransition(seg.ID, "transition_out", seg.TransitionOut, res)
	}
}

func (v *Validator) checkTransition(segID, field string, t *models.Transition, res *Result) {
	if t == nil {
		return
	}
	if t.Duration < 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("segment %q: %s duration must be >= 0", segID, field))
	}
	if _, degraded := models.NormalizeTransition(t.Type); degraded {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("segment %q: unsupported %s type %q degrades to fade", segID, field, t.Type))
	}
}

func (v *Validator) semantic(job *models.Job, res *Result) {
	for i := range job.Segments {
		seg := &job.Segments[i]

		checkURL := func(raw, what string) {
			if raw == "" {
				return
			}
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "file") {
				res.Errors = append(res.Errors, fmt.Sprintf("segment %q: invalid %s url %q", seg.ID, what, raw))
			}
		}
		if seg.Image != nil {
			checkURL(seg.Image.URL, "image")
		}
		if seg.Video != nil {
			checkURL(seg.Video.URL, "video")
		}
		if seg.VoiceOver != nil {
			checkURL(seg.VoiceOver.URL, "voice_over")
		}

		// Without a voice-over, an image segment runs for the configured
		// default duration; the transitions must fit inside that bound.
		if seg.VoiceOver == nil && !seg.UsesVideo() {
			_, tin, _ := seg.TransitionInSpec()
			_, tout, _ := seg.TransitionOutSpec()
			bound := v.cfg.Video.DefaultImageDuration
			if tin+tout > bound {
				res.Errors = append(res.Errors, fmt.Sprintf(
					"segment %q: transition durations %.2fs exceed the %.2fs content bound", seg.ID, tin+tout, bound))
			}
		}

		for j, ov := range seg.TextOver {
			if ov.End <= ov.Start {
				res.Errors = append(res.Errors, fmt.Sprintf(
					"segment %q: text_over[%d] window end %.2f must exceed start %.2f", seg.ID, j, ov.End, ov.Start))
			}
			if seg.VoiceOver != nil {
				// The overlay window must lie inside the voice-driven
				// content. Duration is unknown before download, so only the
				// delay-extended lower bound is checkable here.
				if ov.Start < 0 {
					res.Errors = append(res.Errors, fmt.Sprintf(
						"segment %q: text_over[%d] starts before the segment", seg.ID, j))
				}
			} else if !seg.UsesVideo() && ov.End > v.cfg.Video.DefaultImageDuration {
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"segment %q: text_over[%d] window ends after the %.2fs content bound",
					seg.ID, j, v.cfg.Video.DefaultImageDuration))
			}
		}
	}

	if bgm := job.BackgroundMusic; bgm != nil {
		if bgm.URL == "" {
			res.Errors = append(res.Errors, "background_music requires a url")
		}
		if bgm.Volume < 0 || bgm.Volume > 2 {
			res.Errors = append(res.Errors, "background_music volume must be within [0, 2]")
		}
	}
}
