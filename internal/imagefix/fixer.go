package imagefix

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/clipforge/video-compositor/internal/config"
	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/internal/downloader"
	"github.com/clipforge/video-compositor/internal/media"
	"github.com/clipforge/video-compositor/internal/models"
	"github.com/clipforge/video-compositor/internal/pipeline"
	"github.com/clipforge/video-compositor/internal/processor"
	"github.com/clipforge/video-compositor/pkg/logger"
)

// Fixer detects missing or undersized segment images and substitutes a
// search result, falling back to a generated placeholder. Per-segment
// failures never abort the pipeline.
type Fixer struct {
	cfg      *config.Config
	search   SearchClient
	keywords *KeywordExtractor
	dl       *downloader.Downloader
	runner   media.Runner
	log      logger.Logger
}

func NewFixer(cfg *config.Config, search SearchClient, keywords *KeywordExtractor,
	dl *downloader.Downloader, runner media.Runner, log logger.Logger) *Fixer {
	return &Fixer{cfg: cfg, search: search, keywords: keywords, dl: dl, runner: runner, log: log}
}

func (f *Fixer) Name() string         { return "image_auto" }
func (f *Fixer) Kind() processor.Kind { return processor.IOBound }

func (f *Fixer) Process(ctx context.Context, input interface{}, pc *pipeline.Context) (interface{}, error) {
	job, ok := input.(*models.Job)
	if !ok {
		return nil, core.NewError(core.KindProcessing, "image_auto input must be a job")
	}
	for i := range job.Segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg := &job.Segments[i]
		if seg.UsesVideo() || seg.Image == nil {
			continue
		}
		reason := f.invalidReason(seg.Image)
		if reason == "" {
			continue
		}
		f.log.Infof("segment %s image needs replacement: %s", seg.ID, reason)
		f.fixSegment(ctx, job, seg, reason, pc)
	}
	return job, nil
}

// invalidReason reports why the segment image cannot be used, or empty when
// it is fine.
func (f *Fixer) invalidReason(ref *models.ImageRef) string {
	if ref.LocalPath == "" {
		return "image was not downloaded"
	}
	file, err := os.Open(ref.LocalPath)
	if err != nil {
		return fmt.Sprintf("image unreadable: %v", err)
	}
	defer file.Close()
	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return fmt.Sprintf("image undecodable: %v", err)
	}
	if cfg.Width < f.cfg.Video.MinImageWidth || cfg.Height < f.cfg.Video.MinImageHeight {
		return fmt.Sprintf("image %dx%d below minimum %dx%d",
			cfg.Width, cfg.Height, f.cfg.Video.MinImageWidth, f.cfg.Video.MinImageHeight)
	}
	return ""
}

func (f *Fixer) fixSegment(ctx context.Context, job *models.Job, seg *models.Segment, reason string, pc *pipeline.Context) {
	originalURL := seg.Image.URL

	if url := f.findSubstitute(ctx, job, seg); url != "" {
		seg.Image.URL = url
		seg.Image.LocalPath = ""
		binding := models.AssetBinding{Ref: &seg.Image.AssetRef, Kind: models.AssetImage, SegmentID: seg.ID}
		if err := f.dl.FetchOne(ctx, binding, pc.Scope()); err == nil {
			if f.invalidReason(seg.Image) == "" {
				pc.AddWarning(fmt.Sprintf("segment %s: image %s replaced by %s (%s)",
					seg.ID, originalURL, url, reason))
				pc.Metrics().Inc("images_substituted", 1)
				return
			}
		} else {
			f.log.Warnf("segment %s: substitute %s failed to download: %v", seg.ID, url, err)
		}
	}

	if err := f.placeholder(ctx, seg, pc); err != nil {
		// Leave the segment as-is; the renderer will fail it in isolation.
		f.log.Errorf("segment %s: placeholder generation failed: %v", seg.ID, err)
		pc.AddWarning(fmt.Sprintf("segment %s: no usable image and placeholder failed", seg.ID))
		return
	}
	pc.AddWarning(fmt.Sprintf("segment %s: image %s replaced by placeholder (%s)", seg.ID, originalURL, reason))
	pc.Metrics().Inc("images_placeholder", 1)
}

func (f *Fixer) findSubstitute(ctx context.Context, job *models.Job, seg *models.Segment) string {
	if f.search == nil {
		return ""
	}
	for _, query := range f.keywords.Extract(ctx, f.searchPrompt(job, seg)) {
		url, err := f.search.Search(ctx, query)
		if err != nil {
			f.log.Warnf("segment %s: search for %q failed: %v", seg.ID, query, err)
			continue
		}
		return url
	}
	return ""
}

// searchPrompt derives the keyword prompt from segment context: transcript
// first, then job metadata.
func (f *Fixer) searchPrompt(job *models.Job, seg *models.Segment) string {
	if seg.VoiceOver != nil && seg.VoiceOver.Content != "" {
		return seg.VoiceOver.Content
	}
	var parts []string
	if job.Niche != "" {
		parts = append(parts, job.Niche)
	}
	if len(job.Keywords) > 0 {
		parts = append(parts, strings.Join(job.Keywords, " "))
	}
	if job.Title != "" {
		parts = append(parts, job.Title)
	}
	if len(parts) == 0 {
		return "abstract background"
	}
	return strings.Join(parts, " ")
}

// placeholder renders a deterministic solid-color frame sized to the target
// canvas so the segment can still be composed.
func (f *Fixer) placeholder(ctx context.Context, seg *models.Segment, pc *pipeline.Context) error {
	out := pc.Scope().Path(fmt.Sprintf("placeholder_%s.png", seg.ID))
	err := f.runner.Run(ctx, "ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=0x1a1a2e:s=%dx%d", f.cfg.Video.Width, f.cfg.Video.Height),
		"-frames:v", "1",
		out,
	)
	if err != nil {
		return err
	}
	seg.Image.LocalPath = out
	return nil
}
