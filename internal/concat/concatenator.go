package concat

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/clipforge/video-compositor/internal/config"
	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/internal/media"
	"github.com/clipforge/video-compositor/internal/models"
	"github.com/clipforge/video-compositor/internal/pipeline"
	"github.com/clipforge/video-compositor/internal/processor"
	"github.com/clipforge/video-compositor/internal/resource"
	"github.com/clipforge/video-compositor/pkg/logger"
)

// Strategy names the two concatenation paths.
type Strategy string

const (
	StrategyStreamCopy Strategy = "stream_copy"
	StrategyReencode   Strategy = "reencode"
)

// Concatenator joins the ordered intermediate clips and overlays background
// music. Because transitions were preprocessed additively on each clip's own
// timeline, joining is a pure append.
type Concatenator struct {
	cfg    *config.Config
	runner media.Runner
	probe  *media.Probe
	log    logger.Logger
}

func New(cfg *config.Config, runner media.Runner, probe *media.Probe, log logger.Logger) *Concatenator {
	return &Concatenator{cfg: cfg, runner: runner, probe: probe, log: log}
}

func (c *Concatenator) Name() string         { return "concatenate" }
func (c *Concatenator) Kind() processor.Kind { return processor.IOBound }

func (c *Concatenator) Process(ctx context.Context, input interface{}, pc *pipeline.Context) (interface{}, error) {
	clips, ok := input.([]*models.Clip)
	if !ok {
		return nil, core.NewError(core.KindConcatenation, "concatenate input must be a clip list")
	}
	var bgm *models.BackgroundMusic
	for _, key := range []string{pipeline.KeyAlignedJob, pipeline.KeyFixedJob, pipeline.KeyDownloadedJob, pipeline.KeyJob} {
		if v, found := pc.Get(key); found {
			if job, isJob := v.(*models.Job); isJob {
				bgm = job.BackgroundMusic
				break
			}
		}
	}
	return c.Concatenate(ctx, clips, bgm, pc)
}

// Concatenate joins clips in index order into final_<job_id>.mp4 inside the
// job scope.
func (c *Concatenator) Concatenate(ctx context.Context, clips []*models.Clip, bgm *models.BackgroundMusic, pc *pipeline.Context) (string, error) {
	if len(clips) == 0 {
		return "", core.NewError(core.KindConcatenation, "no rendered clips to concatenate")
	}
	for _, clip := range clips {
		if _, err := os.Stat(clip.Path); err != nil {
			return "", core.WrapError(core.KindConcatenation, err,
				fmt.Sprintf("clip for segment %s missing", clip.SegmentID))
		}
	}

	scope := pc.Scope()
	joined := scope.Path("concat_output.mp4")
	final := scope.Path(fmt.Sprintf("final_%s.mp4", pc.JobID()))

	strategy := c.ChooseStrategy(clips)
	pc.Metrics().Inc("concat_"+string(strategy), 1)
	c.log.Infof("concatenating %d clips via %s", len(clips), strategy)

	total := 0.0
	for _, clip := range clips {
		total += clip.Duration
	}
	runCtx, cancel := context.WithTimeout(ctx, media.SubprocessTimeout(total))
	defer cancel()

	var err error
	if strategy == StrategyStreamCopy {
		err = c.streamCopy(runCtx, clips, joined, scope)
	} else {
		err = c.reencode(runCtx, clips, joined)
	}
	if err != nil {
		return "", core.WrapError(core.KindConcatenation, err, "failed to join clips")
	}

	if bgm != nil && bgm.LocalPath != "" {
		if err := c.mixBackgroundMusic(runCtx, joined, bgm, final); err != nil {
			return "", core.WrapError(core.KindConcatenation, err, "failed to mix background music")
		}
		return final, nil
	}
	if err := os.Rename(joined, final); err != nil {
		return "", core.WrapError(core.KindConcatenation, err, "failed to move final output")
	}
	return final, nil
}

// ChooseStrategy picks stream copy when every internal edge is a cut and
// every clip has an audio track; any fade edge forces a re-encode. Clip video
// formats are not inspected.
func (c *Concatenator) ChooseStrategy(clips []*models.Clip) Strategy {
	for _, clip := range clips {
		if !clip.HasAudio {
			return StrategyReencode
		}
	}
	for i := 0; i < len(clips)-1; i++ {
		if clips[i].TransitionOut != models.TransitionCut || clips[i+1].TransitionIn != models.TransitionCut {
			return StrategyReencode
		}
	}
	return StrategyStreamCopy
}

func (c *Concatenator) streamCopy(ctx context.Context, clips []*models.Clip, out string, scope *resource.Scope) error {
	listPath := scope.Path("concat_list.txt")
	f, err := os.Create(listPath)
	if err != nil {
		return errors.Wrap(err, "create concat list")
	}
	for _, clip := range clips {
		abs, err := filepath.Abs(clip.Path)
		if err != nil {
			f.Close()
			return errors.Wrapf(err, "resolve clip path %s", clip.Path)
		}
		fmt.Fprintf(f, "file '%s'\n", abs)
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close concat list")
	}

	return c.runner.Run(ctx, "ffmpeg",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		out,
	)
}

func (c *Concatenator) reencode(ctx context.Context, clips []*models.Clip, out string) error {
	args := []string{"-y"}
	var labels strings.Builder
	for _, clip := range clips {
		args = append(args, "-i", clip.Path)
	}
	for i := range clips {
		fmt.Fprintf(&labels, "[%d:v][%d:a]", i, i)
	}
	filter := fmt.Sprintf("%sconcat=n=%d:v=1:a=1[v][a]", labels.String(), len(clips))

	args = append(args,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "[a]",
		"-c:v", c.cfg.Video.Codec,
		"-preset", c.cfg.Video.Preset,
		"-crf", fmt.Sprintf("%d", c.cfg.Video.CRF),
		"-pix_fmt", c.cfg.Video.PixFmt,
		"-r", fmt.Sprintf("%d", c.cfg.Video.FPS),
		"-c:a", c.cfg.Video.AudioCodec,
		"-b:a", c.cfg.Video.AudioBitrate,
		"-ar", fmt.Sprintf("%d", c.cfg.Video.SampleRate),
		"-ac", fmt.Sprintf("%d", c.cfg.Video.Channels),
		"-movflags", "+faststart",
		out,
	)
	return c.runner.Run(ctx, "ffmpeg", args...)
}

// mixBackgroundMusic overlays the BGM under the concatenated track: volume
// scaled, faded at head and tail, clipped to the video duration, looped when
// shorter and looping is configured. The video stream is copied untouched.
func (c *Concatenator) mixBackgroundMusic(ctx context.Context, videoPath string, bgm *models.BackgroundMusic, out string) error {
	videoDur, err := c.probe.Duration(ctx, videoPath)
	if err != nil {
		return errors.Wrap(err, "probe concatenated duration")
	}

	volume := bgm.Volume
	if volume <= 0 {
		volume = c.cfg.Audio.BGMVolume
	}
	if c.cfg.Audio.AutoLevel {
		if lv, err := c.autoLevel(ctx, videoPath, bgm.LocalPath); err == nil {
			volume = lv
		} else {
			c.log.Warnf("bgm auto-level failed, keeping volume %.2f: %v", volume, err)
		}
	}

	fadeIn := bgm.FadeIn
	if fadeIn <= 0 {
		fadeIn = c.cfg.Audio.DefaultFadeIn
	}
	fadeOut := bgm.FadeOut
	if fadeOut <= 0 {
		fadeOut = c.cfg.Audio.DefaultFadeOut
	}

	bgmFilters := []string{
		fmt.Sprintf("atrim=duration=%.3f", videoDur),
		fmt.Sprintf("volume=%.3f", volume),
	}
	if fadeIn > 0 {
		bgmFilters = append(bgmFilters, fmt.Sprintf("afade=t=in:st=0:d=%.3f", fadeIn))
	}
	if fadeOut > 0 {
		bgmFilters = append(bgmFilters, fmt.Sprintf("afade=t=out:st=%.3f:d=%.3f", videoDur-fadeOut, fadeOut))
	}
	filter := fmt.Sprintf("[1:a]%s[bgm];[0:a][bgm]amix=inputs=2:duration=first:dropout_transition=2[aout]",
		strings.Join(bgmFilters, ","))

	args := []string{"-y", "-i", videoPath}
	if c.cfg.Audio.LoopBGM {
		args = append(args, "-stream_loop", "-1")
	}
	args = append(args,
		"-i", bgm.LocalPath,
		"-filter_complex", filter,
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "copy",
		"-c:a", c.cfg.Video.AudioCodec,
		"-b:a", c.cfg.Video.AudioBitrate,
		"-shortest",
		out,
	)
	return c.runner.Run(ctx, "ffmpeg", args...)
}

// autoLevel derives the BGM volume factor from the loudness difference
// between the narration track and the music, clamped to a subtle range.
func (c *Concatenator) autoLevel(ctx context.Context, videoPath, bgmPath string) (float64, error) {
	videoMean, err := c.probe.MeanVolume(ctx, videoPath)
	if err != nil {
		return 0, err
	}
	musicMean, err := c.probe.MeanVolume(ctx, bgmPath)
	if err != nil {
		return 0, err
	}
	factor := math.Pow(10, (videoMean-musicMean)/20)
	if factor < 0.1 {
		factor = 0.1
	}
	if factor > 0.5 {
		factor = 0.5
	}
	return factor, nil
}
