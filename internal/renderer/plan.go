package renderer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/clipforge/video-compositor/internal/config"
	"github.com/clipforge/video-compositor/internal/media"
	"github.com/clipforge/video-compositor/internal/models"
)

// Params pins the normalized intermediate format. Every clip the renderer
// emits shares these values so concatenation can prefer stream copy.
type Params struct {
	Width        int
	Height       int
	FPS          int
	PixFmt       string
	SampleRate   int
	Channels     int
	VideoCodec   string
	Preset       string
	CRF          int
	AudioCodec   string
	AudioBitrate string

	DefaultImageDuration float64
	VoiceVolume          float64
	Text                 config.TextConfig
}

func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Width:                cfg.Video.Width,
		Height:               cfg.Video.Height,
		FPS:                  cfg.Video.FPS,
		PixFmt:               cfg.Video.PixFmt,
		SampleRate:           cfg.Video.SampleRate,
		Channels:             cfg.Video.Channels,
		VideoCodec:           cfg.Video.Codec,
		Preset:               cfg.Video.Preset,
		CRF:                  cfg.Video.CRF,
		AudioCodec:           cfg.Video.AudioCodec,
		AudioBitrate:         cfg.Video.AudioBitrate,
		DefaultImageDuration: cfg.Video.DefaultImageDuration,
		VoiceVolume:          cfg.Audio.VoiceOverVolume,
		Text:                 cfg.Text,
	}
}

// SourceInfo carries the probed durations the plan depends on.
type SourceInfo struct {
	VoiceDuration float64 // zero when the segment has no voice-over
	VideoDuration float64 // zero when the visual is an image
}

// Plan is a fully determined ffmpeg invocation for one segment. Given the
// same segment, sources and params the plan is byte-identical.
type Plan struct {
	Args              []string
	OutputPath        string
	EffectiveDuration float64
	ContentDuration   float64

	TransitionIn         models.TransitionType
	TransitionOut        models.TransitionType
	TransitionInApplied  bool
	TransitionOutApplied bool

	Warnings []string
}

// BuildPlan composes the filter graph for one segment. Transition timing is
// additive: the clip spans transition-in, then the content (visual plus
// voice-over with its delays), then transition-out. Content never overlaps a
// transition.
func BuildPlan(seg *models.Segment, src SourceInfo, outputPath string, p Params) (*Plan, error) {
	plan := &Plan{OutputPath: outputPath}

	tinType, tinDur, tinDegraded := seg.TransitionInSpec()
	toutType, toutDur, toutDegraded := seg.TransitionOutSpec()
	if tinDegraded {
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("segment %s: transition_in %q degraded to fade", seg.ID, seg.TransitionIn.Type))
	}
	if toutDegraded {
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("segment %s: transition_out %q degraded to fade", seg.ID, seg.TransitionOut.Type))
	}
	plan.TransitionIn = tinType
	plan.TransitionOut = toutType
	plan.TransitionInApplied = tinDur > 0
	plan.TransitionOutApplied = toutDur > 0

	hasVoice := seg.VoiceOver != nil && seg.VoiceOver.LocalPath != ""
	var startDelay, endDelay float64
	if hasVoice {
		startDelay = seg.VoiceOver.StartDelay
		endDelay = seg.VoiceOver.EndDelay
	}

	voiceSpan := src.VoiceDuration + startDelay + endDelay
	useVideo := seg.UsesVideo()

	var content float64
	switch {
	case hasVoice:
		content = voiceSpan
	case useVideo:
		content = src.VideoDuration
	default:
		content = p.DefaultImageDuration
	}
	if content <= 0 {
		return nil, fmt.Errorf("segment %s resolves to non-positive content duration", seg.ID)
	}
	effective := tinDur + content + toutDur
	plan.ContentDuration = content
	plan.EffectiveDuration = effective

	// Overlay and voice offsets are relative to the content, which itself
	// starts after the transition-in.
	contentOffset := tinDur
	textOffset := contentOffset + startDelay

	vchain := buildVideoChain(seg, src, p, useVideo, content, effective, contentOffset,
		textOffset, tinType, tinDur, toutType, toutDur)
	achain := buildAudioChain(p, hasVoice, textOffset, effective, tinType, tinDur, toutType, toutDur)

	args := []string{"-y"}
	if useVideo {
		args = append(args, "-i", seg.Video.LocalPath)
	} else {
		args = append(args,
			"-loop", "1",
			"-framerate", strconv.Itoa(p.FPS),
			"-i", seg.Image.LocalPath,
		)
	}
	if hasVoice {
		args = append(args, "-i", seg.VoiceOver.LocalPath)
	} else {
		args = append(args,
			"-f", "lavfi",
			"-t", formatSeconds(effective),
			"-i", fmt.Sprintf("anullsrc=channel_layout=%s:sample_rate=%d", channelLayout(p.Channels), p.SampleRate),
		)
	}

	filter := fmt.Sprintf("[0:v]%s[v];[1:a]%s[a]", vchain, achain)
	args = append(args,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "[a]",
		"-t", formatSeconds(effective),
		"-c:v", p.VideoCodec,
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
		"-pix_fmt", p.PixFmt,
		"-r", strconv.Itoa(p.FPS),
		"-c:a", p.AudioCodec,
		"-b:a", p.AudioBitrate,
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
		"-movflags", "+faststart",
		outputPath,
	)
	plan.Args = args
	return plan, nil
}

func buildVideoChain(seg *models.Segment, src SourceInfo, p Params, useVideo bool,
	content, effective, contentOffset, textOffset float64,
	tinType models.TransitionType, tinDur float64,
	toutType models.TransitionType, toutDur float64) string {

	var filters []string

	if useVideo && src.VideoDuration > content {
		// Source longer than required: truncate to the content window.
		filters = append(filters, fmt.Sprintf("trim=duration=%s,setpts=PTS-STARTPTS", formatSeconds(content)))
	}

	filters = append(filters,
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", p.Width, p.Height),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", p.Width, p.Height),
		"setsar=1",
		fmt.Sprintf("fps=%d", p.FPS),
		fmt.Sprintf("format=%s", p.PixFmt),
	)

	if useVideo {
		// Clone frames to cover the transition lead-in and any shortfall at
		// the tail (short source frozen on its last frame, plus the
		// transition-out span).
		covered := src.VideoDuration
		if covered > content {
			covered = content
		}
		stopPad := effective - contentOffset - covered
		if contentOffset > 0 || stopPad > 0.001 {
			tpad := "tpad="
			var opts []string
			if contentOffset > 0 {
				opts = append(opts, "start_mode=clone", "start_duration="+formatSeconds(contentOffset))
			}
			if stopPad > 0.001 {
				opts = append(opts, "stop_mode=clone", "stop_duration="+formatSeconds(stopPad))
			}
			filters = append(filters, tpad+strings.Join(opts, ":"))
		}
	}

	for _, ov := range seg.TextOver {
		if f := buildDrawtext(ov, textOffset, p.Text); f != "" {
			filters = append(filters, f)
		}
	}

	if tinDur > 0 {
		filters = append(filters, fadeFilter("in", 0, tinDur, tinType))
	}
	if toutDur > 0 {
		filters = append(filters, fadeFilter("out", effective-toutDur, toutDur, toutType))
	}
	return strings.Join(filters, ",")
}

func buildAudioChain(p Params, hasVoice bool, voiceOffset, effective float64,
	tinType models.TransitionType, tinDur float64,
	toutType models.TransitionType, toutDur float64) string {

	var filters []string
	if hasVoice {
		if p.VoiceVolume > 0 && p.VoiceVolume != 1.0 {
			filters = append(filters, fmt.Sprintf("volume=%s", formatSeconds(p.VoiceVolume)))
		}
		if voiceOffset > 0 {
			ms := int(voiceOffset * 1000)
			filters = append(filters, fmt.Sprintf("adelay=%d|%d", ms, ms))
		}
		// Pad with silence out to the clip end, then cut exactly there.
		filters = append(filters, "apad", fmt.Sprintf("atrim=duration=%s", formatSeconds(effective)))
	}
	filters = append(filters,
		fmt.Sprintf("aresample=%d", p.SampleRate),
		fmt.Sprintf("aformat=channel_layouts=%s", channelLayout(p.Channels)),
	)
	if tinDur > 0 && tinType != models.TransitionCut {
		filters = append(filters, fmt.Sprintf("afade=t=in:st=0:d=%s", formatSeconds(tinDur)))
	}
	if toutDur > 0 && toutType != models.TransitionCut {
		filters = append(filters, fmt.Sprintf("afade=t=out:st=%s:d=%s",
			formatSeconds(effective-toutDur), formatSeconds(toutDur)))
	}
	return strings.Join(filters, ",")
}

func fadeFilter(direction string, start, duration float64, t models.TransitionType) string {
	f := fmt.Sprintf("fade=t=%s:st=%s:d=%s", direction, formatSeconds(start), formatSeconds(duration))
	switch t {
	case models.TransitionFadeWhite:
		f += ":color=white"
	case models.TransitionFadeBlack:
		f += ":color=black"
	}
	return f
}

// buildDrawtext renders one overlay as a drawtext filter scoped to its
// window, shifted into clip time by offset.
func buildDrawtext(ov models.TextOverlay, offset float64, defaults config.TextConfig) string {
	if ov.Text == "" {
		return ""
	}
	start := offset + ov.Start
	end := offset + ov.End

	size := ov.Size
	if size == 0 {
		size = defaults.FontSize
	}
	color := ov.Color
	if color == "" {
		color = defaults.FontColor
	}
	position := ov.Position
	if position == "" {
		position = defaults.Position
	}
	font := ov.Font
	if font == "" {
		font = defaults.Font
	}

	var y string
	switch position {
	case "top":
		y = "h/10"
	case "center", "middle":
		y = "(h-text_h)/2"
	default:
		y = "h-text_h-h/10"
	}

	parts := []string{
		fmt.Sprintf("text='%s'", media.EscapeDrawtext(ov.Text)),
		fmt.Sprintf("fontsize=%d", size),
		fmt.Sprintf("fontcolor=%s", color),
		"x=(w-text_w)/2",
		"y=" + y,
	}
	if font != "" {
		parts = append(parts, fmt.Sprintf("fontfile='%s'", media.EscapeFilterPath(font)))
	}
	if ov.Box != nil || defaults.BoxEnabled {
		boxColor := defaults.BoxColor
		padding := 10
		if ov.Box != nil {
			if ov.Box.Color != "" {
				boxColor = ov.Box.Color
			}
			if ov.Box.Padding > 0 {
				padding = ov.Box.Padding
			}
		}
		parts = append(parts, "box=1", "boxcolor="+boxColor, fmt.Sprintf("boxborderw=%d", padding))
	}
	if d := defaults.FadeDuration; d > 0 && end-start > 2*d {
		parts = append(parts, fmt.Sprintf(
			"alpha='if(lt(t,%[1]s),0,if(lt(t,%[1]s+%[3]s),(t-%[1]s)/%[3]s,if(lt(t,%[2]s-%[3]s),1,if(lt(t,%[2]s),(%[2]s-t)/%[3]s,0))))'",
			formatSeconds(start), formatSeconds(end), formatSeconds(d)))
	}
	parts = append(parts, fmt.Sprintf("enable='between(t,%s,%s)'", formatSeconds(start), formatSeconds(end)))
	return "drawtext=" + strings.Join(parts, ":")
}

func channelLayout(channels int) string {
	if channels == 1 {
		return "mono"
	}
	return "stereo"
}

// formatSeconds renders a duration with stable precision so plans are
// reproducible.
func formatSeconds(v float64) string {
	s := strconv.FormatFloat(v, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
