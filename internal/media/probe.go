package media

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Probe answers media metadata queries through ffprobe.
type Probe struct {
	runner Runner
}

func NewProbe(runner Runner) *Probe {
	return &Probe{runner: runner}
}

// Duration returns the container duration of path in seconds.
func (p *Probe) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.runner.Output(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return 0, errors.Wrapf(err, "ffprobe duration for %s", path)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration output %q for %s", strings.TrimSpace(string(out)), path)
	}
	return dur, nil
}

// Dimensions returns the width and height of the first video stream.
func (p *Probe) Dimensions(ctx context.Context, path string) (int, int, error) {
	out, err := p.runner.Output(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "ffprobe dimensions for %s", path)
	}
	trimmed := strings.TrimRight(strings.TrimSpace(string(out)), ",")
	parts := strings.Split(trimmed, ",")
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("unexpected ffprobe output %q for %s", trimmed, path)
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid width %q", parts[0])
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid height %q", parts[1])
	}
	return width, height, nil
}

// HasAudio reports whether path contains at least one audio stream.
func (p *Probe) HasAudio(ctx context.Context, path string) (bool, error) {
	out, err := p.runner.Output(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return false, errors.Wrapf(err, "ffprobe audio streams for %s", path)
	}
	return strings.Contains(string(out), "audio"), nil
}

var meanVolumeRe = regexp.MustCompile(`mean_volume:\s*(-?\d+(\.\d+)?) dB`)

// MeanVolume measures the mean loudness of path in dB via a volumedetect
// pass. Used for BGM auto-leveling.
func (p *Probe) MeanVolume(ctx context.Context, path string) (float64, error) {
	out, err := p.runner.Output(ctx, "ffmpeg",
		"-i", path,
		"-af", "volumedetect",
		"-vn", "-sn", "-dn",
		"-f", "null", "-",
	)
	if err != nil {
		return 0, errors.Wrapf(err, "volumedetect for %s", path)
	}
	m := meanVolumeRe.FindSubmatch(out)
	if m == nil {
		return 0, errors.Errorf("no mean_volume in volumedetect output for %s", path)
	}
	return strconv.ParseFloat(string(m[1]), 64)
}
