package media

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/clipforge/video-compositor/pkg/logger"
)

// Runner executes external media tool invocations. The renderer and the
// concatenator only ever talk to ffmpeg/ffprobe through this interface so
// tests can substitute a recording fake.
type Runner interface {
	// Run executes name with args and waits for exit. A nonzero exit
	// returns an error carrying the tail of stderr.
	Run(ctx context.Context, name string, args ...string) error
	// Output executes name with args and returns combined stdout+stderr.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct {
	log logger.Logger
}

func NewRunner(log logger.Logger) Runner {
	return &execRunner{log: log}
}

const stderrTailBytes = 4096

const minSubprocessTimeout = 30 * time.Second

// SubprocessTimeout bounds a media tool invocation at 10x the duration of
// the media it processes, with a floor for very short inputs.
func SubprocessTimeout(mediaSeconds float64) time.Duration {
	d := time.Duration(mediaSeconds*10) * time.Second
	if d < minSubprocessTimeout {
		d = minSubprocessTimeout
	}
	return d
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	r.log.Debugf("exec: %s %s", name, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		tail := stderr.Bytes()
		if len(tail) > stderrTailBytes {
			tail = tail[len(tail)-stderrTailBytes:]
		}
		return errors.Wrapf(err, "%s failed: %s", name, string(tail))
	}
	return nil
}

func (r *execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.Wrapf(err, "%s failed: %s", name, string(out))
	}
	return out, nil
}
