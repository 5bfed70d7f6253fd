package processor

import (
	"context"

	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/internal/pipeline"
)

// Kind tags how a processor consumes resources. CPU-bound processors run
// synchronously on the calling goroutine; IO-bound ones may block on network
// or subprocess completion and must observe ctx at every suspension point.
type Kind int

const (
	CPUBound Kind = iota
	IOBound
)

// Processor is a unit with one operation. The framework's only job is metric
// wrapping and error typing around it.
type Processor interface {
	Name() string
	Kind() Kind
	Process(ctx context.Context, input interface{}, pc *pipeline.Context) (interface{}, error)
}

// Run invokes p inside a metric span and converts any failure into the typed
// error family, preserving the cause chain.
func Run(ctx context.Context, p Processor, input interface{}, pc *pipeline.Context) (interface{}, error) {
	span := pc.Metrics().StartStage(p.Name())
	out, err := p.Process(ctx, input, pc)
	if err != nil {
		err = core.WithStage(p.Name(), err)
		span.End(false, 0, string(core.KindOf(err)))
		return nil, err
	}
	span.End(true, itemCount(out), "")
	return out, nil
}

func itemCount(out interface{}) int {
	switch t := out.(type) {
	case nil:
		return 0
	case []interface{}:
		return len(t)
	default:
		return 1
	}
}
