package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/pkg/logger"
)

// FailurePolicy decides what the engine does when a stage fails.
type FailurePolicy int

const (
	// FailAbort stops the pipeline and surfaces the stage error.
	FailAbort FailurePolicy = iota
	// FailSkip records the failure and continues with the next stage.
	FailSkip
	// FailFallback runs the stage's Fallback; its outcome replaces the
	// stage's.
	FailFallback
)

// Stage is a named unit of work with declared input and output keys on the
// context.
type Stage struct {
	Name      string
	Requires  []string
	Produces  []string
	Condition func(*Context) bool
	Run       func(ctx context.Context, pc *Context) error
	OnFailure FailurePolicy
	Fallback  func(ctx context.Context, pc *Context) error
}

// Pipeline runs stages sequentially; concurrency happens inside stages.
type Pipeline struct {
	stages []Stage
	log    logger.Logger
}

func New(log logger.Logger) *Pipeline {
	return &Pipeline{log: log}
}

func (p *Pipeline) AddStage(s Stage) *Pipeline {
	p.stages = append(p.stages, s)
	return p
}

func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// Execute drives the context through every stage in order. Each stage gets a
// metric span; failures are wrapped with the stage name and kind so callers
// can discriminate without string matching. Cancellation is observed between
// stages and inside every suspension point the stages themselves hit.
func (p *Pipeline) Execute(ctx context.Context, pc *Context) error {
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return core.WithStage(stage.Name, err)
		}

		if stage.Condition != nil && !stage.Condition(pc) {
			p.log.Infof("stage %s skipped by condition", stage.Name)
			pc.Metrics().Inc("stage_skipped", 1)
			continue
		}

		if missing := p.missingInputs(stage, pc); len(missing) > 0 {
			return core.NewErrorAt(stage.Name, core.KindProcessing,
				fmt.Sprintf("missing required inputs: %s", strings.Join(missing, ", ")))
		}

		span := pc.Metrics().StartStage(stage.Name)
		p.log.Infof("executing stage: %s", stage.Name)
		err := stage.Run(ctx, pc)
		if err != nil && stage.OnFailure == FailFallback && stage.Fallback != nil {
			p.log.Warnf("stage %s failed, running fallback: %v", stage.Name, err)
			pc.AddWarning(fmt.Sprintf("stage %s fell back after failure: %v", stage.Name, err))
			err = stage.Fallback(ctx, pc)
		}
		if err != nil {
			err = core.WithStage(stage.Name, err)
			span.End(false, 0, string(core.KindOf(err)))
			if stage.OnFailure == FailSkip {
				p.log.Warnf("stage %s failed, skipping: %v", stage.Name, err)
				pc.AddWarning(fmt.Sprintf("stage %s skipped after failure: %v", stage.Name, err))
				continue
			}
			p.log.Errorf("stage %s failed: %v", stage.Name, err)
			return err
		}
		span.End(true, stageItems(pc, stage), "")
	}
	return nil
}

func (p *Pipeline) missingInputs(stage Stage, pc *Context) []string {
	var missing []string
	for _, key := range stage.Requires {
		if !pc.Has(key) {
			missing = append(missing, key)
		}
	}
	return missing
}

// stageItems reports how many items the stage produced, when countable.
func stageItems(pc *Context, stage Stage) int {
	total := 0
	for _, key := range stage.Produces {
		v, ok := pc.Get(key)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case []interface{}:
			total += len(t)
		default:
			total++
		}
	}
	return total
}
