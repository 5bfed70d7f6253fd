package metrics

import (
	"sync"
	"time"
)

// StageMetric records a single stage invocation.
type StageMetric struct {
	Stage          string    `json:"stage"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Success        bool      `json:"success"`
	ItemsProcessed int       `json:"items_processed"`
	ErrKind        string    `json:"err_kind,omitempty"`
}

func (m StageMetric) Duration() time.Duration {
	if m.End.IsZero() {
		return time.Since(m.Start)
	}
	return m.End.Sub(m.Start)
}

// Collector accumulates stage metrics and counters for one job. It is off
// the critical path: a mutex-protected append, summarized at the end.
type Collector struct {
	mu       sync.Mutex
	metrics  []StageMetric
	counters map[string]int
}

func NewCollector() *Collector {
	return &Collector{counters: make(map[string]int)}
}

// Span tracks one in-flight stage invocation.
type Span struct {
	c     *Collector
	stage string
	start time.Time
	done  bool
}

func (c *Collector) StartStage(stage string) *Span {
	return &Span{c: c, stage: stage, start: time.Now()}
}

// End closes the span and records it. Calling End twice records once.
func (s *Span) End(success bool, items int, errKind string) {
	if s.done {
		return
	}
	s.done = true
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.metrics = append(s.c.metrics, StageMetric{
		Stage:          s.stage,
		Start:          s.start,
		End:            time.Now(),
		Success:        success,
		ItemsProcessed: items,
		ErrKind:        errKind,
	})
}

func (c *Collector) Inc(name string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += delta
}

func (c *Collector) Counter(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

// Summary is the aggregate view returned to the caller with the job result.
type Summary struct {
	TotalDuration      time.Duration      `json:"total_duration"`
	Total              int                `json:"total"`
	Successful         int                `json:"successful"`
	Failed             int                `json:"failed"`
	TotalItems         int                `json:"total_items"`
	AvgDurationByStage map[string]float64 `json:"avg_duration_by_stage"`
	FailedStages       []string           `json:"failed_stages,omitempty"`
	Stages             []StageMetric      `json:"stages"`
	Counters           map[string]int     `json:"counters"`
}

func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		AvgDurationByStage: make(map[string]float64),
		Counters:           make(map[string]int, len(c.counters)),
	}
	for k, v := range c.counters {
		s.Counters[k] = v
	}
	if len(c.metrics) == 0 {
		return s
	}

	var first, last time.Time
	durSum := make(map[string]time.Duration)
	durCount := make(map[string]int)
	for _, m := range c.metrics {
		s.Total++
		s.TotalItems += m.ItemsProcessed
		if m.Success {
			s.Successful++
		} else {
			s.Failed++
			s.FailedStages = append(s.FailedStages, m.Stage)
		}
		durSum[m.Stage] += m.Duration()
		durCount[m.Stage]++
		if first.IsZero() || m.Start.Before(first) {
			first = m.Start
		}
		if m.End.After(last) {
			last = m.End
		}
		s.Stages = append(s.Stages, m)
	}
	for stage, sum := range durSum {
		s.AvgDurationByStage[stage] = sum.Seconds() / float64(durCount[stage])
	}
	s.TotalDuration = last.Sub(first)
	return s
}
