package models

import "github.com/clipforge/video-compositor/internal/metrics"

// Clip is the per-segment normalized MP4 produced by the renderer.
type Clip struct {
	SegmentID string  `json:"segment_id"`
	Index     int     `json:"index"`
	Path      string  `json:"path"`
	Duration  float64 `json:"duration_s"`
	HasAudio  bool    `json:"has_audio"`

	TransitionIn         TransitionType `json:"transition_in"`
	TransitionOut        TransitionType `json:"transition_out"`
	TransitionInApplied  bool           `json:"transition_in_applied"`
	TransitionOutApplied bool           `json:"transition_out_applied"`
}

// Result is what RunJob hands back to the caller.
type Result struct {
	URL       string          `json:"url"`
	LocalPath string          `json:"local_path,omitempty"`
	Metrics   metrics.Summary `json:"metrics"`
}
