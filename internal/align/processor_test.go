package align

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clipforge/video-compositor/internal/config"
	"github.com/clipforge/video-compositor/internal/media"
	"github.com/clipforge/video-compositor/internal/metrics"
	"github.com/clipforge/video-compositor/internal/models"
	"github.com/clipforge/video-compositor/internal/pipeline"
	"github.com/clipforge/video-compositor/internal/resource"
	"github.com/clipforge/video-compositor/pkg/logger"
)

type fakeRunner struct {
	durations map[string]float64
}

func (f *fakeRunner) Run(context.Context, string, ...string) error {
	return nil
}

func (f *fakeRunner) Output(_ context.Context, _ string, args ...string) ([]byte, error) {
	path := args[len(args)-1]
	return []byte(fmt.Sprintf("%f\n", f.durations[path])), nil
}

func newAlignTestContext(t *testing.T) *pipeline.Context {
	t.Helper()
	scope, err := resource.NewScope(t.TempDir(), "t", logger.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(scope.Release)
	return pipeline.NewContext("t", scope, metrics.NewCollector())
}

func alignTestConfig(alignerURL string) *config.Config {
	cfg, _ := config.LoadConfig()
	cfg.AI.AlignerURL = alignerURL
	return cfg
}

func segmentWithVoice(t *testing.T, content string) (*models.Job, string) {
	t.Helper()
	audio := writeTempAudio(t)
	job := &models.Job{
		Segments: []models.Segment{{
			ID:    "s1",
			Image: &models.ImageRef{AssetRef: models.AssetRef{URL: "http://ex/a.jpg", LocalPath: "/tmp/a.jpg"}},
			VoiceOver: &models.AudioRef{
				AssetRef: models.AssetRef{URL: "http://ex/a.mp3", LocalPath: audio},
				Content:  content,
			},
		}},
	}
	return job, audio
}

func TestAlignerFallsBackToUniformOnOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	job, audio := segmentWithVoice(t, "Hello world foo")
	cfg := alignTestConfig(srv.URL)
	runner := &fakeRunner{durations: map[string]float64{audio: 3.0}}
	probe := media.NewProbe(runner)
	client := NewClient(srv.URL, cfg.AI.Timeout, logger.NewNopLogger())
	a := NewAligner(cfg, client, NewSpanSplitter(nil, "", logger.NewNopLogger()), probe, logger.NewNopLogger())
	pc := newAlignTestContext(t)

	out, err := a.Process(context.Background(), job, pc)
	if err != nil {
		t.Fatalf("outage must not fail the pipeline: %v", err)
	}
	got := out.(*models.Job)
	overlays := got.Segments[0].TextOver
	if len(overlays) == 0 {
		t.Fatal("no overlays generated")
	}
	if pc.Metrics().Counter("aligner_unavailable") != 1 {
		t.Error("aligner outage not counted")
	}
	// Uniform distribution covers the whole voice-over.
	if overlays[0].Start != 0 {
		t.Errorf("first overlay starts at %f", overlays[0].Start)
	}
	if math.Abs(overlays[len(overlays)-1].End-3.0) > 1e-9 {
		t.Errorf("last overlay ends at %f, want 3.0", overlays[len(overlays)-1].End)
	}
}

func TestAlignerUsesWordTimestamps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"words": []map[string]interface{}{
				{"word": "Hello", "start": 0.2, "end": 0.6, "case": "success"},
				{"word": "world", "start": 0.7, "end": 1.1, "case": "success"},
				{"word": "foo", "start": 1.5, "end": 1.9, "case": "success"},
			},
		})
	}))
	defer srv.Close()

	job, audio := segmentWithVoice(t, "Hello world foo")
	cfg := alignTestConfig(srv.URL)
	runner := &fakeRunner{durations: map[string]float64{audio: 2.0}}
	a := NewAligner(cfg, NewClient(srv.URL, cfg.AI.Timeout, logger.NewNopLogger()),
		NewSpanSplitter(nil, "", logger.NewNopLogger()), media.NewProbe(runner), logger.NewNopLogger())
	pc := newAlignTestContext(t)

	out, err := a.Process(context.Background(), job, pc)
	if err != nil {
		t.Fatal(err)
	}
	overlays := out.(*models.Job).Segments[0].TextOver
	if len(overlays) != 1 {
		t.Fatalf("expected one span for a 3-word transcript, got %d", len(overlays))
	}
	if overlays[0].Start != 0.2 || overlays[0].End != 1.9 {
		t.Errorf("span window [%f, %f], want [0.2, 1.9]", overlays[0].Start, overlays[0].End)
	}
}

func TestAlignerSkipsAuthoredOverlays(t *testing.T) {
	job, audio := segmentWithVoice(t, "Hello world")
	job.Segments[0].TextOver = []models.TextOverlay{{Text: "authored", Start: 0, End: 1}}
	cfg := alignTestConfig("")
	runner := &fakeRunner{durations: map[string]float64{audio: 2.0}}
	a := NewAligner(cfg, nil, NewSpanSplitter(nil, "", logger.NewNopLogger()), media.NewProbe(runner), logger.NewNopLogger())
	pc := newAlignTestContext(t)

	out, err := a.Process(context.Background(), job, pc)
	if err != nil {
		t.Fatal(err)
	}
	overlays := out.(*models.Job).Segments[0].TextOver
	if len(overlays) != 1 || overlays[0].Text != "authored" {
		t.Errorf("authored overlays were touched: %+v", overlays)
	}
}
