package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"

	"github.com/clipforge/video-compositor/internal/config"
	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/internal/metrics"
	"github.com/clipforge/video-compositor/internal/models"
	"github.com/clipforge/video-compositor/internal/pipeline"
	"github.com/clipforge/video-compositor/internal/resource"
	"github.com/clipforge/video-compositor/pkg/logger"
)

func newDownloadContext(t *testing.T) *pipeline.Context {
	t.Helper()
	scope, err := resource.NewScope(t.TempDir(), "dl", logger.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(scope.Release)
	return pipeline.NewContext("dl", scope, metrics.NewCollector())
}

func downloadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Download.MaxAttempts = 1
	return cfg
}

func TestDownloadSetsLocalPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload-" + r.URL.Path))
	}))
	defer srv.Close()

	job := &models.Job{
		Segments: []models.Segment{{
			ID:        "s1",
			Image:     &models.ImageRef{AssetRef: models.AssetRef{URL: srv.URL + "/a.jpg"}},
			VoiceOver: &models.AudioRef{AssetRef: models.AssetRef{URL: srv.URL + "/a.mp3"}},
		}},
		BackgroundMusic: &models.BackgroundMusic{AssetRef: models.AssetRef{URL: srv.URL + "/bgm.mp3"}},
	}
	d := New(downloadConfig(t), logger.NewNopLogger())
	pc := newDownloadContext(t)
	if err := d.DownloadAssets(context.Background(), job, pc); err != nil {
		t.Fatal(err)
	}

	for _, b := range job.AssetRefs() {
		if b.Ref.LocalPath == "" {
			t.Errorf("%s asset has no local path", b.Kind)
			continue
		}
		if filepath.Dir(b.Ref.LocalPath) != pc.Scope().TempDir() {
			t.Errorf("asset stored outside the scope: %s", b.Ref.LocalPath)
		}
		if _, err := os.Stat(b.Ref.LocalPath); err != nil {
			t.Errorf("asset file missing: %v", err)
		}
	}
}

func TestDownloadDeduplicatesByURL(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte("img"))
	}))
	defer srv.Close()

	shared := srv.URL + "/shared.jpg"
	job := &models.Job{
		Segments: []models.Segment{
			{ID: "a", Image: &models.ImageRef{AssetRef: models.AssetRef{URL: shared}}},
			{ID: "b", Image: &models.ImageRef{AssetRef: models.AssetRef{URL: shared}}},
			{ID: "c", Image: &models.ImageRef{AssetRef: models.AssetRef{URL: shared}}},
		},
	}
	d := New(downloadConfig(t), logger.NewNopLogger())
	pc := newDownloadContext(t)
	if err := d.DownloadAssets(context.Background(), job, pc); err != nil {
		t.Fatal(err)
	}
	if hits != 1 {
		t.Errorf("same url fetched %d times, want 1", hits)
	}
	first := job.Segments[0].Image.LocalPath
	for i, seg := range job.Segments {
		if seg.Image.LocalPath != first {
			t.Errorf("segment %d resolved to a different file", i)
		}
	}
}

func TestLocalPathPassThrough(t *testing.T) {
	local := filepath.Join(t.TempDir(), "local.jpg")
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	job := &models.Job{
		Segments: []models.Segment{{
			ID:    "s1",
			Image: &models.ImageRef{AssetRef: models.AssetRef{URL: local}},
		}},
	}
	cfg := downloadConfig(t)
	cfg.AI.ImageFixEnabled = false
	d := New(cfg, logger.NewNopLogger())
	pc := newDownloadContext(t)
	if err := d.DownloadAssets(context.Background(), job, pc); err != nil {
		t.Fatal(err)
	}
	if job.Segments[0].Image.LocalPath != local {
		t.Errorf("local path not passed through: %q", job.Segments[0].Image.LocalPath)
	}
}

func TestMissingRequiredAssetIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	job := &models.Job{
		Segments: []models.Segment{{
			ID:        "s1",
			Image:     &models.ImageRef{AssetRef: models.AssetRef{URL: srv.URL + "/ok.jpg"}},
			VoiceOver: &models.AudioRef{AssetRef: models.AssetRef{URL: srv.URL + "/gone.mp3"}},
		}},
	}
	d := New(downloadConfig(t), logger.NewNopLogger())
	pc := newDownloadContext(t)
	err := d.DownloadAssets(context.Background(), job, pc)
	if core.KindOf(err) != core.KindAsset {
		t.Fatalf("expected asset error, got %v", err)
	}
	var ce *core.Error
	if errors.As(err, &ce) && ce.SegmentID != "s1" {
		t.Errorf("segment id not carried: %+v", ce)
	}
}

func TestMissingImageToleratedWhenFixerEnabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	job := &models.Job{
		Segments: []models.Segment{{
			ID:        "s1",
			Image:     &models.ImageRef{AssetRef: models.AssetRef{URL: srv.URL + "/gone.jpg"}},
			VoiceOver: &models.AudioRef{AssetRef: models.AssetRef{URL: srv.URL + "/voice.mp3"}},
		}},
	}
	cfg := downloadConfig(t)
	cfg.AI.ImageFixEnabled = true
	d := New(cfg, logger.NewNopLogger())
	pc := newDownloadContext(t)
	if err := d.DownloadAssets(context.Background(), job, pc); err != nil {
		t.Fatalf("tolerable image failure aborted the download: %v", err)
	}
	if job.Segments[0].Image.LocalPath != "" {
		t.Error("failed image should stay unresolved for the fixer")
	}
	if job.Segments[0].VoiceOver.LocalPath == "" {
		t.Error("voice-over should have downloaded")
	}
	if len(pc.Warnings()) == 0 {
		t.Error("image failure not surfaced as warning")
	}
}

func TestSizeCapEnforced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(make([]byte, 2<<20))
	}))
	defer srv.Close()

	cfg := downloadConfig(t)
	cfg.Download.MaxSizeMB = 1
	cfg.AI.ImageFixEnabled = false
	job := &models.Job{
		Segments: []models.Segment{{
			ID:    "s1",
			Image: &models.ImageRef{AssetRef: models.AssetRef{URL: srv.URL + "/huge.jpg"}},
		}},
	}
	d := New(cfg, logger.NewNopLogger())
	pc := newDownloadContext(t)
	if err := d.DownloadAssets(context.Background(), job, pc); err == nil {
		t.Fatal("oversized asset accepted")
	}
}

func TestFetchOneResolvesSubstitute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("substitute"))
	}))
	defer srv.Close()

	ref := &models.AssetRef{URL: srv.URL + "/sub.jpg"}
	d := New(downloadConfig(t), logger.NewNopLogger())
	pc := newDownloadContext(t)
	b := models.AssetBinding{Ref: ref, Kind: models.AssetImage, SegmentID: "s1"}
	if err := d.FetchOne(context.Background(), b, pc.Scope()); err != nil {
		t.Fatal(err)
	}
	if ref.LocalPath == "" {
		t.Fatal("substitute not resolved")
	}
	data, err := os.ReadFile(ref.LocalPath)
	if err != nil || string(data) != "substitute" {
		t.Errorf("substitute content wrong: %q %v", data, err)
	}
}
