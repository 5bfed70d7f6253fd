package uploader

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/clipforge/video-compositor/internal/config"
	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/internal/metrics"
	"github.com/clipforge/video-compositor/internal/pipeline"
	"github.com/clipforge/video-compositor/internal/resource"
	"github.com/clipforge/video-compositor/pkg/logger"
)

type fakeStore struct {
	failures int
	puts     int
	lastKey  string
	lastSize int64
}

func (f *fakeStore) Put(_ context.Context, _, key string, body io.Reader, size int64, _ string) error {
	f.puts++
	f.lastKey = key
	f.lastSize = size
	if f.puts <= f.failures {
		return errors.New("503 slow down")
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return err
	}
	return nil
}

func (f *fakeStore) URL(bucket, region, key string) string {
	return "https://" + bucket + ".s3." + region + ".amazonaws.com/" + key
}

func uploadContext(t *testing.T) *pipeline.Context {
	t.Helper()
	scope, err := resource.NewScope(t.TempDir(), "job9", logger.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(scope.Release)
	return pipeline.NewContext("job9", scope, metrics.NewCollector())
}

func uploadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Storage.Enabled = true
	cfg.Storage.Bucket = "clips"
	cfg.Storage.MaxAttempts = 3
	cfg.Storage.BaseDelay = time.Millisecond
	return cfg
}

func writeFinal(t *testing.T, pc *pipeline.Context) string {
	t.Helper()
	path := pc.Scope().Path("final_job9.mp4")
	if err := os.WriteFile(path, []byte("final-video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUploadRetriesTransientFailures(t *testing.T) {
	store := &fakeStore{failures: 2}
	cfg := uploadConfig(t)
	u := New(cfg, store, logger.NewNopLogger())
	u.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	pc := uploadContext(t)
	path := writeFinal(t, pc)

	url, err := u.Upload(context.Background(), path, pc)
	if err != nil {
		t.Fatalf("upload failed after retries: %v", err)
	}
	if store.puts != 3 {
		t.Errorf("expected 3 attempts, got %d", store.puts)
	}
	if !strings.HasPrefix(url, "https://clips.s3.") {
		t.Errorf("unexpected url %q", url)
	}
	// Key derives from job id and timestamp and stays stable across retries.
	if !strings.Contains(store.lastKey, "job9_20250601T120000Z") {
		t.Errorf("unexpected key %q", store.lastKey)
	}
	if store.lastSize != int64(len("final-video")) {
		t.Errorf("size not forwarded: %d", store.lastSize)
	}
}

func TestUploadPermanentFailurePreservesLocalFile(t *testing.T) {
	store := &fakeStore{failures: 99}
	cfg := uploadConfig(t)
	u := New(cfg, store, logger.NewNopLogger())
	pc := uploadContext(t)
	path := writeFinal(t, pc)

	_, err := u.Upload(context.Background(), path, pc)
	if core.KindOf(err) != core.KindUpload {
		t.Fatalf("expected upload error, got %v", err)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Error("local file was not preserved")
	}
	preserved, ok := pc.Meta("preserved_local_path")
	if !ok || preserved.(string) != path {
		t.Errorf("preserved path not recorded: %v", preserved)
	}
}

func TestUploadSkippedWhenStorageDisabled(t *testing.T) {
	cfg := uploadConfig(t)
	cfg.Storage.Enabled = false
	u := New(cfg, nil, logger.NewNopLogger())
	pc := uploadContext(t)
	path := writeFinal(t, pc)

	url, err := u.Upload(context.Background(), path, pc)
	if err != nil {
		t.Fatal(err)
	}
	if url != "local://"+path {
		t.Errorf("expected local fallback url, got %q", url)
	}
	if pc.Metrics().Counter("upload_skipped") != 1 {
		t.Error("skip not counted")
	}
}
