package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Video.FPS != 24 {
		t.Errorf("expected default fps 24, got %d", cfg.Video.FPS)
	}
	if cfg.Video.Width != 1920 || cfg.Video.Height != 1080 {
		t.Errorf("expected default resolution 1920x1080, got %dx%d", cfg.Video.Width, cfg.Video.Height)
	}
	if cfg.Video.Codec != "libx264" {
		t.Errorf("expected default codec libx264, got %q", cfg.Video.Codec)
	}
	if cfg.Download.MaxConcurrent != 8 {
		t.Errorf("expected default download concurrency 8, got %d", cfg.Download.MaxConcurrent)
	}
	if cfg.Download.Timeout != 60*time.Second {
		t.Errorf("expected default download timeout 60s, got %v", cfg.Download.Timeout)
	}
	if cfg.Performance.MaxConcurrentSegments != 4 {
		t.Errorf("expected default segment concurrency 4, got %d", cfg.Performance.MaxConcurrentSegments)
	}
	if cfg.Performance.StrictMode {
		t.Error("strict mode should default to off")
	}
	if cfg.Audio.BGMVolume != 0.2 {
		t.Errorf("expected default bgm volume 0.2, got %f", cfg.Audio.BGMVolume)
	}
	if cfg.Storage.Enabled {
		t.Error("storage should default to disabled")
	}
	if cfg.Redis.JobQueueKey != "composition_jobs" {
		t.Errorf("unexpected default queue key %q", cfg.Redis.JobQueueKey)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("VC_VIDEO_FPS", "30")
	t.Setenv("VC_DOWNLOAD_MAXCONCURRENT", "2")
	t.Setenv("VC_PERFORMANCE_STRICTMODE", "true")
	t.Setenv("VC_STORAGE_BUCKET", "clips")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Video.FPS != 30 {
		t.Errorf("env override for fps not applied, got %d", cfg.Video.FPS)
	}
	if cfg.Download.MaxConcurrent != 2 {
		t.Errorf("env override for download concurrency not applied, got %d", cfg.Download.MaxConcurrent)
	}
	if !cfg.Performance.StrictMode {
		t.Error("env override for strict mode not applied")
	}
	if cfg.Storage.Bucket != "clips" {
		t.Errorf("env override for bucket not applied, got %q", cfg.Storage.Bucket)
	}
}
