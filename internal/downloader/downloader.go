package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/clipforge/video-compositor/internal/config"
	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/internal/models"
	"github.com/clipforge/video-compositor/internal/pipeline"
	"github.com/clipforge/video-compositor/internal/processor"
	"github.com/clipforge/video-compositor/internal/resource"
	"github.com/clipforge/video-compositor/pkg/logger"
)

// Downloader materializes every asset reference of a job into the job's
// resource scope. References sharing a URL download once; local paths pass
// through after a readability check.
type Downloader struct {
	cfg    *config.Config
	client *http.Client
	retry  core.RetryPolicy
	log    logger.Logger
}

func New(cfg *config.Config, log logger.Logger) *Downloader {
	return &Downloader{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Download.Timeout,
		},
		retry: core.RetryPolicy{
			MaxAttempts: cfg.Download.MaxAttempts,
			BaseDelay:   cfg.Download.BaseDelay,
			Jitter:      0.2,
		},
		log: log,
	}
}

func (d *Downloader) Name() string         { return "download" }
func (d *Downloader) Kind() processor.Kind { return processor.IOBound }

func (d *Downloader) Process(ctx context.Context, input interface{}, pc *pipeline.Context) (interface{}, error) {
	job, ok := input.(*models.Job)
	if !ok {
		return nil, core.NewError(core.KindDownload, "download input must be a job")
	}
	if err := d.DownloadAssets(ctx, job, pc); err != nil {
		return nil, err
	}
	return job, nil
}

// target is one unique URL plus every reference bound to it.
type target struct {
	url      string
	dest     string
	bindings []models.AssetBinding
}

// DownloadAssets fetches all referenced assets with bounded concurrency and
// sets LocalPath on every reference. A failed required asset is fatal; a
// failed image is tolerated when the auto-fixer is enabled downstream.
func (d *Downloader) DownloadAssets(ctx context.Context, job *models.Job, pc *pipeline.Context) error {
	scope := pc.Scope()
	refs := job.AssetRefs()

	var targets []*target
	byURL := make(map[string]*target)
	for _, b := range refs {
		if isLocal(b.Ref.URL) {
			if err := d.resolveLocal(b); err != nil {
				if d.tolerable(b.Kind) {
					d.warnImage(pc, b, err)
					continue
				}
				return err
			}
			continue
		}
		t, seen := byURL[b.Ref.URL]
		if !seen {
			t = &target{url: b.Ref.URL, dest: scope.Path(destName(b))}
			byURL[b.Ref.URL] = t
			targets = append(targets, t)
		}
		t.bindings = append(t.bindings, b)
	}

	sem := semaphore.NewWeighted(int64(d.cfg.Download.MaxConcurrent))
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			return core.WithStage("download", err)
		}
		wg.Add(1)
		go func(i int, t *target) {
			defer wg.Done()
			defer sem.Release(1)
			errs[i] = d.retry.Do(ctx, func(ctx context.Context) error {
				return d.fetch(ctx, t)
			})
		}(i, t)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return core.WithStage("download", err)
	}

	downloaded := 0
	for i, t := range targets {
		if errs[i] != nil {
			if d.allTolerable(t) {
				for _, b := range t.bindings {
					d.warnImage(pc, b, errs[i])
				}
				continue
			}
			seg := t.bindings[0].SegmentID
			return &core.Error{
				Kind:      core.KindAsset,
				SegmentID: seg,
				Message:   fmt.Sprintf("required asset %s failed to download", t.url),
				Cause:     errs[i],
			}
		}
		for _, b := range t.bindings {
			b.Ref.LocalPath = t.dest
		}
		downloaded++
	}
	pc.Metrics().Inc("assets_downloaded", downloaded)
	return nil
}

// FetchOne downloads a single reference into the scope, outside the batch
// walk. Used by the image auto-fixer to materialize substitutes.
func (d *Downloader) FetchOne(ctx context.Context, b models.AssetBinding, scope *resource.Scope) error {
	if isLocal(b.Ref.URL) {
		return d.resolveLocal(b)
	}
	t := &target{url: b.Ref.URL, dest: scope.Path(destName(b)), bindings: []models.AssetBinding{b}}
	if err := d.retry.Do(ctx, func(ctx context.Context) error {
		return d.fetch(ctx, t)
	}); err != nil {
		return core.WrapError(core.KindDownload, err, fmt.Sprintf("failed to fetch %s", b.Ref.URL))
	}
	b.Ref.LocalPath = t.dest
	return nil
}

func (d *Downloader) fetch(ctx context.Context, t *target) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return core.Permanent(errors.Wrapf(err, "invalid url %s", t.url))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", t.url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := errors.Errorf("GET %s: status %d", t.url, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return core.Permanent(err)
		}
		return err
	}

	maxBytes := d.cfg.Download.MaxSizeMB * 1024 * 1024
	if resp.ContentLength > 0 && resp.ContentLength > maxBytes {
		return core.Permanent(errors.Errorf("%s exceeds size cap: %d bytes", t.url, resp.ContentLength))
	}
	if d.cfg.Download.VerifyMediaType {
		if err := checkMediaType(resp.Header.Get("Content-Type"), t.bindings[0].Kind); err != nil {
			return core.Permanent(err)
		}
	}

	f, err := os.Create(t.dest)
	if err != nil {
		return core.Permanent(errors.Wrapf(err, "create %s", t.dest))
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		os.Remove(t.dest)
		return errors.Wrapf(err, "write %s", t.dest)
	}
	if n > maxBytes {
		os.Remove(t.dest)
		return core.Permanent(errors.Errorf("%s exceeds size cap during transfer", t.url))
	}
	return nil
}

func (d *Downloader) resolveLocal(b models.AssetBinding) error {
	info, err := os.Stat(b.Ref.URL)
	if err != nil || info.IsDir() {
		return &core.Error{
			Kind:      core.KindAsset,
			SegmentID: b.SegmentID,
			Message:   fmt.Sprintf("local asset %s is not a readable file", b.Ref.URL),
			Cause:     err,
		}
	}
	b.Ref.LocalPath = b.Ref.URL
	return nil
}

func (d *Downloader) tolerable(kind models.AssetKind) bool {
	return kind == models.AssetImage && d.cfg.AI.ImageFixEnabled
}

func (d *Downloader) allTolerable(t *target) bool {
	for _, b := range t.bindings {
		if !d.tolerable(b.Kind) {
			return false
		}
	}
	return true
}

func (d *Downloader) warnImage(pc *pipeline.Context, b models.AssetBinding, err error) {
	d.log.Warnf("image for segment %s unavailable (%s), deferring to auto-fixer: %v", b.SegmentID, b.Ref.URL, err)
	pc.AddWarning(fmt.Sprintf("segment %s: image %s unavailable", b.SegmentID, b.Ref.URL))
	pc.Metrics().Inc("image_download_failed", 1)
}

func isLocal(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	return u.Scheme != "http" && u.Scheme != "https"
}

func destName(b models.AssetBinding) string {
	sum := sha256.Sum256([]byte(b.Ref.URL))
	return hex.EncodeToString(sum[:]) + extFor(b)
}

func extFor(b models.AssetBinding) string {
	if u, err := url.Parse(b.Ref.URL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return strings.ToLower(ext)
		}
	}
	switch b.Kind {
	case models.AssetImage:
		return ".jpg"
	case models.AssetVideo:
		return ".mp4"
	default:
		return ".mp3"
	}
}

func checkMediaType(contentType string, kind models.AssetKind) error {
	var prefix string
	switch kind {
	case models.AssetImage:
		prefix = "image/"
	case models.AssetVideo:
		prefix = "video/"
	case models.AssetAudio, models.AssetMusic:
		prefix = "audio/"
	default:
		return nil
	}
	if contentType == "" || strings.HasPrefix(contentType, prefix) ||
		strings.HasPrefix(contentType, "application/octet-stream") {
		return nil
	}
	return errors.Errorf("unexpected content type %q for %s asset", contentType, kind)
}
