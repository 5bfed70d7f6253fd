package uploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/clipforge/video-compositor/internal/config"
	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/internal/pipeline"
	"github.com/clipforge/video-compositor/internal/processor"
	"github.com/clipforge/video-compositor/pkg/logger"
)

// BlobStore is the blob sink the uploader pushes final artifacts into.
// Put is idempotent by key.
type BlobStore interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	URL(bucket, region, key string) string
}

// Uploader pushes the final MP4 to the blob sink. Transient sink errors are
// retried with backoff; a permanent failure surfaces as an UploadError while
// the local file is preserved for the caller to recover.
type Uploader struct {
	cfg   *config.Config
	store BlobStore
	retry core.RetryPolicy
	log   logger.Logger
	now   func() time.Time
}

func New(cfg *config.Config, store BlobStore, log logger.Logger) *Uploader {
	return &Uploader{
		cfg:   cfg,
		store: store,
		retry: core.RetryPolicy{
			MaxAttempts: cfg.Storage.MaxAttempts,
			BaseDelay:   cfg.Storage.BaseDelay,
			Jitter:      0.2,
		},
		log: log,
		now: time.Now,
	}
}

func (u *Uploader) Name() string         { return "upload" }
func (u *Uploader) Kind() processor.Kind { return processor.IOBound }

func (u *Uploader) Process(ctx context.Context, input interface{}, pc *pipeline.Context) (interface{}, error) {
	localPath, ok := input.(string)
	if !ok || localPath == "" {
		return nil, core.NewError(core.KindUpload, "upload input must be the final clip path")
	}
	return u.Upload(ctx, localPath, pc)
}

func (u *Uploader) Upload(ctx context.Context, localPath string, pc *pipeline.Context) (string, error) {
	if !u.cfg.Storage.Enabled || u.store == nil {
		u.log.Infof("storage disabled, keeping %s local", localPath)
		pc.Metrics().Inc("upload_skipped", 1)
		return "local://" + localPath, nil
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return "", core.WrapError(core.KindUpload, err, "final clip is not readable")
	}

	key := fmt.Sprintf("%s%s_%s.mp4",
		u.cfg.Storage.KeyPrefix, pc.JobID(), u.now().UTC().Format("20060102T150405Z"))

	err = u.retry.Do(ctx, func(ctx context.Context) error {
		f, openErr := os.Open(localPath)
		if openErr != nil {
			return core.Permanent(errors.Wrap(openErr, "open final clip"))
		}
		defer f.Close()

		putCtx, cancel := context.WithTimeout(ctx, u.cfg.Storage.Timeout)
		defer cancel()
		return u.store.Put(putCtx, u.cfg.Storage.Bucket, key, f, info.Size(), "video/mp4")
	})
	if err != nil {
		// The rendered file stays on disk long enough for the caller to
		// recover it; the path rides along in the context metadata.
		pc.SetMeta("preserved_local_path", localPath)
		return "", core.WrapError(core.KindUpload, err,
			fmt.Sprintf("upload failed after retries, local file preserved at %s", localPath))
	}

	url := u.store.URL(u.cfg.Storage.Bucket, u.cfg.Storage.Region, key)
	u.log.Infof("uploaded final clip to %s", url)
	pc.Metrics().Inc("uploads_completed", 1)
	return url, nil
}
