package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/clipforge/video-compositor/internal/compositor"
	"github.com/clipforge/video-compositor/internal/config"
	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/internal/queue"
	"github.com/clipforge/video-compositor/internal/uploader"
	"github.com/clipforge/video-compositor/pkg/db/aws"
	clientRedis "github.com/clipforge/video-compositor/pkg/db/redis"
	"github.com/clipforge/video-compositor/pkg/logger"
	"github.com/clipforge/video-compositor/pkg/utils"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("loadConfig: %v", err)
	}

	appLogger := logger.NewApiLogger(cfg)
	appLogger.InitLogger()
	appLogger.Infof("LogLevel: %s, TempDir: %s, Queue: %s", cfg.Logger.Level, cfg.TempDir, cfg.Redis.JobQueueKey)

	service := compositor.NewService(cfg, appLogger)

	if cfg.Storage.Enabled {
		s3Client, err := aws.NewS3Client(context.Background(),
			cfg.Storage.Endpoint, cfg.Storage.Region, cfg.Storage.AccessKey, cfg.Storage.SecretKey)
		if err != nil {
			appLogger.Fatalf("could not connect to s3: %v", err)
		}
		service.SetUploaderStore(uploader.NewS3Store(s3Client))
		appLogger.Info("s3 storage connected")
	}

	redisClient := clientRedis.NewRedisClient(cfg)
	jobQueue := queue.NewRedisQueue(redisClient, cfg.Redis.JobQueueKey)
	appLogger.Info("redis connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("shutting down...")
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if canAccept, usage := utils.CheckCPUUsage(cfg.Worker.MaxCPUUsage); !canAccept {
				appLogger.Infof("CPU usage %.2f%% too high, waiting...", usage)
				sleep(ctx, cfg.Worker.PollInterval)
				continue
			}
			job, err := jobQueue.PopJob(ctx, cfg.Worker.PollInterval)
			if err != nil {
				if err != queue.ErrEmpty && ctx.Err() == nil {
					appLogger.Errorf("failed to fetch job: %v", err)
					sleep(ctx, cfg.Worker.PollInterval)
				}
				continue
			}

			appLogger.Infof("processing job %s (%d segments)", job.JobID, len(job.Segments))
			result, err := service.RunJob(ctx, job)
			if err != nil {
				var ce *core.Error
				if errors.As(err, &ce) {
					appLogger.Errorf("job %s failed at stage %q (kind=%s, segment=%q): %s %s",
						job.JobID, ce.Stage, ce.Kind, ce.SegmentID, ce.Message, ce.CauseSummary())
				} else {
					appLogger.Errorf("job %s failed: %v", job.JobID, err)
				}
				continue
			}
			appLogger.Infof("job %s completed in %.2fs: %s",
				job.JobID, result.Metrics.TotalDuration.Seconds(), result.URL)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
