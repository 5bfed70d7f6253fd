package compositor

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/clipforge/video-compositor/internal/align"
	"github.com/clipforge/video-compositor/internal/concat"
	"github.com/clipforge/video-compositor/internal/config"
	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/internal/downloader"
	"github.com/clipforge/video-compositor/internal/imagefix"
	"github.com/clipforge/video-compositor/internal/media"
	"github.com/clipforge/video-compositor/internal/metrics"
	"github.com/clipforge/video-compositor/internal/models"
	"github.com/clipforge/video-compositor/internal/pipeline"
	"github.com/clipforge/video-compositor/internal/processor"
	"github.com/clipforge/video-compositor/internal/renderer"
	"github.com/clipforge/video-compositor/internal/resource"
	"github.com/clipforge/video-compositor/internal/uploader"
	"github.com/clipforge/video-compositor/internal/validate"
	"github.com/clipforge/video-compositor/pkg/logger"
)

// Service is the single callable surface of the compositor: it drives a job
// document through validation, download, per-segment rendering, concatenation
// and upload, and releases every per-job resource on the way out.
type Service struct {
	cfg    *config.Config
	log    logger.Logger
	runner media.Runner
	probe  *media.Probe

	validator    *validate.Validator
	downloader   *downloader.Downloader
	fixer        *imagefix.Fixer
	aligner      *align.Aligner
	renderer     *renderer.Renderer
	concatenator *concat.Concatenator
	uploader     *uploader.Uploader
}

// Option overrides a Service collaborator, mainly for tests.
type Option func(*serviceOverrides)

type serviceOverrides struct {
	runner media.Runner
	store  uploader.BlobStore
	search imagefix.SearchClient
}

func WithRunner(r media.Runner) Option {
	return func(o *serviceOverrides) { o.runner = r }
}

func WithBlobStore(store uploader.BlobStore) Option {
	return func(o *serviceOverrides) { o.store = store }
}

func WithSearchClient(sc imagefix.SearchClient) Option {
	return func(o *serviceOverrides) { o.search = sc }
}

func NewService(cfg *config.Config, log logger.Logger, opts ...Option) *Service {
	var o serviceOverrides
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{cfg: cfg, log: log}
	s.runner = o.runner
	if s.runner == nil {
		s.runner = media.NewRunner(log)
	}
	s.probe = media.NewProbe(s.runner)

	s.validator = validate.New(cfg, log)
	s.downloader = downloader.New(cfg, log)

	search := o.search
	if search == nil && cfg.AI.ImageSearchURL != "" {
		search = imagefix.NewSearchClient(cfg.AI.ImageSearchURL, cfg.AI.ImageSearchKey, cfg.AI.Timeout)
	}
	s.fixer = imagefix.NewFixer(cfg, search, s.keywordExtractor(), s.downloader, s.runner, s.log)

	var alignerClient *align.Client
	if cfg.AI.AlignerURL != "" {
		alignerClient = align.NewClient(cfg.AI.AlignerURL, cfg.AI.Timeout, log)
	}
	s.aligner = align.NewAligner(cfg, alignerClient, align.NewSpanSplitter(s.llmClient(), cfg.AI.Model, log), s.probe, log)

	s.renderer = renderer.NewRenderer(cfg, s.runner, s.probe, log)
	s.concatenator = concat.New(cfg, s.runner, s.probe, log)
	s.uploader = uploader.New(cfg, o.store, log)
	return s
}

func (s *Service) llmClient() *openai.Client {
	if !s.cfg.AI.Enabled || s.cfg.AI.APIKey == "" {
		return nil
	}
	if s.cfg.AI.Endpoint != "" {
		clientCfg := openai.DefaultConfig(s.cfg.AI.APIKey)
		clientCfg.BaseURL = s.cfg.AI.Endpoint
		return openai.NewClientWithConfig(clientCfg)
	}
	return openai.NewClient(s.cfg.AI.APIKey)
}

func (s *Service) keywordExtractor() *imagefix.KeywordExtractor {
	return imagefix.NewKeywordExtractor(s.llmClient(), s.cfg.AI.Model, s.cfg.AI.MaxKeywords, s.log)
}

// SetUploaderStore attaches a blob store after construction (used when the
// S3 client is dialed lazily at startup).
func (s *Service) SetUploaderStore(store uploader.BlobStore) {
	s.uploader = uploader.New(s.cfg, store, s.log)
}

// RunJobDoc parses a raw JSON job document and runs it.
func (s *Service) RunJobDoc(ctx context.Context, doc []byte) (*models.Result, error) {
	var job models.Job
	if err := json.Unmarshal(doc, &job); err != nil {
		return nil, core.WrapError(core.KindValidation, err, "job document is not valid JSON")
	}
	return s.RunJob(ctx, &job)
}

// RunJob executes the full composition pipeline for one job. The caller's
// ctx carries cancellation and deadlines; on cancellation in-flight work is
// abandoned, the scope is released and Cancelled is returned.
func (s *Service) RunJob(ctx context.Context, job *models.Job) (*models.Result, error) {
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	collector := metrics.NewCollector()

	scope, err := resource.NewScope(s.cfg.TempDir, job.JobID, s.log)
	if err != nil {
		return nil, core.WrapError(core.KindResource, err, "failed to set up job scope")
	}
	defer scope.Release()

	pc := pipeline.NewContext(job.JobID, scope, collector)
	if err := pc.Set(pipeline.KeyJob, job); err != nil {
		return nil, err
	}

	if err := s.buildPipeline().Execute(ctx, pc); err != nil {
		result := &models.Result{Metrics: collector.Summary()}
		if preserved, ok := pc.Meta("preserved_local_path"); ok {
			result.LocalPath, _ = preserved.(string)
		}
		return result, err
	}

	url, _ := pc.Get(pipeline.KeyUploadURL)
	finalPath, _ := pc.Get(pipeline.KeyFinalClipPath)
	result := &models.Result{Metrics: collector.Summary()}
	result.URL, _ = url.(string)
	result.LocalPath, _ = finalPath.(string)
	s.log.Infof("job %s completed: %s", job.JobID, result.URL)
	return result, nil
}

// buildPipeline assembles the stage list. The image fixer, the text aligner
// and the uploader are optional stages controlled by settings flags.
func (s *Service) buildPipeline() *pipeline.Pipeline {
	p := pipeline.New(s.log)

	p.AddStage(pipeline.Stage{
		Name:     "validate",
		Requires: []string{pipeline.KeyJob},
		Produces: []string{},
		Run:      s.processorStage(s.validator, pipeline.KeyJob, ""),
	})

	p.AddStage(pipeline.Stage{
		Name:     "download",
		Requires: []string{pipeline.KeyJob},
		Produces: []string{pipeline.KeyDownloadedJob},
		Run:      s.processorStage(s.downloader, pipeline.KeyJob, pipeline.KeyDownloadedJob),
	})

	p.AddStage(pipeline.Stage{
		Name:     "image_auto",
		Requires: []string{pipeline.KeyDownloadedJob},
		Produces: []string{pipeline.KeyFixedJob},
		Condition: func(*pipeline.Context) bool {
			return s.cfg.AI.ImageFixEnabled
		},
		Run: s.processorStage(s.fixer, pipeline.KeyDownloadedJob, pipeline.KeyFixedJob),
	})

	p.AddStage(pipeline.Stage{
		Name:     "align_text",
		Requires: []string{pipeline.KeyDownloadedJob},
		Produces: []string{pipeline.KeyAlignedJob},
		Condition: func(*pipeline.Context) bool {
			return s.cfg.AI.AlignEnabled
		},
		Run:       s.processorStage(s.aligner, s.latestJobKey(pipeline.KeyFixedJob, pipeline.KeyDownloadedJob), pipeline.KeyAlignedJob),
		OnFailure: pipeline.FailSkip,
	})

	p.AddStage(pipeline.Stage{
		Name:     "render_segments",
		Requires: []string{pipeline.KeyDownloadedJob},
		Produces: []string{pipeline.KeySegmentClips},
		Run: func(ctx context.Context, pc *pipeline.Context) error {
			input, _ := pc.Get(s.latestJobKeyIn(pc))
			out, err := s.renderer.Process(ctx, input, pc)
			if err != nil {
				return err
			}
			return pc.Set(pipeline.KeySegmentClips, out)
		},
	})

	p.AddStage(pipeline.Stage{
		Name:     "concatenate",
		Requires: []string{pipeline.KeySegmentClips},
		Produces: []string{pipeline.KeyFinalClipPath},
		Run: func(ctx context.Context, pc *pipeline.Context) error {
			clips, _ := pc.Get(pipeline.KeySegmentClips)
			out, err := s.concatenator.Process(ctx, clips, pc)
			if err != nil {
				return err
			}
			return pc.Set(pipeline.KeyFinalClipPath, out)
		},
	})

	p.AddStage(pipeline.Stage{
		Name:     "upload",
		Requires: []string{pipeline.KeyFinalClipPath},
		Produces: []string{pipeline.KeyUploadURL},
		Run: func(ctx context.Context, pc *pipeline.Context) error {
			finalPath, _ := pc.Get(pipeline.KeyFinalClipPath)
			out, err := s.uploader.Process(ctx, finalPath, pc)
			if err != nil {
				return err
			}
			return pc.Set(pipeline.KeyUploadURL, out)
		},
	})

	return p
}

// processorStage adapts a processor into a stage body: read the input key,
// invoke the processor, produce the output key. The engine's stage span does
// the timing; errors pick up the processor name as their stage.
func (s *Service) processorStage(p processor.Processor, inputKey, outputKey string) func(context.Context, *pipeline.Context) error {
	return func(ctx context.Context, pc *pipeline.Context) error {
		input, _ := pc.Get(inputKey)
		out, err := p.Process(ctx, input, pc)
		if err != nil {
			return core.WithStage(p.Name(), err)
		}
		if outputKey == "" {
			return nil
		}
		return pc.Set(outputKey, out)
	}
}

// latestJobKey prefers the first key a prior optional stage produced.
func (s *Service) latestJobKey(preferred, fallback string) string {
	// Resolved at execution time by latestJobKeyIn; this variant is used
	// when only one optional producer sits upstream.
	if s.cfg.AI.ImageFixEnabled {
		return preferred
	}
	return fallback
}

// latestJobKeyIn returns the most recent job key present in the context.
func (s *Service) latestJobKeyIn(pc *pipeline.Context) string {
	for _, key := range []string{pipeline.KeyAlignedJob, pipeline.KeyFixedJob, pipeline.KeyDownloadedJob, pipeline.KeyJob} {
		if pc.Has(key) {
			return key
		}
	}
	return pipeline.KeyJob
}
