package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the single source of configuration for the compositor. It is
// loaded once at process start from environment variables (prefix VC_) and is
// immutable afterwards.
type Config struct {
	Download    DownloadConfig
	Video       VideoConfig
	Audio       AudioConfig
	Text        TextConfig
	Performance PerformanceConfig
	AI          AIConfig
	Storage     StorageConfig
	Redis       RedisConfig
	Logger      LoggerConfig
	Worker      WorkerConfig
	TempDir     string
}

type DownloadConfig struct {
	MaxConcurrent   int
	Timeout         time.Duration
	MaxSizeMB       int64
	MaxAttempts     int
	BaseDelay       time.Duration
	VerifyMediaType bool
}

type VideoConfig struct {
	FPS                  int
	Codec                string
	Preset               string
	CRF                  int
	Width                int
	Height               int
	PixFmt               string
	AudioCodec           string
	AudioBitrate         string
	SampleRate           int
	Channels             int
	DefaultImageDuration float64
	MinImageWidth        int
	MinImageHeight       int
}

type AudioConfig struct {
	BGMVolume       float64
	DefaultFadeIn   float64
	DefaultFadeOut  float64
	AutoLevel       bool
	LoopBGM         bool
	VoiceOverVolume float64
}

type TextConfig struct {
	Font         string
	FontSize     int
	FontColor    string
	Position     string
	BoxEnabled   bool
	BoxColor     string
	FadeDuration float64
}

type PerformanceConfig struct {
	MaxConcurrentSegments int
	MaxMemoryMB           int
	StrictMode            bool
}

type AIConfig struct {
	Enabled         bool
	Endpoint        string
	APIKey          string
	Model           string
	MaxKeywords     int
	AlignerURL      string
	AlignEnabled    bool
	ImageSearchURL  string
	ImageSearchKey  string
	ImageFixEnabled bool
	Timeout         time.Duration
}

type StorageConfig struct {
	Enabled     bool
	Endpoint    string
	Region      string
	AccessKey   string
	SecretKey   string
	Bucket      string
	KeyPrefix   string
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

type RedisConfig struct {
	RedisAddr     string
	RedisPassword string
	DB            int
	MinIdleConns  int
	PoolSize      int
	PoolTimeout   int
	JobQueueKey   string
}

type LoggerConfig struct {
	Development bool
	Encoding    string
	Level       string
}

type WorkerConfig struct {
	WorkerCount  int
	MaxCPUUsage  float64
	PollInterval time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tempdir", "")

	v.SetDefault("download.maxconcurrent", 8)
	v.SetDefault("download.timeout", 60*time.Second)
	v.SetDefault("download.maxsizemb", int64(200))
	v.SetDefault("download.maxattempts", 3)
	v.SetDefault("download.basedelay", 500*time.Millisecond)
	v.SetDefault("download.verifymediatype", false)

	v.SetDefault("video.fps", 24)
	v.SetDefault("video.codec", "libx264")
	v.SetDefault("video.preset", "medium")
	v.SetDefault("video.crf", 23)
	v.SetDefault("video.width", 1920)
	v.SetDefault("video.height", 1080)
	v.SetDefault("video.pixfmt", "yuv420p")
	v.SetDefault("video.audiocodec", "aac")
	v.SetDefault("video.audiobitrate", "192k")
	v.SetDefault("video.samplerate", 44100)
	v.SetDefault("video.channels", 2)
	v.SetDefault("video.defaultimageduration", 4.0)
	v.SetDefault("video.minimagewidth", 640)
	v.SetDefault("video.minimageheight", 360)

	v.SetDefault("audio.bgmvolume", 0.2)
	v.SetDefault("audio.defaultfadein", 0.0)
	v.SetDefault("audio.defaultfadeout", 0.0)
	v.SetDefault("audio.autolevel", false)
	v.SetDefault("audio.loopbgm", true)
	v.SetDefault("audio.voiceovervolume", 1.0)

	v.SetDefault("text.font", "")
	v.SetDefault("text.fontsize", 42)
	v.SetDefault("text.fontcolor", "white")
	v.SetDefault("text.position", "bottom")
	v.SetDefault("text.boxenabled", true)
	v.SetDefault("text.boxcolor", "black@0.5")
	v.SetDefault("text.fadeduration", 0.0)

	v.SetDefault("performance.maxconcurrentsegments", 4)
	v.SetDefault("performance.maxmemorymb", 2048)
	v.SetDefault("performance.strictmode", false)

	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.endpoint", "")
	v.SetDefault("ai.apikey", "")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.maxkeywords", 5)
	v.SetDefault("ai.alignerurl", "")
	v.SetDefault("ai.alignenabled", true)
	v.SetDefault("ai.imagesearchurl", "")
	v.SetDefault("ai.imagesearchkey", "")
	v.SetDefault("ai.imagefixenabled", true)
	v.SetDefault("ai.timeout", 30*time.Second)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "videos/")
	v.SetDefault("storage.maxattempts", 4)
	v.SetDefault("storage.basedelay", time.Second)
	v.SetDefault("storage.timeout", 120*time.Second)

	v.SetDefault("redis.redisaddr", "localhost:6379")
	v.SetDefault("redis.redispassword", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.minidleconns", 2)
	v.SetDefault("redis.poolsize", 10)
	v.SetDefault("redis.pooltimeout", 30)
	v.SetDefault("redis.jobqueuekey", "composition_jobs")

	v.SetDefault("logger.development", false)
	v.SetDefault("logger.encoding", "json")
	v.SetDefault("logger.level", "info")

	v.SetDefault("worker.workercount", 1)
	v.SetDefault("worker.maxcpuusage", 80.0)
	v.SetDefault("worker.pollinterval", 5*time.Second)
}

// LoadConfig builds the configuration from code defaults overridden by VC_*
// environment variables (VC_VIDEO_FPS=30, VC_DOWNLOAD_MAXCONCURRENT=4, ...).
// The environment is the only configuration source.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("VC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}
