// Package config provides configuration management for clipsight using Viper.
// Configuration is read from environment variables and an optional YAML file;
// environment variables take precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clipsight/clipsight/pkg/bytesize"
)

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 30 * time.Second
	defaultMaxOpenConns        = 25
	defaultMaxIdleConns        = 5
	defaultConnMaxLifetime     = 5 * time.Minute
	defaultQueueName           = "video-analysis"
	defaultJobAttempts         = 3
	defaultBackoffDelay        = 5 * time.Second
	defaultLeaseDuration       = 60 * time.Second
	defaultStalledInterval     = 30 * time.Second
	defaultMaxStalledCount     = 3
	defaultKeepCompleted       = 100
	defaultKeepFailed          = 500
	defaultWorkerConcurrency   = 3
	defaultJobTimeout          = time.Hour
	defaultFrameConcurrency    = 4
	defaultPollInterval        = 2 * time.Second
	defaultTaskTimeout         = 120 * time.Second
	defaultOrchestrateTimeout  = 300 * time.Second
	defaultMaxPollAttempts     = 60
	defaultMaxConsecutiveErrs  = 5
	defaultSubmitRetries       = 3
	defaultDownloadRetries     = 3
	defaultDownloadRetryDelay  = 2 * time.Second
	defaultVectorDimension     = 1024
	defaultSelectionCacheTTL   = 5 * time.Minute
	defaultMaxVideoSize        = 5 * bytesize.GB
	defaultTranscribeChunkSize = 8 * bytesize.MB
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Vector       VectorConfig       `mapstructure:"vector"`
	ModelService ModelServiceConfig `mapstructure:"model_service"`
	Media        MediaConfig        `mapstructure:"media"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration for the submitter API.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// QueueConfig holds job queue broker configuration.
type QueueConfig struct {
	RedisURL        string        `mapstructure:"redis_url"`
	Name            string        `mapstructure:"name"`
	Attempts        int           `mapstructure:"attempts"`
	BackoffDelay    time.Duration `mapstructure:"backoff_delay"`
	LeaseDuration   time.Duration `mapstructure:"lease_duration"`
	StalledInterval time.Duration `mapstructure:"stalled_interval"`
	MaxStalledCount int           `mapstructure:"max_stalled_count"`
	KeepCompleted   int           `mapstructure:"keep_completed"`
	KeepFailed      int           `mapstructure:"keep_failed"`
}

// WorkerConfig holds worker dispatcher configuration.
type WorkerConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	JobTimeout       time.Duration `mapstructure:"job_timeout"`
	FrameConcurrency int           `mapstructure:"frame_concurrency"`
	TempDir          string        `mapstructure:"temp_dir"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds relational store configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// VectorConfig holds vector index configuration.
type VectorConfig struct {
	URL       string `mapstructure:"url"`
	Dimension int    `mapstructure:"dimension"`
}

// ModelServiceConfig holds external model service client configuration.
type ModelServiceConfig struct {
	URL                  string        `mapstructure:"url"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	TaskTimeout          time.Duration `mapstructure:"task_timeout"`
	OrchestrateTimeout   time.Duration `mapstructure:"orchestrate_timeout"`
	MaxPollAttempts      int           `mapstructure:"max_poll_attempts"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	MaxRetries           int           `mapstructure:"max_retries"`
	SelectionCacheTTL    time.Duration `mapstructure:"selection_cache_ttl"`
}

// MediaConfig holds media toolkit configuration.
type MediaConfig struct {
	FFmpegPath          string        `mapstructure:"ffmpeg_path"`  // empty = look up on PATH
	FFprobePath         string        `mapstructure:"ffprobe_path"` // empty = look up on PATH
	YtDlpPath           string        `mapstructure:"ytdlp_path"`   // empty = look up on PATH
	YtProxyURL          string        `mapstructure:"yt_proxy_url"`
	YtCookiesPath       string        `mapstructure:"yt_cookies_path"`
	DownloadRetries     int           `mapstructure:"download_retries"`
	DownloadRetryDelay  time.Duration `mapstructure:"download_retry_delay"`
	AllowedContentTypes []string      `mapstructure:"allowed_content_types"`
	// MaxVideoSize is the maximum accepted source file size.
	// Supports human-readable values like "5GiB" or raw byte counts.
	MaxVideoSize bytesize.Size `mapstructure:"max_video_size"`
	// TranscribeChunkSize is the target audio chunk size for long transcriptions.
	TranscribeChunkSize bytesize.Size `mapstructure:"transcribe_chunk_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from an optional file and environment variables.
// Environment variables are prefixed with CLIPSIGHT_ and use underscores for
// nesting (CLIPSIGHT_WORKER_CONCURRENCY=3). A small set of well-known bare
// keys (REDIS_URL, QUEUE_NAME, ...) is also honoured for container deploys.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/clipsight")
	}

	v.SetEnvPrefix("CLIPSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindWellKnownEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine: defaults plus env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// bindWellKnownEnv maps the bare environment keys used by container
// deployments onto their config paths.
func bindWellKnownEnv(v *viper.Viper) {
	aliases := map[string][]string{
		"queue.redis_url":          {"REDIS_URL"},
		"queue.name":               {"QUEUE_NAME"},
		"worker.concurrency":       {"BRIDGE_CONCURRENCY"},
		"worker.job_timeout":       {"JOB_TIMEOUT"},
		"worker.frame_concurrency": {"FRAME_CONCURRENCY"},
		"worker.temp_dir":          {"TEMP_DIR"},
		"media.max_video_size":     {"MAX_VIDEO_SIZE"},
		"media.yt_proxy_url":       {"YT_PROXY_URL"},
		"media.yt_cookies_path":    {"YT_COOKIES_PATH"},
		"model_service.url":        {"MODEL_SERVICE_URL"},
		"database.dsn":             {"STORAGE_URL"},
		"vector.url":               {"VECTOR_URL"},
	}
	for key, names := range aliases {
		args := append([]string{key}, names...)
		// BindEnv only errors on an empty key.
		_ = v.BindEnv(args...)
	}
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("queue.redis_url", "redis://localhost:6379/0")
	v.SetDefault("queue.name", defaultQueueName)
	v.SetDefault("queue.attempts", defaultJobAttempts)
	v.SetDefault("queue.backoff_delay", defaultBackoffDelay)
	v.SetDefault("queue.lease_duration", defaultLeaseDuration)
	v.SetDefault("queue.stalled_interval", defaultStalledInterval)
	v.SetDefault("queue.max_stalled_count", defaultMaxStalledCount)
	v.SetDefault("queue.keep_completed", defaultKeepCompleted)
	v.SetDefault("queue.keep_failed", defaultKeepFailed)

	v.SetDefault("worker.concurrency", defaultWorkerConcurrency)
	v.SetDefault("worker.job_timeout", defaultJobTimeout)
	v.SetDefault("worker.frame_concurrency", defaultFrameConcurrency)
	v.SetDefault("worker.temp_dir", "/tmp/clipsight")
	v.SetDefault("worker.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "clipsight.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", defaultConnMaxLifetime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("vector.url", "")
	v.SetDefault("vector.dimension", defaultVectorDimension)

	v.SetDefault("model_service.url", "http://localhost:8090")
	v.SetDefault("model_service.poll_interval", defaultPollInterval)
	v.SetDefault("model_service.task_timeout", defaultTaskTimeout)
	v.SetDefault("model_service.orchestrate_timeout", defaultOrchestrateTimeout)
	v.SetDefault("model_service.max_poll_attempts", defaultMaxPollAttempts)
	v.SetDefault("model_service.max_consecutive_errors", defaultMaxConsecutiveErrs)
	v.SetDefault("model_service.max_retries", defaultSubmitRetries)
	v.SetDefault("model_service.selection_cache_ttl", defaultSelectionCacheTTL)

	v.SetDefault("media.ffmpeg_path", "")
	v.SetDefault("media.ffprobe_path", "")
	v.SetDefault("media.ytdlp_path", "")
	v.SetDefault("media.download_retries", defaultDownloadRetries)
	v.SetDefault("media.download_retry_delay", defaultDownloadRetryDelay)
	v.SetDefault("media.allowed_content_types", []string{"video/*"})
	v.SetDefault("media.max_video_size", int64(defaultMaxVideoSize))
	v.SetDefault("media.transcribe_chunk_size", int64(defaultTranscribeChunkSize))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Queue.RedisURL == "" {
		return fmt.Errorf("queue.redis_url is required")
	}
	if c.Queue.Name == "" {
		return fmt.Errorf("queue.name is required")
	}
	if c.Queue.Attempts < 1 {
		return fmt.Errorf("queue.attempts must be at least 1")
	}
	if c.Queue.MaxStalledCount < 1 {
		return fmt.Errorf("queue.max_stalled_count must be at least 1")
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	if c.Worker.FrameConcurrency < 1 {
		return fmt.Errorf("worker.frame_concurrency must be at least 1")
	}
	if c.Worker.TempDir == "" {
		return fmt.Errorf("worker.temp_dir is required")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Vector.Dimension < 1 {
		return fmt.Errorf("vector.dimension must be at least 1")
	}

	if c.ModelService.URL == "" {
		return fmt.Errorf("model_service.url is required")
	}
	if c.ModelService.PollInterval <= 0 {
		return fmt.Errorf("model_service.poll_interval must be positive")
	}

	if c.Media.MaxVideoSize <= 0 {
		return fmt.Errorf("media.max_video_size must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
