// Package config provides configuration management for the cliptune server.
// Configuration is loaded from environment variables with sensible defaults;
// the two values the pipeline cannot run without (the Gemini API key and the
// downstream webhook URL) are validated at startup so a misconfigured process
// never serves traffic.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort        = 8686
	DefaultLogLevel    = "info"
	DefaultDataDir     = "cliptune"
	DefaultMaxUploadMB = 100
	DefaultWorkers     = 2
	DefaultQueueSize   = 32

	// Environment variable names
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvWebhookURL   = "WEBHOOK_URL"
	EnvPort         = "CLIPTUNE_PORT"
	EnvLogLevel     = "CLIPTUNE_LOG_LEVEL"
	EnvDataDir      = "CLIPTUNE_DATA_DIR"
	EnvMaxUploadMB  = "CLIPTUNE_MAX_UPLOAD_MB"
	EnvWorkers      = "CLIPTUNE_WORKERS"
	EnvQueueSize    = "CLIPTUNE_QUEUE_SIZE"

	// Tool environment variable names
	EnvFFmpeg       = "CLIPTUNE_FFMPEG"
	EnvFFprobe      = "CLIPTUNE_FFPROBE"
	EnvWhisperBin   = "CLIPTUNE_WHISPER_BIN"
	EnvWhisperModel = "CLIPTUNE_WHISPER_MODEL"
	EnvWhisperLang  = "CLIPTUNE_WHISPER_LANG"

	// Stage timeout environment variable names (seconds)
	EnvReduceTimeout     = "CLIPTUNE_REDUCE_TIMEOUT_S"
	EnvTranscribeTimeout = "CLIPTUNE_TRANSCRIBE_TIMEOUT_S"
	EnvAnalysisTimeout   = "CLIPTUNE_ANALYSIS_TIMEOUT_S"
	EnvWebhookTimeout    = "CLIPTUNE_WEBHOOK_TIMEOUT_S"

	// Analysis environment variable names
	EnvGeminiModel   = "CLIPTUNE_GEMINI_MODEL"
	EnvGeminiBaseURL = "CLIPTUNE_GEMINI_BASE_URL"

	// Optional backend environment variable names
	EnvRedisAddr         = "REDIS_ADDR"
	EnvR2AccountID       = "R2_ACCOUNT_ID"
	EnvR2AccessKeyID     = "R2_ACCESS_KEY_ID"
	EnvR2SecretAccessKey = "R2_SECRET_ACCESS_KEY"
	EnvR2Bucket          = "R2_BUCKET"

	// Tool defaults
	DefaultFFmpeg      = "ffmpeg"
	DefaultFFprobe     = "ffprobe"
	DefaultWhisperBin  = "whisper-cli"
	DefaultGeminiModel = "gemini-1.5-flash"
	DefaultGeminiBase  = "https://generativelanguage.googleapis.com"

	// Stage timeout defaults (seconds)
	DefaultReduceTimeout     = 300
	DefaultTranscribeTimeout = 600
	DefaultAnalysisTimeout   = 120
	DefaultWebhookTimeout    = 60
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	GeminiAPIKey() string
	GeminiModel() string
	GeminiBaseURL() string
	WebhookURL() string
	MaxUploadBytes() int64
	Workers() int
	QueueSize() int
	FFmpegPath() string
	FFprobePath() string
	WhisperBin() string
	WhisperModel() string
	WhisperLanguage() string
	ReduceTimeout() time.Duration
	TranscribeTimeout() time.Duration
	AnalysisTimeout() time.Duration
	WebhookTimeout() time.Duration
	RedisAddr() string
	R2AccountID() string
	R2AccessKeyID() string
	R2SecretAccessKey() string
	R2Bucket() string
	ArchiveEnabled() bool
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port        int
	logLevel    string
	dataDir     string
	maxUploadMB int
	workers     int
	queueSize   int

	geminiAPIKey  string
	geminiModel   string
	geminiBaseURL string
	webhookURL    string

	ffmpegPath   string
	ffprobePath  string
	whisperBin   string
	whisperModel string
	whisperLang  string

	reduceTimeoutS     int
	transcribeTimeoutS int
	analysisTimeoutS   int
	webhookTimeoutS    int

	redisAddr string

	r2AccountID       string
	r2AccessKeyID     string
	r2SecretAccessKey string
	r2Bucket          string
}

// New creates a new EnvConfig with defaults and environment variable
// overrides. A .env file in the working directory is loaded first when
// present; real environment variables win over it. Missing required values
// or unparsable overrides return an error, which callers treat as fatal.
func New() (*EnvConfig, error) {
	// Ignore the error: absence of a .env file is the normal case.
	_ = godotenv.Load()

	cfg := &EnvConfig{
		port:               DefaultPort,
		logLevel:           DefaultLogLevel,
		dataDir:            defaultDataDir(),
		maxUploadMB:        DefaultMaxUploadMB,
		workers:            DefaultWorkers,
		queueSize:          DefaultQueueSize,
		geminiModel:        DefaultGeminiModel,
		geminiBaseURL:      DefaultGeminiBase,
		ffmpegPath:         DefaultFFmpeg,
		ffprobePath:        DefaultFFprobe,
		whisperBin:         DefaultWhisperBin,
		reduceTimeoutS:     DefaultReduceTimeout,
		transcribeTimeoutS: DefaultTranscribeTimeout,
		analysisTimeoutS:   DefaultAnalysisTimeout,
		webhookTimeoutS:    DefaultWebhookTimeout,
	}

	cfg.geminiAPIKey = os.Getenv(EnvGeminiAPIKey)
	if cfg.geminiAPIKey == "" {
		return nil, fmt.Errorf("%s is required", EnvGeminiAPIKey)
	}

	cfg.webhookURL = os.Getenv(EnvWebhookURL)
	if cfg.webhookURL == "" {
		return nil, fmt.Errorf("%s is required", EnvWebhookURL)
	}
	if u, err := url.Parse(cfg.webhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid %s: must be an http(s) URL", EnvWebhookURL)
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	var err error
	if cfg.maxUploadMB, err = intEnv(EnvMaxUploadMB, cfg.maxUploadMB, 1); err != nil {
		return nil, err
	}
	if cfg.workers, err = intEnv(EnvWorkers, cfg.workers, 1); err != nil {
		return nil, err
	}
	if cfg.queueSize, err = intEnv(EnvQueueSize, cfg.queueSize, 1); err != nil {
		return nil, err
	}
	if cfg.reduceTimeoutS, err = intEnv(EnvReduceTimeout, cfg.reduceTimeoutS, 1); err != nil {
		return nil, err
	}
	if cfg.transcribeTimeoutS, err = intEnv(EnvTranscribeTimeout, cfg.transcribeTimeoutS, 1); err != nil {
		return nil, err
	}
	if cfg.analysisTimeoutS, err = intEnv(EnvAnalysisTimeout, cfg.analysisTimeoutS, 1); err != nil {
		return nil, err
	}
	if cfg.webhookTimeoutS, err = intEnv(EnvWebhookTimeout, cfg.webhookTimeoutS, 1); err != nil {
		return nil, err
	}

	if v := os.Getenv(EnvFFmpeg); v != "" {
		cfg.ffmpegPath = v
	}
	if v := os.Getenv(EnvFFprobe); v != "" {
		cfg.ffprobePath = v
	}
	if v := os.Getenv(EnvWhisperBin); v != "" {
		cfg.whisperBin = v
	}
	cfg.whisperModel = os.Getenv(EnvWhisperModel)
	cfg.whisperLang = os.Getenv(EnvWhisperLang)

	if v := os.Getenv(EnvGeminiModel); v != "" {
		cfg.geminiModel = v
	}
	if v := os.Getenv(EnvGeminiBaseURL); v != "" {
		cfg.geminiBaseURL = v
	}

	cfg.redisAddr = os.Getenv(EnvRedisAddr)

	cfg.r2AccountID = os.Getenv(EnvR2AccountID)
	cfg.r2AccessKeyID = os.Getenv(EnvR2AccessKeyID)
	cfg.r2SecretAccessKey = os.Getenv(EnvR2SecretAccessKey)
	cfg.r2Bucket = os.Getenv(EnvR2Bucket)
	if err := validateR2(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateR2 rejects partial R2 configuration: either all four values are
// set (archival on) or none are (archival off).
func validateR2(cfg *EnvConfig) error {
	set := 0
	for _, v := range []string{cfg.r2AccountID, cfg.r2AccessKeyID, cfg.r2SecretAccessKey, cfg.r2Bucket} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 4 {
		return fmt.Errorf("incomplete R2 configuration: %s, %s, %s and %s must be set together",
			EnvR2AccountID, EnvR2AccessKeyID, EnvR2SecretAccessKey, EnvR2Bucket)
	}
	return nil
}

func intEnv(name string, fallback, min int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if n < min {
		return 0, fmt.Errorf("invalid %s: must be >= %d", name, min)
	}
	return n, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the base directory for per-job workspaces
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

func (c *EnvConfig) GeminiAPIKey() string {
	return c.geminiAPIKey
}

func (c *EnvConfig) GeminiModel() string {
	return c.geminiModel
}

func (c *EnvConfig) GeminiBaseURL() string {
	return c.geminiBaseURL
}

func (c *EnvConfig) WebhookURL() string {
	return c.webhookURL
}

// MaxUploadBytes returns the upload size ceiling in bytes
func (c *EnvConfig) MaxUploadBytes() int64 {
	return int64(c.maxUploadMB) * 1024 * 1024
}

func (c *EnvConfig) Workers() int {
	return c.workers
}

func (c *EnvConfig) QueueSize() int {
	return c.queueSize
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) WhisperBin() string {
	return c.whisperBin
}

func (c *EnvConfig) WhisperModel() string {
	return c.whisperModel
}

func (c *EnvConfig) WhisperLanguage() string {
	return c.whisperLang
}

func (c *EnvConfig) ReduceTimeout() time.Duration {
	return time.Duration(c.reduceTimeoutS) * time.Second
}

func (c *EnvConfig) TranscribeTimeout() time.Duration {
	return time.Duration(c.transcribeTimeoutS) * time.Second
}

func (c *EnvConfig) AnalysisTimeout() time.Duration {
	return time.Duration(c.analysisTimeoutS) * time.Second
}

func (c *EnvConfig) WebhookTimeout() time.Duration {
	return time.Duration(c.webhookTimeoutS) * time.Second
}

func (c *EnvConfig) RedisAddr() string {
	return c.redisAddr
}

func (c *EnvConfig) R2AccountID() string {
	return c.r2AccountID
}

func (c *EnvConfig) R2AccessKeyID() string {
	return c.r2AccessKeyID
}

func (c *EnvConfig) R2SecretAccessKey() string {
	return c.r2SecretAccessKey
}

func (c *EnvConfig) R2Bucket() string {
	return c.r2Bucket
}

// ArchiveEnabled reports whether artifact archival to R2 is configured.
func (c *EnvConfig) ArchiveEnabled() bool {
	return c.r2AccountID != "" && c.r2AccessKeyID != "" && c.r2SecretAccessKey != "" && c.r2Bucket != ""
}

// defaultDataDir returns the default workspace base directory
func defaultDataDir() string {
	return filepath.Join(os.TempDir(), DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
