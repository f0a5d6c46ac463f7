// Package config provides configuration management for the Sigma agent.
// Configuration is loaded from environment variables (optionally seeded from
// .env files) with sensible defaults. Escalation tuning may additionally come
// from a YAML file, see escalation.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort     = 8000
	DefaultLogLevel = "info"
	DefaultDataDir  = ".sigma"
	DefaultHost     = "127.0.0.1"

	// Environment variable names
	EnvPort     = "SIGMA_PORT"
	EnvLogLevel = "SIGMA_LOG_LEVEL"
	EnvDataDir  = "SIGMA_DATA_DIR"
	EnvHost     = "SIGMA_HOST"

	// Extra browser origins allowed by CORS, comma separated
	EnvCORSOrigins = "SIGMA_CORS_ORIGINS"

	// Inference backend
	EnvLLMAPIURL          = "SIGMA_LLM_API_URL"
	EnvLLMTargetFPS       = "SIGMA_LLM_TARGET_FPS"
	EnvLLMWindowSec       = "SIGMA_LLM_WINDOW_SEC"
	EnvLLMFramesPerWindow = "SIGMA_LLM_FRAMES_PER_WINDOW"
	EnvLLMMaxHighlights   = "SIGMA_LLM_MAX_HIGHLIGHTS"
	EnvModelVersion       = "SIGMA_MODEL_VERSION"
	EnvPromptVersion      = "SIGMA_PROMPT_VERSION"
	EnvEscalationFile     = "SIGMA_ESCALATION_FILE"

	// Frame analysis backend for the local fallback
	EnvFramesBackend = "SIGMA_FRAMES_BACKEND"
	EnvOpenAIBaseURL = "SIGMA_OPENAI_BASE_URL"
	EnvOpenAIAPIKey  = "SIGMA_OPENAI_API_KEY"
	EnvOpenAIModel   = "SIGMA_OPENAI_MODEL"

	// Processing
	EnvWorkers     = "SIGMA_WORKERS"
	EnvMaxUploadMB = "SIGMA_MAX_UPLOAD_MB"

	// Progress store
	EnvProgressBackend = "SIGMA_PROGRESS_BACKEND"
	EnvRedisURL        = "SIGMA_REDIS_URL"
	EnvProgressTTL     = "SIGMA_PROGRESS_TTL"

	// Database filename
	DBFilename = "sigma.db"

	DefaultLLMAPIURL     = "http://127.0.0.1:9011"
	DefaultModelVersion  = "stub-v1.0"
	DefaultPromptVersion = "v1.0"
	DefaultWorkers       = 2
	DefaultMaxUploadMB   = 500
	DefaultProgressTTL   = 15 * time.Minute
	DefaultOpenAIModel   = "Qwen/Qwen2.5-VL-7B-Instruct"

	FramesBackendNative = "native"
	FramesBackendOpenAI = "openai"

	ProgressBackendMemory = "memory"
	ProgressBackendRedis  = "redis"
)

var envFileNames = []string{".env.local", ".env"}

// Config defines the application configuration interface
type Config interface {
	Port() int
	Host() string
	CORSOrigins() []string
	LogLevel() string
	DataDir() string
	DBPath() string
	MediaDir() string
	LLMAPIURL() string
	ModelVersion() string
	PromptVersion() string
	Escalation() Escalation
	FramesBackend() string
	OpenAIBaseURL() string
	OpenAIAPIKey() string
	OpenAIModel() string
	Workers() int
	MaxUploadBytes() int64
	ProgressBackend() string
	RedisURL() string
	ProgressTTL() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port        int
	host        string
	corsOrigins []string
	logLevel    string
	dataDir     string

	llmAPIURL     string
	modelVersion  string
	promptVersion string
	escalation    Escalation

	framesBackend string
	openAIBaseURL string
	openAIAPIKey  string
	openAIModel   string

	workers     int
	maxUploadMB int

	progressBackend string
	redisURL        string
	progressTTL     time.Duration
}

// New creates a new EnvConfig with defaults and environment variable overrides.
// Variables from .env.local and .env in the working directory are loaded first;
// they never override variables already present in the environment.
func New() (*EnvConfig, error) {
	loadDotEnv()

	cfg := &EnvConfig{
		port:            DefaultPort,
		host:            DefaultHost,
		logLevel:        DefaultLogLevel,
		dataDir:         defaultDataDir(),
		llmAPIURL:       DefaultLLMAPIURL,
		modelVersion:    DefaultModelVersion,
		promptVersion:   DefaultPromptVersion,
		escalation:      DefaultEscalation(),
		framesBackend:   FramesBackendNative,
		openAIModel:     DefaultOpenAIModel,
		workers:         DefaultWorkers,
		maxUploadMB:     DefaultMaxUploadMB,
		progressBackend: ProgressBackendMemory,
		progressTTL:     DefaultProgressTTL,
	}

	// Override port from environment
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

	if h := os.Getenv(EnvHost); h != "" {
		cfg.host = h
	}
	for _, o := range strings.Split(os.Getenv(EnvCORSOrigins), ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			cfg.corsOrigins = append(cfg.corsOrigins, o)
		}
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}
	if u := os.Getenv(EnvLLMAPIURL); u != "" {
		cfg.llmAPIURL = strings.TrimRight(u, "/")
	}
	if v := os.Getenv(EnvModelVersion); v != "" {
		cfg.modelVersion = v
	}
	if v := os.Getenv(EnvPromptVersion); v != "" {
		cfg.promptVersion = v
	}

	if path := os.Getenv(EnvEscalationFile); path != "" {
		esc, err := LoadEscalationFile(path, cfg.escalation)
		if err != nil {
			return nil, err
		}
		cfg.escalation = esc
	}
	if err := cfg.applyEscalationEnv(); err != nil {
		return nil, err
	}
	if err := cfg.escalation.Validate(); err != nil {
		return nil, err
	}

	if fb := os.Getenv(EnvFramesBackend); fb != "" {
		fb = strings.ToLower(fb)
		if fb != FramesBackendNative && fb != FramesBackendOpenAI {
			return nil, fmt.Errorf("invalid %s: must be %q or %q", EnvFramesBackend, FramesBackendNative, FramesBackendOpenAI)
		}
		cfg.framesBackend = fb
	}
	cfg.openAIBaseURL = os.Getenv(EnvOpenAIBaseURL)
	cfg.openAIAPIKey = os.Getenv(EnvOpenAIAPIKey)
	if m := os.Getenv(EnvOpenAIModel); m != "" {
		cfg.openAIModel = m
	}
	if cfg.framesBackend == FramesBackendOpenAI && cfg.openAIBaseURL == "" {
		return nil, fmt.Errorf("%s is required when %s=%s", EnvOpenAIBaseURL, EnvFramesBackend, FramesBackendOpenAI)
	}

	var err error
	if cfg.workers, err = positiveInt(EnvWorkers, cfg.workers); err != nil {
		return nil, err
	}
	if cfg.maxUploadMB, err = positiveInt(EnvMaxUploadMB, cfg.maxUploadMB); err != nil {
		return nil, err
	}

	if pb := os.Getenv(EnvProgressBackend); pb != "" {
		pb = strings.ToLower(pb)
		if pb != ProgressBackendMemory && pb != ProgressBackendRedis {
			return nil, fmt.Errorf("invalid %s: must be %q or %q", EnvProgressBackend, ProgressBackendMemory, ProgressBackendRedis)
		}
		cfg.progressBackend = pb
	}
	cfg.redisURL = os.Getenv(EnvRedisURL)
	if cfg.progressBackend == ProgressBackendRedis && cfg.redisURL == "" {
		return nil, fmt.Errorf("%s is required when %s=%s", EnvRedisURL, EnvProgressBackend, ProgressBackendRedis)
	}
	if ttl := os.Getenv(EnvProgressTTL); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvProgressTTL, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", EnvProgressTTL)
		}
		cfg.progressTTL = d
	}

	return cfg, nil
}

func (c *EnvConfig) applyEscalationEnv() error {
	if v := os.Getenv(EnvLLMTargetFPS); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvLLMTargetFPS, err)
		}
		c.escalation.Coarse.TargetFPS = n
	}
	if v := os.Getenv(EnvLLMWindowSec); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvLLMWindowSec, err)
		}
		c.escalation.Coarse.WindowSec = f
	}
	if v := os.Getenv(EnvLLMFramesPerWindow); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvLLMFramesPerWindow, err)
		}
		c.escalation.Coarse.FramesPerWindow = n
	}
	if v := os.Getenv(EnvLLMMaxHighlights); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvLLMMaxHighlights, err)
		}
		c.escalation.Coarse.MaxHighlights = n
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// Host returns the interface the HTTP server binds to
func (c *EnvConfig) Host() string {
	return c.host
}

// CORSOrigins returns browser origins allowed in addition to loopback ones
func (c *EnvConfig) CORSOrigins() []string {
	return c.corsOrigins
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// MediaDir returns the directory uploaded videos are stored in
func (c *EnvConfig) MediaDir() string {
	return filepath.Join(c.dataDir, "media", "videos")
}

func (c *EnvConfig) LLMAPIURL() string {
	return c.llmAPIURL
}

func (c *EnvConfig) ModelVersion() string {
	return c.modelVersion
}

func (c *EnvConfig) PromptVersion() string {
	return c.promptVersion
}

// Escalation returns the resolved escalation tuning.
func (c *EnvConfig) Escalation() Escalation {
	return c.escalation
}

func (c *EnvConfig) FramesBackend() string {
	return c.framesBackend
}

func (c *EnvConfig) OpenAIBaseURL() string {
	return c.openAIBaseURL
}

func (c *EnvConfig) OpenAIAPIKey() string {
	return c.openAIAPIKey
}

func (c *EnvConfig) OpenAIModel() string {
	return c.openAIModel
}

// Workers returns how many incidents may be analysed at the same time
func (c *EnvConfig) Workers() int {
	return c.workers
}

// MaxUploadBytes returns the upload size cap in bytes
func (c *EnvConfig) MaxUploadBytes() int64 {
	return int64(c.maxUploadMB) * 1024 * 1024
}

func (c *EnvConfig) ProgressBackend() string {
	return c.progressBackend
}

func (c *EnvConfig) RedisURL() string {
	return c.redisURL
}

// ProgressTTL returns how long terminal progress states are retained
func (c *EnvConfig) ProgressTTL() time.Duration {
	return c.progressTTL
}

func loadDotEnv() {
	var files []string
	for _, name := range envFileNames {
		if _, err := os.Stat(name); err == nil {
			files = append(files, name)
		}
	}
	if len(files) == 0 {
		return
	}
	_ = godotenv.Load(files...)
}

func positiveInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s: must be at least 1", name)
	}
	return n, nil
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
