package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/local/minutebook/internal/page"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// DebugLogPath receives the pass-by-pass classification trace.
	DebugLogPath string
	DebugTrace   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// APIConfig points at the classification service.
type APIConfig struct {
	URL         string
	Key         string
	Model       string
	VisionModel string
	CallTimeout time.Duration
}

// StrategyConfig drives the classification loop.
type StrategyConfig struct {
	Labels         []string
	BlockSize      int
	ContextPages   int
	MaxIterations  int
	MaxRestarts    int
	FinalThreshold float64
	Concurrency    int
	CleanText      bool
}

// VisionConfig defines when and how pages are escalated to the vision model.
type VisionConfig struct {
	Enabled       bool
	OCRThreshold  float64
	LowConfidence float64
	MaxPages      int
	DPI           int
	Format        string
	Gray          bool
}

// BreakerConfig tunes the per endpoint circuit breaker.
type BreakerConfig struct {
	Threshold   int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// RedisConfig enables checkpoints and shared breaker state when URL is set.
type RedisConfig struct {
	URL string
	TTL time.Duration
}

// S3Config is used for s3:// inputs and outputs.
type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// MetricsConfig pushes run metrics to a Prometheus Pushgateway when URL is
// set and serves /metrics during the run when Addr is set.
type MetricsConfig struct {
	PushgatewayURL string
	Job            string
	Addr           string
}

// Config is the top-level configuration.
type Config struct {
	Logging  LoggingConfig
	Axiom    AxiomConfig
	API      APIConfig
	Strategy StrategyConfig
	Vision   VisionConfig
	Breaker  BreakerConfig
	Redis    RedisConfig
	S3       S3Config
	Metrics  MetricsConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	// Logging defaults
	cfg.Logging = LoggingConfig{
		Level:        getEnv("LOG_LEVEL", "info"),
		Pretty:       parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:         getEnv("LOG_FILE", ""),
		MaxSizeMB:    parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups:   parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays:   parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:     parseBool(getEnv("LOG_COMPRESS", "true")),
		DebugLogPath: getEnv("DEBUG_LOG_PATH", ""),
		DebugTrace:   parseBool(getEnv("DEBUG_TRACE", "0")),
	}

	// Axiom defaults
	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_minutebook",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	model := getEnv("AUTOCOMPLY_MODEL", "gemini-2.5-flash")
	cfg.API = APIConfig{
		URL:         strings.TrimRight(getEnv("AUTOCOMPLY_API_URL", "https://ai-models.autocomply.ca"), "/"),
		Key:         getEnv("AUTOCOMPLY_API_KEY", ""),
		Model:       model,
		VisionModel: getEnv("VISION_MODEL", model),
		CallTimeout: parseDuration(getEnv("REQUEST_TIMEOUT", "120s"), 120*time.Second),
	}

	cfg.Strategy = StrategyConfig{
		Labels:         parseList(getEnv("LABELS", ""), page.DefaultLabels),
		BlockSize:      parseInt(getEnv("BLOCK_SIZE", "55"), 55),
		ContextPages:   parseInt(getEnv("CONTEXT_PAGES", "3"), 3),
		MaxIterations:  parseInt(getEnv("MAX_ITERATIONS", "3"), 3),
		MaxRestarts:    parseInt(getEnv("MAX_RESTARTS", "0"), 0),
		FinalThreshold: parseFloat(getEnv("CONFIDENCE_FINAL_THRESHOLD", "85"), 85),
		Concurrency:    parseInt(getEnv("MAX_PARALLEL_REQUESTS", "4"), 4),
		CleanText:      parseBool(getEnv("CLEAN_TEXT", "0")),
	}

	cfg.Vision = VisionConfig{
		Enabled:       parseBool(getEnv("VISION_FALLBACK_ENABLED", "1")),
		OCRThreshold:  parseFloat(getEnv("OCR_QUALITY_THRESHOLD", "35"), 35),
		LowConfidence: parseFloat(getEnv("VISION_LOW_CONFIDENCE", "80"), 80),
		MaxPages:      parseInt(getEnv("VISION_MAX_PAGES", "40"), 40),
		DPI:           parseInt(getEnv("VISION_DPI", "200"), 200),
		Format:        strings.ToLower(getEnv("VISION_FORMAT", "png")),
		Gray:          parseBool(getEnv("VISION_GRAY", "0")),
	}

	cfg.Breaker = BreakerConfig{
		Threshold:   parseInt(getEnv("BREAKER_THRESHOLD", "5"), 5),
		BaseBackoff: parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		MaxBackoff:  parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
	}

	cfg.Redis = RedisConfig{
		URL: getEnv("REDIS_URL", ""),
		TTL: parseDuration(getEnv("REDIS_TTL", "168h"), 7*24*time.Hour),
	}

	cfg.S3 = S3Config{
		Region:    getEnv("AWS_REGION", ""),
		Endpoint:  getEnv("AWS_S3_ENDPOINT", ""),
		AccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		PathStyle: parseBool(getEnv("AWS_S3_PATH_STYLE", "0")),
	}

	cfg.Metrics = MetricsConfig{
		PushgatewayURL: getEnv("METRICS_PUSHGATEWAY_URL", ""),
		Job:            getEnv("METRICS_JOB", "minutebook"),
		Addr:           getEnv("METRICS_ADDR", ""),
	}

	return cfg
}

// Validate rejects settings the classification loop cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.API.URL == "" {
		errs = append(errs, errors.New("api url is required"))
	}
	if c.API.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if len(page.NewLabelSet(c.Strategy.Labels).Names()) == 0 {
		errs = append(errs, errors.New("at least one label is required"))
	}
	if c.Strategy.BlockSize < 1 {
		errs = append(errs, fmt.Errorf("block size must be >= 1, got %d", c.Strategy.BlockSize))
	}
	if c.Strategy.ContextPages < 0 {
		errs = append(errs, fmt.Errorf("context pages must be >= 0, got %d", c.Strategy.ContextPages))
	}
	if c.Strategy.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("max iterations must be >= 1, got %d", c.Strategy.MaxIterations))
	}
	if c.Strategy.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("max restarts must be >= 0, got %d", c.Strategy.MaxRestarts))
	}
	if c.Strategy.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 1, got %d", c.Strategy.Concurrency))
	}
	for name, v := range map[string]float64{
		"final threshold":       c.Strategy.FinalThreshold,
		"ocr quality threshold": c.Vision.OCRThreshold,
		"vision low confidence": c.Vision.LowConfidence,
	} {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Errorf("%s must be within 0..100, got %g", name, v))
		}
	}
	if c.Vision.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("vision max pages must be >= 0, got %d", c.Vision.MaxPages))
	}
	if c.Vision.Format != "png" && c.Vision.Format != "jpeg" {
		errs = append(errs, fmt.Errorf("vision format must be png or jpeg, got %q", c.Vision.Format))
	}
	return errors.Join(errs...)
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

// parseList splits a comma separated value, falling back to def when empty.
func parseList(s string, def []string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
