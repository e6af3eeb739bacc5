package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the Doover site used when none is configured.
const DefaultBaseURL = "https://my.doover.dev"

// Config holds SDK and CLI configuration.
type Config struct {
	BaseURL                 string
	LogLevel                string
	ConfigDir               string
	MinUIUpdatePeriod       time.Duration
	MinObservedUpdatePeriod time.Duration
	RequestTimeout          time.Duration
	RedisAddr               string
	PublishRPS              float64
	PublishBurst            int
	OTelEnabled             bool
	OTLPEndpoint            string
	CacheDB                 string
}

// Load loads configuration from environment variables. Unparseable values
// fall back to their defaults.
func Load() *Config {
	baseURL := os.Getenv("DOOVER_BASE_URL")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	logLevel := strings.ToUpper(os.Getenv("DOOVER_LOG_LEVEL"))
	if logLevel == "" {
		logLevel = "INFO"
	}

	configDir := os.Getenv("DOOVER_CONFIG_DIR")
	if configDir == "" {
		configDir = defaultConfigDir()
	}

	cacheDB := os.Getenv("DOOVER_CACHE_DB")
	if cacheDB == "" {
		cacheDB = filepath.Join(configDir, "history.db")
	}

	otlpEndpoint := os.Getenv("DOOVER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	return &Config{
		BaseURL:                 strings.TrimRight(baseURL, "/"),
		LogLevel:                logLevel,
		ConfigDir:               configDir,
		MinUIUpdatePeriod:       envDuration("DOOVER_MIN_UI_UPDATE_PERIOD", 600*time.Second),
		MinObservedUpdatePeriod: envDuration("DOOVER_MIN_OBSERVED_UPDATE_PERIOD", 4*time.Second),
		RequestTimeout:          envDuration("DOOVER_REQUEST_TIMEOUT", 25*time.Second),
		RedisAddr:               os.Getenv("DOOVER_REDIS_ADDR"),
		PublishRPS:              envFloat("DOOVER_PUBLISH_RPS", 5),
		PublishBurst:            int(envFloat("DOOVER_PUBLISH_BURST", 10)),
		OTelEnabled:             os.Getenv("DOOVER_OTEL_ENABLED") == "true",
		OTLPEndpoint:            otlpEndpoint,
		CacheDB:                 cacheDB,
	}
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".doover"
	}
	return filepath.Join(home, ".doover")
}

// envDuration accepts plain seconds ("600") or a Go duration ("10m").
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
