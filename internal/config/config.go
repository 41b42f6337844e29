// Package config loads cutlog settings.
//
// Sources, later ones winning: built-in defaults, an optional YAML file, and
// CUTLOG_* environment variables (a .env file in the working directory is
// loaded into the environment first).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/remote"
	"github.com/kimhsiao/cutlog/internal/sync/queue"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CUTLOG_"

// Config holds the client, daemon and reference server settings.
type Config struct {
	DataDir        string        `yaml:"data_dir"`
	APIBaseURL     string        `yaml:"api_base_url"`
	APIToken       string        `yaml:"api_token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	BatchSize    int           `yaml:"batch_size"`
	SyncInterval time.Duration `yaml:"sync_interval"`
	MaxRetries   int           `yaml:"max_retries"`
	BaseBackoff  time.Duration `yaml:"base_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	ServerAddr        string   `yaml:"server_addr"`
	ServerJWTSecret   string   `yaml:"server_jwt_secret"`
	ServerCORSOrigins []string `yaml:"server_cors_origins"`
}

// Default returns the built-in settings.
func Default() *Config {
	policy := queue.DefaultPolicy()
	return &Config{
		DataDir:        defaultDataDir(),
		APIBaseURL:     "http://localhost:8080",
		RequestTimeout: 30 * time.Second,
		BatchSize:      20,
		SyncInterval:   15 * time.Minute,
		MaxRetries:     policy.MaxRetries,
		BaseBackoff:    policy.BaseBackoff,
		MaxBackoff:     policy.MaxBackoff,
		LogLevel:       "info",
		MetricsAddr:    ":9090",
		ServerAddr:     ":8080",
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "cutlog")
	}
	return "./data"
}

// Load reads the configuration. path may be empty, in which case the
// CUTLOG_CONFIG environment variable names the YAML file, if any.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "read config file", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "parse config file "+path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"DATA_DIR":          &c.DataDir,
		"API_BASE_URL":      &c.APIBaseURL,
		"API_TOKEN":         &c.APIToken,
		"LOG_LEVEL":         &c.LogLevel,
		"METRICS_ADDR":      &c.MetricsAddr,
		"SERVER_ADDR":       &c.ServerAddr,
		"SERVER_JWT_SECRET": &c.ServerJWTSecret,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"BATCH_SIZE":  &c.BatchSize,
		"MAX_RETRIES": &c.MaxRetries,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperrors.Newf(apperrors.ErrInvalid, "%s%s: %q is not an integer", EnvPrefix, key, v)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"REQUEST_TIMEOUT": &c.RequestTimeout,
		"SYNC_INTERVAL":   &c.SyncInterval,
		"BASE_BACKOFF":    &c.BaseBackoff,
		"MAX_BACKOFF":     &c.MaxBackoff,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return apperrors.Newf(apperrors.ErrInvalid, "%s%s: %q is not a duration", EnvPrefix, key, v)
		}
		*dst = d
	}

	if v, ok := lookup("SERVER_CORS_ORIGINS"); ok {
		c.ServerCORSOrigins = splitList(v)
	}
	return nil
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	return v, v != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.DataDir) == "" {
		problems = append(problems, "data_dir is required")
	}
	if c.BatchSize < 1 || c.BatchSize > remote.MaxBatchSize {
		problems = append(problems, fmt.Sprintf("batch_size must be between 1 and %d", remote.MaxBatchSize))
	}
	if c.SyncInterval <= 0 {
		problems = append(problems, "sync_interval must be positive")
	}
	if c.MaxRetries < 1 {
		problems = append(problems, "max_retries must be at least 1")
	}
	if c.BaseBackoff <= 0 {
		problems = append(problems, "base_backoff must be positive")
	}
	if c.MaxBackoff < c.BaseBackoff {
		problems = append(problems, "max_backoff must not be below base_backoff")
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, "request_timeout must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if len(problems) > 0 {
		return apperrors.New(apperrors.ErrValidation, "invalid config: "+strings.Join(problems, "; "))
	}
	return nil
}

// RetryPolicy returns the queue policy described by the config.
func (c *Config) RetryPolicy() queue.Policy {
	return queue.Policy{
		MaxRetries:  c.MaxRetries,
		BaseBackoff: c.BaseBackoff,
		MaxBackoff:  c.MaxBackoff,
	}
}
