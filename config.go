package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/svanichkin/blurdog/cache"
	"github.com/svanichkin/blurdog/imaging"
	"github.com/svanichkin/blurdog/logging"
	"github.com/svanichkin/blurdog/server"
)

// Config is the placeholder service configuration. Values come from the defaults,
// then an optional YAML file, then BLURDOG_* environment variables (a .env file is
// loaded first when present).
type Config struct {
	Addr           string        `yaml:"addr" env:"BLURDOG_ADDR"`
	RedisURL       string        `yaml:"redis_url" env:"BLURDOG_REDIS_URL"`
	CacheSize      int           `yaml:"cache_size" env:"BLURDOG_CACHE_SIZE"`
	CacheTTL       time.Duration `yaml:"cache_ttl" env:"BLURDOG_CACHE_TTL"`
	MaxDecodeSize  int           `yaml:"max_decode_size" env:"BLURDOG_MAX_DECODE_SIZE"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" env:"BLURDOG_MAX_UPLOAD_BYTES"`
	MaxPixels      int           `yaml:"max_pixels" env:"BLURDOG_MAX_PIXELS"`
	MaxBatch       int           `yaml:"max_batch" env:"BLURDOG_MAX_BATCH"`
	RateLimit      float64       `yaml:"rate_limit" env:"BLURDOG_RATE_LIMIT"`
	RateBurst      int           `yaml:"rate_burst" env:"BLURDOG_RATE_BURST"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"BLURDOG_READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"BLURDOG_WRITE_TIMEOUT"`
	LogFile        string        `yaml:"log_file" env:"BLURDOG_LOG_FILE"`
	LogLevel       string        `yaml:"log_level" env:"BLURDOG_LOG_LEVEL"`
	Development    bool          `yaml:"development" env:"BLURDOG_DEVELOPMENT"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Addr:           server.DefaultAddr,
		CacheSize:      4096,
		CacheTTL:       cache.DefaultTTL,
		MaxDecodeSize:  server.DefaultMaxDecodeSize,
		MaxUploadBytes: server.DefaultMaxUploadBytes,
		MaxPixels:      imaging.DefaultMaxPixels,
		MaxBatch:       server.DefaultMaxBatch,
		RateLimit:      200,
		RateBurst:      400,
		ReadTimeout:    server.DefaultReadTimeout,
		WriteTimeout:   server.DefaultWriteTimeout,
	}
}

// LoadConfig builds a Config from defaults, the YAML file at path (optional) and the environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return cfg, fmt.Errorf("read environment: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("config: addr must not be empty")
	case c.CacheSize <= 0:
		return errors.New("config: cache_size must be positive")
	case c.CacheTTL <= 0:
		return errors.New("config: cache_ttl must be positive")
	case c.MaxDecodeSize <= 0 || c.MaxDecodeSize > server.MaxOutputSize:
		return fmt.Errorf("config: max_decode_size must be between 1 and %d", server.MaxOutputSize)
	case c.MaxPixels <= 0:
		return errors.New("config: max_pixels must be positive")
	case c.RateLimit < 0:
		return errors.New("config: rate_limit must not be negative")
	}
	return nil
}

// ServerOptions maps the configuration onto server.Options.
func (c Config) ServerOptions() server.Options {
	return server.Options{
		Addr:           c.Addr,
		MaxDecodeSize:  c.MaxDecodeSize,
		MaxUploadBytes: c.MaxUploadBytes,
		MaxPixels:      c.MaxPixels,
		MaxBatch:       c.MaxBatch,
		RateLimit:      c.RateLimit,
		RateBurst:      c.RateBurst,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
	}
}

// LoggingConfig maps the configuration onto logging.Config.
func (c Config) LoggingConfig() logging.Config {
	return logging.Config{
		Development: c.Development,
		Level:       c.LogLevel,
		File:        c.LogFile,
	}
}
