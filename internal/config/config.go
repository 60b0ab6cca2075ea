package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type (
	// Config holds configuration settings for the orchestrator
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Trace Store
		Redis RedisConfig

		// Flows
		FlowsDir string

		// Dashboard feed
		PollInterval    time.Duration
		RefreshInterval time.Duration

		// Archiving
		Archive ArchiveConfig

		// Engine
		ShutdownTimeout time.Duration
	}

	// RedisConfig locates the Redis server backing the trace store
	RedisConfig struct {
		Addr     string
		Password string
		DB       int
	}

	// ArchiveConfig controls how finished runs are moved to blob storage.
	// Archiving is disabled when BucketURL is empty
	ArchiveConfig struct {
		BucketURL string
		Prefix    string
		Interval  time.Duration
		MaxAge    time.Duration
		Remove    bool
	}
)

const (
	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535

	DefaultRedisEndpoint = "localhost:6379"
	DefaultRedisDB       = 0
	MaxRedisDB           = 15

	DefaultFlowsDir        = "flows"
	DefaultPollInterval    = time.Second
	DefaultRefreshInterval = time.Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultArchivePrefix   = "runs/"
	DefaultArchiveInterval = time.Minute
	DefaultArchiveMaxAge   = 24 * time.Hour

	MaxPollInterval    = time.Hour
	MaxShutdownTimeout = time.Hour
	MaxArchiveMaxAge   = 365 * 24 * time.Hour
)

var (
	ErrInvalidAPIPort         = errors.New("invalid API port")
	ErrInvalidPollInterval    = errors.New("poll interval must be positive")
	ErrInvalidRefreshInterval = errors.New(
		"refresh interval must be positive",
	)
	ErrInvalidShutdownTimeout = errors.New(
		"shutdown timeout must be positive",
	)
	ErrRedisAddrRequired   = errors.New("redis address is required")
	ErrInvalidArchiveTimer = errors.New(
		"archive interval and max age must be positive",
	)
)

// NewDefaultConfig creates a configuration with sensible defaults for the
// server, trace store, and archiver
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:  DefaultAPIHost,
		APIPort:  DefaultAPIPort,
		LogLevel: "info",
		Redis: RedisConfig{
			Addr: DefaultRedisEndpoint,
			DB:   DefaultRedisDB,
		},
		FlowsDir:        DefaultFlowsDir,
		PollInterval:    DefaultPollInterval,
		RefreshInterval: DefaultRefreshInterval,
		Archive: ArchiveConfig{
			Prefix:   DefaultArchivePrefix,
			Interval: DefaultArchiveInterval,
			MaxAge:   DefaultArchiveMaxAge,
		},
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Durations are given in milliseconds. Returns an error if any env var
// cannot be parsed
func (c *Config) LoadFromEnv() error {
	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if dir := os.Getenv("FLOWS_DIR"); dir != "" {
		c.FlowsDir = dir
	}
	if url := os.Getenv("ARCHIVE_BUCKET_URL"); url != "" {
		c.Archive.BucketURL = url
	}
	if prefix := os.Getenv("ARCHIVE_PREFIX"); prefix != "" {
		c.Archive.Prefix = prefix
	}
	if remove := os.Getenv("ARCHIVE_REMOVE"); remove != "" {
		v, err := strconv.ParseBool(remove)
		if err != nil {
			return fmt.Errorf("invalid ARCHIVE_REMOVE: %q", remove)
		}
		c.Archive.Remove = v
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"REDIS_DB", &c.Redis.DB, -1, MaxRedisDB,
	); err != nil {
		return err
	}

	for _, d := range []struct {
		key string
		dst *time.Duration
		max time.Duration
	}{
		{"POLL_INTERVAL", &c.PollInterval, MaxPollInterval},
		{"REFRESH_INTERVAL", &c.RefreshInterval, MaxPollInterval},
		{"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout, MaxShutdownTimeout},
		{"ARCHIVE_INTERVAL", &c.Archive.Interval, MaxPollInterval},
		{"ARCHIVE_MAX_AGE", &c.Archive.MaxAge, MaxArchiveMaxAge},
	} {
		if err := loadEnvMillis(d.key, d.dst, d.max); err != nil {
			return err
		}
	}

	return c.Validate()
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if c.Redis.Addr == "" {
		return ErrRedisAddrRequired
	}
	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if c.RefreshInterval <= 0 {
		return ErrInvalidRefreshInterval
	}
	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}
	if c.Archive.BucketURL != "" &&
		(c.Archive.Interval <= 0 || c.Archive.MaxAge <= 0) {
		return ErrInvalidArchiveTimer
	}
	return nil
}

// ArchiveEnabled reports whether finished runs should be archived
func (c *Config) ArchiveEnabled() bool {
	return c.Archive.BucketURL != ""
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

func loadEnvMillis(key string, dst *time.Duration, max time.Duration) error {
	ms := int64(0)
	if err := loadEnvInt(key, &ms, 0, max.Milliseconds()); err != nil {
		return err
	}
	if ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
	return nil
}
