// Package config loads pairbot settings from an optional YAML file and
// PAIRBOT_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix         = "PAIRBOT_"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

type Config struct {
	HTTP    HTTPConfig    `koanf:"http"`
	Log     LogConfig     `koanf:"log"`
	AWS     AWSConfig     `koanf:"aws"`
	Session SessionConfig `koanf:"session"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AWSConfig names the parameter prefix holding the blob store account and the
// optional DynamoDB table for the session audit trail.
type AWSConfig struct {
	Region      string `koanf:"region"`
	ParamPrefix string `koanf:"param_prefix"`
	StateTable  string `koanf:"state_table"`
}

type SessionConfig struct {
	Dir               string        `koanf:"dir"`
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
	ReadyTimeout      time.Duration `koanf:"ready_timeout"`
	SettleDelay       time.Duration `koanf:"settle_delay"`
	CleanupDelay      time.Duration `koanf:"cleanup_delay"`
	Timeout           time.Duration `koanf:"timeout"`
}

// Load reads path (skipped when empty) and then applies environment overrides.
//
//	PAIRBOT_HTTP_ADDR            -> http.addr
//	PAIRBOT_SESSION_MAX_ATTEMPTS -> session.max_attempts
//	PAIRBOT_AWS_PARAM_PREFIX     -> aws.param_prefix
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// envKey splits on the first underscore after the prefix so field names keep
// their own underscores.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config: %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config: %s exceeds %d bytes", path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return content, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8000"
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.AWS.ParamPrefix == "" {
		cfg.AWS.ParamPrefix = "/pairbot"
	}

	s := &cfg.Session
	if s.Dir == "" {
		s.Dir = "sessions"
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = 5
	}
	if s.InitialBackoff == 0 {
		s.InitialBackoff = time.Second
	}
	if s.MaxBackoff == 0 {
		s.MaxBackoff = 10 * time.Second
	}
	if s.BackoffMultiplier == 0 {
		s.BackoffMultiplier = 2
	}
	if s.ReadyTimeout == 0 {
		s.ReadyTimeout = 15 * time.Second
	}
	if s.SettleDelay == 0 {
		s.SettleDelay = 2 * time.Second
	}
	if s.CleanupDelay == 0 {
		s.CleanupDelay = time.Second
	}
	if s.Timeout == 0 {
		s.Timeout = 5 * time.Minute
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("http.addr is required")
	}
	if !strings.HasPrefix(c.AWS.ParamPrefix, "/") {
		return fmt.Errorf("aws.param_prefix must start with '/': %q", c.AWS.ParamPrefix)
	}
	s := c.Session
	if s.MaxAttempts < 1 {
		return fmt.Errorf("session.max_attempts must be at least 1, got %d", s.MaxAttempts)
	}
	if s.BackoffMultiplier < 1 {
		return fmt.Errorf("session.backoff_multiplier must be at least 1, got %g", s.BackoffMultiplier)
	}
	for name, d := range map[string]time.Duration{
		"session.initial_backoff": s.InitialBackoff,
		"session.max_backoff":     s.MaxBackoff,
		"session.ready_timeout":   s.ReadyTimeout,
		"session.settle_delay":    s.SettleDelay,
		"session.cleanup_delay":   s.CleanupDelay,
		"session.timeout":         s.Timeout,
		"http.shutdown_timeout":   c.HTTP.ShutdownTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if s.MaxBackoff < s.InitialBackoff {
		return errors.New("session.max_backoff must not be below session.initial_backoff")
	}
	return nil
}
