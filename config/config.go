// Package config provides YAML configuration parsing for the saralmitti CLI.
//
// One file configures both sides: the poller used by the "poll" and
// "analyze" commands, and the demo backend started by "serve".
//
// Example configuration:
//
//	base_url: ${SARALMITTI_URL:-https://api.saralmitti.in}
//	credential: ${SARALMITTI_TOKEN:-}
//	request_timeout: 10s
//
//	poll:
//	  max_attempts: 30
//	  initial_delay: 1s
//	  backoff:
//	    threshold: 20s
//	    factor: 1.5
//	    max_delay: 5s
//
//	server:
//	  port: 8080
//	  processing_time: 2.5s
//	  store: redis
//	  redis_url: redis://localhost:6379/0
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Parse] to fields left unset.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultMaxAttempts    = 30
	DefaultInitialDelay   = 1 * time.Second
	DefaultMaxConcurrency = 4
	DefaultThreshold      = 20 * time.Second
	DefaultFactor         = 1.5
	DefaultMaxDelay       = 5 * time.Second

	DefaultPort           = 8080
	DefaultProcessingTime = 2500 * time.Millisecond
	DefaultMaxUploadBytes = 10 << 20
	DefaultHistoryTTL     = 24 * time.Hour
)

// Store backends accepted by server.store.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the root configuration structure.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// BaseURL is the analysis service. Empty, or an example.com host,
	// selects mock mode.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	BaseURL string `yaml:"base_url"`

	// Mock forces mock mode regardless of BaseURL.
	Mock bool `yaml:"mock"`

	// Credential is sent as a bearer token. Supports environment variables.
	Credential string `yaml:"credential"`

	// RequestTimeout bounds each status query. Defaults to 10s.
	RequestTimeout Duration `yaml:"request_timeout"`

	Poll PollConfig `yaml:"poll"`

	Server ServerConfig `yaml:"server"`
}

// PollConfig controls the poll loop.
type PollConfig struct {
	// MaxAttempts is the number of status queries per job. Defaults to 30.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the wait between the first queries. Defaults to 1s.
	InitialDelay Duration `yaml:"initial_delay"`

	// MaxConcurrency bounds how many jobs are polled at once. Defaults to 4.
	MaxConcurrency int `yaml:"max_concurrency"`

	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig mirrors saralmitti.BackoffPolicy.
type BackoffConfig struct {
	Threshold Duration `yaml:"threshold"`
	Factor    float64  `yaml:"factor"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// ServerConfig configures the demo backend.
type ServerConfig struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// ProcessingTime is how long each upload reports processing.
	ProcessingTime Duration `yaml:"processing_time"`

	// AuthToken, when set, is required as a bearer token. Supports
	// environment variables.
	AuthToken string `yaml:"auth_token"`

	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// Store is "memory" (default) or "redis".
	Store string `yaml:"store"`

	// RedisURL is required when Store is "redis".
	RedisURL string `yaml:"redis_url"`

	// HistoryTTL is how long Redis keeps finished jobs. Defaults to 24h.
	HistoryTTL Duration `yaml:"history_ttl"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in base_url, credential,
// server.auth_token and server.redis_url. Defaults are applied to every
// unset field. An empty document is valid and selects mock mode.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if c.Poll.MaxAttempts == 0 {
		c.Poll.MaxAttempts = DefaultMaxAttempts
	}
	if c.Poll.InitialDelay == 0 {
		c.Poll.InitialDelay = Duration(DefaultInitialDelay)
	}
	if c.Poll.MaxConcurrency == 0 {
		c.Poll.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.Poll.Backoff.Threshold == 0 {
		c.Poll.Backoff.Threshold = Duration(DefaultThreshold)
	}
	if c.Poll.Backoff.Factor == 0 {
		c.Poll.Backoff.Factor = DefaultFactor
	}
	if c.Poll.Backoff.MaxDelay == 0 {
		c.Poll.Backoff.MaxDelay = Duration(DefaultMaxDelay)
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ProcessingTime == 0 {
		c.Server.ProcessingTime = Duration(DefaultProcessingTime)
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Server.Store == "" {
		c.Server.Store = StoreMemory
	}
	if c.Server.HistoryTTL == 0 {
		c.Server.HistoryTTL = Duration(DefaultHistoryTTL)
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	var err error
	if c.BaseURL, err = expandEnvVars(c.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if c.Credential, err = expandEnvVars(c.Credential); err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	if c.Server.AuthToken, err = expandEnvVars(c.Server.AuthToken); err != nil {
		return fmt.Errorf("server.auth_token: %w", err)
	}
	if c.Server.RedisURL, err = expandEnvVars(c.Server.RedisURL); err != nil {
		return fmt.Errorf("server.redis_url: %w", err)
	}

	if c.BaseURL != "" {
		parsedURL, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("base_url: invalid url: %w", err)
		}
		if parsedURL.Scheme == "" {
			return errors.New("base_url: url must have a scheme (http:// or https://)")
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return fmt.Errorf("base_url: url scheme must be http or https, got %q", parsedURL.Scheme)
		}
	}

	if c.RequestTimeout.Duration() < 0 {
		return fmt.Errorf("request_timeout cannot be negative, got %s", c.RequestTimeout.Duration())
	}

	p := c.Poll
	if p.MaxAttempts < 1 {
		return fmt.Errorf("poll.max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay.Duration() <= 0 {
		return fmt.Errorf("poll.initial_delay must be positive, got %s", p.InitialDelay.Duration())
	}
	if p.MaxConcurrency < 1 {
		return fmt.Errorf("poll.max_concurrency must be at least 1, got %d", p.MaxConcurrency)
	}
	if p.Backoff.Threshold.Duration() < 0 {
		return fmt.Errorf("poll.backoff.threshold cannot be negative, got %s", p.Backoff.Threshold.Duration())
	}
	if p.Backoff.Factor < 1 {
		return fmt.Errorf("poll.backoff.factor must be at least 1, got %g", p.Backoff.Factor)
	}
	if p.Backoff.MaxDelay.Duration() <= 0 {
		return fmt.Errorf("poll.backoff.max_delay must be positive, got %s", p.Backoff.MaxDelay.Duration())
	}
	if p.InitialDelay > p.Backoff.MaxDelay {
		return fmt.Errorf("poll.initial_delay (%s) must not exceed poll.backoff.max_delay (%s)",
			p.InitialDelay.Duration(), p.Backoff.MaxDelay.Duration())
	}

	s := c.Server
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Port)
	}
	if s.ProcessingTime.Duration() < 0 {
		return fmt.Errorf("server.processing_time cannot be negative, got %s", s.ProcessingTime.Duration())
	}
	if s.MaxUploadBytes < 0 {
		return fmt.Errorf("server.max_upload_bytes cannot be negative, got %d", s.MaxUploadBytes)
	}
	switch s.Store {
	case StoreMemory:
	case StoreRedis:
		if s.RedisURL == "" {
			return errors.New("server.redis_url is required when server.store is redis")
		}
	default:
		return fmt.Errorf("server.store must be %q or %q, got %q", StoreMemory, StoreRedis, s.Store)
	}

	return nil
}
