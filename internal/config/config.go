// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package config

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "TIDEMARK"

// Backends lists the supported embedding backends.
var Backends = []string{"ollama", "openai", "google"}

// Config is the top-level tidemark configuration.
type Config struct {
	DataDir    string           `mapstructure:"data_dir" yaml:"data_dir"`
	Source     SourceConfig     `mapstructure:"source" yaml:"source"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding" yaml:"embedding"`
	Indexing   IndexingConfig   `mapstructure:"indexing" yaml:"indexing"`
	Search     SearchConfig     `mapstructure:"search" yaml:"search"`
	Networking NetworkingConfig `mapstructure:"networking" yaml:"networking"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
}

// SourceConfig points at the TiddlyWeb server holding the entries.
type SourceConfig struct {
	URL      string        `mapstructure:"url" yaml:"url"`
	Recipe   string        `mapstructure:"recipe" yaml:"recipe"`
	Filter   string        `mapstructure:"filter" yaml:"filter"`
	Username string        `mapstructure:"username" yaml:"username,omitempty"`
	Password string        `mapstructure:"password" yaml:"password,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Address string `mapstructure:"address" yaml:"address,omitempty"`
	// BaseURL overrides the API endpoint of a hosted backend.
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Model          string        `mapstructure:"model" yaml:"model,omitempty"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Dimensions     int           `mapstructure:"dimensions" yaml:"dimensions"`
	MaxTokens      int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	HealthTimeout  time.Duration `mapstructure:"health_timeout" yaml:"health_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	DNSTimeout     time.Duration `mapstructure:"dns_timeout" yaml:"dns_timeout"`
	HealthCooldown time.Duration `mapstructure:"health_cooldown" yaml:"health_cooldown"`
}

// IndexingConfig controls reconciliation runs.
type IndexingConfig struct {
	BatchSize  int           `mapstructure:"batch_size" yaml:"batch_size"`
	RetryAfter time.Duration `mapstructure:"retry_after" yaml:"retry_after"`
}

// SearchConfig controls query defaults.
type SearchConfig struct {
	DefaultLimit int `mapstructure:"default_limit" yaml:"default_limit"`
}

// NetworkingConfig controls how the HTTP API listens for connections.
type NetworkingConfig struct {
	Listen      string   `mapstructure:"listen" yaml:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins,omitempty"`
	// APIToken, when set, is required as a bearer token on /api routes.
	APIToken  string          `mapstructure:"api_token" yaml:"api_token,omitempty"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig bounds per-IP request rates on the HTTP API.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())

	v.SetDefault("source.url", "http://127.0.0.1:8080")
	v.SetDefault("source.recipe", "default")
	v.SetDefault("source.filter", "[all[tiddlers]!is[system]]")
	v.SetDefault("source.timeout", 30*time.Second)
	// Optional keys get empty defaults so environment overrides are seen.
	v.SetDefault("source.username", "")
	v.SetDefault("source.password", "")

	v.SetDefault("embedding.backend", "ollama")
	v.SetDefault("embedding.address", "127.0.0.1:11434")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.max_tokens", 512)
	v.SetDefault("embedding.health_timeout", 5*time.Second)
	v.SetDefault("embedding.request_timeout", 120*time.Second)
	v.SetDefault("embedding.dns_timeout", 3*time.Second)
	v.SetDefault("embedding.health_cooldown", 30*time.Second)

	v.SetDefault("indexing.batch_size", 5)
	v.SetDefault("indexing.retry_after", 24*time.Hour)

	v.SetDefault("search.default_limit", 10)

	v.SetDefault("networking.listen", "127.0.0.1:18790")
	v.SetDefault("networking.api_token", "")
	v.SetDefault("networking.rate_limit.requests_per_second", 0)
	v.SetDefault("networking.rate_limit.burst", 10)
	v.SetDefault("storage.backend", "sqlite")
}

// SetupEnv enables TIDEMARK_* overrides, mapping "." to "_" in keys.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix TIDEMARK_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, tmerr.Errorf(tmerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, tmerr.Errorf(tmerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, tmerr.Errorf(tmerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns every problem found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, invalid("config: data_dir must not be empty"))
	}
	errs = append(errs, c.validateSource()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateIndexing()...)
	errs = append(errs, c.validateNetworking()...)
	errs = append(errs, c.validateStorage()...)

	return errs
}

func (c *Config) validateSource() []error {
	var errs []error

	if c.Source.URL == "" {
		errs = append(errs, invalid("config: source.url must not be empty"))
	} else if u, err := url.Parse(c.Source.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, invalid("config: source.url must be an absolute http(s) URL, got %q", c.Source.URL))
	}
	if c.Source.Timeout <= 0 {
		errs = append(errs, invalid("config: source.timeout must be greater than 0, got %s", c.Source.Timeout))
	}

	return errs
}

func (c *Config) validateEmbedding() []error {
	var errs []error
	e := c.Embedding

	switch e.Backend {
	case "ollama":
		if e.Address == "" {
			errs = append(errs, invalid("config: embedding.address is required for the ollama backend"))
		}
	case "openai", "google":
		if e.APIKey == "" {
			errs = append(errs, invalid("config: embedding.api_key is required for the %s backend", e.Backend))
		}
	default:
		errs = append(errs, invalid("config: embedding.backend must be one of [%s], got %q",
			strings.Join(Backends, ", "), e.Backend))
	}

	if e.Dimensions <= 0 {
		errs = append(errs, invalid("config: embedding.dimensions must be greater than 0, got %d", e.Dimensions))
	}
	if e.MaxTokens <= 0 {
		errs = append(errs, invalid("config: embedding.max_tokens must be greater than 0, got %d", e.MaxTokens))
	}
	for key, d := range map[string]time.Duration{
		"health_timeout":  e.HealthTimeout,
		"request_timeout": e.RequestTimeout,
		"dns_timeout":     e.DNSTimeout,
		"health_cooldown": e.HealthCooldown,
	} {
		if d <= 0 {
			errs = append(errs, invalid("config: embedding.%s must be greater than 0, got %s", key, d))
		}
	}

	return errs
}

func (c *Config) validateIndexing() []error {
	var errs []error

	if c.Indexing.BatchSize <= 0 {
		errs = append(errs, invalid("config: indexing.batch_size must be greater than 0, got %d", c.Indexing.BatchSize))
	}
	if c.Indexing.RetryAfter <= 0 {
		errs = append(errs, invalid("config: indexing.retry_after must be greater than 0, got %s", c.Indexing.RetryAfter))
	}
	if c.Search.DefaultLimit <= 0 {
		errs = append(errs, invalid("config: search.default_limit must be greater than 0, got %d", c.Search.DefaultLimit))
	}

	return errs
}

func (c *Config) validateNetworking() []error {
	var errs []error

	if c.Networking.Listen == "" {
		errs = append(errs, invalid("config: networking.listen must not be empty"))
		return errs
	}

	rl := c.Networking.RateLimit
	if rl.RequestsPerSecond < 0 {
		errs = append(errs, invalid("config: networking.rate_limit.requests_per_second must not be negative, got %g", rl.RequestsPerSecond))
	} else if rl.RequestsPerSecond > 0 && rl.Burst <= 0 {
		errs = append(errs, invalid("config: networking.rate_limit.burst must be greater than 0 when a rate is set, got %d", rl.Burst))
	}

	// host may be empty (":8080"), which binds every interface.
	_, portStr, err := net.SplitHostPort(c.Networking.Listen)
	if err != nil {
		errs = append(errs, tmerr.Errorf(tmerr.CodeConfigValidateInvalidValue,
			"config: networking.listen must be a valid host:port address, got %q: %w",
			c.Networking.Listen, err,
		))
		return errs
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, invalid("config: networking.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, invalid("config: networking.listen port must be between 1 and 65535, got %d", port))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, invalid("config: storage.backend must be one of [sqlite], got %q", c.Storage.Backend))
	}

	return errs
}

func invalid(format string, args ...any) error {
	return tmerr.Errorf(tmerr.CodeConfigValidateInvalidValue, format, args...)
}

func defaultDataDir() string {
	if dir, err := DefaultDataDir(); err == nil {
		return dir
	}
	return ".tidemark"
}
