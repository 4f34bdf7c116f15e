// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Application ApplicationConfig `mapstructure:"application"`
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	DB          DBConfig          `mapstructure:"db"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Search      SearchConfig      `mapstructure:"search"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Backfill    BackfillConfig    `mapstructure:"backfill"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ApplicationConfig identifies the service in logs and traces.
type ApplicationConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	RequestTimeoutS int `mapstructure:"request_timeout_seconds"`
	ShutdownGraceS  int `mapstructure:"shutdown_grace_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the Postgres catalog store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// EmbeddingConfig configures the embedding backend. An empty APIKey leaves
// the service without a backend; search then runs lexical-only.
type EmbeddingConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	APIKey           string `mapstructure:"api_key"`
	Model            string `mapstructure:"model"`
	Dimension        int    `mapstructure:"dimension"`
	BatchSize        int    `mapstructure:"batch_size"`
	CacheSize        int    `mapstructure:"cache_size"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// SearchConfig tunes the hybrid ranking engine.
type SearchConfig struct {
	LexicalWeight  float64 `mapstructure:"lexical_weight"`
	VectorWeight   float64 `mapstructure:"vector_weight"`
	CandidateLimit int     `mapstructure:"candidate_limit"`
	MaxLimit       int     `mapstructure:"max_limit"`
}

// IngestConfig bounds ingestion batches.
type IngestConfig struct {
	MaxBatchRecords int `mapstructure:"max_batch_records"`
}

// BackfillConfig tunes the embedding backfill runner.
type BackfillConfig struct {
	BatchSize   int `mapstructure:"batch_size"`
	Concurrency int `mapstructure:"concurrency"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("application.service_name", "catalog-search")
	v.SetDefault("application.version", "dev")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_grace_seconds", 15)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.batch_size", 64)
	v.SetDefault("embedding.cache_size", 1024)
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("embedding.backoff_initial_ms", 250)
	v.SetDefault("embedding.backoff_max_ms", 2000)
	v.SetDefault("search.lexical_weight", 0.5)
	v.SetDefault("search.vector_weight", 0.5)
	v.SetDefault("search.candidate_limit", 100)
	v.SetDefault("search.max_limit", 50)
	v.SetDefault("ingest.max_batch_records", 500)
	v.SetDefault("backfill.batch_size", 50)
	v.SetDefault("backfill.concurrency", 4)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.DB.MaxConns <= 0 {
		return fmt.Errorf("db.max_conns must be > 0")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model must be set")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be > 0")
	}
	if c.Search.LexicalWeight < 0 || c.Search.VectorWeight < 0 {
		return fmt.Errorf("search weights must not be negative")
	}
	if c.Search.LexicalWeight+c.Search.VectorWeight == 0 {
		return fmt.Errorf("search weights must not both be zero")
	}
	if c.Ingest.MaxBatchRecords <= 0 {
		return fmt.Errorf("ingest.max_batch_records must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RequestTimeout converts the configured HTTP request budget to a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutS) * time.Second
}

// ShutdownGrace converts the configured shutdown grace period to a duration.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Server.ShutdownGraceS) * time.Second
}

// EmbeddingTimeout converts the embedding request budget to a duration.
func (c Config) EmbeddingTimeout() time.Duration {
	return time.Duration(c.Embedding.TimeoutSeconds) * time.Second
}
