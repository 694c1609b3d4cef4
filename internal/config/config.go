// Package config loads and validates tap configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Output kinds.
const (
	OutputSinger = "singer"
	OutputPubSub = "pubsub"
)

// State backends.
const (
	StateNone     = "none"
	StateFile     = "file"
	StateGCS      = "gcs"
	StatePostgres = "postgres"
)

// ErrMissingAPIKey is returned when neither api_key nor api.key is set.
var ErrMissingAPIKey = errors.New("api_key must be set")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config captures all tap configuration knobs loaded via Viper.
type Config struct {
	// APIKey is the flat Singer-style key; API.Key is accepted as an alias.
	APIKey  string        `mapstructure:"api_key"`
	API     APIConfig     `mapstructure:"api"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Output  OutputConfig  `mapstructure:"output"`
	State   StateConfig   `mapstructure:"state"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// APIConfig addresses the Acuite REST API.
type APIConfig struct {
	Key        string `mapstructure:"key"`
	BaseURL    string `mapstructure:"base_url"`
	AuthHeader string `mapstructure:"auth_header"`
}

// HTTPConfig configures HTTP client retry and concurrency behavior.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	MaxConcurrency    int     `mapstructure:"max_concurrency"`
	BackoffInitialMs  int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// SyncConfig tunes stream extraction.
type SyncConfig struct {
	PageSize           int   `mapstructure:"page_size"`
	SlowPageSize       int   `mapstructure:"slow_page_size"`
	TrimLimit          int   `mapstructure:"trim_limit"`
	HSEventTrimLimit   int   `mapstructure:"hsevent_trim_limit"`
	DetailConcurrency  int   `mapstructure:"detail_concurrency"`
	LocationCountryIDs []int `mapstructure:"location_country_ids"`
}

// OutputConfig selects where records are written.
type OutputConfig struct {
	Kind   string       `mapstructure:"kind"`
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds the topic records are published to.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// StateConfig selects where bookmark state is persisted.
type StateConfig struct {
	Backend  string              `mapstructure:"backend"`
	File     FileStateConfig     `mapstructure:"file"`
	GCS      GCSStateConfig      `mapstructure:"gcs"`
	Postgres PostgresStateConfig `mapstructure:"postgres"`
}

// FileStateConfig points at a local state file.
type FileStateConfig struct {
	Path string `mapstructure:"path"`
}

// GCSStateConfig points at a state object in Cloud Storage.
type GCSStateConfig struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// PostgresStateConfig points at a state table.
type PostgresStateConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
	TapID string `mapstructure:"tap_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig configures the end-of-run Pushgateway push.
type MetricsConfig struct {
	PushURL string `mapstructure:"push_url"`
	Job     string `mapstructure:"job"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TAP_ACUITE")
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
	if cfg.APIKey == "" {
		cfg.APIKey = cfg.API.Key
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("api.key", "")
	v.SetDefault("api.base_url", "https://api.acuite.co.nz/")
	v.SetDefault("api.auth_header", "AcuiteApiKey")
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.max_attempts", 4)
	v.SetDefault("http.max_concurrency", 32)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("sync.page_size", 1000)
	v.SetDefault("sync.slow_page_size", 100)
	v.SetDefault("sync.trim_limit", 750)
	v.SetDefault("sync.hsevent_trim_limit", 500)
	v.SetDefault("sync.detail_concurrency", 32)
	v.SetDefault("sync.location_country_ids", []int{1, 2})
	v.SetDefault("output.kind", OutputSinger)
	v.SetDefault("output.pubsub.project_id", "")
	v.SetDefault("output.pubsub.topic", "")
	v.SetDefault("state.backend", StateNone)
	v.SetDefault("state.file.path", "state.json")
	v.SetDefault("state.gcs.bucket", "")
	v.SetDefault("state.gcs.object", "tap-acuite/state.json")
	v.SetDefault("state.postgres.dsn", "")
	v.SetDefault("state.postgres.table", "tap_state")
	v.SetDefault("state.postgres.tap_id", "tap-acuite")
	v.SetDefault("logging.development", false)
	v.SetDefault("metrics.push_url", "")
	v.SetDefault("metrics.job", "tap_acuite")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	base, err := url.Parse(c.API.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.API.AuthHeader == "" {
		return fmt.Errorf("api.auth_header must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.MaxConcurrency <= 0 {
		return fmt.Errorf("http.max_concurrency must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if c.Sync.PageSize <= 0 || c.Sync.SlowPageSize <= 0 {
		return fmt.Errorf("sync.page_size and sync.slow_page_size must be > 0")
	}
	if c.Sync.TrimLimit <= 0 || c.Sync.HSEventTrimLimit <= 0 {
		return fmt.Errorf("sync.trim_limit and sync.hsevent_trim_limit must be > 0")
	}
	if c.Sync.DetailConcurrency <= 0 {
		return fmt.Errorf("sync.detail_concurrency must be > 0")
	}
	switch c.Output.Kind {
	case OutputSinger:
	case OutputPubSub:
		if c.Output.PubSub.ProjectID == "" || c.Output.PubSub.Topic == "" {
			return fmt.Errorf("output.pubsub.project_id and output.pubsub.topic must be set for pubsub output")
		}
	default:
		return fmt.Errorf("output.kind must be %q or %q, got %q", OutputSinger, OutputPubSub, c.Output.Kind)
	}
	switch c.State.Backend {
	case StateNone:
	case StateFile:
		if c.State.File.Path == "" {
			return fmt.Errorf("state.file.path must be set for the file backend")
		}
	case StateGCS:
		if c.State.GCS.Bucket == "" || c.State.GCS.Object == "" {
			return fmt.Errorf("state.gcs.bucket and state.gcs.object must be set for the gcs backend")
		}
	case StatePostgres:
		if c.State.Postgres.DSN == "" {
			return fmt.Errorf("state.postgres.dsn must be set for the postgres backend")
		}
		if !identifierPattern.MatchString(c.State.Postgres.Table) {
			return fmt.Errorf("state.postgres.table %q is not a valid identifier", c.State.Postgres.Table)
		}
		if c.State.Postgres.TapID == "" {
			return fmt.Errorf("state.postgres.tap_id must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("state.backend %q is not supported", c.State.Backend)
	}
	return nil
}

// Timeout returns the per-request HTTP timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
