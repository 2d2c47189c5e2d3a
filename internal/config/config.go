// Package config loads and validates node configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"newsmesh/internal/news"
)

// Config captures all node configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Node       NodeConfig       `mapstructure:"node"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Store      StoreConfig      `mapstructure:"store"`
	Blob       BlobConfig       `mapstructure:"blob"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Sources    []news.Source    `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// NodeConfig sets where the node keeps its data and runtime state.
type NodeConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	StatusPath   string `mapstructure:"status_path"`
	PathRefsPath string `mapstructure:"path_refs_path"`
	StaggerMs    int    `mapstructure:"shutdown_stagger_ms"`
}

// FetchConfig governs source fetching and resolution.
type FetchConfig struct {
	UserAgent       string `mapstructure:"user_agent"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	DelayMs         int    `mapstructure:"delay_ms"`
	IgnoreRobots    bool   `mapstructure:"ignore_robots"`
	TargetLanguage  string `mapstructure:"target_language"`
	SkipTranslation bool   `mapstructure:"skip_translation"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// StoreConfig selects the document collection engine.
type StoreConfig struct {
	Engine          string `mapstructure:"engine"` // memory or postgres
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// BlobConfig selects the content-addressed blob backend.
type BlobConfig struct {
	Backend   string `mapstructure:"backend"` // memory, local or gcs
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// EnrichmentConfig points at the analysis service.
type EnrichmentConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxInputBytes  int    `mapstructure:"max_input_bytes"`
}

// PubSubConfig holds metadata for federation announcements.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSMESH")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("node.data_dir", "data")
	v.SetDefault("node.status_path", "data/status.json")
	v.SetDefault("node.path_refs_path", "data/paths.json")
	v.SetDefault("node.shutdown_stagger_ms", 50)
	v.SetDefault("fetch.user_agent", "newsmesh-bot/0.1")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.delay_ms", 0)
	v.SetDefault("fetch.ignore_robots", false)
	v.SetDefault("fetch.target_language", "en")
	v.SetDefault("fetch.skip_translation", false)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("store.engine", "memory")
	v.SetDefault("store.table", "documents")
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.conn_lifetime_minutes", 30)
	v.SetDefault("blob.backend", "memory")
	v.SetDefault("blob.prefix", "articles")
	v.SetDefault("enrichment.timeout_seconds", 30)
	v.SetDefault("enrichment.max_input_bytes", 65536)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Node.DataDir == "" {
		return fmt.Errorf("node.data_dir must be set")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	switch c.Store.Engine {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.engine is postgres")
		}
	default:
		return fmt.Errorf("store.engine must be memory or postgres, got %q", c.Store.Engine)
	}
	switch c.Blob.Backend {
	case "memory":
	case "local":
		if c.Blob.BaseDir == "" {
			return fmt.Errorf("blob.base_dir must be set when blob.backend is local")
		}
	case "gcs":
		if c.Blob.GCSBucket == "" {
			return fmt.Errorf("blob.gcs_bucket must be set when blob.backend is gcs")
		}
	default:
		return fmt.Errorf("blob.backend must be memory, local or gcs, got %q", c.Blob.Backend)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	for i, src := range c.Sources {
		if src.Endpoint == "" {
			return fmt.Errorf("sources[%d].endpoint must be set", i)
		}
	}
	return nil
}

// FetchTimeout converts the fetch timeout config to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// FetchDelay converts the per-domain politeness delay to a duration.
func (c Config) FetchDelay() time.Duration {
	return time.Duration(c.Fetch.DelayMs) * time.Millisecond
}

// ShutdownStagger converts the configured stagger to a duration.
func (c Config) ShutdownStagger() time.Duration {
	return time.Duration(c.Node.StaggerMs) * time.Millisecond
}
