// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. GENEALOGY_CRAWLER_WORKERS.
const EnvPrefix = "GENEALOGY"

// SearchPaths are the directories searched for config.yaml when no file is
// given explicitly.
var SearchPaths = []string{".", "$HOME/.genealogy-crawler", "/etc/genealogy-crawler"}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Source  SourceConfig  `mapstructure:"source"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Output  OutputConfig  `mapstructure:"output"`
	Archive ArchiveConfig `mapstructure:"archive"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SourceConfig describes the record database being scanned.
type SourceConfig struct {
	URLTemplate    string `mapstructure:"url_template"`
	NotFoundMarker string `mapstructure:"not_found_marker"`
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// CrawlerConfig governs the scan loop. StartID and Limit are 0 when unset.
type CrawlerConfig struct {
	Workers           int `mapstructure:"workers"`
	BatchSize         int `mapstructure:"batch_size"`
	NotFoundThreshold int `mapstructure:"not_found_threshold"`
	StartID           int `mapstructure:"start_id"`
	Limit             int `mapstructure:"limit"`
	MaxUnresolvedRuns int `mapstructure:"max_unresolved_runs"`
}

// HTTPConfig configures fetch timeouts, retries and politeness.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RatePerSecond    float64 `mapstructure:"rate_per_second"`
	Burst            int     `mapstructure:"burst"`
}

// OutputConfig locates the persisted graph and run snapshots.
type OutputConfig struct {
	Dir          string `mapstructure:"dir"`
	DataFile     string `mapstructure:"data_file"`
	MetadataFile string `mapstructure:"metadata_file"`
}

// ArchiveConfig controls optional copies of raw pages and run artifacts.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	RawPages  bool   `mapstructure:"raw_pages"`
	Artifacts bool   `mapstructure:"artifacts"`
}

// DBConfig controls the optional Postgres mirror of the graph.
type DBConfig struct {
	DSN        string `mapstructure:"dsn"`
	NodesTable string `mapstructure:"nodes_table"`
	EdgesTable string `mapstructure:"edges_table"`
	MaxConns   int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for run-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls Prometheus pushgateway export.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
}

// ServerConfig controls the read-only HTTP view.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Archive providers.
const (
	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveMemory = "memory"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load over a caller-supplied Viper instance, which lets command
// flags be bound before unmarshalling.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		// Without an explicit file, an optional config.yaml is picked up from
		// the search paths.
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, dir := range SearchPaths {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("source.url_template", "https://genealogy.math.ndsu.nodak.edu/id.php?id=%d")
	v.SetDefault("source.not_found_marker", "You have specified an ID that does not exist in the database.")
	v.SetDefault("source.user_agent", "genealogy-crawler/0.1")
	v.SetDefault("source.respect_robots", false)
	v.SetDefault("crawler.workers", 5)
	v.SetDefault("crawler.batch_size", 200)
	v.SetDefault("crawler.not_found_threshold", 50)
	v.SetDefault("crawler.start_id", 0)
	v.SetDefault("crawler.limit", 0)
	v.SetDefault("crawler.max_unresolved_runs", 3)
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.rate_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.data_file", "")
	v.SetDefault("output.metadata_file", "")
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.prefix", "genealogy")
	v.SetDefault("archive.raw_pages", false)
	v.SetDefault("archive.artifacts", true)
	v.SetDefault("db.nodes_table", "genealogy_nodes")
	v.SetDefault("db.edges_table", "genealogy_edges")
	v.SetDefault("metrics.job_name", "genealogy_crawler")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !strings.Contains(c.Source.URLTemplate, "%d") {
		return fmt.Errorf("source.url_template must contain %%d")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.Crawler.NotFoundThreshold <= 0 {
		return fmt.Errorf("crawler.not_found_threshold must be > 0")
	}
	if c.Crawler.StartID < 0 {
		return fmt.Errorf("crawler.start_id must be >= 0")
	}
	if c.Crawler.Limit < 0 {
		return fmt.Errorf("crawler.limit must be >= 0")
	}
	if c.Crawler.MaxUnresolvedRuns <= 0 {
		return fmt.Errorf("crawler.max_unresolved_runs must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.RatePerSecond < 0 {
		return fmt.Errorf("http.rate_per_second must be >= 0")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir must be set")
	}
	switch c.Archive.Provider {
	case ArchiveNone, ArchiveMemory, "":
	case ArchiveLocal:
		if strings.TrimSpace(c.Archive.BaseDir) == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.provider is local")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("archive.provider %q is not supported", c.Archive.Provider)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// FetchTimeout is the per-attempt fetch deadline.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial is the first retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps retry delays.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
