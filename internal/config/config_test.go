package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Workers != 5 || cfg.Crawler.BatchSize != 200 || cfg.Crawler.NotFoundThreshold != 50 {
		t.Fatalf("unexpected crawler defaults: %+v", cfg.Crawler)
	}
	if cfg.Output.Dir != "output" {
		t.Fatalf("expected output dir default, got %q", cfg.Output.Dir)
	}
	if got := cfg.FetchTimeout(); got != 10*time.Second {
		t.Fatalf("expected 10s fetch timeout, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
source:
  url_template: "http://localhost:9999/id.php?id=%d"
  not_found_marker: "nope"
  user_agent: test-agent
crawler:
  workers: 8
  batch_size: 50
  not_found_threshold: 20
  start_id: 100
  limit: 5
  max_unresolved_runs: 2
http:
  timeout_seconds: 3
  max_retries: 1
  backoff_initial_ms: 10
  backoff_max_ms: 40
  rate_per_second: 2.5
  burst: 2
output:
  dir: /tmp/genealogy
archive:
  provider: local
  base_dir: /tmp/archive
  raw_pages: true
db:
  dsn: postgres://localhost/genealogy
pubsub:
  project_id: proj
  topic_name: runs
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.Workers != 8 || cfg.Crawler.BatchSize != 50 || cfg.Crawler.NotFoundThreshold != 20 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Crawler.StartID != 100 || cfg.Crawler.Limit != 5 {
		t.Fatalf("expected start/limit overrides: %+v", cfg.Crawler)
	}
	if cfg.Source.NotFoundMarker != "nope" || cfg.Source.UserAgent != "test-agent" {
		t.Fatalf("expected source overrides: %+v", cfg.Source)
	}
	if cfg.HTTP.RatePerSecond != 2.5 || cfg.BackoffMax() != 40*time.Millisecond {
		t.Fatalf("expected http overrides: %+v", cfg.HTTP)
	}
	if cfg.Archive.Provider != ArchiveLocal || !cfg.Archive.RawPages {
		t.Fatalf("expected archive overrides: %+v", cfg.Archive)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
	if cfg.DB.NodesTable != "genealogy_nodes" {
		t.Fatalf("expected default table name to survive file load, got %q", cfg.DB.NodesTable)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GENEALOGY_CRAWLER_WORKERS", "12")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Workers != 12 {
		t.Fatalf("expected env override to apply, got %d", cfg.Crawler.Workers)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Source:  SourceConfig{URLTemplate: "http://x/?id=%d"},
		Crawler: CrawlerConfig{Workers: 1, BatchSize: 1, NotFoundThreshold: 1, MaxUnresolvedRuns: 1},
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
		Output:  OutputConfig{Dir: "out"},
		Server:  ServerConfig{Port: 8080},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "template without placeholder",
			cfg: func() Config {
				c := base
				c.Source.URLTemplate = "http://x/"
				return c
			}(),
			want: "source.url_template",
		},
		{
			name: "invalid workers",
			cfg: func() Config {
				c := base
				c.Crawler.Workers = 0
				return c
			}(),
			want: "crawler.workers",
		},
		{
			name: "invalid batch size",
			cfg: func() Config {
				c := base
				c.Crawler.BatchSize = 0
				return c
			}(),
			want: "crawler.batch_size",
		},
		{
			name: "invalid threshold",
			cfg: func() Config {
				c := base
				c.Crawler.NotFoundThreshold = 0
				return c
			}(),
			want: "crawler.not_found_threshold",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.TimeoutSeconds = 0
				return c
			}(),
			want: "http.timeout_seconds",
		},
		{
			name: "local archive missing dir",
			cfg: func() Config {
				c := base
				c.Archive.Provider = ArchiveLocal
				return c
			}(),
			want: "archive.base_dir",
		},
		{
			name: "gcs archive missing bucket",
			cfg: func() Config {
				c := base
				c.Archive.Provider = ArchiveGCS
				return c
			}(),
			want: "archive.gcs_bucket",
		},
		{
			name: "unknown archive",
			cfg: func() Config {
				c := base
				c.Archive.Provider = "s3"
				return c
			}(),
			want: "archive.provider",
		},
		{
			name: "topic without project",
			cfg: func() Config {
				c := base
				c.PubSub.TopicName = "runs"
				return c
			}(),
			want: "pubsub.project_id",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadDiscoversConfigInSearchPaths(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("crawler:\n  workers: 9\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	prev := SearchPaths
	SearchPaths = []string{dir}
	t.Cleanup(func() { SearchPaths = prev })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Workers != 9 {
		t.Fatalf("expected discovered config to apply, got %d workers", cfg.Crawler.Workers)
	}
}
