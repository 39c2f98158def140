package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
worker:
  concurrency: 4
  queue_depth: 128
  max_retries: 2
llm:
  api_key: sk-test
  model: gpt-4o-mini
  timeout_seconds: 60
logos:
  enabled: false
render:
  headless_pdf: false
storage:
  provider: gcs
  gcs_bucket: letters-bucket
  prefix: subs
db:
  dsn: postgres://example/letters
pubsub:
  project_id: proj
  topic_name: letters-done
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Worker.Concurrency != 4 || cfg.Worker.QueueDepth != 128 {
		t.Fatalf("expected worker overrides to apply: %+v", cfg.Worker)
	}
	if cfg.LLM.Model != "gpt-4o-mini" || cfg.LLM.TimeoutSeconds != 60 {
		t.Fatalf("expected llm overrides to apply: %+v", cfg.LLM)
	}
	if cfg.Logos.Enabled {
		t.Fatalf("expected logos to be disabled")
	}
	if cfg.Storage.Provider != "gcs" || cfg.Storage.GCSBucket != "letters-bucket" {
		t.Fatalf("expected gcs storage config: %+v", cfg.Storage)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Worker.Concurrency != 2 || cfg.Worker.QueueDepth != 64 {
		t.Fatalf("unexpected worker defaults: %+v", cfg.Worker)
	}
	if cfg.Storage.Provider != "memory" {
		t.Fatalf("expected memory storage default, got %s", cfg.Storage.Provider)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Fatalf("expected default model, got %s", cfg.LLM.Model)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }},
		{"unknown storage", func(c *Config) { c.Storage.Provider = "s3" }},
		{"gcs without bucket", func(c *Config) { c.Storage.Provider = "gcs"; c.Storage.GCSBucket = "" }},
		{"pubsub without project", func(c *Config) { c.PubSub.TopicName = "done"; c.PubSub.ProjectID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
