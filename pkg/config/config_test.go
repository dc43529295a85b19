package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFiles(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Query.ConfidenceThreshold != 0.7 {
		t.Errorf("confidence threshold = %v, want 0.7", cfg.Query.ConfidenceThreshold)
	}
	if cfg.Query.CacheTTL != 24*time.Hour {
		t.Errorf("cache TTL = %v, want 24h", cfg.Query.CacheTTL)
	}
	if cfg.Query.DefaultLimit != 3 || cfg.Query.MaxLimit != 10 {
		t.Errorf("limits = %d/%d, want 3/10", cfg.Query.DefaultLimit, cfg.Query.MaxLimit)
	}
	if cfg.Monitor.LatencyThreshold != 5*time.Second {
		t.Errorf("latency threshold = %v, want 5s", cfg.Monitor.LatencyThreshold)
	}
}

func TestLoadYAMLThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9000
query:
  confidenceThreshold: 0.8
workspace:
  requestsPerSec: 2.5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("RP_WORKSPACE_TOKEN=from-dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RP_SERVER_PORT", "9100")
	t.Setenv("RP_KAFKA_BROKERS", "a:9092,b:9092")
	// registers cleanup, then leaves the variable unset for godotenv to fill
	t.Setenv("RP_WORKSPACE_TOKEN", "")
	os.Unsetenv("RP_WORKSPACE_TOKEN")

	cfg, err := Load(path, envPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Query.ConfidenceThreshold != 0.8 {
		t.Errorf("threshold = %v, want 0.8 from yaml", cfg.Query.ConfidenceThreshold)
	}
	if cfg.Workspace.RequestsPerSec != 2.5 {
		t.Errorf("requestsPerSec = %v, want 2.5", cfg.Workspace.RequestsPerSec)
	}
	if cfg.Workspace.Token != "from-dotenv" {
		t.Errorf("token = %q, want value from .env", cfg.Workspace.Token)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("brokers = %v, want two", cfg.Kafka.Brokers)
	}
	if cfg.Query.CacheTTL != 24*time.Hour {
		t.Errorf("untouched default lost: cache TTL = %v", cfg.Query.CacheTTL)
	}
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	if _, err := Load("", filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("Load with missing .env: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults valid", func(*Config) {}, ""},
		{"page size too large", func(c *Config) { c.Sync.DefaultPageSize = 101 }, "defaultPageSize"},
		{"max pages over limit", func(c *Config) { c.Sync.DefaultMaxPages = 5000 }, "defaultMaxPages"},
		{"threshold out of range", func(c *Config) { c.Query.ConfidenceThreshold = 1.5 }, "confidenceThreshold"},
		{"default limit over max", func(c *Config) { c.Query.DefaultLimit = 11 }, "defaultLimit"},
		{"unknown sink", func(c *Config) { c.Monitor.Sink = "s3" }, "monitor.sink"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	dsn := Default().Postgres.DSN()
	for _, part := range []string{"host=localhost", "port=5432", "dbname=retrieval", "sslmode=disable"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("DSN %q missing %q", dsn, part)
		}
	}
}
