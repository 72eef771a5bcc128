package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/taskvault/blob"
	"github.com/vinayprograms/taskvault/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskvault.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{EnvBackend, EnvBucket, EnvNATSURL, EnvCredentials, EnvLogLevel} {
		t.Setenv(k, "")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Storage.Backend != blob.BackendMemory {
		t.Errorf("expected memory backend, got %s", cfg.Storage.Backend)
	}
	if cfg.Tasks.MediaRetention != 7*24*time.Hour {
		t.Errorf("expected 7 day retention, got %v", cfg.Tasks.MediaRetention)
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[storage]
backend = "gcs"
bucket = "tasks-prod"
credentials_file = "/etc/sa.json"

[tasks]
uid_prefix = "TK"
media_retention = "72h"

[retention]
schedule = "*/30 * * * *"
run_on_start = true

[logging]
level = "debug"

[telemetry]
enabled = true
endpoint = "localhost:4318"
protocol = "http"
sample_ratio = 0.5
`)

	cfg, used, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if used != path {
		t.Errorf("expected path %s, got %s", path, used)
	}
	if cfg.Storage.Backend != blob.BackendGCS || cfg.Storage.Bucket != "tasks-prod" {
		t.Errorf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Tasks.UIDPrefix != "TK" || cfg.Tasks.MediaRetention != 72*time.Hour {
		t.Errorf("unexpected tasks %+v", cfg.Tasks)
	}
	if cfg.Tasks.AllocatorAttempts != 5 {
		t.Errorf("unset keys should keep defaults, got %d", cfg.Tasks.AllocatorAttempts)
	}
	if !cfg.Retention.RunOnStart || cfg.Retention.Schedule != "*/30 * * * *" {
		t.Errorf("unexpected retention %+v", cfg.Retention)
	}
	if cfg.LogLevel() != logging.LevelDebug {
		t.Errorf("expected debug level, got %s", cfg.LogLevel())
	}
	pc := cfg.ProviderConfig()
	if pc.Protocol != "http" || pc.SampleRatio != 0.5 || pc.ServiceName != "taskvault" {
		t.Errorf("unexpected provider config %+v", pc)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[storage]
backend = "memory"
`)
	t.Setenv(EnvBackend, "nats")
	t.Setenv(EnvNATSURL, "nats://broker:4222")
	t.Setenv(EnvLogLevel, "warn")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Backend != blob.BackendNATS || cfg.Storage.NATSURL != "nats://broker:4222" {
		t.Errorf("env not applied: %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected warn, got %s", cfg.Logging.Level)
	}

	bc := cfg.BlobConfig()
	if bc.Backend != blob.BackendNATS || bc.NATS.URL != "nats://broker:4222" {
		t.Errorf("unexpected blob config %+v", bc)
	}
}

func TestLoad_GCSBucketFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvBackend, "gcs")
	t.Setenv(EnvBucket, "from-env")
	t.Setenv(EnvCredentials, "/creds.json")

	cfg, _, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Bucket != "from-env" || cfg.Storage.CredentialsFile != "/creds.json" {
		t.Errorf("unexpected storage %+v", cfg.Storage)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[storage\n", "load config"},
		{"unknown key", "[storage]\nbackend = \"memory\"\ncolour = \"blue\"\n", "unknown keys"},
		{"bad backend", "[storage]\nbackend = \"s3\"\n", "unknown backend"},
		{"gcs without bucket", "[storage]\nbackend = \"gcs\"\n", "requires a bucket"},
		{"bad schedule", "[retention]\nschedule = \"soon\"\n", "retention"},
		{"bad level", "[logging]\nlevel = \"loud\"\n", "unknown level"},
		{"telemetry without endpoint", "[telemetry]\nenabled = true\n", "endpoint required"},
		{"bad protocol", "[telemetry]\nenabled = true\nendpoint = \"x:1\"\nprotocol = \"udp\"\n", "telemetry"},
		{"zero attempts", "[tasks]\nallocator_attempts = 0\n", "allocator_attempts"},
		{"bad prefix", "[tasks]\nuid_prefix = \"a/b\"\n", "uid_prefix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected error for explicit missing file")
	}
}

func TestLoad_NoFileSearched(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, used, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if used != "" {
		t.Errorf("expected no file, got %s", used)
	}
	if cfg.Storage.Backend != blob.BackendMemory {
		t.Errorf("expected defaults, got %+v", cfg.Storage)
	}
}
