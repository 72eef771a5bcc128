// Package config loads taskvault settings from TOML with environment
// overrides for the deployment-specific keys.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/taskvault/blob"
	"github.com/vinayprograms/taskvault/logging"
	"github.com/vinayprograms/taskvault/retention"
	"github.com/vinayprograms/taskvault/telemetry"
)

// Environment variables that override the file.
const (
	EnvBackend     = "TASKVAULT_BACKEND"
	EnvBucket      = "BUCKET_NAME"
	EnvNATSURL     = "NATS_URL"
	EnvCredentials = "GOOGLE_APPLICATION_CREDENTIALS"
	EnvLogLevel    = "TASKVAULT_LOG_LEVEL"
)

// Config is the full process configuration.
type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Tasks     TasksConfig     `toml:"tasks"`
	Retention RetentionConfig `toml:"retention"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	Backend         string        `toml:"backend"`
	Bucket          string        `toml:"bucket"`
	CredentialsFile string        `toml:"credentials_file"`
	Endpoint        string        `toml:"endpoint"`
	NATSURL         string        `toml:"nats_url"`
	NATSBucket      string        `toml:"nats_bucket"`
	MaxValueSize    int32         `toml:"max_value_size"`
	ConnectTimeout  time.Duration `toml:"connect_timeout"`
}

// TasksConfig tunes the task store.
type TasksConfig struct {
	UIDPrefix         string        `toml:"uid_prefix"`
	AllocatorAttempts int           `toml:"allocator_attempts"`
	MediaRetention    time.Duration `toml:"media_retention"`
}

// RetentionConfig schedules the media sweep.
type RetentionConfig struct {
	Schedule   string        `toml:"schedule"`
	RunOnStart bool          `toml:"run_on_start"`
	RunTimeout time.Duration `toml:"run_timeout"`
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	Enabled     bool    `toml:"enabled"`
	Endpoint    string  `toml:"endpoint"`
	Protocol    string  `toml:"protocol"`
	Insecure    bool    `toml:"insecure"`
	ServiceName string  `toml:"service_name"`
	SampleRatio float64 `toml:"sample_ratio"`
	Debug       bool    `toml:"debug"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Backend:        blob.BackendMemory,
			NATSURL:        "nats://127.0.0.1:4222",
			NATSBucket:     blob.DefaultNATSStoreConfig().Bucket,
			MaxValueSize:   blob.DefaultNATSStoreConfig().MaxValueSize,
			ConnectTimeout: 5 * time.Second,
		},
		Tasks: TasksConfig{
			UIDPrefix:         "SJ",
			AllocatorAttempts: 5,
			MediaRetention:    7 * 24 * time.Hour,
		},
		Retention: RetentionConfig{
			Schedule:   retention.DefaultSchedule,
			RunTimeout: 30 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "taskvault",
			SampleRatio: 1,
		},
	}
}

// StandardPaths returns the config file locations searched when no path
// is given, in priority order.
func StandardPaths() []string {
	paths := []string{"taskvault.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "taskvault", "taskvault.toml"))
	}
	return paths
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path searches StandardPaths; finding no
// file there is not an error. It returns the file actually read, if any.
func Load(path string) (Config, string, error) {
	cfg := Default()

	if path == "" {
		for _, p := range StandardPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, path, fmt.Errorf("load config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, path, fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, path, err
	}
	return cfg, path, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvBackend); v != "" {
		c.Storage.Backend = v
	}
	if v := getenv(EnvBucket); v != "" {
		c.Storage.Bucket = v
	}
	if v := getenv(EnvNATSURL); v != "" {
		c.Storage.NATSURL = v
	}
	if v := getenv(EnvCredentials); v != "" {
		c.Storage.CredentialsFile = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for values no component accepts.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case blob.BackendMemory, blob.BackendNATS:
	case blob.BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage: gcs backend requires a bucket (set %s)", EnvBucket)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.Storage.MaxValueSize < 0 {
		return fmt.Errorf("storage: max_value_size must not be negative")
	}
	if c.Tasks.UIDPrefix == "" || strings.ContainsAny(c.Tasks.UIDPrefix, "/ ") {
		return fmt.Errorf("tasks: invalid uid_prefix %q", c.Tasks.UIDPrefix)
	}
	if c.Tasks.AllocatorAttempts < 1 {
		return fmt.Errorf("tasks: allocator_attempts must be at least 1")
	}
	if c.Tasks.MediaRetention <= 0 {
		return fmt.Errorf("tasks: media_retention must be positive")
	}
	if _, err := retention.ParseSchedule(c.Retention.Schedule); err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry: endpoint required when enabled")
		}
		if _, err := telemetry.ResolveProtocol(c.Telemetry.Protocol); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
			return fmt.Errorf("telemetry: sample_ratio must be within [0, 1]")
		}
	}
	return nil
}

// BlobConfig returns the blob.Open configuration.
func (c Config) BlobConfig() blob.Config {
	nats := blob.DefaultNATSConnConfig()
	nats.URL = c.Storage.NATSURL
	if c.Storage.ConnectTimeout > 0 {
		nats.ConnectTimeout = c.Storage.ConnectTimeout
	}
	return blob.Config{
		Backend:         c.Storage.Backend,
		Bucket:          c.Storage.Bucket,
		CredentialsFile: c.Storage.CredentialsFile,
		Endpoint:        c.Storage.Endpoint,
		NATS:            nats,
		NATSBucket:      c.Storage.NATSBucket,
		MaxValueSize:    c.Storage.MaxValueSize,
	}
}

// ProviderConfig returns the trace provider configuration. It is only
// meaningful when Telemetry.Enabled is set.
func (c Config) ProviderConfig() telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		Endpoint:    c.Telemetry.Endpoint,
		Protocol:    c.Telemetry.Protocol,
		Insecure:    c.Telemetry.Insecure,
		ServiceName: c.Telemetry.ServiceName,
		SampleRatio: c.Telemetry.SampleRatio,
		Debug:       c.Telemetry.Debug,
	}
}

// LogLevel returns the parsed log level.
func (c Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.Logging.Level)
}
