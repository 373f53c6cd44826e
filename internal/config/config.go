package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

const namespace = "AGENTDESK"

// Config holds all configuration for the agentdesk server.
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	Version  string `envconfig:"VERSION" default:"0.1.0"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	Database      DatabaseConfig      `envconfig:"DATABASE"`
	Telemetry     TelemetryConfig     `envconfig:"OTEL"`
	Auth          AuthConfig          `envconfig:"AUTH"`
	Platform      PlatformConfig      `envconfig:"PLATFORM"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
	Blob          BlobConfig          `envconfig:"BLOB"`
	Tracking      TrackingConfig      `envconfig:"TRACKING"`
	Reconcile     ReconcileConfig     `envconfig:"RECONCILE"`
}

type DatabaseConfig struct {
	// URL selects the backend: postgres://..., sqlite:<path>, file:<path>, or memory.
	URL            string `envconfig:"URL" default:"memory"`
	MaxConnections int    `envconfig:"MAX_CONNECTIONS" default:"25"`
	// SnapshotPath persists the memory store to disk when set.
	SnapshotPath string `envconfig:"SNAPSHOT_PATH"`
}

type TelemetryConfig struct {
	Enabled      bool   `envconfig:"ENABLED" default:"false"`
	OTLPEndpoint string `envconfig:"ENDPOINT" default:"localhost:4317"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"agentdesk"`
}

type AuthConfig struct {
	// APIKeys maps an API key to the user id it authenticates, "key:user,key2:user2".
	APIKeys         map[string]string `envconfig:"API_KEYS"`
	TrustUserHeader bool              `envconfig:"TRUST_USER_HEADER" default:"false"`
	UserHeader      string            `envconfig:"USER_HEADER" default:"X-User-Id"`
	RequireAuth     bool              `envconfig:"REQUIRE" default:"false"`
}

type PlatformConfig struct {
	BaseURL       string        `envconfig:"BASE_URL"`
	APIKey        string        `envconfig:"API_KEY"`
	Timeout       time.Duration `envconfig:"TIMEOUT" default:"30s"`
	InvokeTimeout time.Duration `envconfig:"INVOKE_TIMEOUT" default:"90s"`
}

// Enabled reports whether an execution platform is configured at all.
func (p PlatformConfig) Enabled() bool {
	return p.BaseURL != ""
}

type ObservabilityConfig struct {
	BaseURL string        `envconfig:"BASE_URL"`
	APIKey  string        `envconfig:"API_KEY"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"10s"`
}

type BlobConfig struct {
	Backend       string `envconfig:"BACKEND" default:"local"`
	LocalDir      string `envconfig:"LOCAL_DIR" default:".agentdesk/blobs"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080/blobs"`
	S3Bucket      string `envconfig:"S3_BUCKET"`
	S3Prefix      string `envconfig:"S3_PREFIX" default:"knowledge/"`
	S3Region      string `envconfig:"S3_REGION" default:"us-east-1"`
}

type TrackingConfig struct {
	Async   bool          `envconfig:"ASYNC" default:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"15s"`
}

type ReconcileConfig struct {
	// Interval of zero disables the background sweep.
	Interval    time.Duration `envconfig:"INTERVAL" default:"0"`
	Concurrency int           `envconfig:"CONCURRENCY" default:"4"`
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	BatchSize   int           `envconfig:"BATCH_SIZE" default:"100"`
}

// Load reads configuration from AGENTDESK_* environment variables with defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(namespace, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// ZerologLevel parses LogLevel, falling back to info.
func (c *Config) ZerologLevel() zerolog.Level {
	if c == nil {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
