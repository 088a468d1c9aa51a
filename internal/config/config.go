package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/kelseyhightower/envconfig"
)

// ByteSize is a byte count that can be set from human readable values
// such as "4MB" or "512KB".
type ByteSize int64

// Decode implements envconfig.Decoder.
func (b *ByteSize) Decode(value string) error {
	size, err := units.RAMInBytes(value)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", value, err)
	}

	*b = ByteSize(size)

	return nil
}

func (b ByteSize) Int64() int64 {
	return int64(b)
}

// Config struct for environment variables.
type Config struct {
	GraphBaseURL string `envconfig:"GRAPH_BASE_URL" default:"https://graph.facebook.com"`
	GraphVersion string `envconfig:"GRAPH_VERSION" default:"v18.0"`
	AccountID    string `envconfig:"ACCOUNT_ID" required:"true"`
	AccessToken  string `envconfig:"ACCESS_TOKEN" required:"true"`

	// Chunk sizing is a safety parameter: a chunk must finish transferring
	// well under the edge's idle-connection ceiling (~60s observed).
	ChunkSize           ByteSize      `envconfig:"CHUNK_SIZE" default:"4MB"`
	MaxAttemptsPerChunk int           `envconfig:"MAX_ATTEMPTS_PER_CHUNK" default:"5"`
	ConnectTimeout      time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`
	MinThroughput       ByteSize      `envconfig:"MIN_THROUGHPUT" default:"128KB"`
	MaxChunkTime        time.Duration `envconfig:"MAX_CHUNK_TIME" default:"45s"`
	RetryInitialBackoff time.Duration `envconfig:"RETRY_INITIAL_BACKOFF" default:"500ms"`
	RetryMaxBackoff     time.Duration `envconfig:"RETRY_MAX_BACKOFF" default:"8s"`

	ScratchDir      string        `envconfig:"SCRATCH_DIR" default:"scratch"`
	KeepScratchFor  time.Duration `envconfig:"KEEP_SCRATCH_FOR" default:"1h"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"30s"`
	MaxParallel     int           `envconfig:"MAX_PARALLEL" default:"3"`
	ReadyTimeout    time.Duration `envconfig:"READY_TIMEOUT" default:"2m"`
	ReadyInterval   time.Duration `envconfig:"READY_INTERVAL" default:"10s"`

	DBPath     string `envconfig:"DB_PATH" default:"uploads.db"`
	WebhookURL string `envconfig:"WEBHOOK_URL"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"INFO"`

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"creative_uploader"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
