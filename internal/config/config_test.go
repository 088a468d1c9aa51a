package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteSize_Decode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"megabytes", "4MB", 4 * 1024 * 1024, false},
		{"kilobytes", "512KB", 512 * 1024, false},
		{"plain bytes", "1048576", 1048576, false},
		{"gigabytes", "1GB", 1024 * 1024 * 1024, false},
		{"garbage", "many bytes", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b ByteSize

			err := b.Decode(tt.input)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Int64())
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ACCOUNT_ID", "act_123")
	t.Setenv("ACCESS_TOKEN", "token")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://graph.facebook.com", cfg.GraphBaseURL)
	assert.Equal(t, "v18.0", cfg.GraphVersion)
	assert.Equal(t, int64(4*1024*1024), cfg.ChunkSize.Int64())
	assert.Equal(t, 5, cfg.MaxAttemptsPerChunk)
	assert.Equal(t, 45*time.Second, cfg.MaxChunkTime)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 3, cfg.MaxParallel)
	assert.Equal(t, "0.0.0.0:9092", cfg.Web.BindAddress)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	// t.Setenv cannot unset, and required fields only fail when the variable
	// is absent entirely.
	os.Unsetenv("ACCOUNT_ID")
	os.Unsetenv("ACCESS_TOKEN")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("ACCOUNT_ID", "act_123")
	t.Setenv("ACCESS_TOKEN", "token")
	t.Setenv("CHUNK_SIZE", "8MB")
	t.Setenv("MAX_ATTEMPTS_PER_CHUNK", "3")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:8080")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, int64(8*1024*1024), cfg.ChunkSize.Int64())
	assert.Equal(t, 3, cfg.MaxAttemptsPerChunk)
	assert.Equal(t, "127.0.0.1:8080", cfg.Web.BindAddress)
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			assert.Equal(t, tt.want, cfg.SlogLevel())
		})
	}
}
