package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr)
	assert.Equal(t, "data/clipsync.db", cfg.Database.Path)
	assert.Equal(t, 2, cfg.Download.MaxConcurrent)
	assert.Equal(t, 3, cfg.Download.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Download.RetryBase)
	assert.Equal(t, "ffmpeg", cfg.Media.FFmpegBin)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CLIPSYNC_SERVER_ADDR", "127.0.0.1:9999")
	t.Setenv("CLIPSYNC_DOWNLOAD_MAXCONCURRENT", "4")
	t.Setenv("CLIPSYNC_DOWNLOAD_RETRYBASE", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Download.MaxConcurrent)
	assert.Equal(t, 5*time.Second, cfg.Download.RetryBase)
}

func TestLoadRejectsInvalidLimits(t *testing.T) {
	t.Setenv("CLIPSYNC_DOWNLOAD_MAXCONCURRENT", "0")
	_, err := Load()
	assert.Error(t, err)
}
