package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Model.MaxConcurrent)
	assert.Equal(t, 300000, cfg.Model.TimeoutMs)
	assert.Equal(t, 3, cfg.Model.MaxRetries)
	assert.Equal(t, 2000, cfg.Model.RetryDelayMs)
	assert.InDelta(t, 0.85, cfg.Pipeline.AutoApplyThreshold, 0.001)
	assert.Equal(t, "model", cfg.OCR.Provider)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DOCPIPE_MODEL_MAX_CONCURRENT", "2")
	t.Setenv("DOCPIPE_PIPELINE_AUTO_APPLY_THRESHOLD", "0.9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Model.MaxConcurrent)
	assert.InDelta(t, 0.9, cfg.Pipeline.AutoApplyThreshold, 0.001)
}

func TestInitLogger_InvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	assert.Error(t, err)
}

func TestInitLogger_Console(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	assert.NoError(t, err)
}
