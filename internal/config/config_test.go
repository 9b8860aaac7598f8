package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TomNeyland/modash-go/internal/config"
	"github.com/TomNeyland/modash-go/ivm"
)

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(os.WriteFile(path, []byte("topKDefault: 100\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(err)
	require.Equal(100, cfg.TopKDefault)
	require.Equal(3, cfg.RebuildRetryCount)
	require.Equal(64, cfg.EventSourceBufferSize)
}

func TestLoadMissingFileReturnsDefaultAndError(t *testing.T) {
	require := require.New(t)
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(err)
	require.Equal(config.Default(), cfg)
}

func TestLoadOverridesClock(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(os.WriteFile(path, []byte("clockOverride: \"2026-01-01T00:00:00Z\"\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(err)
	require.Equal("2026-01-01T00:00:00Z", cfg.ClockOverrideRFC3339)
}

func TestApplyPinsAndRestoresClock(t *testing.T) {
	require := require.New(t)
	cfg := config.Default()
	cfg.ClockOverrideRFC3339 = "2026-01-01T00:00:00Z"
	require.NoError(cfg.Apply())
	defer func() { require.NoError(config.Default().Apply()) }()

	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.True(ivm.Now().Equal(want))
	require.True(ivm.Now().Equal(want))
}

func TestEngineContextCarriesTunedKnobs(t *testing.T) {
	require := require.New(t)
	cfg := config.EngineConfig{
		TopKDefault:           7,
		RebuildRetryCount:     5,
		EventSourceBufferSize: 9,
	}
	ctx := cfg.EngineContext()
	require.Equal(7, ctx.TopKThreshold)
	require.Equal(5, ctx.RebuildRetries)
	require.Equal(9, ctx.EventSourceBuffer)
	require.NotNil(ctx.Logger)
	require.NotNil(ctx.Tracer)
}

func TestEngineContextKeepsDefaultsForZeroKnobs(t *testing.T) {
	require := require.New(t)
	ctx := config.EngineConfig{}.EngineContext()
	def := ivm.NewEngineContext()
	require.Equal(def.TopKThreshold, ctx.TopKThreshold)
	require.Equal(def.RebuildRetries, ctx.RebuildRetries)
	require.Equal(def.EventSourceBuffer, ctx.EventSourceBuffer)
}

func TestApplyRejectsMalformedClock(t *testing.T) {
	require := require.New(t)
	cfg := config.Default()
	cfg.ClockOverrideRFC3339 = "yesterday-ish"
	require.Error(cfg.Apply())
}
