// Package config loads the engine's tunable knobs from YAML, applying
// defaults for anything a caller's file leaves unset.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TomNeyland/modash-go/ivm"
)

// EngineConfig holds the knobs a StreamingCollection and its compiled
// pipelines are tuned by.
type EngineConfig struct {
	// TopKDefault caps how large an adjacent $limit a $sort stage
	// absorbs as a bounded top-k window.
	TopKDefault int `yaml:"topKDefault"`

	// RebuildRetryCount is how many full Rebuild() attempts the
	// collection makes for a live view after a soft failure before giving
	// up, keeping the last-good result and logging an error.
	RebuildRetryCount int `yaml:"rebuildRetryCount"`

	// EventSourceBufferSize sizes the channel ConnectEventSource hands
	// back to its caller.
	EventSourceBufferSize int `yaml:"eventSourceBufferSize"`

	// ClockOverrideRFC3339, if set, pins the value "$$NOW" resolves to
	// in expression evaluation — used by tests that need deterministic
	// timestamps.
	ClockOverrideRFC3339 string `yaml:"clockOverride"`
}

// Default returns the configuration applied when no file is loaded.
func Default() EngineConfig {
	return EngineConfig{
		TopKDefault:           1024,
		RebuildRetryCount:     3,
		EventSourceBufferSize: 64,
	}
}

// Load reads path as YAML into an EngineConfig, starting from Default()
// so any field the file omits keeps its default value.
func Load(path string) (EngineConfig, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EngineContext builds the execution context a StreamingCollection runs
// under, carrying this config's tuning knobs. Zero-valued knobs keep
// the context's defaults.
func (c EngineConfig) EngineContext() *ivm.EngineContext {
	ctx := ivm.NewEngineContext()
	if c.TopKDefault > 0 {
		ctx.TopKThreshold = c.TopKDefault
	}
	if c.RebuildRetryCount > 0 {
		ctx.RebuildRetries = c.RebuildRetryCount
	}
	if c.EventSourceBufferSize > 0 {
		ctx.EventSourceBuffer = c.EventSourceBufferSize
	}
	return ctx
}

// Apply installs the config's process-wide settings: currently just the
// "$$NOW" clock override, pinned to the configured instant when set and
// restored to the wall clock when not.
func (c EngineConfig) Apply() error {
	if c.ClockOverrideRFC3339 == "" {
		ivm.SetClock(nil)
		return nil
	}
	t, err := time.Parse(time.RFC3339, c.ClockOverrideRFC3339)
	if err != nil {
		return err
	}
	ivm.SetClock(func() time.Time { return t })
	return nil
}
