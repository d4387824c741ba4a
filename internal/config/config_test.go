package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Less(t, cfg.Routing.LowThreshold, cfg.Routing.HighThreshold)
	assert.LessOrEqual(t, cfg.Dispatch.Quorum, cfg.Dispatch.EnsembleSize)
	assert.LessOrEqual(t, cfg.Validation.FailPenalty, cfg.Validation.InconclusivePenalty)

	roles := map[string]bool{}
	for _, b := range cfg.Backends {
		roles[b.Role] = true
	}
	for _, want := range []string{"classifier", "fast-executor", "deep-executor", "ensemble-member", "logic-validator", "critical-validator"} {
		assert.True(t, roles[want], "default config must cover role %s", want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"thresholds inverted", func(c *Config) { c.Routing.LowThreshold = 0.8 }, "low_threshold"},
		{"threshold out of range", func(c *Config) { c.Routing.HighThreshold = 1.2 }, "high_threshold"},
		{"quorum above ensemble size", func(c *Config) { c.Dispatch.Quorum = 6 }, "quorum"},
		{"quorum below one", func(c *Config) { c.Dispatch.Quorum = 0 }, "quorum"},
		{"zero fail penalty", func(c *Config) { c.Validation.FailPenalty = 0 }, "fail_penalty"},
		{"fail above inconclusive", func(c *Config) { c.Validation.FailPenalty = 0.95 }, "fail_penalty"},
		{"shrinkage above one", func(c *Config) { c.Protect.Shrinkage["high"] = 1.5 }, "shrinkage"},
		{"backend missing role", func(c *Config) { c.Backends[0].Role = "" }, "role is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadFromPathCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Routing.LowThreshold, cfg.Routing.LowThreshold)

	_, err = os.Stat(path)
	assert.NoError(t, err, "first load writes the default file")
}

func TestLoadFromPathRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.Dispatch.Quorum = 4
	cfg.Routing.LowThreshold = 0.25
	require.NoError(t, writeConfigFile(path, cfg))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Dispatch.Quorum)
	assert.Equal(t, 0.25, loaded.Routing.LowThreshold)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.Dispatch.Quorum = 9
	require.NoError(t, writeConfigFile(path, cfg))

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}
