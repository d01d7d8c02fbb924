package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 30, cfg.Monitor.CheckIntervalSeconds)
	assert.Equal(t, 300, cfg.Monitor.CooldownSeconds)
	assert.Equal(t, 2, cfg.Monitor.DebounceK)

	assert.Equal(t, 2, cfg.Scheduler.MaxConcurrentInvestigations)
	assert.Equal(t, 120, cfg.Scheduler.InvestigationTimeoutSeconds)
	assert.Equal(t, 10, cfg.Scheduler.AdapterTimeoutSeconds)

	assert.Equal(t, 6, cfg.Agentic.MaxIterations)
	assert.True(t, cfg.Agentic.SafeMode)

	assert.Equal(t, 500, cfg.Store.ReportArchiveSize)
	assert.Equal(t, 8081, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(*Config)
		wantErrs int
	}{
		{name: "valid default", modify: func(c *Config) {}, wantErrs: 0},
		{
			name:     "check interval below minimum",
			modify:   func(c *Config) { c.Monitor.CheckIntervalSeconds = 1 },
			wantErrs: 1,
		},
		{
			name:     "debounce k zero",
			modify:   func(c *Config) { c.Monitor.DebounceK = 0 },
			wantErrs: 1,
		},
		{
			name:     "concurrency cap zero",
			modify:   func(c *Config) { c.Scheduler.MaxConcurrentInvestigations = 0 },
			wantErrs: 1,
		},
		{
			name: "unsafe mode without llm endpoint",
			modify: func(c *Config) {
				c.Agentic.SafeMode = false
				c.Agentic.LLMBaseURL = ""
			},
			wantErrs: 1,
		},
		{
			name:     "invalid log level",
			modify:   func(c *Config) { c.Logging.Level = "verbose" },
			wantErrs: 1,
		},
		{
			name:     "port out of range",
			modify:   func(c *Config) { c.Server.Port = 70000 },
			wantErrs: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			errs := cfg.Validate()
			assert.Len(t, errs, tt.wantErrs)
		})
	}
}

func TestManagerLoadDefaultsWithoutFile(t *testing.T) {
	mgr, err := NewManager("")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	require.NoError(t, mgr.Validate(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, 30, cfg.Monitor.CheckIntervalSeconds)
}

func TestManagerLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte("monitor:\n  check_interval_seconds: 45\nscheduler:\n  max_concurrent_investigations: 5\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o644))

	mgr, err := NewManager(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, 45, cfg.Monitor.CheckIntervalSeconds)
	assert.Equal(t, 5, cfg.Scheduler.MaxConcurrentInvestigations)
}

func TestManagerEnvOverride(t *testing.T) {
	t.Setenv("KUBILITICS_SAFE_MODE", "false")
	t.Setenv("LLM_API_KEY", "test-key")

	mgr, err := NewManager("")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	assert.False(t, cfg.Agentic.SafeMode)
	assert.Equal(t, "test-key", cfg.Agentic.LLMAPIKey)
}
