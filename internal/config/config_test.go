package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, 300*time.Second, cfg.API.StreamTimeout)
	assert.Equal(t, 600*time.Second, cfg.API.BulkTimeout)
	assert.True(t, cfg.API.Streaming)
	assert.False(t, cfg.API.Advanced)
	assert.Equal(t, 20, cfg.Flush.Threshold)
	assert.Equal(t, 100*time.Millisecond, cfg.Flush.Interval)
	assert.Equal(t, 5, cfg.Quota.AnonymousLimit)
	assert.True(t, cfg.Quota.AnonymousBatchEnabled)
	assert.False(t, cfg.Quota.AnonymousAllowOverflow)
	assert.Empty(t, cfg.Quota.Tiers)
	assert.Equal(t, 100, cfg.History.Cap)
	assert.Equal(t, "history.db", filepath.Base(cfg.History.Path))
	assert.Equal(t, "session.yaml", filepath.Base(cfg.Session.Path))
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := `
api:
  base_url: https://validator.example.com
  stream_timeout: 45s
  streaming: false
flush:
  threshold: 50
  interval: 250ms
quota:
  anonymous_batch_enabled: false
  anonymous_allow_overflow: true
  tiers:
    - name: free
      limit: 10
    - name: team
      limit: 1000
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://validator.example.com", cfg.API.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.API.StreamTimeout)
	assert.False(t, cfg.API.Streaming)
	assert.Equal(t, 50, cfg.Flush.Threshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Flush.Interval)
	assert.False(t, cfg.Quota.AnonymousBatchEnabled)
	assert.True(t, cfg.Quota.Options().AnonymousAllowOverflow)
	require.Len(t, cfg.Quota.Tiers, 2)
	assert.Equal(t, "team", cfg.Quota.Tiers[1].Name)
	assert.Equal(t, 1000, cfg.Quota.Options().Tiers[1].Limit)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("EMAILVAL_API_BASE_URL", "https://env.example.com")
	t.Setenv("EMAILVAL_FLUSH_THRESHOLD", "7")
	t.Setenv("EMAILVAL_QUOTA_ANONYMOUS_LIMIT", "2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.API.BaseURL)
	assert.Equal(t, 7, cfg.Flush.Threshold)
	assert.Equal(t, 2, cfg.Quota.AnonymousLimit)
}

func TestLoadExplicitFileMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("EMAILVAL_FLUSH_THRESHOLD", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush.threshold")
}

func TestInitLogger(t *testing.T) {
	orig := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(orig) })

	logger, err := InitLogger(LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Same(t, logger, zap.L())

	_, err = InitLogger(LogConfig{Level: "loud"})
	require.Error(t, err)
}
