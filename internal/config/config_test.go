package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 2500*time.Millisecond, cfg.Algo.Timeout)
	assert.Equal(t, 2, cfg.Algo.MaxRetries)
	assert.Equal(t, 3, cfg.Algo.CircuitFails)
	assert.Equal(t, 30*time.Second, cfg.Algo.CircuitResetPeriod)
	assert.Equal(t, 60*time.Second, cfg.SummaryTTL)
	assert.Equal(t, 200, cfg.SummaryMaxEntries)
	assert.Equal(t, 5*time.Minute, cfg.LeaderboardTTL)
	assert.Equal(t, 200, cfg.LeaderboardLimit)
	assert.Equal(t, 5, cfg.Thresholds.MaxErrors)
	assert.Equal(t, 60, cfg.Thresholds.TimeUnderSeconds)
	assert.Equal(t, 5, cfg.Thresholds.MinAttemptsForRate)
}

func TestLoadWithMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path.hcl")
	require.NoError(t, err)
	assert.Equal(t, Default().Algo.Timeout, cfg.Algo.Timeout)
}

func TestLoadParsesHCLFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/arena.hcl"
	contents := `
server {
  address   = "0.0.0.0"
  port      = 9090
  log_level = "debug"
}

algo_service {
  url              = "http://algo.internal:9000"
  timeout_ms       = 1000
  max_retry        = 5
  circuit_fails    = 10
  circuit_reset_ms = 60000
  enable_warm      = true
}

cache {
  summary_ttl_ms          = 30000
  summary_max_entries     = 50
  enable_summary_cache    = true
  leaderboard_ttl_minutes = 10
  leaderboard_limit       = 500
}

rules {
  max_errors             = 3
  time_under_seconds      = 45
  min_attempts_for_rate   = 2
  enable_overrides        = true
  pure_kernel_mode        = false
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Address)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://algo.internal:9000", cfg.Algo.ServiceURL)
	assert.Equal(t, time.Second, cfg.Algo.Timeout)
	assert.Equal(t, 5, cfg.Algo.MaxRetries)
	assert.True(t, cfg.Algo.EnableWarmService)
	assert.Equal(t, 50, cfg.SummaryMaxEntries)
	assert.Equal(t, 10*time.Minute, cfg.LeaderboardTTL)
	assert.Equal(t, 3, cfg.Thresholds.MaxErrors)
}

func TestEnvVarsOverrideFileAndDefaults(t *testing.T) {
	t.Setenv("ALGO_SERVICE_URL", "http://overridden:1234")
	t.Setenv("ALGO_SERVICE_MAX_RETRY", "9")
	t.Setenv("ENABLE_RULE_OVERRIDES", "false")
	t.Setenv("EXPERIMENT_PURE_DDA", "true")
	t.Setenv("RULES_MAX_ERRORS", "11")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://overridden:1234", cfg.Algo.ServiceURL)
	assert.Equal(t, 9, cfg.Algo.MaxRetries)
	assert.False(t, cfg.EnableRuleOverrides)
	assert.True(t, cfg.PureKernelMode)
	assert.Equal(t, 11, cfg.Thresholds.MaxErrors)
}

func TestMalformedEnvValueIsIgnored(t *testing.T) {
	t.Setenv("ALGO_SERVICE_MAX_RETRY", "not-a-number")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Algo.MaxRetries, cfg.Algo.MaxRetries)
}
