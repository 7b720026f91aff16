package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("REDIS_CHANNEL", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "claimflow.facts", cfg.RedisChannel)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://claimflow@localhost/claimflow")
	t.Setenv("POLICY_FILE", "/etc/claimflow/policy.yaml")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "postgres://claimflow@localhost/claimflow", cfg.DatabaseURL)
	assert.Equal(t, "/etc/claimflow/policy.yaml", cfg.PolicyFile)
}

func TestLoadPolicyEmptyPathReturnsDefaults(t *testing.T) {
	policy, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), policy)
	assert.Equal(t, 72*time.Hour, policy.Verification.ExpiryWindow())
}

func TestLoadPolicyOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := `
sla:
  default_hours:
    URGENT: 2
    HIGH: 12
    NORMAL: 48
    LOW: 120
  kind_overrides:
    TRANSIT_TO_AIRPORT_EMERGENCY:
      URGENT: 1
trust:
  initial_score: 60
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 2, policy.SLA.DefaultHours["URGENT"])
	assert.Equal(t, 1, policy.SLA.KindOverrides["TRANSIT_TO_AIRPORT_EMERGENCY"]["URGENT"])
	assert.Equal(t, 60, policy.Trust.InitialScore)
	assert.Equal(t, 500.0, policy.Routing.HighValueThreshold)
}

func TestLoadPolicyRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trust:\n  initial_score: 140\n"), 0o600))

	_, err := LoadPolicy(path)
	assert.ErrorContains(t, err, "initial_score")

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
