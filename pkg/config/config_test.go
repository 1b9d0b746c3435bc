package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/governor/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int64(500), cfg.Ledger.DefaultMonthlyBudgetCents)
	assert.Equal(t, 0.8, cfg.Ledger.WarnThreshold)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.Equal(t, "gpt-4o-mini", cfg.Router.CheapModel)
	assert.Equal(t, "gpt-4o", cfg.Router.ExpensiveModel)
	require.NoError(t, cfg.Validate())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_EXPENSIVE_MODEL", "claude-sonnet-4-5")

	path := writeConfig(t, `
db_path: "test.db"
ledger:
  default_monthly_budget_cents: 1200
  soft_degrade: true
cache:
  ttl: 30m
  max_size: 50
router:
  expensive_model: ${TEST_EXPENSIVE_MODEL}
plans:
  - id: plan_pro
    name: PRO
    monthly_budget_cents: 5000
    allow_expensive: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test.db", cfg.DBPath)
	assert.Equal(t, int64(1200), cfg.Ledger.DefaultMonthlyBudgetCents)
	assert.True(t, cfg.Ledger.SoftDegrade)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 50, cfg.Cache.MaxSize)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Router.ExpensiveModel)
	// untouched keys keep their defaults
	assert.Equal(t, "gpt-4o-mini", cfg.Router.CheapModel)
	require.Len(t, cfg.Plans, 1)
	assert.Equal(t, int64(5000), cfg.Plans[0].MonthlyBudgetCents)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GOVERNOR_DEFAULT_MONTHLY_BUDGET_CENTS", "900")
	t.Setenv("GOVERNOR_SOFT_DEGRADE", "true")
	t.Setenv("GOVERNOR_CACHE_TTL_SECONDS", "120")
	t.Setenv("GOVERNOR_CHEAP_MODEL", "gpt-4.1-mini")
	t.Setenv("GOVERNOR_EXPENSIVE_MAX_TOKENS", "2048")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(900), cfg.Ledger.DefaultMonthlyBudgetCents)
	assert.True(t, cfg.Ledger.SoftDegrade)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "gpt-4.1-mini", cfg.Router.CheapModel)
	assert.Equal(t, 2048, cfg.Router.ExpensiveMaxTokens)
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("GOVERNOR_WARN_THRESHOLD", "lots")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOVERNOR_WARN_THRESHOLD")
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"budget too large", func(c *Config) { c.Ledger.DefaultMonthlyBudgetCents = MaxBudgetCents + 1 }},
		{"negative budget", func(c *Config) { c.Ledger.DefaultMonthlyBudgetCents = -1 }},
		{"zero warn threshold", func(c *Config) { c.Ledger.WarnThreshold = 0 }},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"zero cache size", func(c *Config) { c.Cache.MaxSize = 0 }},
		{"missing cheap model", func(c *Config) { c.Router.CheapModel = "" }},
		{"near limit at 100", func(c *Config) { c.Nudge.NearLimitPercent = 100 }},
		{"zero template threshold", func(c *Config) { c.Nudge.TemplateRunsThreshold = 0 }},
		{"plan without id", func(c *Config) { c.Plans = []models.Plan{{Name: "PRO"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
