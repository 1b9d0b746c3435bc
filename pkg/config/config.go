package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/governor/pkg/logging"
	"github.com/pario-ai/governor/pkg/models"
)

// MaxBudgetCents is the upper bound accepted for any monthly budget.
const MaxBudgetCents int64 = 500_000

// Config holds all governor configuration.
type Config struct {
	DBPath  string             `yaml:"db_path"`
	Log     logging.Config     `yaml:"log"`
	Ledger  LedgerConfig       `yaml:"ledger"`
	Cache   CacheConfig        `yaml:"cache"`
	Router  RouterConfig       `yaml:"router"`
	Nudge   NudgeConfig        `yaml:"nudge"`
	Audit   models.AuditConfig `yaml:"audit"`
	Metrics MetricsConfig      `yaml:"metrics"`
	Plans   []models.Plan      `yaml:"plans"`
}

// LedgerConfig controls budget enforcement.
type LedgerConfig struct {
	DefaultMonthlyBudgetCents int64   `yaml:"default_monthly_budget_cents"`
	DefaultMonthlyCallLimit   int64   `yaml:"default_monthly_call_limit"`
	DailyCallLimit            int64   `yaml:"daily_call_limit"`
	WarnThreshold             float64 `yaml:"warn_threshold"`
	SoftDegrade               bool    `yaml:"soft_degrade"`
	AllowExpensiveByDefault   bool    `yaml:"allow_expensive_by_default"`
}

// CacheConfig controls the in-process response cache.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TTL           time.Duration `yaml:"ttl"`
	MaxSize       int           `yaml:"max_size"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RouterConfig maps execution tiers to concrete models.
type RouterConfig struct {
	CheapModel         string        `yaml:"cheap_model"`
	ExpensiveModel     string        `yaml:"expensive_model"`
	CheapMaxTokens     int           `yaml:"cheap_max_tokens"`
	ExpensiveMaxTokens int           `yaml:"expensive_max_tokens"`
	WordThreshold      int           `yaml:"word_threshold"`
	CounterReset       time.Duration `yaml:"counter_reset"`
	Tokenizer          string        `yaml:"tokenizer"` // "tiktoken" or "heuristic"
}

// NudgeConfig controls nudge thresholds and cooldowns.
type NudgeConfig struct {
	NearLimitPercent      int           `yaml:"near_limit_percent"`
	Cooldown              time.Duration `yaml:"cooldown"`
	MonthlyCooldown       time.Duration `yaml:"monthly_cooldown"`
	ExpensiveShareLimit   float64       `yaml:"expensive_share_limit"`
	TemplateRunsThreshold int64         `yaml:"template_runs_threshold"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DBPath: "governor.db",
		Log: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Ledger: LedgerConfig{
			DefaultMonthlyBudgetCents: 500,
			DefaultMonthlyCallLimit:   models.UnlimitedCalls,
			DailyCallLimit:            0,
			WarnThreshold:             0.8,
			SoftDegrade:               false,
			AllowExpensiveByDefault:   true,
		},
		Cache: CacheConfig{
			Enabled:       true,
			TTL:           time.Hour,
			MaxSize:       1000,
			SweepInterval: 5 * time.Minute,
		},
		Router: RouterConfig{
			CheapModel:         "gpt-4o-mini",
			ExpensiveModel:     "gpt-4o",
			CheapMaxTokens:     500,
			ExpensiveMaxTokens: 1500,
			WordThreshold:      80,
			CounterReset:       time.Hour,
			Tokenizer:          "heuristic",
		},
		Nudge: NudgeConfig{
			NearLimitPercent:      80,
			Cooldown:              7 * 24 * time.Hour,
			MonthlyCooldown:       31 * 24 * time.Hour,
			ExpensiveShareLimit:   0.20,
			TemplateRunsThreshold: 50,
		},
		Audit: models.AuditConfig{
			RetentionDays: 400,
		},
	}
}

// Load reads a YAML config file, expands environment variables and applies
// GOVERNOR_* overrides. A .env file in the working directory is loaded first
// when present; variables already set in the environment win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Ledger.DefaultMonthlyBudgetCents < 0 || c.Ledger.DefaultMonthlyBudgetCents > MaxBudgetCents {
		return fmt.Errorf("ledger.default_monthly_budget_cents must be in [0, %d], got %d",
			MaxBudgetCents, c.Ledger.DefaultMonthlyBudgetCents)
	}
	if c.Ledger.WarnThreshold <= 0 || c.Ledger.WarnThreshold > 1 {
		return fmt.Errorf("ledger.warn_threshold must be in (0, 1], got %v", c.Ledger.WarnThreshold)
	}
	if c.Ledger.DailyCallLimit < 0 {
		return fmt.Errorf("ledger.daily_call_limit must be >= 0, got %d", c.Ledger.DailyCallLimit)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0, got %v", c.Cache.TTL)
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.max_size must be > 0, got %d", c.Cache.MaxSize)
	}
	if c.Router.CheapModel == "" || c.Router.ExpensiveModel == "" {
		return errors.New("router.cheap_model and router.expensive_model are required")
	}
	if c.Router.CheapMaxTokens <= 0 || c.Router.ExpensiveMaxTokens <= 0 {
		return errors.New("router max tokens must be > 0")
	}
	if c.Nudge.NearLimitPercent <= 0 || c.Nudge.NearLimitPercent >= 100 {
		return fmt.Errorf("nudge.near_limit_percent must be in (0, 100), got %d", c.Nudge.NearLimitPercent)
	}
	if c.Nudge.Cooldown <= 0 || c.Nudge.MonthlyCooldown <= 0 {
		return errors.New("nudge cooldowns must be > 0")
	}
	if c.Nudge.TemplateRunsThreshold <= 0 {
		return fmt.Errorf("nudge.template_runs_threshold must be > 0, got %d", c.Nudge.TemplateRunsThreshold)
	}
	for _, p := range c.Plans {
		if p.ID == "" {
			return errors.New("plans: id is required")
		}
		if p.MonthlyBudgetCents < 0 || p.MonthlyBudgetCents > MaxBudgetCents {
			return fmt.Errorf("plan %s: monthly_budget_cents must be in [0, %d]", p.ID, MaxBudgetCents)
		}
	}
	return nil
}

// applyEnv overlays the deployment-level environment variables.
func (c *Config) applyEnv() error {
	if err := envInt64("GOVERNOR_DEFAULT_MONTHLY_BUDGET_CENTS", &c.Ledger.DefaultMonthlyBudgetCents); err != nil {
		return err
	}
	if err := envFloat("GOVERNOR_WARN_THRESHOLD", &c.Ledger.WarnThreshold); err != nil {
		return err
	}
	if err := envBool("GOVERNOR_SOFT_DEGRADE", &c.Ledger.SoftDegrade); err != nil {
		return err
	}
	if err := envInt64("GOVERNOR_DAILY_CALL_LIMIT", &c.Ledger.DailyCallLimit); err != nil {
		return err
	}
	var ttlSeconds int64
	if err := envInt64("GOVERNOR_CACHE_TTL_SECONDS", &ttlSeconds); err != nil {
		return err
	}
	if ttlSeconds > 0 {
		c.Cache.TTL = time.Duration(ttlSeconds) * time.Second
	}
	if err := envInt("GOVERNOR_CACHE_MAX_SIZE", &c.Cache.MaxSize); err != nil {
		return err
	}
	if v := os.Getenv("GOVERNOR_CHEAP_MODEL"); v != "" {
		c.Router.CheapModel = v
	}
	if v := os.Getenv("GOVERNOR_EXPENSIVE_MODEL"); v != "" {
		c.Router.ExpensiveModel = v
	}
	if err := envInt("GOVERNOR_CHEAP_MAX_TOKENS", &c.Router.CheapMaxTokens); err != nil {
		return err
	}
	return envInt("GOVERNOR_EXPENSIVE_MAX_TOKENS", &c.Router.ExpensiveMaxTokens)
}

func envInt64(key string, dst *int64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envInt(key string, dst *int) error {
	var n int64
	if err := envInt64(key, &n); err != nil {
		return err
	}
	if os.Getenv(key) != "" {
		*dst = int(n)
	}
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = f
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = b
	return nil
}
