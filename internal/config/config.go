// Package config loads the automation core's runtime configuration from the
// process environment, with an optional YAML file overlay that sets the same
// Config fields; environment variables take precedence over the overlay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
)

// Config captures every tunable named in spec.md §6.3 plus the connection
// settings the distilled spec takes for granted (GitHub auth, webhook secret,
// storage DSN, HTTP bind address).
type Config struct {
	// GitHub auth and scope.
	GitHubToken         string `json:"github_token" yaml:"github_token"`
	GitHubWebhookSecret string `json:"github_webhook_secret" yaml:"github_webhook_secret"`
	Repositories        string `json:"repositories" yaml:"repositories"` // CSV "owner/repo,owner/repo"

	// Storage.
	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn"`

	// Service.
	ListenAddr          string `json:"listen_addr" yaml:"listen_addr"`
	PollIntervalSeconds int    `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	EnableDebugLogging  bool   `json:"enable_debug_logging" yaml:"enable_debug_logging"`
	OperatorAPIToken    string `json:"operator_api_token" yaml:"operator_api_token"`

	// Action policy (spec.md §6.3).
	MaxConcurrentActions   int     `json:"max_concurrent_actions" yaml:"max_concurrent_actions"`
	MaxActionsPerRun       int     `json:"max_actions_per_run" yaml:"max_actions_per_run"`
	MinConfidenceAutoClose float64 `json:"min_confidence_auto_close" yaml:"min_confidence_auto_close"`
	MinConfidenceAutoLabel float64 `json:"min_confidence_auto_label" yaml:"min_confidence_auto_label"`
	EnableAutoClose        bool    `json:"enable_auto_close" yaml:"enable_auto_close"`
	EnableAutoLabel        bool    `json:"enable_auto_label" yaml:"enable_auto_label"`
	EnableAutoComment      bool    `json:"enable_auto_comment" yaml:"enable_auto_comment"`
	ActionMaxAttempts      int     `json:"action_max_attempts" yaml:"action_max_attempts"`
	BackoffBaseSeconds     int     `json:"backoff_base_seconds" yaml:"backoff_base_seconds"`
	BackoffCapSeconds      int     `json:"backoff_cap_seconds" yaml:"backoff_cap_seconds"`
	RateLimitSafetyReserve float64 `json:"rate_limit_safety_reserve" yaml:"rate_limit_safety_reserve"`
	CycleDeadlineSeconds   int     `json:"cycle_deadline_seconds" yaml:"cycle_deadline_seconds"`
	HTTPTimeoutSeconds     int     `json:"http_timeout_seconds" yaml:"http_timeout_seconds"`
	FullScanWindowHours    int     `json:"full_scan_window_hours" yaml:"full_scan_window_hours"`

	// Open-question 1 resolution: window in which a human reopen auto-triggers
	// rollback of the close action that preceded it. See DESIGN.md.
	AutoRollbackWindowMinutes int `json:"auto_rollback_window_minutes" yaml:"auto_rollback_window_minutes"`

	// StuckActionTimeoutMinutes bounds how long an action may sit in_progress
	// before the cycle's backup sweep resets it to pending, catching rows
	// orphaned by a crashed or killed worker (spec.md §4.7 step 3).
	StuckActionTimeoutMinutes int `json:"stuck_action_timeout_minutes" yaml:"stuck_action_timeout_minutes"`
}

// boolFromStr converts an env-var string ("true"/"1"/"yes") to bool.
func boolFromStr(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	return s == "true" || s == "1" || s == "yes"
}

// Clone shallow copies the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// IsValid checks that required configuration is present and well-formed.
func (c *Config) IsValid() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("github token is required")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if len(c.ParseRepositories()) == 0 {
		return fmt.Errorf("at least one repository must be configured")
	}
	for _, repo := range c.ParseRepositories() {
		parts := strings.Split(repo, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("repository must be in 'owner/repo' format, got %q", repo)
		}
	}
	if c.MinConfidenceAutoClose < 0 || c.MinConfidenceAutoClose > 1 {
		return fmt.Errorf("min_confidence_auto_close must be in [0,1], got %v", c.MinConfidenceAutoClose)
	}
	if c.MinConfidenceAutoLabel < 0 || c.MinConfidenceAutoLabel > 1 {
		return fmt.Errorf("min_confidence_auto_label must be in [0,1], got %v", c.MinConfidenceAutoLabel)
	}
	if c.RateLimitSafetyReserve < 0 || c.RateLimitSafetyReserve > 1 {
		return fmt.Errorf("rate_limit_safety_reserve must be in [0,1], got %v", c.RateLimitSafetyReserve)
	}
	return nil
}

// ParseRepositories splits Repositories into trimmed, non-empty "owner/repo" strings.
func (c *Config) ParseRepositories() []string {
	if c.Repositories == "" {
		return nil
	}
	parts := strings.Split(c.Repositories, ",")
	var repos []string
	for _, p := range parts {
		trimmed := NormalizeRepository(strings.TrimSpace(p))
		if trimmed != "" {
			repos = append(repos, trimmed)
		}
	}
	return repos
}

// GetPollInterval returns the poll interval, defaulting to 60 if unset or below minimum.
func (c *Config) GetPollInterval() int {
	if c.PollIntervalSeconds < 10 {
		return 60
	}
	return c.PollIntervalSeconds
}

// applyDefaults fills zero-valued fields with spec.md §6.3 defaults.
func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.MaxConcurrentActions == 0 {
		c.MaxConcurrentActions = 10
	}
	if c.MaxActionsPerRun == 0 {
		c.MaxActionsPerRun = 100
	}
	if c.MinConfidenceAutoClose == 0 {
		c.MinConfidenceAutoClose = 0.80
	}
	if c.MinConfidenceAutoLabel == 0 {
		c.MinConfidenceAutoLabel = 0.60
	}
	if c.ActionMaxAttempts == 0 {
		c.ActionMaxAttempts = 3
	}
	if c.BackoffBaseSeconds == 0 {
		c.BackoffBaseSeconds = 2
	}
	if c.BackoffCapSeconds == 0 {
		c.BackoffCapSeconds = 60
	}
	if c.RateLimitSafetyReserve == 0 {
		c.RateLimitSafetyReserve = 0.05
	}
	if c.CycleDeadlineSeconds == 0 {
		c.CycleDeadlineSeconds = 1800
	}
	if c.HTTPTimeoutSeconds == 0 {
		c.HTTPTimeoutSeconds = 60
	}
	if c.FullScanWindowHours == 0 {
		c.FullScanWindowHours = 24
	}
	if c.AutoRollbackWindowMinutes == 0 {
		c.AutoRollbackWindowMinutes = 15
	}
	if c.StuckActionTimeoutMinutes == 0 {
		c.StuckActionTimeoutMinutes = 30
	}
}

// envSpec binds a Config field to an environment variable name and a setter.
type envSpec struct {
	name   string
	assign func(c *Config, raw string)
}

var envSpecs = []envSpec{
	{"GITHUB_TOKEN", func(c *Config, v string) { c.GitHubToken = v }},
	{"GITHUB_WEBHOOK_SECRET", func(c *Config, v string) { c.GitHubWebhookSecret = v }},
	{"GITHUB_REPOSITORIES", func(c *Config, v string) { c.Repositories = v }},
	{"DATABASE_DSN", func(c *Config, v string) { c.DatabaseDSN = v }},
	{"LISTEN_ADDR", func(c *Config, v string) { c.ListenAddr = v }},
	{"POLL_INTERVAL_SECONDS", func(c *Config, v string) { c.PollIntervalSeconds = atoiOr(v, 0) }},
	{"ENABLE_DEBUG_LOGGING", func(c *Config, v string) { c.EnableDebugLogging = boolFromStr(v) }},
	{"OPERATOR_API_TOKEN", func(c *Config, v string) { c.OperatorAPIToken = v }},
	{"MAX_CONCURRENT_ACTIONS", func(c *Config, v string) { c.MaxConcurrentActions = atoiOr(v, 0) }},
	{"MAX_ACTIONS_PER_RUN", func(c *Config, v string) { c.MaxActionsPerRun = atoiOr(v, 0) }},
	{"MIN_CONFIDENCE_AUTO_CLOSE", func(c *Config, v string) { c.MinConfidenceAutoClose = atofOr(v, 0) }},
	{"MIN_CONFIDENCE_AUTO_LABEL", func(c *Config, v string) { c.MinConfidenceAutoLabel = atofOr(v, 0) }},
	{"ENABLE_AUTO_CLOSE", func(c *Config, v string) { c.EnableAutoClose = boolFromStr(v) }},
	{"ENABLE_AUTO_LABEL", func(c *Config, v string) { c.EnableAutoLabel = boolFromStr(v) }},
	{"ENABLE_AUTO_COMMENT", func(c *Config, v string) { c.EnableAutoComment = boolFromStr(v) }},
	{"ACTION_MAX_ATTEMPTS", func(c *Config, v string) { c.ActionMaxAttempts = atoiOr(v, 0) }},
	{"BACKOFF_BASE_SECONDS", func(c *Config, v string) { c.BackoffBaseSeconds = atoiOr(v, 0) }},
	{"BACKOFF_CAP_SECONDS", func(c *Config, v string) { c.BackoffCapSeconds = atoiOr(v, 0) }},
	{"RATE_LIMIT_SAFETY_RESERVE", func(c *Config, v string) { c.RateLimitSafetyReserve = atofOr(v, 0) }},
	{"CYCLE_DEADLINE_SECONDS", func(c *Config, v string) { c.CycleDeadlineSeconds = atoiOr(v, 0) }},
	{"HTTP_TIMEOUT_SECONDS", func(c *Config, v string) { c.HTTPTimeoutSeconds = atoiOr(v, 0) }},
	{"FULL_SCAN_WINDOW_HOURS", func(c *Config, v string) { c.FullScanWindowHours = atoiOr(v, 0) }},
	{"AUTO_ROLLBACK_WINDOW_MINUTES", func(c *Config, v string) { c.AutoRollbackWindowMinutes = atoiOr(v, 0) }},
	{"STUCK_ACTION_TIMEOUT_MINUTES", func(c *Config, v string) { c.StuckActionTimeoutMinutes = atoiOr(v, 0) }},
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func atofOr(s string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fallback
	}
	return f
}

// Load builds a Config from the process environment. If overlayPath is
// non-empty, the YAML file at that path is parsed first and the environment
// takes precedence over it field-by-field (env wins on every set variable).
func Load(overlayPath string) (*Config, error) {
	cfg := &Config{}

	if overlayPath != "" {
		raw, err := os.ReadFile(overlayPath)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config overlay %s", overlayPath)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config overlay %s", overlayPath)
		}
	}

	for _, spec := range envSpecs {
		if v, ok := os.LookupEnv(spec.name); ok {
			spec.assign(cfg, v)
		}
	}

	cfg.applyDefaults()

	if err := cfg.IsValid(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return cfg, nil
}

// Store holds the active configuration behind a lock so a running service can
// reload it (e.g. on SIGHUP) without races with in-flight requests.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStore wraps an initial configuration for concurrent access.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

// Get returns the active configuration. The returned value is treated as
// immutable by convention; callers that need to mutate should Clone first.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set replaces the active configuration.
func (s *Store) Set(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}
