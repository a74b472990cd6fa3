// Package config loads herald.jsonc, the single configuration file.
//
// loader.go - Config model, defaults, and loading
//
// This file contains:
// - The herald.jsonc schema as Go structs
// - Search-path resolution and JSONC loading
// - Defaults and validation

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/HyphaGroup/herald/internal/schedule"
	"github.com/HyphaGroup/herald/internal/trigger"
)

// Config is the single configuration file format for herald.jsonc
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Engine    EngineSection   `json:"engine"`
	Progress  ProgressConfig  `json:"progress"`
	Preamble  PreambleConfig  `json:"preamble"`
	Cost      CostConfig      `json:"cost"`
	Triggers  TriggersConfig  `json:"triggers"`
	Schedules []ScheduleEntry `json:"schedules"`

	// DefaultChatID receives trigger output when a webhook names no
	// chat of its own
	DefaultChatID string `json:"default_chat_id"`

	DataDir     string `json:"data_dir"`     // SQLite stores and audit log
	MetricsAddr string `json:"metrics_addr"` // Prometheus endpoint; empty disables
}

// TelegramConfig holds bot transport settings
type TelegramConfig struct {
	Token          string  `json:"token"`
	AllowedUserIDs []int64 `json:"allowed_user_ids"`
}

// EngineSection selects the default agent engine and per-engine settings
type EngineSection struct {
	Default string                  `json:"default"`
	Engines map[string]EngineConfig `json:"engines"`
}

// EngineConfig configures one agent engine
type EngineConfig struct {
	Command         string   `json:"command,omitempty"`
	Model           string   `json:"model,omitempty"`
	PermissionMode  string   `json:"permission_mode,omitempty"`
	AllowedTools    []string `json:"allowed_tools,omitempty"`
	SkipPermissions bool     `json:"skip_permissions,omitempty"`
	UseAPIBilling   bool     `json:"use_api_billing,omitempty"`
}

// ProgressConfig controls the live progress message
type ProgressConfig struct {
	Verbosity  string `json:"verbosity"`   // compact or verbose
	MaxActions int    `json:"max_actions"` // visible actions in the anchor
	Overflow   string `json:"overflow"`    // trim or split; both render as trim
}

// PreambleConfig prepends operator instructions to every chat prompt
type PreambleConfig struct {
	Enabled bool   `json:"enabled"`
	Text    string `json:"text"`
}

// CostConfig bounds per-run and per-day spend
type CostConfig struct {
	MaxPerRun  float64 `json:"max_per_run"`
	MaxPerDay  float64 `json:"max_per_day"`
	WarnAtPct  int     `json:"warn_at_pct"`
	AutoCancel bool    `json:"auto_cancel"`
}

// TriggersConfig configures webhook reception
type TriggersConfig struct {
	Enabled  bool                 `json:"enabled"`
	Server   trigger.ServerConfig `json:"server"`
	Webhooks []*trigger.Webhook   `json:"webhooks"`
}

// ScheduleEntry defines a cron trigger in the config file
type ScheduleEntry struct {
	Name            string `json:"name"`
	Cron            string `json:"cron"`
	Prompt          string `json:"prompt"`
	ChatID          string `json:"chat_id"`
	Engine          string `json:"engine,omitempty"`
	OverlapBehavior string `json:"overlap_behavior,omitempty"`
	SessionBehavior string `json:"session_behavior,omitempty"`
}

// FindConfigPath returns the path to herald.jsonc using precedence:
// 1. configDir + /herald.jsonc (if configDir specified)
// 2. ./config/herald.jsonc (project-local)
// 3. ~/.herald/herald.jsonc (user global)
func FindConfigPath(configDir string) (string, error) {
	if configDir != "" {
		path := filepath.Join(configDir, "herald.jsonc")
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("herald.jsonc not found in %s", configDir)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return path, nil
		}
		return abs, nil
	}

	candidates := []string{
		filepath.Join("config", "herald.jsonc"),
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".herald", "herald.jsonc"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("herald.jsonc not found; tried: %v", candidates)
}

// Load reads and validates configuration from a herald.jsonc file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	jsonData := expandEnv(StripJSONComments(data))

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return &cfg, nil
}

// LoadAll resolves the config path and loads it
func LoadAll(configDir string) (*Config, error) {
	configPath, err := FindConfigPath(configDir)
	if err != nil {
		return nil, err
	}
	return Load(configPath)
}

// envPattern matches ${NAME} placeholders in the config text
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${NAME} with the environment value. Unset
// variables are left as-is so validation reports them verbatim.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(m[2 : len(m)-1])
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		return m
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.Default == "" {
		cfg.Engine.Default = "claude"
	}
	if cfg.Engine.Engines == nil {
		cfg.Engine.Engines = make(map[string]EngineConfig)
	}
	if _, ok := cfg.Engine.Engines[cfg.Engine.Default]; !ok {
		cfg.Engine.Engines[cfg.Engine.Default] = EngineConfig{}
	}

	if cfg.Progress.Verbosity == "" {
		cfg.Progress.Verbosity = "compact"
	}
	if cfg.Progress.MaxActions == 0 {
		cfg.Progress.MaxActions = 5
	}
	if cfg.Progress.Overflow == "" {
		cfg.Progress.Overflow = "trim"
	}

	if cfg.Cost.WarnAtPct == 0 {
		cfg.Cost.WarnAtPct = 70
	}

	if cfg.DataDir == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			cfg.DataDir = filepath.Join(homeDir, ".herald", "data")
		} else {
			cfg.DataDir = "data"
		}
	}

	cfg.Triggers.Server.Defaults()
}

// Validate checks that required configuration is present
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Progress.Verbosity != "compact" && c.Progress.Verbosity != "verbose" {
		return fmt.Errorf("progress.verbosity must be 'compact' or 'verbose'")
	}
	if c.Progress.MaxActions < 0 {
		return fmt.Errorf("progress.max_actions must not be negative")
	}
	if c.Progress.Overflow != "trim" && c.Progress.Overflow != "split" {
		return fmt.Errorf("progress.overflow must be 'trim' or 'split'")
	}
	if c.Cost.WarnAtPct < 1 || c.Cost.WarnAtPct > 100 {
		return fmt.Errorf("cost.warn_at_pct must be between 1 and 100")
	}

	if c.Triggers.Enabled {
		if err := trigger.ValidateWebhooks(c.Triggers.Webhooks); err != nil {
			return err
		}
	}

	for _, entry := range c.Schedules {
		if entry.Name == "" {
			return fmt.Errorf("schedule requires a name")
		}
		if entry.ChatID == "" {
			return fmt.Errorf("schedule %s: chat_id is required", entry.Name)
		}
		if err := schedule.ValidateCron(entry.Cron); err != nil {
			return fmt.Errorf("schedule %s: %w", entry.Name, err)
		}
		if b := schedule.OverlapBehavior(entry.OverlapBehavior); entry.OverlapBehavior != "" && !schedule.IsValidOverlapBehavior(b) {
			return fmt.Errorf("schedule %s: unknown overlap_behavior %q", entry.Name, entry.OverlapBehavior)
		}
		if b := schedule.SessionBehavior(entry.SessionBehavior); entry.SessionBehavior != "" && !schedule.IsValidSessionBehavior(b) {
			return fmt.Errorf("schedule %s: unknown session_behavior %q", entry.Name, entry.SessionBehavior)
		}
	}
	return nil
}

// EngineFor returns the engine config for a name, falling back to the
// default engine when name is empty.
func (c *Config) EngineFor(name string) (string, EngineConfig) {
	if name == "" {
		name = c.Engine.Default
	}
	return name, c.Engine.Engines[name]
}
