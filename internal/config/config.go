// Package config provides configuration management for missionctl.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/missionctl/internal/agent"
	"github.com/ShayCichocki/missionctl/internal/bus"
	"github.com/ShayCichocki/missionctl/internal/llm"
	"github.com/ShayCichocki/missionctl/internal/mission"
	"github.com/ShayCichocki/missionctl/internal/state"
)

// EnvPrefix prefixes every environment override, e.g. MISSIONCTL_REPAIR_MAX_RETRIES.
const EnvPrefix = "MISSIONCTL"

// ProjectConfigName is searched for in the working directory and its parents.
const ProjectConfigName = ".missionctl.yaml"

// Config holds all missionctl configuration.
type Config struct {
	LLM       llm.Config      `mapstructure:"llm"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Repair    RepairConfig    `mapstructure:"repair"`
	Feedback  FeedbackConfig  `mapstructure:"feedback"`
	Store     StoreConfig     `mapstructure:"store"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Bus       BusConfig       `mapstructure:"bus"`
	Contracts ContractsConfig `mapstructure:"contracts"`
	Log       LogConfig       `mapstructure:"log"`
	TUI       TUIConfig       `mapstructure:"tui"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	// DataDir holds the database, sandboxes, mission logs and signal files.
	DataDir string `mapstructure:"data_dir"`
}

// TimeoutsConfig layers agent < phase < mission. Zero phase or mission
// timeouts are unbounded.
type TimeoutsConfig struct {
	Agent   time.Duration `mapstructure:"agent"`
	Phase   time.Duration `mapstructure:"phase"`
	Mission time.Duration `mapstructure:"mission"`
	// AgentAttempts retries a failed agent call before the failure counts
	// against the phase.
	AgentAttempts int           `mapstructure:"agent_attempts"`
	AgentBackoff  time.Duration `mapstructure:"agent_backoff"`
}

// RepairConfig bounds the repair loop.
type RepairConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

// FeedbackConfig controls the human approval step.
type FeedbackConfig struct {
	Required  bool          `mapstructure:"required"`
	Timeout   time.Duration `mapstructure:"timeout"`
	OnTimeout string        `mapstructure:"on_timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	// Path is the sqlite file. Empty uses missionctl.db under the data dir.
	Path string `mapstructure:"path"`
	DSN  string `mapstructure:"dsn"`
}

// SandboxConfig configures the per-mission workspace.
type SandboxConfig struct {
	// Root contains one directory per mission. Empty uses sandboxes/ under
	// the data dir.
	Root          string                          `mapstructure:"root"`
	Checks        map[string][]agent.CheckCommand `mapstructure:"checks"`
	DeployCommand string                          `mapstructure:"deploy_command"`
}

// BusConfig sizes the agent message bus.
type BusConfig struct {
	History        int           `mapstructure:"history"`
	Buffer         int           `mapstructure:"buffer"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ContractsConfig points at a policy file overriding the built-in one.
type ContractsConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig controls the root logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	// MissionLogs writes one JSON log per mission under the data dir.
	MissionLogs bool `mapstructure:"mission_logs"`
}

// TUIConfig holds watch view settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// MetricsConfig holds the Prometheus listener address. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from all sources with proper precedence.
// Priority (highest to lowest):
// 1. Environment variables (MISSIONCTL_*, ANTHROPIC_API_KEY)
// 2. Project config (.missionctl.yaml in current or parent directory)
// 3. User config (~/.config/missionctl/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a single file on top of the defaults.
// Environment overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.anthropic.api_key", "ANTHROPIC_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.LLM.Anthropic.APIKey = expandEnv(cfg.LLM.Anthropic.APIKey)
	cfg.LLM.OpenAI.APIKey = expandEnv(cfg.LLM.OpenAI.APIKey)
	cfg.Store.DSN = expandEnv(cfg.Store.DSN)
	if cfg.DataDir == "" {
		cfg.DataDir = state.DataDir()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would fail later at mission start.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "", state.DriverSQLite, state.DriverMemory:
	case state.DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be sqlite, postgres or memory, got %q", c.Store.Driver)
	}
	if c.Repair.MaxRetries < 1 {
		return fmt.Errorf("repair.max_retries must be at least 1, got %d", c.Repair.MaxRetries)
	}
	for area := range c.Sandbox.Checks {
		if area != "frontend" && area != "backend" {
			return fmt.Errorf("sandbox.checks: unknown area %q", area)
		}
	}
	return c.Mission().Validate()
}

// Mission returns the workflow settings.
func (c *Config) Mission() mission.Config {
	mc := mission.Config{
		MaxRepairs:        c.Repair.MaxRetries,
		RequireApproval:   c.Feedback.Required,
		FeedbackTimeout:   c.Feedback.Timeout,
		OnFeedbackTimeout: c.Feedback.OnTimeout,
		AgentTimeout:      c.Timeouts.Agent,
		PhaseTimeout:      c.Timeouts.Phase,
		MissionTimeout:    c.Timeouts.Mission,
		AgentAttempts:     c.Timeouts.AgentAttempts,
		AgentBackoff:      c.Timeouts.AgentBackoff,
		RequestTimeout:    c.Bus.RequestTimeout,
		BusHistory:        c.Bus.History,
		BusBuffer:         c.Bus.Buffer,
	}
	if c.Log.MissionLogs {
		mc.LogDir = c.LogDir()
	}
	return mc
}

// Agents returns the options for the standard agent set.
func (c *Config) Agents() agent.Options {
	return agent.Options{
		Checks:        c.Sandbox.Checks,
		DeployCommand: c.Sandbox.DeployCommand,
	}
}

// StorePath returns the sqlite database file.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return state.DefaultPath(c.DataDir)
}

// SandboxDir returns the workspace directory for one mission.
func (c *Config) SandboxDir(missionID string) string {
	root := c.Sandbox.Root
	if root == "" {
		root = filepath.Join(c.DataDir, "sandboxes")
	}
	return filepath.Join(root, missionID)
}

// LogDir returns the directory holding per-mission logs.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// SignalDir returns the directory used to deliver signals across processes.
func (c *Config) SignalDir() string {
	return filepath.Join(c.DataDir, "signals")
}

// Save writes the user-editable settings to the user config file. Secrets
// are written only as the environment references they were loaded from.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("llm.primary", cfg.LLM.Primary)
	v.Set("llm.fallback", cfg.LLM.Fallback)
	v.Set("llm.anthropic.model", cfg.LLM.Anthropic.Model)
	v.Set("llm.anthropic.use_bedrock", cfg.LLM.Anthropic.UseBedrock)
	v.Set("llm.openai.model", cfg.LLM.OpenAI.Model)
	v.Set("llm.openai.base_url", cfg.LLM.OpenAI.BaseURL)
	v.Set("timeouts.agent", cfg.Timeouts.Agent.String())
	v.Set("timeouts.phase", cfg.Timeouts.Phase.String())
	v.Set("timeouts.mission", cfg.Timeouts.Mission.String())
	v.Set("repair.max_retries", cfg.Repair.MaxRetries)
	v.Set("feedback.required", cfg.Feedback.Required)
	v.Set("feedback.timeout", cfg.Feedback.Timeout.String())
	v.Set("feedback.on_timeout", cfg.Feedback.OnTimeout)
	v.Set("store.driver", cfg.Store.Driver)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.pretty", cfg.Log.Pretty)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())
	v.Set("metrics.addr", cfg.Metrics.Addr)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.primary", llm.BackendAnthropic)
	v.SetDefault("llm.fallback", llm.BackendOpenAI)
	v.SetDefault("llm.anthropic.model", "")
	v.SetDefault("llm.anthropic.api_key", "")
	v.SetDefault("llm.anthropic.base_url", "")
	v.SetDefault("llm.anthropic.max_tokens", 8192)
	v.SetDefault("llm.anthropic.max_retries", 2)
	v.SetDefault("llm.anthropic.use_bedrock", false)
	v.SetDefault("llm.anthropic.aws_region", "")
	v.SetDefault("llm.anthropic.aws_profile", "")
	v.SetDefault("llm.openai.model", "")
	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.base_url", "")
	v.SetDefault("llm.openai.max_tokens", 0)
	v.SetDefault("llm.openai.temperature", -1)
	v.SetDefault("llm.openai.timeout", "0s")
	v.SetDefault("llm.openai.max_retries", 2)

	v.SetDefault("timeouts.agent", "60s")
	v.SetDefault("timeouts.phase", "10m")
	v.SetDefault("timeouts.mission", "1h")
	v.SetDefault("timeouts.agent_attempts", 2)
	v.SetDefault("timeouts.agent_backoff", "2s")

	v.SetDefault("repair.max_retries", mission.DefaultMaxRepairs)

	v.SetDefault("feedback.required", false)
	v.SetDefault("feedback.timeout", "0s")
	v.SetDefault("feedback.on_timeout", mission.OnTimeoutReject)

	v.SetDefault("store.driver", state.DriverSQLite)
	v.SetDefault("store.path", "")
	v.SetDefault("store.dsn", "")

	v.SetDefault("sandbox.root", "")
	v.SetDefault("sandbox.deploy_command", "")

	v.SetDefault("bus.history", bus.DefaultHistoryLimit)
	v.SetDefault("bus.buffer", bus.DefaultBufferSize)
	v.SetDefault("bus.request_timeout", "30s")

	v.SetDefault("contracts.path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("log.mission_logs", true)

	v.SetDefault("tui.refresh_rate", "250ms")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("data_dir", "")
}

// getUserConfigDir returns the XDG config directory for missionctl.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "missionctl")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "missionctl")
	}
	return filepath.Join(home, ".config", "missionctl")
}

// findProjectConfig searches for .missionctl.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		LLM: llm.Config{
			Primary:   llm.BackendAnthropic,
			Fallback:  llm.BackendOpenAI,
			Anthropic: llm.AnthropicConfig{MaxTokens: 8192, MaxRetries: 2},
			OpenAI:    llm.OpenAIConfig{Temperature: -1, MaxRetries: 2},
		},
		Timeouts: TimeoutsConfig{
			Agent:         60 * time.Second,
			Phase:         10 * time.Minute,
			Mission:       time.Hour,
			AgentAttempts: 2,
			AgentBackoff:  2 * time.Second,
		},
		Repair: RepairConfig{MaxRetries: mission.DefaultMaxRepairs},
		Feedback: FeedbackConfig{
			OnTimeout: mission.OnTimeoutReject,
		},
		Store: StoreConfig{Driver: state.DriverSQLite},
		Bus: BusConfig{
			History:        bus.DefaultHistoryLimit,
			Buffer:         bus.DefaultBufferSize,
			RequestTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:       "info",
			Pretty:      true,
			MissionLogs: true,
		},
		TUI:     TUIConfig{RefreshRate: 250 * time.Millisecond},
		DataDir: state.DataDir(),
	}
}
