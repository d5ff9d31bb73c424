package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missionctl/internal/config"
	"github.com/ShayCichocki/missionctl/internal/llm"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify missionctl configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/missionctl/config.yaml
Project-specific overrides can be placed in .missionctl.yaml
Any key can be overridden from the environment, e.g. MISSIONCTL_REPAIR_MAX_RETRIES=5`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		out := cmd.OutOrStdout()

		switch len(args) {
		case 0:
			displayAllConfig(out, cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, value)
			return nil
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			fmt.Fprintf(out, "Set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

// configKey reads and writes one user-editable setting.
type configKey struct {
	get func(*config.Config) string
	set func(*config.Config, string) error
}

func stringKey(field func(*config.Config) *string) configKey {
	return configKey{
		get: func(c *config.Config) string { return *field(c) },
		set: func(c *config.Config, v string) error {
			*field(c) = v
			return nil
		},
	}
}

func durationKey(field func(*config.Config) *time.Duration) configKey {
	return configKey{
		get: func(c *config.Config) string { return field(c).String() },
		set: func(c *config.Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", v, err)
			}
			*field(c) = d
			return nil
		},
	}
}

func boolKey(field func(*config.Config) *bool) configKey {
	return configKey{
		get: func(c *config.Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *config.Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean %q: %w", v, err)
			}
			*field(c) = b
			return nil
		},
	}
}

func intKey(field func(*config.Config) *int) configKey {
	return configKey{
		get: func(c *config.Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *config.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid integer %q: %w", v, err)
			}
			*field(c) = n
			return nil
		},
	}
}

// configKeys are the settings config.Save persists.
var configKeys = map[string]configKey{
	"llm.primary":               stringKey(func(c *config.Config) *string { return &c.LLM.Primary }),
	"llm.fallback":              stringKey(func(c *config.Config) *string { return &c.LLM.Fallback }),
	"llm.anthropic.model":       stringKey(func(c *config.Config) *string { return &c.LLM.Anthropic.Model }),
	"llm.anthropic.use_bedrock": boolKey(func(c *config.Config) *bool { return &c.LLM.Anthropic.UseBedrock }),
	"llm.openai.model":          stringKey(func(c *config.Config) *string { return &c.LLM.OpenAI.Model }),
	"llm.openai.base_url":       stringKey(func(c *config.Config) *string { return &c.LLM.OpenAI.BaseURL }),
	"timeouts.agent":            durationKey(func(c *config.Config) *time.Duration { return &c.Timeouts.Agent }),
	"timeouts.phase":            durationKey(func(c *config.Config) *time.Duration { return &c.Timeouts.Phase }),
	"timeouts.mission":          durationKey(func(c *config.Config) *time.Duration { return &c.Timeouts.Mission }),
	"repair.max_retries":        intKey(func(c *config.Config) *int { return &c.Repair.MaxRetries }),
	"feedback.required":         boolKey(func(c *config.Config) *bool { return &c.Feedback.Required }),
	"feedback.timeout":          durationKey(func(c *config.Config) *time.Duration { return &c.Feedback.Timeout }),
	"feedback.on_timeout":       stringKey(func(c *config.Config) *string { return &c.Feedback.OnTimeout }),
	"store.driver":              stringKey(func(c *config.Config) *string { return &c.Store.Driver }),
	"log.level":                 stringKey(func(c *config.Config) *string { return &c.Log.Level }),
	"log.pretty":                boolKey(func(c *config.Config) *bool { return &c.Log.Pretty }),
	"tui.refresh_rate":          durationKey(func(c *config.Config) *time.Duration { return &c.TUI.RefreshRate }),
	"metrics.addr":              stringKey(func(c *config.Config) *string { return &c.Metrics.Addr }),
}

// displayAllConfig prints all configuration values.
func displayAllConfig(w io.Writer, cfg *config.Config) {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := newTable(w)
	t.AppendHeader(table.Row{"Key", "Value"})
	for _, k := range keys {
		t.AppendRow(table.Row{k, configKeys[k].get(cfg)})
	}
	for _, backend := range []string{llm.BackendAnthropic, llm.BackendOpenAI} {
		key, _ := config.GetAPIKey(cfg, backend)
		src := config.GetAPIKeySource(cfg, backend)
		t.AppendRow(table.Row{backend + " api key", fmt.Sprintf("%s (%s)", config.MaskAPIKey(key), src)})
	}
	t.AppendFooter(table.Row{"data dir", cfg.DataDir})
	t.Render()

	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Fprintf(w, "Project config: %s\n", p)
	}
	fmt.Fprintf(w, "User config:    %s\n", config.GetUserConfigPath())
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	k, ok := configKeys[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	return k.get(cfg), nil
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	k, ok := configKeys[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err := k.set(cfg, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}
