package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missionctl/internal/config"
	"github.com/ShayCichocki/missionctl/internal/llm"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Prepare a directory and data dir for missionctl",
	Long: `Initialize missionctl.

This command:
  - Checks that an LLM backend has credentials
  - Creates the data directory (database, sandboxes, logs, signals)
  - Writes a .missionctl.yaml template in the target directory

The directory argument is optional and defaults to the current directory.

Examples:
  missionctl init
  missionctl init ./apps --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing .missionctl.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	fmt.Fprintf(out, "Initializing missionctl in %s...\n\n", absPath)

	ready := checkCredentials(out, cfg)

	for _, dir := range []string{cfg.DataDir, cfg.LogDir(), cfg.SignalDir(), filepath.Dir(cfg.SandboxDir("x"))} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			printStatus(out, "✗", "Could not create "+dir, color.FgRed)
			return err
		}
	}
	printStatus(out, "✓", "Created data directory "+cfg.DataDir, color.FgGreen)

	projectPath := filepath.Join(absPath, config.ProjectConfigName)
	if err := writeProjectConfig(projectPath, initForce); err != nil {
		if os.IsExist(err) {
			printStatus(out, "⚠", config.ProjectConfigName+" exists (use --force to overwrite)", color.FgYellow)
		} else {
			return fmt.Errorf("writing %s: %w", config.ProjectConfigName, err)
		}
	} else {
		printStatus(out, "✓", "Created "+config.ProjectConfigName+" template", color.FgGreen)
	}

	fmt.Fprintf(out, "\n%s missionctl initialization complete!\n\n", color.GreenString("✓"))
	fmt.Fprintln(out, "Next steps:")
	if !ready {
		fmt.Fprintln(out, "  1. Set an API key:")
		fmt.Fprintln(out, "     export ANTHROPIC_API_KEY=your-key-here")
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, "  2. Start a mission:")
	fmt.Fprintln(out, `     missionctl run "A todo app with user accounts"`)
	return nil
}

// checkCredentials reports each configured backend's key source and returns
// whether the primary backend can authenticate.
func checkCredentials(out io.Writer, cfg *config.Config) bool {
	ready := false
	for _, backend := range []string{cfg.LLM.Primary, cfg.LLM.Fallback} {
		if backend == llm.BackendNone {
			continue
		}
		switch src := config.GetAPIKeySource(cfg, backend); src {
		case config.KeySourceNone:
			printStatus(out, "⚠", backend+" credentials not set (you can set them later)", color.FgYellow)
		default:
			printStatus(out, "✓", fmt.Sprintf("%s credentials from %s", backend, src), color.FgGreen)
			if backend == cfg.LLM.Primary {
				ready = true
			}
		}
	}
	return ready
}

const projectConfigTemplate = `# missionctl project configuration.
# Values here override ~/.config/missionctl/config.yaml.

llm:
  primary: anthropic
  fallback: openai

timeouts:
  agent: 60s
  phase: 10m
  mission: 1h

repair:
  max_retries: 3

feedback:
  required: false
  timeout: 0s
  on_timeout: reject

sandbox:
  # Commands QA runs against each generated code area.
  checks:
    backend:
      - name: compile
        run: python -m compileall -q .
        required: true
  deploy_command: ""
`

func writeProjectConfig(path string, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(projectConfigTemplate)
	return err
}
