package agent

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/ShayCichocki/missionctl/internal/runtime"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

// CheckCommand is one build or test step QA runs against a code area.
type CheckCommand struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Run is a shell command executed in the area's sandbox directory.
	Run string `mapstructure:"run" yaml:"run"`
	// Expect defines a pass. Supported forms:
	//   "exit N"                 exit code equals N
	//   "output contains X"      stdout+stderr contains X
	//   "output matches /re/"    stdout+stderr matches re
	// Empty means exit 0.
	Expect string `mapstructure:"expect" yaml:"expect"`
	// Required failures are high severity; others are medium.
	Required bool          `mapstructure:"required" yaml:"required"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

const defaultCheckTimeout = 60 * time.Second

// QA verifies a code bundle with static checks and the configured commands.
type QA struct {
	checks map[string][]CheckCommand
}

// NewQA creates a QA agent. checks is keyed by code area.
func NewQA(checks map[string][]CheckCommand) *QA {
	return &QA{checks: checks}
}

func (*QA) Kind() Kind { return KindQA }

// Run verifies task.Target and writes the matching check artifact.
func (q *QA) Run(ctx context.Context, env Env, task Task) (Output, error) {
	checkType := CheckArtifactFor(task.Target)
	if checkType == "" {
		return Output{}, fmt.Errorf("%w: qa cannot verify %q", ErrBadTask, task.Target)
	}
	bundle, err := decodeBundle(env, task.Target)
	if err != nil {
		return Output{}, err
	}

	area := AreaOf(task.Target)
	result := models.VerificationResult{
		Checks: []models.Check{staticCheck(bundle)},
	}

	if cmds := q.checks[area]; len(cmds) > 0 {
		if err := env.Sandbox.WriteFiles(ctx, AreaFiles(area, bundle)); err != nil {
			return Output{}, fmt.Errorf("qa: materialize %s: %w", area, err)
		}
		for _, cmd := range cmds {
			check, err := q.runCommand(ctx, env, area, cmd)
			if err != nil {
				return Output{}, err
			}
			result.Checks = append(result.Checks, check)
		}
	}

	result.Normalize()
	result.Summary = summarize(area, result)
	if err := env.Store.Put(ctx, checkType, result, string(KindQA)); err != nil {
		return Output{}, err
	}
	return Output{Artifacts: []string{checkType}}, nil
}

// staticCheck catches structural problems no command needs to run for.
func staticCheck(bundle models.CodeBundle) models.Check {
	check := models.Check{Name: "structure"}
	seen := make(map[string]bool, len(bundle.Files))
	for _, f := range bundle.Files {
		clean := path.Clean(f.Path)
		switch {
		case escapesArea(f.Path):
			check.Issues = append(check.Issues, models.Issue{
				Severity: models.SeverityCritical, Message: "path escapes the project", File: f.Path,
			})
		case seen[clean]:
			check.Issues = append(check.Issues, models.Issue{
				Severity: models.SeverityHigh, Message: "duplicate file", File: f.Path,
			})
		case strings.TrimSpace(f.Content) == "":
			check.Issues = append(check.Issues, models.Issue{
				Severity: models.SeverityMedium, Message: "empty file", File: f.Path,
			})
		}
		seen[clean] = true
	}
	return check
}

// escapesArea reports a bundle path that would land outside its code area.
func escapesArea(p string) bool {
	clean := path.Clean(p)
	return path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../")
}

// AreaFiles roots a bundle's files under area. Paths that escape the area
// are left out; the structure check reports them instead.
func AreaFiles(area string, bundle models.CodeBundle) []models.File {
	files := make([]models.File, 0, len(bundle.Files))
	for _, f := range bundle.Files {
		if escapesArea(f.Path) {
			continue
		}
		files = append(files, models.File{Path: path.Join(area, f.Path), Content: f.Content})
	}
	return files
}

func (q *QA) runCommand(ctx context.Context, env Env, area string, cmd CheckCommand) (models.Check, error) {
	name := cmd.Name
	if name == "" {
		name = cmd.Run
	}
	check := models.Check{Name: name}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = defaultCheckTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runtime.Step(ctx)
	res, err := env.Sandbox.Execute(cmdCtx, cmd.Run, area)
	if err != nil {
		if ctx.Err() != nil {
			return check, ctx.Err()
		}
		if cmdCtx.Err() == nil {
			// The sandbox itself failed; this is not a finding about the code.
			return check, fmt.Errorf("qa: %s: %w", name, err)
		}
		check.Issues = append(check.Issues, models.Issue{
			Severity: severityFor(cmd),
			Message:  fmt.Sprintf("%s timed out after %s", name, timeout),
		})
		return check, nil
	}

	output := res.Stdout + res.Stderr
	if !expectationMet(res.ExitCode, output, cmd.Expect) {
		check.Issues = append(check.Issues, models.Issue{
			Severity: severityFor(cmd),
			Message:  fmt.Sprintf("%s failed (exit %d): %s", name, res.ExitCode, truncate(output, 400)),
		})
	}
	return check, nil
}

func severityFor(cmd CheckCommand) models.Severity {
	if cmd.Required {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}

func expectationMet(exitCode int, output, expect string) bool {
	expect = strings.TrimSpace(expect)

	if strings.HasPrefix(expect, "exit ") {
		var want int
		if _, err := fmt.Sscanf(expect, "exit %d", &want); err == nil {
			return exitCode == want
		}
	}
	if sub, ok := strings.CutPrefix(expect, "output contains "); ok {
		return strings.Contains(output, sub)
	}
	if pattern, ok := strings.CutPrefix(expect, "output matches "); ok {
		pattern = strings.TrimSuffix(strings.TrimPrefix(pattern, "/"), "/")
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(output)
	}
	return exitCode == 0
}

func summarize(area string, r models.VerificationResult) string {
	issues := r.Issues()
	if len(issues) == 0 {
		return fmt.Sprintf("%s: %d checks passed", area, len(r.Checks))
	}
	return fmt.Sprintf("%s: %d checks, %d issues", area, len(r.Checks), len(issues))
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
