package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ShayCichocki/missionctl/internal/llm"
	"github.com/ShayCichocki/missionctl/internal/protect"
	"github.com/ShayCichocki/missionctl/internal/runtime"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

const defaultAskTimeout = 5 * time.Second

// Reviewer reviews both code bundles against the architecture.
type Reviewer struct{}

func (*Reviewer) Kind() Kind { return KindReviewer }

// Run asks the architect for the endpoint list over the bus, then has the
// model review the code with that answer in hand.
func (r *Reviewer) Run(ctx context.Context, env Env, task Task) (Output, error) {
	var sb strings.Builder
	sb.WriteString(artifactContext(env, models.ArtifactArchitecture, models.ArtifactFrontendCode, models.ArtifactBackendCode))

	if env.Bus != nil {
		timeout := env.RequestTimeout
		if timeout <= 0 {
			timeout = defaultAskTimeout
		}
		answer, err := env.Bus.Request(ctx, string(KindReviewer), string(KindArchitect), QuestionEndpoints, timeout)
		if err != nil {
			env.Log.Warn().Err(err).Msg("architect did not answer, reviewing without endpoint list")
		} else if answer != "" {
			fmt.Fprintf(&sb, "## Endpoints confirmed by the architect\n%s\n\n", answer)
		}
	}
	sb.WriteString(feedbackSection(task))

	result, err := verify(ctx, env, KindReviewer, reviewerPrompt, sb.String())
	if err != nil {
		return Output{}, err
	}
	if err := env.Store.Put(ctx, models.ArtifactReviewReport, result, string(KindReviewer)); err != nil {
		return Output{}, err
	}
	return Output{Artifacts: []string{models.ArtifactReviewReport}}, nil
}

// Security audits both bundles. A pattern scan for hardcoded credentials
// and a sensitive-file scan run alongside the model audit and are merged
// into the report.
type Security struct{}

func (*Security) Kind() Kind { return KindSecurity }

func (s *Security) Run(ctx context.Context, env Env, task Task) (Output, error) {
	user := artifactContext(env, models.ArtifactFrontendCode, models.ArtifactBackendCode) + feedbackSection(task)

	result, err := verify(ctx, env, KindSecurity, securityPrompt, user)
	if err != nil {
		return Output{}, err
	}

	scan := models.Check{Name: "secret-scan"}
	files := models.Check{Name: "sensitive-files"}
	for _, t := range codeArtifacts {
		bundle, err := decodeBundle(env, t)
		if err != nil {
			continue
		}
		scan.Issues = append(scan.Issues, scanSecrets(bundle)...)
		files.Issues = append(files.Issues, sensitiveFiles.Scan(bundle.Files)...)
	}
	result.Checks = append(result.Checks, scan, files)
	result.Normalize()

	if err := env.Store.Put(ctx, models.ArtifactSecurityReport, result, string(KindSecurity)); err != nil {
		return Output{}, err
	}
	return Output{Artifacts: []string{models.ArtifactSecurityReport}}, nil
}

func verify(ctx context.Context, env Env, kind Kind, system, user string) (models.VerificationResult, error) {
	runtime.Step(ctx)
	result, err := llm.PromptJSON[models.VerificationResult](ctx, env.LLM, system, user)
	if err != nil {
		return result, fmt.Errorf("%s: %w", kind, err)
	}
	for i := range result.Checks {
		if result.Checks[i].Name == "" {
			result.Checks[i].Name = fmt.Sprintf("%s-%d", kind, i+1)
		}
	}
	result.Normalize()
	return result, nil
}

var sensitiveFiles = protect.New()

var secretPattern = regexp.MustCompile(`(?i)(api[_-]?key|secret|passw(or)?d|token)["']?\s*[:=]\s*["']([^"'\s]{8,})["']`)

// scanSecrets flags string literals assigned to credential-like names.
// Values read from the environment do not match.
func scanSecrets(bundle models.CodeBundle) []models.Issue {
	var issues []models.Issue
	for _, f := range bundle.Files {
		for i, line := range strings.Split(f.Content, "\n") {
			if secretPattern.MatchString(line) {
				issues = append(issues, models.Issue{
					Severity: models.SeverityCritical,
					Message:  fmt.Sprintf("hardcoded credential on line %d", i+1),
					File:     f.Path,
				})
			}
		}
	}
	return issues
}
