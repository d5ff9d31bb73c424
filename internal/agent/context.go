package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/missionctl/internal/llm"
	"github.com/ShayCichocki/missionctl/internal/runtime"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

// Area names for the two code bundles. They double as sandbox directories.
const (
	AreaFrontend = "frontend"
	AreaBackend  = "backend"
)

// AreaOf returns the code area for a code or check artifact type.
func AreaOf(artifactType string) string {
	switch artifactType {
	case models.ArtifactFrontendCode, models.ArtifactFrontendCheck:
		return AreaFrontend
	case models.ArtifactBackendCode, models.ArtifactBackendCheck:
		return AreaBackend
	default:
		return ""
	}
}

// CheckArtifactFor returns the QA result type for a code artifact type.
func CheckArtifactFor(codeType string) string {
	switch codeType {
	case models.ArtifactFrontendCode:
		return models.ArtifactFrontendCheck
	case models.ArtifactBackendCode:
		return models.ArtifactBackendCheck
	default:
		return ""
	}
}

// artifactContext renders the named artifacts as prompt sections. Missing
// artifacts are skipped.
func artifactContext(env Env, types ...string) string {
	var sb strings.Builder
	for _, t := range types {
		raw, ok := env.Store.Get(t)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n```json\n%s\n```\n\n", t, raw)
	}
	return sb.String()
}

// feedbackSection renders earlier failures so a retry can correct them.
func feedbackSection(task Task) string {
	if len(task.Feedback) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Previous attempt %d failed\n", task.Attempt)
	for _, f := range task.Feedback {
		fmt.Fprintf(&sb, "- %s\n", f)
	}
	sb.WriteString("\nFix these problems in this attempt.\n")
	return sb.String()
}

// produce prompts the provider for a T and writes it as artifactType.
func produce[T any](ctx context.Context, env Env, kind Kind, artifactType, system, user string) (Output, error) {
	runtime.Step(ctx)
	value, err := llm.PromptJSON[T](ctx, env.LLM, system, user)
	if err != nil {
		return Output{}, fmt.Errorf("%s: %w", kind, err)
	}
	if err := env.Store.Put(ctx, artifactType, value, string(kind)); err != nil {
		return Output{}, err
	}
	env.Log.Debug().Str("agent", string(kind)).Str("artifact", artifactType).Msg("artifact produced")
	return Output{Artifacts: []string{artifactType}}, nil
}
