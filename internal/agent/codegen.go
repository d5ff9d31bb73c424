package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ShayCichocki/missionctl/internal/llm"
	"github.com/ShayCichocki/missionctl/internal/runtime"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

// Generator writes one code bundle. The frontend and backend agents are two
// instances of it.
type Generator struct {
	kind     Kind
	artifact string
	prompt   string
}

// NewGenerator returns the code generator for KindFrontend or KindBackend.
func NewGenerator(kind Kind) *Generator {
	if kind == KindBackend {
		return &Generator{kind: kind, artifact: models.ArtifactBackendCode, prompt: backendPrompt}
	}
	return &Generator{kind: KindFrontend, artifact: models.ArtifactFrontendCode, prompt: frontendPrompt}
}

func (g *Generator) Kind() Kind { return g.kind }

// Run writes the bundle. On a retry the previous bundle is included so the
// model can correct rather than restart.
func (g *Generator) Run(ctx context.Context, env Env, task Task) (Output, error) {
	types := []string{models.ArtifactRequirements, models.ArtifactPlan, models.ArtifactArchitecture}
	if task.Attempt > 0 {
		types = append(types, g.artifact)
	}
	user := artifactContext(env, types...) + feedbackSection(task)

	out, err := produce[models.CodeBundle](ctx, env, g.kind, g.artifact, g.prompt, user)
	if err != nil {
		return out, err
	}
	if env.Bus != nil {
		env.Bus.Broadcast(string(g.kind), g.artifact+" ready")
	}
	return out, nil
}

// Repairer patches code bundles to address blocking issues.
type Repairer struct{}

func (*Repairer) Kind() Kind { return KindRepairer }

// Run rewrites every existing target bundle that has issues routed to it.
// An issue naming a file goes to the bundle holding that file; issues with no
// file, or a file no bundle holds, go to every target.
func (r *Repairer) Run(ctx context.Context, env Env, task Task) (Output, error) {
	if len(task.Targets) == 0 {
		return Output{}, fmt.Errorf("%w: repair without targets", ErrBadTask)
	}

	bundles := make(map[string]models.CodeBundle, len(task.Targets))
	owner := make(map[string]string)
	for _, target := range task.Targets {
		bundle, err := decodeBundle(env, target)
		if err != nil {
			continue
		}
		bundles[target] = bundle
		for _, f := range bundle.Files {
			owner[f.Path] = target
		}
	}
	if len(bundles) == 0 {
		return Output{}, fmt.Errorf("%w: none of %v exist", ErrBadTask, task.Targets)
	}

	routed := make(map[string][]models.Issue, len(bundles))
	for _, issue := range task.Issues {
		if target, ok := owner[issue.File]; ok {
			routed[target] = append(routed[target], issue)
			continue
		}
		for target := range bundles {
			routed[target] = append(routed[target], issue)
		}
	}

	var out Output
	for _, target := range task.Targets {
		issues := routed[target]
		if len(issues) == 0 {
			continue
		}

		var sb strings.Builder
		sb.WriteString(artifactContext(env, models.ArtifactArchitecture, target))
		sb.WriteString("## Issues to fix\n")
		for _, issue := range issues {
			fmt.Fprintf(&sb, "- %s\n", issue)
		}
		sb.WriteString(feedbackSection(task))

		runtime.Step(ctx)
		patched, err := llm.PromptJSON[models.CodeBundle](ctx, env.LLM, repairerPrompt, sb.String())
		if err != nil {
			return out, fmt.Errorf("repairer: %s: %w", target, err)
		}
		if err := env.Store.Put(ctx, target, patched, string(KindRepairer)); err != nil {
			return out, err
		}
		out.Artifacts = append(out.Artifacts, target)
	}
	return out, nil
}

// decodeBundle is shared by agents that consume code.
func decodeBundle(env Env, artifactType string) (models.CodeBundle, error) {
	var bundle models.CodeBundle
	raw, ok := env.Store.Get(artifactType)
	if !ok {
		return bundle, fmt.Errorf("%w: %s missing", ErrBadTask, artifactType)
	}
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return bundle, fmt.Errorf("decode %s: %w", artifactType, err)
	}
	return bundle, nil
}
