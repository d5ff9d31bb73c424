package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ShayCichocki/missionctl/internal/bus"
	"github.com/ShayCichocki/missionctl/internal/runtime"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

// Intake normalizes the mission request. It needs no model.
type Intake struct{}

func (*Intake) Kind() Kind { return KindIntake }

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Run writes the request artifact.
func (a *Intake) Run(ctx context.Context, env Env, task Task) (Output, error) {
	runtime.Step(ctx)
	prompt := strings.TrimSpace(task.Prompt)
	if prompt == "" {
		return Output{}, fmt.Errorf("%w: empty mission prompt", ErrBadTask)
	}

	name := task.AppName
	if name == "" {
		name = AppName(prompt)
	}
	req := models.Request{
		Prompt:     prompt,
		AppName:    name,
		ReceivedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := env.Store.Put(ctx, models.ArtifactRequest, req, string(KindIntake)); err != nil {
		return Output{}, err
	}
	return Output{Artifacts: []string{models.ArtifactRequest}}, nil
}

// AppName derives a short slug from a request, e.g. "Build a todo app"
// becomes "build-a-todo-app".
func AppName(prompt string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(prompt), "-"), "-")
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "-")
	}
	if slug == "" {
		return "app"
	}
	return slug
}

// Analyst turns the request into requirements.
type Analyst struct{}

func (*Analyst) Kind() Kind { return KindAnalyst }

func (a *Analyst) Run(ctx context.Context, env Env, task Task) (Output, error) {
	user := artifactContext(env, models.ArtifactRequest) + feedbackSection(task)
	return produce[models.Requirements](ctx, env, KindAnalyst, models.ArtifactRequirements, analystPrompt, user)
}

// Planner turns requirements into a plan.
type Planner struct{}

func (*Planner) Kind() Kind { return KindPlanner }

func (a *Planner) Run(ctx context.Context, env Env, task Task) (Output, error) {
	user := artifactContext(env, models.ArtifactRequest, models.ArtifactRequirements) + feedbackSection(task)
	return produce[models.Plan](ctx, env, KindPlanner, models.ArtifactPlan, plannerPrompt, user)
}

// Architect designs the application and answers design questions from
// other agents over the bus.
type Architect struct{}

func (*Architect) Kind() Kind { return KindArchitect }

func (a *Architect) Run(ctx context.Context, env Env, task Task) (Output, error) {
	user := artifactContext(env, models.ArtifactRequirements, models.ArtifactPlan) + feedbackSection(task)
	return produce[models.Architecture](ctx, env, KindArchitect, models.ArtifactArchitecture, architectPrompt, user)
}

// Design questions the architect answers.
const (
	QuestionEndpoints = "endpoints"
	QuestionDesign    = "design"
)

// Handler answers questions about the stored architecture. It reads the
// store only, so it is safe to serve for the whole run.
func (a *Architect) Handler(env Env) bus.Handler {
	return func(_ context.Context, msg bus.Message) (string, error) {
		var arch models.Architecture
		if err := env.Store.Decode(models.ArtifactArchitecture, &arch); err != nil {
			return "", fmt.Errorf("no architecture yet")
		}

		switch strings.TrimSpace(msg.Content) {
		case QuestionEndpoints:
			lines := make([]string, 0, len(arch.Backend.Endpoints))
			for _, ep := range arch.Backend.Endpoints {
				lines = append(lines, fmt.Sprintf("%s %s", strings.ToUpper(ep.Method), ep.Path))
			}
			return strings.Join(lines, "\n"), nil
		default:
			data, err := json.Marshal(arch)
			if err != nil {
				return "", err
			}
			return string(data), nil
		}
	}
}
