// Package agent defines the closed set of mission agents. Each kind has a
// statically declared capability set that is checked against the run's
// contracts and environment when the registry is built.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/missionctl/internal/bus"
	"github.com/ShayCichocki/missionctl/internal/llm"
	"github.com/ShayCichocki/missionctl/internal/sandbox"
	"github.com/ShayCichocki/missionctl/internal/store"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

// Kind identifies an agent variant. The kind doubles as the agent id used in
// contracts and on the bus.
type Kind string

const (
	KindIntake    Kind = "intake"
	KindAnalyst   Kind = "analyst"
	KindPlanner   Kind = "planner"
	KindArchitect Kind = "architect"
	KindFrontend  Kind = "frontend"
	KindBackend   Kind = "backend"
	KindQA        Kind = "qa"
	KindReviewer  Kind = "reviewer"
	KindSecurity  Kind = "security"
	KindRepairer  Kind = "repairer"
	KindDeployer  Kind = "deployer"
)

// Kinds lists every agent kind.
var Kinds = []Kind{
	KindIntake, KindAnalyst, KindPlanner, KindArchitect,
	KindFrontend, KindBackend, KindQA, KindReviewer,
	KindSecurity, KindRepairer, KindDeployer,
}

// Common errors.
var (
	// ErrUnknownKind indicates a kind outside the closed set.
	ErrUnknownKind = errors.New("unknown agent kind")
	// ErrMissingCapability indicates the environment or contracts cannot
	// support an agent's declared capabilities.
	ErrMissingCapability = errors.New("missing capability")
	// ErrAgentNotFound indicates no agent of the requested kind is registered.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrBadTask indicates a task the agent cannot act on.
	ErrBadTask = errors.New("invalid task")
)

// Capabilities is what an agent kind does and needs.
type Capabilities struct {
	// Produces lists artifact types the agent writes.
	Produces []string
	// Reads lists artifact types the agent consumes.
	Reads []string
	// Verifies is set for agents that emit verification results.
	Verifies bool
	// Repairs is set for agents that patch other agents' artifacts.
	Repairs bool
	// Serves is set for agents that answer bus requests.
	Serves bool
	NeedsLLM     bool
	NeedsSandbox bool
}

var codeArtifacts = []string{models.ArtifactFrontendCode, models.ArtifactBackendCode}

var capabilities = map[Kind]Capabilities{
	KindIntake: {
		Produces: []string{models.ArtifactRequest},
	},
	KindAnalyst: {
		Produces: []string{models.ArtifactRequirements},
		Reads:    []string{models.ArtifactRequest},
		NeedsLLM: true,
	},
	KindPlanner: {
		Produces: []string{models.ArtifactPlan},
		Reads:    []string{models.ArtifactRequirements},
		NeedsLLM: true,
	},
	KindArchitect: {
		Produces: []string{models.ArtifactArchitecture},
		Reads:    []string{models.ArtifactRequirements, models.ArtifactPlan},
		Serves:   true,
		NeedsLLM: true,
	},
	KindFrontend: {
		Produces: []string{models.ArtifactFrontendCode},
		Reads:    []string{models.ArtifactArchitecture, models.ArtifactPlan},
		NeedsLLM: true,
	},
	KindBackend: {
		Produces: []string{models.ArtifactBackendCode},
		Reads:    []string{models.ArtifactArchitecture, models.ArtifactPlan},
		NeedsLLM: true,
	},
	KindQA: {
		Produces:     []string{models.ArtifactFrontendCheck, models.ArtifactBackendCheck},
		Reads:        codeArtifacts,
		Verifies:     true,
		NeedsSandbox: true,
	},
	KindReviewer: {
		Produces: []string{models.ArtifactReviewReport},
		Reads:    append([]string{models.ArtifactArchitecture}, codeArtifacts...),
		Verifies: true,
		NeedsLLM: true,
	},
	KindSecurity: {
		Produces: []string{models.ArtifactSecurityReport},
		Reads:    codeArtifacts,
		Verifies: true,
		NeedsLLM: true,
	},
	KindRepairer: {
		Produces: codeArtifacts,
		Reads:    append([]string{models.ArtifactArchitecture}, codeArtifacts...),
		Repairs:  true,
		NeedsLLM: true,
	},
	KindDeployer: {
		Produces:     []string{models.ArtifactDeployment},
		Reads:        codeArtifacts,
		NeedsSandbox: true,
	},
}

// Valid returns true if the kind is in the closed set.
func (k Kind) Valid() bool {
	_, ok := capabilities[k]
	return ok
}

// Capabilities returns the static capability set for the kind.
func (k Kind) Capabilities() Capabilities {
	c := capabilities[k]
	c.Produces = append([]string(nil), c.Produces...)
	c.Reads = append([]string(nil), c.Reads...)
	return c
}

// Task is one unit of work handed to an agent by the mission.
type Task struct {
	MissionID string       `json:"mission_id"`
	Phase     models.Phase `json:"phase"`
	// Prompt and AppName carry the mission request for intake.
	Prompt  string `json:"prompt,omitempty"`
	AppName string `json:"app_name,omitempty"`
	// Target is the artifact a verifier checks.
	Target string `json:"target,omitempty"`
	// Targets are the artifacts a repairer patches.
	Targets []string `json:"targets,omitempty"`
	// Issues are the blocking findings a repair must address.
	Issues []models.Issue `json:"issues,omitempty"`
	// Feedback holds errors from earlier attempts at the same phase.
	Feedback []string `json:"feedback,omitempty"`
	// Attempt is zero on the first try.
	Attempt int `json:"attempt"`
}

// Output reports what an agent wrote.
type Output struct {
	Artifacts []string `json:"artifacts"`
}

// Env is everything an agent may touch during a run.
type Env struct {
	Store   *store.RunStore
	Bus     *bus.Bus
	LLM     llm.Provider
	Sandbox sandbox.Sandbox
	Log     zerolog.Logger
	// RequestTimeout bounds bus requests between agents.
	RequestTimeout time.Duration
}

// Agent is one mission participant.
type Agent interface {
	Kind() Kind
	Run(ctx context.Context, env Env, task Task) (Output, error)
}
