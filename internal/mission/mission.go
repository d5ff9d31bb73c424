// Package mission drives a mission through its phases: it runs the agents
// for each phase, gates their verification results, loops through repair
// when a gate rejects, and waits for human feedback when required. It runs
// as an engine.Workflow, so every transition is checkpointed and a mission
// resumes from its last committed phase.
package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/missionctl/internal/agent"
	"github.com/ShayCichocki/missionctl/internal/contract"
	"github.com/ShayCichocki/missionctl/internal/engine"
	"github.com/ShayCichocki/missionctl/internal/llm"
	"github.com/ShayCichocki/missionctl/internal/runtime"
	"github.com/ShayCichocki/missionctl/internal/sandbox"
	"github.com/ShayCichocki/missionctl/internal/state"
)

// ErrUnknownSignal is logged, never returned to the sender, when a mission
// receives a signal it does not understand.
var ErrUnknownSignal = errors.New("unknown signal")

// Feedback wait-timeout policies.
const (
	OnTimeoutApprove = "approve"
	OnTimeoutReject  = "reject"
)

// DefaultMaxRepairs bounds repair attempts per phase.
const DefaultMaxRepairs = 3

// Config tunes mission behavior.
type Config struct {
	MaxRepairs int
	// RequireApproval parks the mission at human_feedback before deploy.
	RequireApproval bool
	// FeedbackTimeout bounds the approval wait. Zero waits indefinitely.
	FeedbackTimeout time.Duration
	// OnFeedbackTimeout is OnTimeoutApprove or OnTimeoutReject.
	OnFeedbackTimeout string

	AgentTimeout   time.Duration
	PhaseTimeout   time.Duration
	MissionTimeout time.Duration
	// AgentAttempts is how many times an agent call is tried before the
	// failure counts against the phase. Values below 1 mean 1.
	AgentAttempts int
	AgentBackoff  time.Duration

	RequestTimeout time.Duration
	BusHistory     int
	BusBuffer      int

	// LogDir receives one debug log per mission. Empty disables them.
	LogDir string
}

func (c Config) withDefaults() Config {
	if c.MaxRepairs <= 0 {
		c.MaxRepairs = DefaultMaxRepairs
	}
	if c.OnFeedbackTimeout == "" {
		c.OnFeedbackTimeout = OnTimeoutReject
	}
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = runtime.DefaultTimeout
	}
	if c.AgentAttempts < 1 {
		c.AgentAttempts = 1
	}
	return c
}

// Validate checks the timeout layering agent < phase < mission. Zero phase
// and mission timeouts are unbounded.
func (c Config) Validate() error {
	if c.OnFeedbackTimeout != "" && c.OnFeedbackTimeout != OnTimeoutApprove && c.OnFeedbackTimeout != OnTimeoutReject {
		return fmt.Errorf("feedback on_timeout must be %q or %q, got %q", OnTimeoutApprove, OnTimeoutReject, c.OnFeedbackTimeout)
	}
	if c.PhaseTimeout > 0 && c.AgentTimeout >= c.PhaseTimeout {
		return fmt.Errorf("agent timeout %s must be below phase timeout %s", c.AgentTimeout, c.PhaseTimeout)
	}
	if c.MissionTimeout > 0 && c.PhaseTimeout > 0 && c.PhaseTimeout >= c.MissionTimeout {
		return fmt.Errorf("phase timeout %s must be below mission timeout %s", c.PhaseTimeout, c.MissionTimeout)
	}
	if c.MissionTimeout > 0 && c.AgentTimeout >= c.MissionTimeout {
		return fmt.Errorf("agent timeout %s must be below mission timeout %s", c.AgentTimeout, c.MissionTimeout)
	}
	return nil
}

// Deps are the collaborators shared by every mission.
type Deps struct {
	// Policy builds a fresh validator per run. Nil uses the embedded policy.
	Policy *contract.Policy
	LLM    llm.Provider
	// Sandbox returns the workspace for one mission.
	Sandbox  func(missionID string) (sandbox.Sandbox, error)
	Agents   agent.Options
	Observer Observer
	Log      zerolog.Logger
}

// Input is what a mission is started with. It is stored with the mission
// so it can be resumed by another process.
type Input struct {
	Prompt  string `json:"prompt"`
	AppName string `json:"app_name,omitempty"`
}

// DecodeInput reads the input stored on a mission record.
func DecodeInput(m *state.Mission) (Input, error) {
	var in Input
	if len(m.Input) == 0 {
		return Input{Prompt: m.Prompt}, nil
	}
	if err := json.Unmarshal(m.Input, &in); err != nil {
		return in, fmt.Errorf("decode mission input: %w", err)
	}
	return in, nil
}

// Feedback is the payload of a feedback signal.
type Feedback struct {
	Approved      bool     `json:"approved"`
	Comment       string   `json:"comment,omitempty"`
	Modifications []string `json:"modifications,omitempty"`
}

// FeedbackSignal builds the engine signal carrying fb.
func FeedbackSignal(fb Feedback) (engine.Signal, error) {
	return engine.NewSignal(engine.SignalFeedback, fb)
}

// Controller starts and resumes missions on an engine.
type Controller struct {
	engine *engine.Local
	cfg    Config
	deps   Deps
}

// NewController validates cfg and returns a controller.
func NewController(e *engine.Local, cfg Config, deps Deps) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Sandbox == nil {
		return nil, errors.New("mission: sandbox factory is required")
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	return &Controller{engine: e, cfg: cfg.withDefaults(), deps: deps}, nil
}

// Engine returns the underlying engine.
func (c *Controller) Engine() *engine.Local {
	return c.engine
}

// Start begins a new mission for in.
func (c *Controller) Start(ctx context.Context, in Input) (*engine.Run, error) {
	if in.Prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", agent.ErrBadTask)
	}
	return c.engine.Start(ctx, engine.StartRequest{
		Prompt:   in.Prompt,
		Input:    in,
		Workflow: c.Workflow(in),
	})
}

// Resume continues an interrupted mission from its last checkpoint.
func (c *Controller) Resume(ctx context.Context, missionID string) (*engine.Run, error) {
	m, err := c.engine.Store().GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	in, err := DecodeInput(m)
	if err != nil {
		return nil, err
	}
	return c.engine.Resume(ctx, missionID, c.Workflow(in))
}

// Workflow returns the durable body of a mission for in.
func (c *Controller) Workflow(in Input) engine.Workflow {
	return func(ctx context.Context, env engine.Env) (any, error) {
		x, err := newExecution(c.cfg, c.deps, env, in)
		if err != nil {
			return nil, err
		}
		defer x.close()
		res, err := x.run(ctx)
		if res == nil {
			return nil, err
		}
		return res, err
	}
}
