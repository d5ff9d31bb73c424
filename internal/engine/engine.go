// Package engine runs missions durably: it starts workflows, routes signals
// and queries to them, persists their checkpoints, and resumes them after a
// restart.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/missionctl/internal/state"
)

var (
	// ErrNotRunning is returned when a mission is not running in this
	// process and no cross-process route exists.
	ErrNotRunning = errors.New("mission not running")
	// ErrAlreadyRunning is returned when starting or resuming a mission this
	// engine is already running.
	ErrAlreadyRunning = errors.New("mission already running")
	// ErrUnknownQuery is returned for a query name no handler answers.
	ErrUnknownQuery = errors.New("unknown query")
	// ErrNoCheckpoint is returned when resuming a mission that never
	// checkpointed.
	ErrNoCheckpoint = errors.New("no checkpoint")
)

// Signal names understood by the mission workflow.
const (
	SignalFeedback = "feedback"
	SignalCancel   = "cancel"
)

// QueryProgress is the standard progress query.
const QueryProgress = "progress"

// Signal is an asynchronous message to a running workflow.
type Signal struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

// NewSignal builds a signal, encoding payload as JSON. A nil payload is
// omitted.
func NewSignal(name string, payload any) (Signal, error) {
	sig := Signal{Name: name, SentAt: time.Now()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return sig, err
		}
		sig.Payload = data
	}
	return sig, nil
}

// Snapshot is the status summary recorded with every checkpoint.
type Snapshot struct {
	Phase    string
	Message  string
	Progress int
	Status   state.MissionStatus
}

// QueryHandler answers a query without blocking the workflow.
type QueryHandler func() (any, error)

// Workflow is the durable body of a mission. It returns the mission result.
type Workflow func(ctx context.Context, env Env) (any, error)

// Env is what a running workflow sees of the engine.
type Env interface {
	MissionID() string
	// Resumed is true when the workflow restarts from a checkpoint.
	Resumed() bool
	// Signals delivers signals in arrival order for the life of the run.
	Signals() <-chan Signal
	SetQueryHandler(name string, h QueryHandler)
	// Checkpoint commits workflow state and mirrors snap on the mission record.
	Checkpoint(ctx context.Context, snap Snapshot, v any) error
	// LastCheckpoint decodes the latest checkpoint into dst. It returns
	// false when none exists.
	LastCheckpoint(ctx context.Context, dst any) (bool, error)
	// ExecuteActivity runs fn with the options' timeout and retry policy.
	ExecuteActivity(ctx context.Context, name string, opts ActivityOptions, fn func(ctx context.Context) error) error
	// Store is the backend artifacts persist through.
	Store() state.Store
	Logger() zerolog.Logger
}

// StartRequest describes a new mission.
type StartRequest struct {
	// MissionID is generated when empty.
	MissionID string
	Prompt    string
	// Input is stored with the mission so it can be resumed elsewhere.
	Input    any
	Workflow Workflow
}

// Engine is the durable execution surface the CLI and MCP server drive.
type Engine interface {
	Start(ctx context.Context, req StartRequest) (*Run, error)
	Signal(ctx context.Context, missionID string, sig Signal) error
	Query(ctx context.Context, missionID, name string) (any, error)
	Cancel(ctx context.Context, missionID string) error
}

var _ Engine = (*Local)(nil)
