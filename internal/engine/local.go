package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ShayCichocki/missionctl/internal/state"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

const (
	defaultSignalBuffer = 16
	// signalGrace bounds how long delivery waits on a full signal channel.
	signalGrace = 2 * time.Second
)

// Local runs missions in this process and persists them through a
// state.Store. With a signal directory it also accepts signals from other
// processes.
type Local struct {
	store   state.Store
	log     zerolog.Logger
	signals *FileSignals
	clock   func() time.Time

	base   context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	runs map[string]*Run
}

// Option configures a Local engine.
type Option func(*Local)

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Local) { e.log = l }
}

// WithFileSignals enables cross-process signals through fs.
func WithFileSignals(fs *FileSignals) Option {
	return func(e *Local) { e.signals = fs }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(e *Local) { e.clock = clock }
}

// NewLocal creates an engine over s.
func NewLocal(s state.Store, opts ...Option) *Local {
	e := &Local{
		store: s,
		log:   zerolog.Nop(),
		clock: time.Now,
		runs:  make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.base, e.cancel = context.WithCancel(context.Background())
	if e.signals != nil {
		e.signals.Watch(e.deliver)
	}
	return e
}

// Store returns the engine's persistence backend.
func (e *Local) Store() state.Store {
	return e.store
}

// Start records the mission and runs its workflow in the background. The
// run outlives ctx; use Cancel to stop it.
func (e *Local) Start(ctx context.Context, req StartRequest) (*Run, error) {
	if req.Workflow == nil {
		return nil, errors.New("start: workflow is required")
	}
	id := req.MissionID
	if id == "" {
		id = uuid.NewString()
	}

	var input json.RawMessage
	if req.Input != nil {
		data, err := json.Marshal(req.Input)
		if err != nil {
			return nil, fmt.Errorf("start: encode input: %w", err)
		}
		input = data
	}

	now := e.clock()
	mission := &state.Mission{
		ID:        id,
		Prompt:    req.Prompt,
		Input:     input,
		Status:    state.MissionRunning,
		Phase:     string(models.PhaseIntake),
		PID:       os.Getpid(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	e.mu.Lock()
	if _, running := e.runs[id]; running {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	if err := e.store.CreateMission(ctx, mission); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	r := e.newRun(mission, false)
	e.mu.Unlock()

	e.log.Info().Str("mission", id).Msg("mission started")
	e.launch(r, req.Workflow)
	return r, nil
}

// Resume restarts a mission from its last checkpoint. The mission must not
// be terminal or owned by another live process.
func (e *Local) Resume(ctx context.Context, missionID string, wf Workflow) (*Run, error) {
	e.mu.Lock()
	if _, running := e.runs[missionID]; running {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, missionID)
	}
	e.mu.Unlock()

	if _, err := e.store.LastCheckpoint(ctx, missionID); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, missionID)
		}
		return nil, err
	}
	mission, err := state.NewRecoveryManager(e.store).Claim(ctx, missionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if _, running := e.runs[missionID]; running {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, missionID)
	}
	r := e.newRun(mission, true)
	e.mu.Unlock()

	e.log.Info().Str("mission", missionID).Str("phase", mission.Phase).Msg("mission resumed")
	e.launch(r, wf)
	return r, nil
}

func (e *Local) newRun(m *state.Mission, resumed bool) *Run {
	r := &Run{
		id:      m.ID,
		engine:  e,
		mission: *m,
		resumed: resumed,
		signals: make(chan Signal, defaultSignalBuffer),
		queries: make(map[string]QueryHandler),
		done:    make(chan struct{}),
		log:     e.log.With().Str("mission", m.ID).Logger(),
	}
	e.runs[m.ID] = r
	return r
}

func (e *Local) launch(r *Run, wf Workflow) {
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.finish(nil, fmt.Errorf("workflow panic: %v", p))
			}
		}()
		if e.signals != nil {
			// Signals sent while no process owned the mission.
			go e.signals.Drain(r.id)
		}
		result, err := wf(e.base, r)
		r.finish(result, err)
	}()
}

func (e *Local) run(missionID string) (*Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[missionID]
	return r, ok
}

func (e *Local) remove(missionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, missionID)
}

// deliver hands a signal to a local run. It reports false when the mission
// is not running here.
func (e *Local) deliver(missionID string, sig Signal) bool {
	r, ok := e.run(missionID)
	if !ok {
		return false
	}
	return r.push(sig) == nil
}

// Signal delivers sig to the mission. A mission running elsewhere is
// reached through the signal directory when one is configured.
func (e *Local) Signal(ctx context.Context, missionID string, sig Signal) error {
	if sig.SentAt.IsZero() {
		sig.SentAt = e.clock()
	}
	if r, ok := e.run(missionID); ok {
		return r.push(sig)
	}

	m, err := e.store.GetMission(ctx, missionID)
	if err != nil {
		return err
	}
	if m.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, missionID, m.Status)
	}
	if e.signals == nil {
		return fmt.Errorf("%w: %s", ErrNotRunning, missionID)
	}
	return e.signals.Send(missionID, sig)
}

// Cancel asks the mission to stop. The workflow records the cancellation
// itself.
func (e *Local) Cancel(ctx context.Context, missionID string) error {
	return e.Signal(ctx, missionID, Signal{Name: SignalCancel})
}

// Query answers name from the running workflow. For a mission not running
// here, the progress query is answered from the stored mission record.
func (e *Local) Query(ctx context.Context, missionID, name string) (any, error) {
	if r, ok := e.run(missionID); ok {
		return r.query(name)
	}
	if name != QueryProgress {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, missionID)
	}
	m, err := e.store.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	return models.Progress{
		MissionID: m.ID,
		Phase:     models.Phase(m.Phase),
		Message:   m.Message,
		Progress:  m.Progress,
	}, nil
}

// Running returns the ids of missions running in this process.
func (e *Local) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	return ids
}

// Close cancels every run, waits for them to finish, and stops signal
// delivery.
func (e *Local) Close() {
	e.cancel()
	e.mu.Lock()
	runs := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()
	for _, r := range runs {
		<-r.done
	}
	if e.signals != nil {
		e.signals.Close()
	}
}
