package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/missionctl/internal/agent"
	"github.com/ShayCichocki/missionctl/internal/bus"
	"github.com/ShayCichocki/missionctl/internal/contract"
	"github.com/ShayCichocki/missionctl/internal/engine"
	"github.com/ShayCichocki/missionctl/internal/gate"
	"github.com/ShayCichocki/missionctl/internal/llm"
	"github.com/ShayCichocki/missionctl/internal/logging"
	"github.com/ShayCichocki/missionctl/internal/runtime"
	"github.com/ShayCichocki/missionctl/internal/sandbox"
	"github.com/ShayCichocki/missionctl/internal/store"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

var (
	// ErrCancelled is returned by a mission stopped by a cancel signal.
	ErrCancelled = fmt.Errorf("mission cancelled: %w", context.Canceled)
	// ErrMissionTimeout is returned when the mission deadline passes.
	ErrMissionTimeout = errors.New("mission timed out")
)

// server is implemented by agents that answer bus requests.
type server interface {
	Handler(env agent.Env) bus.Handler
}

// execution is one mission run inside a workflow. State is only mutated
// under mu; checkpoints are serialized by cpMu so sequence order matches
// state order.
type execution struct {
	cfg  Config
	deps Deps
	env  engine.Env
	in   Input
	id   string
	log  zerolog.Logger
	obs  Observer

	fileLog  *logging.FileLogger
	store    *store.RunStore
	bus      *bus.Bus
	registry *agent.Registry
	rt       *runtime.Runtime
	agentEnv agent.Env

	cpMu sync.Mutex
	mu   sync.Mutex
	st   State

	cancelRequested bool
	failure         error
	phaseStart      time.Time

	feedbackReady  chan struct{}
	cancelRun      context.CancelFunc
	stopBackground context.CancelFunc
	background     sync.WaitGroup
}

func newExecution(cfg Config, deps Deps, env engine.Env, in Input) (*execution, error) {
	id := env.MissionID()
	x := &execution{
		cfg:           cfg,
		deps:          deps,
		env:           env,
		in:            in,
		id:            id,
		log:           logging.Component(env.Logger(), "mission"),
		obs:           deps.Observer,
		feedbackReady: make(chan struct{}, 1),
	}
	if x.obs == nil {
		x.obs = NopObserver{}
	}

	logPath := ""
	if cfg.LogDir != "" {
		logPath = logging.MissionLogPath(cfg.LogDir, id)
	}
	fileLog, err := logging.NewFileLogger(logPath)
	if err != nil {
		return nil, err
	}
	x.fileLog = fileLog

	policy := deps.Policy
	if policy == nil {
		p, err := contract.DefaultPolicy()
		if err != nil {
			fileLog.Close()
			return nil, err
		}
		policy = &p
	}
	validator, err := contract.NewValidator(*policy)
	if err != nil {
		fileLog.Close()
		return nil, err
	}

	sb, err := deps.Sandbox(id)
	if err != nil {
		fileLog.Close()
		return nil, err
	}

	agentLog := fileLog.Logger().With().Str("mission_id", id).Logger()
	x.store = store.New(id, validator,
		store.WithPersister(env.Store()),
		store.WithRequired(requiredArtifacts...),
		store.WithLogger(agentLog),
	)
	x.bus = bus.New(
		bus.WithHistoryLimit(cfg.BusHistory),
		bus.WithBufferSize(cfg.BusBuffer),
		bus.WithRequestTimeout(cfg.RequestTimeout),
		bus.WithLogger(agentLog),
	)
	x.agentEnv = agent.Env{
		Store:          x.store,
		Bus:            x.bus,
		LLM:            deps.LLM,
		Sandbox:        sb,
		Log:            agentLog,
		RequestTimeout: cfg.RequestTimeout,
	}

	x.registry, err = agent.NewRegistry(validator, x.agentEnv, agent.Standard(deps.Agents)...)
	if err != nil {
		x.bus.Close()
		fileLog.Close()
		return nil, err
	}
	x.rt = runtime.New(
		runtime.WithTimeout(cfg.AgentTimeout),
		runtime.WithLogger(agentLog),
		runtime.WithObserver(func(r runtime.Result) { x.obs.AgentInvoked(id, r) }),
	)
	return x, nil
}

func (x *execution) close() {
	if x.stopBackground != nil {
		x.stopBackground()
	}
	x.background.Wait()
	x.bus.Close()
	if err := x.fileLog.Close(); err != nil {
		x.log.Warn().Err(err).Msg("failed to close mission log")
	}
}

// run drives the mission until it reaches a terminal phase or the engine
// shuts down. The result is returned in both cases it is known.
func (x *execution) run(ctx context.Context) (*models.MissionResult, error) {
	resumed, err := x.restore(ctx)
	if err != nil {
		return nil, err
	}
	if x.st.Phase.Terminal() {
		return x.st.Result, x.terminalError()
	}
	x.obs.MissionStarted(x.id, resumed)
	x.env.SetQueryHandler(engine.QueryProgress, func() (any, error) {
		x.mu.Lock()
		defer x.mu.Unlock()
		return x.st.Progress(), nil
	})

	missionCtx := ctx
	if x.cfg.MissionTimeout > 0 {
		var stop context.CancelFunc
		missionCtx, stop = context.WithDeadline(ctx, x.st.StartedAt.Add(x.cfg.MissionTimeout))
		defer stop()
	}
	runCtx, cancel := context.WithCancel(missionCtx)
	defer cancel()
	x.cancelRun = cancel

	bg, stopBackground := context.WithCancel(runCtx)
	x.stopBackground = stopBackground
	x.startServers(bg)
	x.background.Add(1)
	go x.pumpSignals(bg)

	x.phaseStart = time.Now()
	for {
		phase := x.phase()
		if phase.Terminal() {
			break
		}
		if runCtx.Err() != nil {
			if err := x.interrupted(ctx); err != nil {
				return x.result(), err
			}
			break
		}

		var err error
		switch phase {
		case models.PhaseRepair:
			err = x.repair(runCtx)
		case models.PhaseHumanFeedback:
			err = x.awaitFeedback(runCtx)
		default:
			err = x.runPhase(runCtx, phase)
		}
		if err == nil {
			continue
		}
		if runCtx.Err() != nil {
			continue
		}
		// Checkpoint failures land here after the engine's own retries.
		return x.result(), err
	}

	return x.result(), x.terminalError()
}

// interrupted settles a mission whose run context ended. A cancel signal
// or mission timeout is terminal; an engine shutdown leaves the mission
// resumable and returns the shutdown error.
func (x *execution) interrupted(ctx context.Context) error {
	x.mu.Lock()
	cancelled := x.cancelRequested
	x.mu.Unlock()

	settle := context.WithoutCancel(ctx)
	switch {
	case cancelled:
		x.log.Info().Msg("mission cancelled")
		x.failure = ErrCancelled
		return x.finish(settle, models.PhaseCancelled, "mission cancelled", nil)
	case ctx.Err() != nil:
		x.log.Info().Str("phase", string(x.phase())).Msg("mission interrupted, resumable from last checkpoint")
		return ctx.Err()
	default:
		x.log.Warn().Dur("timeout", x.cfg.MissionTimeout).Msg("mission timed out")
		x.failure = ErrMissionTimeout
		return x.finish(settle, models.PhaseFailed, ErrMissionTimeout.Error(), []string{ErrMissionTimeout.Error()})
	}
}

// restore loads the last checkpoint and the artifacts persisted with it, or
// commits the initial state of a new mission. It reports whether the
// mission was resumed.
func (x *execution) restore(ctx context.Context) (bool, error) {
	var st State
	ok, err := x.env.LastCheckpoint(ctx, &st)
	if err != nil {
		return false, fmt.Errorf("load checkpoint: %w", err)
	}
	if ok {
		artifacts, err := x.env.Store().LoadArtifacts(ctx, x.id)
		if err != nil {
			return false, fmt.Errorf("load artifacts: %w", err)
		}
		x.store.Restore(artifacts)
		x.mu.Lock()
		x.st = st
		x.mu.Unlock()
		x.log.Info().
			Str("phase", string(st.Phase)).
			Int("artifacts", len(artifacts)).
			Int("iterations", st.Iterations).
			Msg("mission resumed from checkpoint")
		return true, nil
	}

	now := time.Now()
	x.mu.Lock()
	x.st = State{
		MissionID: x.id,
		Prompt:    x.in.Prompt,
		AppName:   x.in.AppName,
		Phase:     models.PhaseIntake,
		Message:   "mission started",
		StartedAt: now,
		UpdatedAt: now,
		History:   []Transition{},
	}
	x.mu.Unlock()
	return false, x.checkpoint(ctx)
}

// runPhase runs the producers of a main-line phase, then its verifier and
// gate.
func (x *execution) runPhase(ctx context.Context, phase models.Phase) error {
	spec, ok := phaseSpecs[phase]
	if !ok {
		return fmt.Errorf("no agents bound to phase %q", phase)
	}

	phaseCtx := ctx
	if x.cfg.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, x.cfg.PhaseTimeout)
		defer cancel()
	}

	x.mu.Lock()
	produced := x.st.Produced
	x.mu.Unlock()

	if !produced && len(spec.producers) > 0 {
		if err := x.produce(phaseCtx, phase, spec.producers); err != nil {
			return x.phaseFailed(ctx, phase, err)
		}
		x.update(func(st *State) {
			st.Produced = true
			st.Message = fmt.Sprintf("%s output produced", phase)
		})
		if err := x.checkpoint(ctx); err != nil {
			return err
		}
	}

	if spec.verifier == "" {
		return x.advance(ctx, phase, "", nil)
	}

	result, err := x.verify(phaseCtx, phase, spec)
	if err != nil {
		return x.phaseFailed(ctx, phase, err)
	}

	decision := gate.FromVerification(result)
	x.obs.GateEvaluated(x.id, phase, decision)
	if !decision.Passed() {
		return x.rejected(ctx, phase, decision)
	}
	for _, issue := range result.Issues() {
		x.log.Info().Str("phase", string(phase)).Str("issue", issue.String()).Msg("non-blocking issue")
	}
	return x.advance(ctx, phase, decision.Message, nil)
}

// produce runs every producer concurrently and waits for all of them.
func (x *execution) produce(ctx context.Context, phase models.Phase, kinds []agent.Kind) error {
	task := x.task(phase)
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range kinds {
		g.Go(func() error {
			return x.invoke(gctx, kind, task)
		})
	}
	return g.Wait()
}

// verify runs the phase verifier and reads back its report.
func (x *execution) verify(ctx context.Context, phase models.Phase, spec phaseSpec) (models.VerificationResult, error) {
	task := x.task(phase)
	task.Target = spec.target
	if err := x.invoke(ctx, spec.verifier, task); err != nil {
		return models.VerificationResult{}, err
	}
	var result models.VerificationResult
	if err := x.store.Decode(spec.report, &result); err != nil {
		return result, err
	}
	result.Normalize()
	return result, nil
}

func (x *execution) task(phase models.Phase) agent.Task {
	x.mu.Lock()
	defer x.mu.Unlock()
	return agent.Task{
		MissionID: x.id,
		Phase:     phase,
		Prompt:    x.st.Prompt,
		AppName:   x.st.AppName,
		Feedback:  append([]string(nil), x.st.Feedback...),
		Attempt:   x.st.RetryCount,
	}
}

// invoke runs one agent through the runtime as an engine activity.
// Provider, sandbox and ownership failures are not retried.
func (x *execution) invoke(ctx context.Context, kind agent.Kind, task agent.Task) error {
	a, err := x.registry.Get(kind)
	if err != nil {
		return err
	}
	opts := engine.ActivityOptions{
		MaxAttempts:    x.cfg.AgentAttempts,
		InitialBackoff: x.cfg.AgentBackoff,
	}
	return x.env.ExecuteActivity(ctx, "agent:"+string(kind), opts, func(ctx context.Context) error {
		res := x.rt.Invoke(ctx, string(kind), func(ctx context.Context) (json.RawMessage, error) {
			out, err := a.Run(ctx, x.agentEnv, task)
			if err != nil {
				return nil, err
			}
			return json.Marshal(out)
		})
		if res.Success {
			return nil
		}
		if fatal(res.Err) || errors.Is(res.Err, contract.ErrOwnershipViolation) {
			return engine.NonRetryable(res.Err)
		}
		return res.Err
	})
}

// fatal errors end the mission without consuming retries.
func fatal(err error) bool {
	return errors.Is(err, llm.ErrProviderUnavailable) || errors.Is(err, sandbox.ErrUnavailable)
}

// phaseFailed records a producer or verifier failure against the phase's
// retry bound. The phase is retried with the error in the agents' feedback.
func (x *execution) phaseFailed(ctx context.Context, phase models.Phase, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	x.obs.PhaseFinished(x.id, phase, time.Since(x.phaseStart), cause)
	if fatal(cause) {
		x.log.Error().Err(cause).Str("phase", string(phase)).Msg("mission cannot continue")
		x.failure = cause
		return x.finish(ctx, models.PhaseFailed, cause.Error(), []string{cause.Error()})
	}

	x.mu.Lock()
	retry := x.st.RetryCount + 1
	x.mu.Unlock()
	if retry > x.cfg.MaxRepairs {
		msg := fmt.Sprintf("%s failed after %d retries: %v", phase, x.cfg.MaxRepairs, cause)
		x.failure = fmt.Errorf("%s: %w", phase, cause)
		return x.finish(ctx, models.PhaseFailed, msg, []string{cause.Error()})
	}

	x.log.Warn().Err(cause).Str("phase", string(phase)).Int("retry", retry).Msg("phase failed, retrying")
	x.update(func(st *State) {
		st.RetryCount = retry
		st.Iterations++
		st.Feedback = append(st.Feedback, cause.Error())
		st.Message = fmt.Sprintf("retrying %s (%d/%d): %v", phase, retry, x.cfg.MaxRepairs, cause)
	})
	return x.checkpoint(ctx)
}

// rejected routes a gate failure into repair, or fails the mission once the
// phase's repair budget is spent.
func (x *execution) rejected(ctx context.Context, phase models.Phase, decision gate.Decision) error {
	x.obs.PhaseFinished(x.id, phase, time.Since(x.phaseStart), &gate.RejectionError{Phase: phase, Decision: decision})

	x.mu.Lock()
	retry := x.st.RetryCount + 1
	x.mu.Unlock()

	if retry > x.cfg.MaxRepairs {
		errs := make([]string, len(decision.Blocking))
		for i, issue := range decision.Blocking {
			errs[i] = issue.String()
		}
		x.failure = &gate.RejectionError{Phase: phase, Decision: decision}
		msg := fmt.Sprintf("%s rejected after %d repairs: %s", phase, x.cfg.MaxRepairs, decision.Message)
		return x.finish(ctx, models.PhaseFailed, msg, errs)
	}

	x.log.Info().
		Str("phase", string(phase)).
		Int("attempt", retry).
		Int("blocking", len(decision.Blocking)).
		Msg("gate rejected phase, repairing")
	x.obs.RepairAttempted(x.id, phase, retry)

	return x.transitionAndSave(ctx, models.PhaseRepair, decision.Message, func(st *State) {
		st.RetryCount = retry
		st.Iterations++
		st.RepairOf = phase
		st.LastIssues = append([]models.Issue(nil), decision.Blocking...)
		st.Message = fmt.Sprintf("repairing %s (%d/%d)", phase, retry, x.cfg.MaxRepairs)
	})
}

// repair asks the repairer to patch the bundles under repair, then returns
// to the repaired phase, which re-verifies.
func (x *execution) repair(ctx context.Context) error {
	x.mu.Lock()
	target := x.st.RepairOf
	task := agent.Task{
		MissionID: x.id,
		Phase:     models.PhaseRepair,
		Targets:   repairTargets(target),
		Issues:    append([]models.Issue(nil), x.st.LastIssues...),
		Feedback:  append([]string(nil), x.st.Feedback...),
		Attempt:   x.st.RetryCount,
	}
	x.mu.Unlock()

	if target == "" {
		return errors.New("repair without a phase to return to")
	}

	err := x.invoke(ctx, agent.KindRepairer, task)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fatal(err) {
			x.failure = err
			return x.finish(ctx, models.PhaseFailed, err.Error(), []string{err.Error()})
		}
		x.log.Warn().Err(err).Str("phase", string(target)).Msg("repair attempt failed")
	}

	reason := fmt.Sprintf("repair attempt %d", task.Attempt)
	return x.transitionAndSave(ctx, target, reason, func(st *State) {
		if err != nil {
			st.Feedback = append(st.Feedback, err.Error())
		}
		st.Message = fmt.Sprintf("re-verifying %s", target)
	})
}

// advance moves a phase that passed its gate to its main-line successor.
// carry becomes the next phase's feedback.
func (x *execution) advance(ctx context.Context, phase models.Phase, reason string, carry []string) error {
	next := phase.Next(!x.cfg.RequireApproval)
	if next == "" {
		return fmt.Errorf("phase %q has no successor", phase)
	}
	x.obs.PhaseFinished(x.id, phase, time.Since(x.phaseStart), nil)
	if next == models.PhaseComplete {
		return x.finish(ctx, models.PhaseComplete, "mission complete", nil)
	}

	x.log.Info().Str("from", string(phase)).Str("to", string(next)).Msg("phase passed")
	return x.transitionAndSave(ctx, next, reason, func(st *State) {
		st.RetryCount = 0
		st.RepairOf = ""
		st.LastIssues = nil
		st.Produced = false
		st.Feedback = carry
		st.Message = fmt.Sprintf("%s started", next)
	})
}

// finish moves the mission to a terminal phase and records its result.
func (x *execution) finish(ctx context.Context, phase models.Phase, message string, errs []string) error {
	err := x.transitionAndSave(ctx, phase, message, func(st *State) {
		st.Message = message
		st.Errors = append(st.Errors, errs...)
		st.Result = x.buildResult(st, phase, message)
	})
	x.mu.Lock()
	result := x.st.Result
	x.mu.Unlock()
	x.obs.MissionFinished(result)
	return err
}

// transitionAndSave applies mutate, moves to phase and checkpoints.
func (x *execution) transitionAndSave(ctx context.Context, to models.Phase, reason string, mutate func(st *State)) error {
	x.mu.Lock()
	from := x.st.Phase
	if !models.CanTransition(from, to) {
		x.mu.Unlock()
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	x.st.Phase = to
	x.st.History = append(x.st.History, Transition{From: from, To: to, At: time.Now(), Reason: reason})
	if mutate != nil {
		mutate(&x.st)
	}
	x.mu.Unlock()

	x.phaseStart = time.Now()
	x.log.Debug().Str("from", string(from)).Str("to", string(to)).Str("reason", reason).Msg("transition")
	return x.checkpoint(ctx)
}

func (x *execution) update(mutate func(st *State)) {
	x.mu.Lock()
	defer x.mu.Unlock()
	mutate(&x.st)
}

func (x *execution) phase() models.Phase {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.st.Phase
}

// checkpoint commits the current state with a fresh manifest.
func (x *execution) checkpoint(ctx context.Context) error {
	x.cpMu.Lock()
	defer x.cpMu.Unlock()

	x.mu.Lock()
	x.st.Manifest = x.store.BuildManifest()
	x.st.UpdatedAt = time.Now()
	st := x.st.clone()
	x.mu.Unlock()

	progress := st.Progress()
	snap := engine.Snapshot{
		Phase:    string(st.Phase),
		Message:  st.Message,
		Progress: progress.Progress,
		Status:   st.Status(),
	}
	return x.env.Checkpoint(ctx, snap, st)
}

func (x *execution) result() *models.MissionResult {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.st.Result
}

// terminalError is the workflow error for a finished mission: nil on
// success, otherwise the recorded cause.
func (x *execution) terminalError() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	switch x.st.Phase {
	case models.PhaseComplete:
		return nil
	case models.PhaseCancelled:
		return ErrCancelled
	case models.PhaseFailed:
		if x.failure != nil {
			return x.failure
		}
		if len(x.st.Errors) > 0 {
			return errors.New(strings.Join(x.st.Errors, "; "))
		}
		return errors.New(x.st.Message)
	default:
		return nil
	}
}

// startServers serves bus requests for every agent that answers them.
func (x *execution) startServers(ctx context.Context) {
	for _, kind := range x.registry.Kinds() {
		if !kind.Capabilities().Serves {
			continue
		}
		a, err := x.registry.Get(kind)
		if err != nil {
			continue
		}
		srv, ok := a.(server)
		if !ok {
			continue
		}
		handler := srv.Handler(x.agentEnv)
		x.background.Add(1)
		go func() {
			defer x.background.Done()
			if err := x.bus.Serve(ctx, string(kind), handler); err != nil && !errors.Is(err, bus.ErrClosed) {
				x.log.Warn().Err(err).Str("agent", string(kind)).Msg("agent stopped serving")
			}
		}()
	}
}
