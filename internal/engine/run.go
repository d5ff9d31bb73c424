package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/missionctl/internal/state"
)

// Run is one mission executing in a Local engine. It is both the caller's
// handle and the workflow's Env.
type Run struct {
	id      string
	engine  *Local
	resumed bool
	signals chan Signal
	log     zerolog.Logger

	mu      sync.RWMutex
	mission state.Mission
	queries map[string]QueryHandler

	done   chan struct{}
	result any
	err    error
}

var _ Env = (*Run)(nil)

func (r *Run) MissionID() string { return r.id }
func (r *Run) Resumed() bool { return r.resumed }
func (r *Run) Signals() <-chan Signal { return r.signals }
func (r *Run) Store() state.Store { return r.engine.store }
func (r *Run) Logger() zerolog.Logger { return r.log }
func (r *Run) Done() <-chan struct{} { return r.done }

// SetQueryHandler registers or replaces the handler for name.
func (r *Run) SetQueryHandler(name string, h QueryHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries[name] = h
}

func (r *Run) query(name string) (any, error) {
	r.mu.RLock()
	h, ok := r.queries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuery, name)
	}
	return h()
}

// push delivers a signal, waiting briefly when the buffer is full.
func (r *Run) push(sig Signal) error {
	select {
	case <-r.done:
		return fmt.Errorf("%w: %s", ErrNotRunning, r.id)
	default:
	}

	select {
	case r.signals <- sig:
		return nil
	default:
	}

	t := time.NewTimer(signalGrace)
	defer t.Stop()
	select {
	case r.signals <- sig:
		return nil
	case <-r.done:
		return fmt.Errorf("%w: %s", ErrNotRunning, r.id)
	case <-t.C:
		r.log.Warn().Str("signal", sig.Name).Msg("signal buffer full, dropping signal")
		return fmt.Errorf("signal %s dropped: buffer full", sig.Name)
	}
}

// Checkpoint persists v and mirrors snap on the mission record. Persistence
// errors are retried briefly before being returned.
func (r *Run) Checkpoint(ctx context.Context, snap Snapshot, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	now := r.engine.clock()

	r.mu.Lock()
	r.mission.Phase = snap.Phase
	r.mission.Message = snap.Message
	r.mission.Progress = snap.Progress
	if snap.Status != "" {
		r.mission.Status = snap.Status
	}
	r.mission.UpdatedAt = now
	mission := r.mission
	r.mu.Unlock()

	opts := ActivityOptions{MaxAttempts: 3, InitialBackoff: 50 * time.Millisecond, MaxBackoff: 500 * time.Millisecond}
	_, err = runActivity(ctx, opts, sleepContext, func(ctx context.Context) error {
		cp := &state.Checkpoint{MissionID: mission.ID, Phase: snap.Phase, Data: data, CreatedAt: now}
		if err := r.engine.store.SaveCheckpoint(ctx, cp); err != nil {
			return err
		}
		return r.engine.store.UpdateMission(ctx, &mission)
	})
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", snap.Phase, err)
	}
	return nil
}

// LastCheckpoint decodes the newest checkpoint into dst.
func (r *Run) LastCheckpoint(ctx context.Context, dst any) (bool, error) {
	cp, err := r.engine.store.LastCheckpoint(ctx, r.id)
	if errors.Is(err, state.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(cp.Data, dst); err != nil {
		return false, fmt.Errorf("decode checkpoint %d: %w", cp.Seq, err)
	}
	return true, nil
}

// ExecuteActivity runs fn under opts, logging retries.
func (r *Run) ExecuteActivity(ctx context.Context, name string, opts ActivityOptions, fn func(ctx context.Context) error) error {
	attempts, err := runActivity(ctx, opts, sleepContext, func(ctx context.Context) error {
		return fn(ctx)
	})
	if attempts > 1 {
		ev := r.log.Info()
		if err != nil {
			ev = r.log.Warn().Err(err)
		}
		ev.Str("activity", name).Int("attempts", attempts).Msg("activity retried")
	}
	return err
}

// Wait blocks until the workflow returns or ctx is done.
func (r *Run) Wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return r.result, r.err
	}
}

// Status returns the mission status as last recorded.
func (r *Run) Status() state.MissionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mission.Status
}

// finish records the outcome and releases the run. A workflow that returned
// without checkpointing a terminal status is settled here. A run stopped
// by engine shutdown stays running and unowned so it can be resumed.
func (r *Run) finish(result any, err error) {
	r.mu.Lock()
	mission := r.mission
	r.mu.Unlock()

	shutdown := r.engine.base.Err() != nil
	if !mission.Status.Terminal() {
		switch {
		case shutdown:
			mission.PID = 0
		case err == nil:
			mission.Status = state.MissionComplete
		case errors.Is(err, context.Canceled):
			mission.Status = state.MissionCancelled
		default:
			mission.Status = state.MissionFailed
			mission.Message = err.Error()
		}
		mission.UpdatedAt = r.engine.clock()
		if uerr := r.engine.store.UpdateMission(context.Background(), &mission); uerr != nil {
			r.log.Error().Err(uerr).Msg("failed to record mission outcome")
		}
	}

	r.mu.Lock()
	r.mission = mission
	r.result = result
	r.err = err
	r.mu.Unlock()

	r.engine.remove(mission.ID)
	close(r.done)

	ev := r.log.Info()
	if err != nil {
		ev = r.log.Warn().Err(err)
	}
	ev.Str("status", string(mission.Status)).Bool("interrupted", shutdown && !mission.Status.Terminal()).Msg("mission finished")
}
