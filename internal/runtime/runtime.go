// Package runtime wraps a single agent invocation with a deadline and turns
// its outcome into a structured Result.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds an agent call when no timeout is configured.
const DefaultTimeout = 60 * time.Second

// ErrAgentTimeout is returned when an agent call exceeds its deadline.
var ErrAgentTimeout = errors.New("agent timed out")

// Call is one unit of agent work. It must honor ctx cancellation.
type Call func(ctx context.Context) (json.RawMessage, error)

// Result is the normalized outcome of an invocation.
type Result struct {
	AgentID  string          `json:"agent_id"`
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Duration time.Duration   `json:"duration"`
	Steps    int             `json:"steps"`
	Error    string          `json:"error,omitempty"`
	// Err is the underlying failure, for errors.Is/As by the caller.
	Err error `json:"-"`
}

// Observer is notified after every invocation.
type Observer func(Result)

type stepsKey struct{}

type stepCounter struct {
	n atomic.Int64
}

// Step records one unit of progress (an LLM round trip, a sandbox command)
// against the invocation carried by ctx. It is a no-op outside Invoke.
func Step(ctx context.Context) {
	if c, ok := ctx.Value(stepsKey{}).(*stepCounter); ok {
		c.n.Add(1)
	}
}

// Runtime invokes agent calls. It owns no retry policy.
type Runtime struct {
	timeout  time.Duration
	log      zerolog.Logger
	observer Observer
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the runtime logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runtime) {
		r.log = l
	}
}

// WithObserver registers a callback for every result.
func WithObserver(o Observer) Option {
	return func(r *Runtime) {
		r.observer = o
	}
}

// New creates a runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{timeout: DefaultTimeout, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Timeout returns the configured per-call deadline.
func (r *Runtime) Timeout() time.Duration {
	return r.timeout
}

// Invoke runs call under a deadline derived from ctx. The call's context is
// cancelled when the deadline passes, so well-behaved calls stop promptly;
// Invoke itself returns as soon as the deadline passes either way.
func (r *Runtime) Invoke(ctx context.Context, agentID string, call Call) Result {
	counter := &stepCounter{}
	callCtx, cancel := context.WithTimeout(context.WithValue(ctx, stepsKey{}, counter), r.timeout)
	defer cancel()

	type outcome struct {
		data json.RawMessage
		err  error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("agent panicked: %v", p)}
			}
		}()
		data, err := call(callCtx)
		done <- outcome{data: data, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = outcome{err: callCtx.Err()}
	}

	res := Result{
		AgentID:  agentID,
		Duration: time.Since(start),
		Steps:    int(counter.n.Load()),
	}
	switch {
	case out.err == nil:
		res.Success = true
		res.Data = out.data
	case errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil:
		res.Err = fmt.Errorf("%s after %s: %w", agentID, r.timeout, ErrAgentTimeout)
	default:
		res.Err = out.err
	}
	if res.Err != nil {
		res.Error = res.Err.Error()
	}

	ev := r.log.Debug()
	if !res.Success {
		ev = r.log.Warn().Str("error", res.Error)
	}
	ev.Str("agent", agentID).
		Dur("duration", res.Duration).
		Int("steps", res.Steps).
		Bool("success", res.Success).
		Msg("agent invocation finished")

	if r.observer != nil {
		r.observer(res)
	}
	return res
}
