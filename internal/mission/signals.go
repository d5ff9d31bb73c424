package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/missionctl/internal/engine"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

// pumpSignals applies signals as they arrive until ctx is done.
func (x *execution) pumpSignals(ctx context.Context) {
	defer x.background.Done()
	signals := x.env.Signals()
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			x.handleSignal(ctx, sig)
		}
	}
}

func (x *execution) handleSignal(ctx context.Context, sig engine.Signal) {
	switch sig.Name {
	case engine.SignalCancel:
		x.mu.Lock()
		x.cancelRequested = true
		x.mu.Unlock()
		x.log.Info().Msg("cancel requested")
		x.cancelRun()

	case engine.SignalFeedback:
		var fb Feedback
		if err := json.Unmarshal(sig.Payload, &fb); err != nil {
			x.log.Warn().Err(err).Msg("ignoring malformed feedback signal")
			return
		}

		x.mu.Lock()
		phase := x.st.Phase
		hold := x.cfg.RequireApproval && (phase == models.PhaseHumanFeedback || phase.Index() < models.PhaseHumanFeedback.Index())
		if hold {
			x.st.PendingSignal = &fb
		}
		x.mu.Unlock()

		if !hold {
			x.log.Info().Str("phase", string(phase)).Bool("approved", fb.Approved).Msg("feedback received outside the approval wait, ignoring")
			return
		}
		x.log.Info().Str("phase", string(phase)).Bool("approved", fb.Approved).Msg("feedback received")
		if err := x.checkpoint(ctx); err != nil {
			x.log.Warn().Err(err).Msg("failed to checkpoint pending feedback")
		}
		select {
		case x.feedbackReady <- struct{}{}:
		default:
		}

	default:
		x.log.Warn().Err(fmt.Errorf("%w: %q", ErrUnknownSignal, sig.Name)).Msg("ignoring signal")
	}
}

func (x *execution) takePending() (Feedback, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.st.PendingSignal == nil {
		return Feedback{}, false
	}
	fb := *x.st.PendingSignal
	x.st.PendingSignal = nil
	return fb, true
}

// awaitFeedback parks the mission until feedback arrives, the optional wait
// timeout passes, or ctx ends. Approval moves on to deploy; rejection fails
// the mission.
func (x *execution) awaitFeedback(ctx context.Context) error {
	fb, ok := x.takePending()
	if !ok {
		var timeout <-chan time.Time
		if x.cfg.FeedbackTimeout > 0 {
			t := time.NewTimer(x.cfg.FeedbackTimeout)
			defer t.Stop()
			timeout = t.C
		}
		x.log.Info().Dur("timeout", x.cfg.FeedbackTimeout).Msg("awaiting human feedback")

	wait:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-x.feedbackReady:
				if fb, ok = x.takePending(); ok {
					break wait
				}
			case <-timeout:
				fb = Feedback{
					Approved: x.cfg.OnFeedbackTimeout == OnTimeoutApprove,
					Comment:  fmt.Sprintf("no feedback within %s", x.cfg.FeedbackTimeout),
				}
				break wait
			}
		}
	}

	if !fb.Approved {
		msg := "rejected by reviewer"
		if fb.Comment != "" {
			msg += ": " + fb.Comment
		}
		x.failure = errors.New(msg)
		return x.finish(ctx, models.PhaseFailed, msg, []string{msg})
	}
	reason := "approved"
	if fb.Comment != "" {
		reason += ": " + fb.Comment
	}
	return x.advance(ctx, models.PhaseHumanFeedback, reason, fb.Modifications)
}
