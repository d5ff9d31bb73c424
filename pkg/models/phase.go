package models

// Phase is a stage of the mission state machine.
type Phase string

const (
	// PhaseIntake normalizes the user's request into a request artifact.
	PhaseIntake Phase = "intake"
	// PhaseAnalyze extracts requirements from the request.
	PhaseAnalyze Phase = "analyze"
	// PhasePlan breaks requirements into an implementation plan.
	PhasePlan Phase = "plan"
	// PhaseDesign produces the application architecture.
	PhaseDesign Phase = "design"
	// PhaseGenerateFrontend generates the frontend code bundle.
	PhaseGenerateFrontend Phase = "generate_frontend"
	// PhaseGenerateBackend generates the backend code bundle.
	PhaseGenerateBackend Phase = "generate_backend"
	// PhaseReview runs code review over the generated bundles.
	PhaseReview Phase = "review"
	// PhaseSecurityAudit runs the security audit over the generated bundles.
	PhaseSecurityAudit Phase = "security_audit"
	// PhaseHumanFeedback parks the mission until a feedback signal arrives.
	PhaseHumanFeedback Phase = "human_feedback"
	// PhaseDeploy materializes and deploys the application.
	PhaseDeploy Phase = "deploy"
	// PhaseComplete is the successful terminal state.
	PhaseComplete Phase = "complete"
	// PhaseRepair is the repair sub-loop entered from a gate-rejected phase.
	PhaseRepair Phase = "repair"
	// PhaseFailed is the unsuccessful terminal state.
	PhaseFailed Phase = "failed"
	// PhaseCancelled is the terminal state reached via cancellation.
	PhaseCancelled Phase = "cancelled"
)

// Pipeline is the ordered main line of the mission, human feedback included.
var Pipeline = []Phase{
	PhaseIntake,
	PhaseAnalyze,
	PhasePlan,
	PhaseDesign,
	PhaseGenerateFrontend,
	PhaseGenerateBackend,
	PhaseReview,
	PhaseSecurityAudit,
	PhaseHumanFeedback,
	PhaseDeploy,
	PhaseComplete,
}

// Valid returns true if the phase is a known value.
func (p Phase) Valid() bool {
	switch p {
	case PhaseIntake, PhaseAnalyze, PhasePlan, PhaseDesign,
		PhaseGenerateFrontend, PhaseGenerateBackend, PhaseReview,
		PhaseSecurityAudit, PhaseHumanFeedback, PhaseDeploy, PhaseComplete,
		PhaseRepair, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for phases the mission never leaves.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseCancelled
}

// Gated returns true for phases whose output passes through a gate and may
// therefore enter the repair loop.
func (p Phase) Gated() bool {
	switch p {
	case PhaseIntake, PhaseAnalyze, PhasePlan, PhaseDesign,
		PhaseGenerateFrontend, PhaseGenerateBackend, PhaseReview,
		PhaseSecurityAudit, PhaseDeploy:
		return true
	default:
		return false
	}
}

// Index returns the position of the phase in Pipeline, or -1.
func (p Phase) Index() int {
	for i, candidate := range Pipeline {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Next returns the main-line successor of p. When skipFeedback is true the
// human feedback wait is bypassed. Terminal and off-pipeline phases return "".
func (p Phase) Next(skipFeedback bool) Phase {
	idx := p.Index()
	if idx < 0 || idx >= len(Pipeline)-1 {
		return ""
	}
	next := Pipeline[idx+1]
	if next == PhaseHumanFeedback && skipFeedback {
		return PhaseDeploy
	}
	return next
}

// CanTransition reports whether the edge from -> to is allowed.
//
// Allowed edges are the main-line successor (with the optional human feedback
// wait), the repair round trip for gated phases, and any non-terminal phase to
// failed or cancelled. The repair edge back is validated by the caller against
// the phase under repair.
func CanTransition(from, to Phase) bool {
	if from.Terminal() || !to.Valid() {
		return false
	}
	if to == PhaseFailed || to == PhaseCancelled {
		return true
	}
	if from == PhaseRepair {
		return to.Gated()
	}
	if to == PhaseRepair {
		return from.Gated()
	}
	if from == PhaseSecurityAudit && to == PhaseDeploy {
		return true
	}
	return from.Next(false) == to
}

// Progress returns the completion percentage (0-100) for a phase.
func (p Phase) Progress() int {
	if p == PhaseComplete {
		return 100
	}
	idx := p.Index()
	if idx < 0 {
		return 0
	}
	return idx * 100 / (len(Pipeline) - 1)
}
