package mission

import (
	"github.com/ShayCichocki/missionctl/internal/agent"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

// phaseSpec binds a phase to the agents that run in it.
type phaseSpec struct {
	// producers run concurrently and must all succeed.
	producers []agent.Kind
	verifier  agent.Kind
	// target is the artifact the verifier checks, if it takes one.
	target string
	// report is the verification artifact the gate reads.
	report string
}

// Phases in one concurrency group start their producers together at the
// group's first phase. The frontend and backend generators form such a
// group, so generate_backend only verifies.
var phaseSpecs = map[models.Phase]phaseSpec{
	models.PhaseIntake:  {producers: []agent.Kind{agent.KindIntake}},
	models.PhaseAnalyze: {producers: []agent.Kind{agent.KindAnalyst}},
	models.PhasePlan:    {producers: []agent.Kind{agent.KindPlanner}},
	models.PhaseDesign:  {producers: []agent.Kind{agent.KindArchitect}},
	models.PhaseGenerateFrontend: {
		producers: []agent.Kind{agent.KindFrontend, agent.KindBackend},
		verifier:  agent.KindQA,
		target:    models.ArtifactFrontendCode,
		report:    models.ArtifactFrontendCheck,
	},
	models.PhaseGenerateBackend: {
		verifier: agent.KindQA,
		target:   models.ArtifactBackendCode,
		report:   models.ArtifactBackendCheck,
	},
	models.PhaseReview: {
		verifier: agent.KindReviewer,
		report:   models.ArtifactReviewReport,
	},
	models.PhaseSecurityAudit: {
		verifier: agent.KindSecurity,
		report:   models.ArtifactSecurityReport,
	},
	models.PhaseDeploy: {producers: []agent.Kind{agent.KindDeployer}},
}

// requiredArtifacts are the artifact types a completed mission holds.
var requiredArtifacts = []string{
	models.ArtifactRequest,
	models.ArtifactRequirements,
	models.ArtifactPlan,
	models.ArtifactArchitecture,
	models.ArtifactFrontendCode,
	models.ArtifactBackendCode,
	models.ArtifactFrontendCheck,
	models.ArtifactBackendCheck,
	models.ArtifactReviewReport,
	models.ArtifactSecurityReport,
	models.ArtifactDeployment,
}

var codeArtifacts = []string{models.ArtifactFrontendCode, models.ArtifactBackendCode}

// repairTargets returns the bundles a repair of phase may patch.
func repairTargets(phase models.Phase) []string {
	switch phase {
	case models.PhaseGenerateFrontend:
		return []string{models.ArtifactFrontendCode}
	case models.PhaseGenerateBackend:
		return []string{models.ArtifactBackendCode}
	default:
		return append([]string(nil), codeArtifacts...)
	}
}
