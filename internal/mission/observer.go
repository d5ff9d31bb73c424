package mission

import (
	"time"

	"github.com/ShayCichocki/missionctl/internal/gate"
	"github.com/ShayCichocki/missionctl/internal/runtime"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

// Observer receives mission lifecycle events. Implementations must not
// block; they are called from the workflow goroutine.
type Observer interface {
	MissionStarted(missionID string, resumed bool)
	MissionFinished(result *models.MissionResult)
	PhaseFinished(missionID string, phase models.Phase, d time.Duration, err error)
	GateEvaluated(missionID string, phase models.Phase, decision gate.Decision)
	RepairAttempted(missionID string, phase models.Phase, attempt int)
	AgentInvoked(missionID string, result runtime.Result)
}

// NopObserver ignores every event.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) MissionStarted(string, bool) {}
func (NopObserver) MissionFinished(*models.MissionResult) {}
func (NopObserver) PhaseFinished(string, models.Phase, time.Duration, error) {}
func (NopObserver) GateEvaluated(string, models.Phase, gate.Decision) {}
func (NopObserver) RepairAttempted(string, models.Phase, int) {}
func (NopObserver) AgentInvoked(string, runtime.Result) {}
