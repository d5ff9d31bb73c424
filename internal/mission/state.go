package mission

import (
	"time"

	"github.com/ShayCichocki/missionctl/internal/state"
	"github.com/ShayCichocki/missionctl/internal/store"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

// Transition is one recorded phase change.
type Transition struct {
	From   models.Phase `json:"from"`
	To     models.Phase `json:"to"`
	At     time.Time    `json:"at"`
	Reason string       `json:"reason,omitempty"`
}

// State is the checkpointed state of one mission.
type State struct {
	MissionID string       `json:"mission_id"`
	Prompt    string       `json:"prompt"`
	AppName   string       `json:"app_name,omitempty"`
	Phase     models.Phase `json:"phase"`
	// RepairOf is the gated phase a repair returns to.
	RepairOf models.Phase `json:"repair_of,omitempty"`
	// RetryCount counts failed attempts at the current phase.
	RetryCount int `json:"retry_count"`
	// Iterations counts repair and retry attempts across the mission.
	Iterations int `json:"iterations"`
	// PendingSignal holds feedback received before the approval wait.
	PendingSignal *Feedback      `json:"pending_signal,omitempty"`
	Manifest      store.Manifest `json:"manifest"`
	Errors        []string       `json:"errors,omitempty"`
	Message       string         `json:"message"`
	StartedAt     time.Time      `json:"started_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	History       []Transition   `json:"history"`

	// LastIssues are the blocking issues the next repair addresses.
	LastIssues []models.Issue `json:"last_issues,omitempty"`
	// Feedback is the error log handed to agents retrying the phase.
	Feedback []string `json:"feedback,omitempty"`
	// Produced is set once the phase's producers have succeeded, so a
	// repair round trip only re-runs verification.
	Produced bool                  `json:"produced"`
	Result   *models.MissionResult `json:"result,omitempty"`
}

// Progress is the answer to the progress query. A repair reports the
// progress of the phase under repair.
func (s *State) Progress() models.Progress {
	phase := s.Phase
	if phase == models.PhaseRepair && s.RepairOf != "" {
		phase = s.RepairOf
	}
	return models.Progress{
		MissionID: s.MissionID,
		Phase:     s.Phase,
		Message:   s.Message,
		Progress:  phase.Progress(),
	}
}

// Status maps the phase onto the mission record's status.
func (s *State) Status() state.MissionStatus {
	switch s.Phase {
	case models.PhaseComplete:
		return state.MissionComplete
	case models.PhaseFailed:
		return state.MissionFailed
	case models.PhaseCancelled:
		return state.MissionCancelled
	default:
		return state.MissionRunning
	}
}

func (s *State) clone() State {
	c := *s
	c.Errors = append([]string(nil), s.Errors...)
	c.History = append([]Transition(nil), s.History...)
	c.LastIssues = append([]models.Issue(nil), s.LastIssues...)
	c.Feedback = append([]string(nil), s.Feedback...)
	c.Manifest.Artifacts = append([]string(nil), s.Manifest.Artifacts...)
	if s.PendingSignal != nil {
		fb := *s.PendingSignal
		fb.Modifications = append([]string(nil), fb.Modifications...)
		c.PendingSignal = &fb
	}
	if s.Result != nil {
		r := *s.Result
		r.Files = append([]models.File(nil), s.Result.Files...)
		r.Errors = append([]string(nil), s.Result.Errors...)
		c.Result = &r
	}
	return c
}
