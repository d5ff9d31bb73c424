package state

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"
)

// Interrupted describes a mission whose process died before it finished.
type Interrupted struct {
	MissionID    string
	Phase        string
	PID          int
	StartedAt    time.Time
	LastActivity time.Time
}

// RecoveryManager finds missions left running by a dead process.
type RecoveryManager struct {
	store MissionStore
	alive func(pid int) bool
}

// NewRecoveryManager creates a RecoveryManager over s.
func NewRecoveryManager(s MissionStore) *RecoveryManager {
	return &RecoveryManager{store: s, alive: isProcessAlive}
}

// FindInterrupted returns running missions whose owning process is gone,
// newest first. A mission owned by the calling process is never reported.
func (rm *RecoveryManager) FindInterrupted(ctx context.Context) ([]Interrupted, error) {
	status := MissionRunning
	missions, err := rm.store.ListMissions(ctx, &status)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}

	self := os.Getpid()
	var out []Interrupted
	for _, m := range missions {
		if m.PID == self || (m.PID > 0 && rm.alive(m.PID)) {
			continue
		}
		out = append(out, Interrupted{
			MissionID:    m.ID,
			Phase:        m.Phase,
			PID:          m.PID,
			StartedAt:    m.CreatedAt,
			LastActivity: m.UpdatedAt,
		})
	}
	return out, nil
}

// Claim marks a mission as owned by the calling process so it can be
// resumed. Terminal missions cannot be claimed.
func (rm *RecoveryManager) Claim(ctx context.Context, missionID string) (*Mission, error) {
	m, err := rm.store.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if m.Status.Terminal() {
		return nil, fmt.Errorf("mission %s already %s", missionID, m.Status)
	}
	if m.PID > 0 && m.PID != os.Getpid() && rm.alive(m.PID) {
		return nil, fmt.Errorf("mission %s is still running in process %d", missionID, m.PID)
	}
	m.PID = os.Getpid()
	m.UpdatedAt = time.Now()
	if err := rm.store.UpdateMission(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
