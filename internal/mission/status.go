package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ShayCichocki/missionctl/internal/state"
)

// Report is what is known about a mission from durable storage alone, so
// any process can answer it.
type Report struct {
	Mission *state.Mission `json:"mission"`
	// State is nil when the mission never checkpointed.
	State *State `json:"state,omitempty"`
}

// LoadReport reads the mission record and its last checkpointed state.
func LoadReport(ctx context.Context, s state.Store, missionID string) (*Report, error) {
	m, err := s.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	rep := &Report{Mission: m}

	cp, err := s.LastCheckpoint(ctx, missionID)
	if errors.Is(err, state.ErrNotFound) {
		return rep, nil
	}
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(cp.Data, &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint %d: %w", cp.Seq, err)
	}
	rep.State = &st
	return rep, nil
}
