package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/missionctl/internal/store"
)

// Memory is a process-local backend. Nothing survives the process.
type Memory struct {
	mu          sync.RWMutex
	missions    map[string]Mission
	checkpoints map[string][]Checkpoint
	artifacts   map[string]map[string]store.Artifact
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		missions:    make(map[string]Mission),
		checkpoints: make(map[string][]Checkpoint),
		artifacts:   make(map[string]map[string]store.Artifact),
	}
}

func (m *Memory) Close() error { return nil }
func (m *Memory) Migrate(_ context.Context) error { return nil }

func (m *Memory) CreateMission(_ context.Context, mission *Mission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.missions[mission.ID]; exists {
		return fmt.Errorf("create mission: %s already exists", mission.ID)
	}
	m.missions[mission.ID] = copyMission(*mission)
	return nil
}

func (m *Memory) GetMission(_ context.Context, id string) (*Mission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mission, ok := m.missions[id]
	if !ok {
		return nil, fmt.Errorf("mission %s: %w", id, ErrNotFound)
	}
	out := copyMission(mission)
	return &out, nil
}

func (m *Memory) UpdateMission(_ context.Context, mission *Mission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.missions[mission.ID]
	if !ok {
		return fmt.Errorf("mission %s: %w", mission.ID, ErrNotFound)
	}
	existing.Status = mission.Status
	existing.Phase = mission.Phase
	existing.Message = mission.Message
	existing.Progress = mission.Progress
	existing.PID = mission.PID
	existing.UpdatedAt = mission.UpdatedAt
	m.missions[mission.ID] = existing
	return nil
}

func (m *Memory) ListMissions(_ context.Context, status *MissionStatus) ([]Mission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Mission
	for _, mission := range m.missions {
		if status != nil && mission.Status != *status {
			continue
		}
		out = append(out, copyMission(mission))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SaveCheckpoint(_ context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp.Seq = len(m.checkpoints[cp.MissionID]) + 1
	saved := *cp
	saved.Data = append(json.RawMessage(nil), cp.Data...)
	m.checkpoints[cp.MissionID] = append(m.checkpoints[cp.MissionID], saved)
	return nil
}

func (m *Memory) LastCheckpoint(_ context.Context, missionID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cps := m.checkpoints[missionID]
	if len(cps) == 0 {
		return nil, fmt.Errorf("checkpoint for %s: %w", missionID, ErrNotFound)
	}
	cp := cps[len(cps)-1]
	cp.Data = append(json.RawMessage(nil), cp.Data...)
	return &cp, nil
}

func (m *Memory) SaveArtifact(_ context.Context, runID string, a store.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.artifacts[runID] == nil {
		m.artifacts[runID] = make(map[string]store.Artifact)
	}
	a.Data = append(json.RawMessage(nil), a.Data...)
	m.artifacts[runID][a.Type] = a
	return nil
}

func (m *Memory) LoadArtifacts(_ context.Context, runID string) ([]store.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]store.Artifact, 0, len(m.artifacts[runID]))
	for _, a := range m.artifacts[runID] {
		a.Data = append(json.RawMessage(nil), a.Data...)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func copyMission(m Mission) Mission {
	m.Input = append(json.RawMessage(nil), m.Input...)
	return m
}
