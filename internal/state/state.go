// Package state persists missions, their checkpoints, and their artifacts so
// a run survives the process that started it. SQLite is the default backend;
// Postgres (via bun) and an in-memory store are also available.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/ShayCichocki/missionctl/internal/store"
)

// ErrNotFound is returned when a mission or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// MissionStatus is the persisted lifecycle status of a mission.
type MissionStatus string

const (
	MissionRunning   MissionStatus = "running"
	MissionComplete  MissionStatus = "complete"
	MissionFailed    MissionStatus = "failed"
	MissionCancelled MissionStatus = "cancelled"
)

// Terminal returns true once the mission can no longer make progress.
func (s MissionStatus) Terminal() bool {
	return s == MissionComplete || s == MissionFailed || s == MissionCancelled
}

// Mission is the persisted record of one mission run. Phase, Message and
// Progress mirror the latest checkpoint so other processes can report status
// without decoding it.
type Mission struct {
	ID        string          `json:"id"`
	Prompt    string          `json:"prompt"`
	Input     json.RawMessage `json:"input"`
	Status    MissionStatus   `json:"status"`
	Phase     string          `json:"phase"`
	Message   string          `json:"message"`
	Progress  int             `json:"progress"`
	PID       int             `json:"pid"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Checkpoint is one committed snapshot of workflow state. Seq increases by
// one per checkpoint within a mission.
type Checkpoint struct {
	MissionID string          `json:"mission_id"`
	Seq       int             `json:"seq"`
	Phase     string          `json:"phase"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// MissionStore handles mission records.
type MissionStore interface {
	CreateMission(ctx context.Context, m *Mission) error
	GetMission(ctx context.Context, id string) (*Mission, error)
	UpdateMission(ctx context.Context, m *Mission) error
	// ListMissions returns missions newest first, optionally filtered by status.
	ListMissions(ctx context.Context, status *MissionStatus) ([]Mission, error)
}

// CheckpointStore handles workflow checkpoints.
type CheckpointStore interface {
	// SaveCheckpoint assigns the next Seq and stores the checkpoint.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	LastCheckpoint(ctx context.Context, missionID string) (*Checkpoint, error)
}

// ArtifactStore handles run artifacts. It satisfies store.Persister.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, runID string, a store.Artifact) error
	LoadArtifacts(ctx context.Context, runID string) ([]store.Artifact, error)
}

// Migrator handles schema migrations.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Store is everything the engine needs from a persistence backend.
type Store interface {
	io.Closer
	Migrator
	MissionStore
	CheckpointStore
	ArtifactStore
}

var (
	_ Store           = (*DB)(nil)
	_ Store           = (*Postgres)(nil)
	_ Store           = (*Memory)(nil)
	_ store.Persister = (*DB)(nil)
	_ store.Persister = (*Postgres)(nil)
	_ store.Persister = (*Memory)(nil)
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Open opens and migrates the backend named by driver. path is used by
// sqlite and dsn by postgres.
func Open(ctx context.Context, driver, path, dsn string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "", DriverSQLite:
		s, err = OpenSQLite(path)
	case DriverPostgres:
		s, err = OpenPostgres(dsn)
	case DriverMemory:
		s = NewMemory()
	default:
		return nil, errors.New("unknown store driver " + driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
