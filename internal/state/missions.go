package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ShayCichocki/missionctl/internal/store"
)

const missionColumns = `id, prompt, input, status, phase, message, progress, pid, created_at, updated_at`

// CreateMission inserts a new mission record.
func (db *DB) CreateMission(ctx context.Context, m *Mission) error {
	_, err := db.Exec(ctx, `
		INSERT INTO missions (`+missionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Prompt, nullableJSON(m.Input), string(m.Status), m.Phase, m.Message, m.Progress, m.PID,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create mission: %w", err)
	}
	return nil
}

// GetMission retrieves a mission by ID.
func (db *DB) GetMission(ctx context.Context, id string) (*Mission, error) {
	row := db.QueryRow(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = ?`, id)
	m, err := scanMission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get mission: %w", err)
	}
	return m, nil
}

// UpdateMission updates the mutable fields of a mission.
func (db *DB) UpdateMission(ctx context.Context, m *Mission) error {
	result, err := db.Exec(ctx, `
		UPDATE missions SET status = ?, phase = ?, message = ?, progress = ?, pid = ?, updated_at = ?
		WHERE id = ?
	`, string(m.Status), m.Phase, m.Message, m.Progress, m.PID, formatTime(m.UpdatedAt), m.ID)
	if err != nil {
		return fmt.Errorf("update mission: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("mission %s: %w", m.ID, ErrNotFound)
	}
	return nil
}

// ListMissions lists missions newest first, optionally filtered by status.
func (db *DB) ListMissions(ctx context.Context, status *MissionStatus) ([]Mission, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.Query(ctx, `
			SELECT `+missionColumns+` FROM missions WHERE status = ? ORDER BY created_at DESC
		`, string(*status))
	} else {
		rows, err = db.Query(ctx, `
			SELECT `+missionColumns+` FROM missions ORDER BY created_at DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var missions []Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		missions = append(missions, *m)
	}
	return missions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMission(row scanner) (*Mission, error) {
	var m Mission
	var input sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&m.ID, &m.Prompt, &input, &m.Status, &m.Phase, &m.Message, &m.Progress, &m.PID,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if input.Valid {
		m.Input = []byte(input.String)
	}
	m.CreatedAt, _ = parseTime(createdAt)
	m.UpdatedAt, _ = parseTime(updatedAt)
	return &m, nil
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

// SaveCheckpoint stores cp with the next sequence number for its mission
// and sets cp.Seq.
func (db *DB) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		var seq int
		row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE mission_id = ?`, cp.MissionID)
		if err := row.Scan(&seq); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (mission_id, seq, phase, data, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, cp.MissionID, seq, cp.Phase, string(cp.Data), formatTime(cp.CreatedAt))
		if err != nil {
			return err
		}
		cp.Seq = seq
		return nil
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LastCheckpoint returns the newest checkpoint for a mission.
func (db *DB) LastCheckpoint(ctx context.Context, missionID string) (*Checkpoint, error) {
	row := db.QueryRow(ctx, `
		SELECT mission_id, seq, phase, data, created_at FROM checkpoints
		WHERE mission_id = ? ORDER BY seq DESC LIMIT 1
	`, missionID)

	var cp Checkpoint
	var data, createdAt string
	err := row.Scan(&cp.MissionID, &cp.Seq, &cp.Phase, &data, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint for %s: %w", missionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("last checkpoint: %w", err)
	}
	cp.Data = []byte(data)
	cp.CreatedAt, _ = parseTime(createdAt)
	return &cp, nil
}

// SaveArtifact upserts the current version of an artifact.
func (db *DB) SaveArtifact(ctx context.Context, runID string, a store.Artifact) error {
	_, err := db.Exec(ctx, `
		INSERT INTO artifacts (mission_id, type, data, created_by, updated_by, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (mission_id, type) DO UPDATE SET
			data = excluded.data,
			updated_by = excluded.updated_by,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, runID, a.Type, string(a.Data), a.CreatedBy, a.UpdatedBy, a.Version,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save artifact %s: %w", a.Type, err)
	}
	return nil
}

// LoadArtifacts returns every stored artifact for a run, sorted by type.
func (db *DB) LoadArtifacts(ctx context.Context, runID string) ([]store.Artifact, error) {
	rows, err := db.Query(ctx, `
		SELECT type, data, created_by, updated_by, version, created_at, updated_at
		FROM artifacts WHERE mission_id = ? ORDER BY type
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}
	defer rows.Close()

	var out []store.Artifact
	for rows.Next() {
		var a store.Artifact
		var data, createdAt, updatedAt string
		if err := rows.Scan(&a.Type, &data, &a.CreatedBy, &a.UpdatedBy, &a.Version, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Data = []byte(data)
		a.CreatedAt, _ = parseTime(createdAt)
		a.UpdatedAt, _ = parseTime(updatedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
