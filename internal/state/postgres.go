package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/ShayCichocki/missionctl/internal/store"
)

// Postgres is the bun-backed Postgres backend for shared deployments.
type Postgres struct {
	db *bun.DB
}

type missionRow struct {
	bun.BaseModel `bun:"table:missions"`

	ID        string    `bun:"id,pk"`
	Prompt    string    `bun:"prompt,notnull"`
	Input     string    `bun:"input"`
	Status    string    `bun:"status,notnull"`
	Phase     string    `bun:"phase,notnull"`
	Message   string    `bun:"message,notnull"`
	Progress  int       `bun:"progress,notnull"`
	PID       int       `bun:"pid,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type checkpointRow struct {
	bun.BaseModel `bun:"table:checkpoints"`

	MissionID string    `bun:"mission_id,pk"`
	Seq       int       `bun:"seq,pk"`
	Phase     string    `bun:"phase,notnull"`
	Data      string    `bun:"data,type:jsonb,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type artifactRow struct {
	bun.BaseModel `bun:"table:artifacts"`

	MissionID string    `bun:"mission_id,pk"`
	Type      string    `bun:"type,pk"`
	Data      string    `bun:"data,type:jsonb,notnull"`
	CreatedBy string    `bun:"created_by,notnull"`
	UpdatedBy string    `bun:"updated_by,notnull"`
	Version   int       `bun:"version,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// OpenPostgres connects to the database at dsn.
func OpenPostgres(dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return &Postgres{db: bun.NewDB(sqldb, pgdialect.New())}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	models := []any{(*missionRow)(nil), (*checkpointRow)(nil), (*artifactRow)(nil)}
	for _, model := range models {
		if _, err := p.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	_, err := p.db.NewCreateIndex().
		Model((*missionRow)(nil)).
		Index("idx_missions_status").
		IfNotExists().
		Column("status").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

func toMissionRow(m *Mission) *missionRow {
	return &missionRow{
		ID: m.ID, Prompt: m.Prompt, Input: string(m.Input), Status: string(m.Status),
		Phase: m.Phase, Message: m.Message, Progress: m.Progress, PID: m.PID,
		CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func (r *missionRow) mission() Mission {
	m := Mission{
		ID: r.ID, Prompt: r.Prompt, Status: MissionStatus(r.Status),
		Phase: r.Phase, Message: r.Message, Progress: r.Progress, PID: r.PID,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.Input != "" {
		m.Input = json.RawMessage(r.Input)
	}
	return m
}

func (p *Postgres) CreateMission(ctx context.Context, m *Mission) error {
	if _, err := p.db.NewInsert().Model(toMissionRow(m)).Exec(ctx); err != nil {
		return fmt.Errorf("create mission: %w", err)
	}
	return nil
}

func (p *Postgres) GetMission(ctx context.Context, id string) (*Mission, error) {
	var row missionRow
	err := p.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get mission: %w", err)
	}
	m := row.mission()
	return &m, nil
}

func (p *Postgres) UpdateMission(ctx context.Context, m *Mission) error {
	result, err := p.db.NewUpdate().
		Model(toMissionRow(m)).
		Column("status", "phase", "message", "progress", "pid", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update mission: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("mission %s: %w", m.ID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) ListMissions(ctx context.Context, status *MissionStatus) ([]Mission, error) {
	var rows []missionRow
	q := p.db.NewSelect().Model(&rows).Order("created_at DESC")
	if status != nil {
		q = q.Where("status = ?", string(*status))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	out := make([]Mission, len(rows))
	for i := range rows {
		out[i] = rows[i].mission()
	}
	return out, nil
}

func (p *Postgres) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	return p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var seq int
		err := tx.NewSelect().
			Model((*checkpointRow)(nil)).
			ColumnExpr("COALESCE(MAX(seq), 0) + 1").
			Where("mission_id = ?", cp.MissionID).
			Scan(ctx, &seq)
		if err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		row := &checkpointRow{
			MissionID: cp.MissionID, Seq: seq, Phase: cp.Phase,
			Data: string(cp.Data), CreatedAt: cp.CreatedAt.UTC(),
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		cp.Seq = seq
		return nil
	})
}

func (p *Postgres) LastCheckpoint(ctx context.Context, missionID string) (*Checkpoint, error) {
	var row checkpointRow
	err := p.db.NewSelect().
		Model(&row).
		Where("mission_id = ?", missionID).
		Order("seq DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint for %s: %w", missionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("last checkpoint: %w", err)
	}
	return &Checkpoint{
		MissionID: row.MissionID, Seq: row.Seq, Phase: row.Phase,
		Data: json.RawMessage(row.Data), CreatedAt: row.CreatedAt,
	}, nil
}

func (p *Postgres) SaveArtifact(ctx context.Context, runID string, a store.Artifact) error {
	row := &artifactRow{
		MissionID: runID, Type: a.Type, Data: string(a.Data),
		CreatedBy: a.CreatedBy, UpdatedBy: a.UpdatedBy, Version: a.Version,
		CreatedAt: a.CreatedAt.UTC(), UpdatedAt: a.UpdatedAt.UTC(),
	}
	_, err := p.db.NewInsert().
		Model(row).
		On("CONFLICT (mission_id, type) DO UPDATE").
		Set("data = EXCLUDED.data").
		Set("updated_by = EXCLUDED.updated_by").
		Set("version = EXCLUDED.version").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save artifact %s: %w", a.Type, err)
	}
	return nil
}

func (p *Postgres) LoadArtifacts(ctx context.Context, runID string) ([]store.Artifact, error) {
	var rows []artifactRow
	err := p.db.NewSelect().Model(&rows).Where("mission_id = ?", runID).Order("type").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}
	out := make([]store.Artifact, len(rows))
	for i, r := range rows {
		out[i] = store.Artifact{
			Type: r.Type, Data: json.RawMessage(r.Data),
			CreatedBy: r.CreatedBy, UpdatedBy: r.UpdatedBy, Version: r.Version,
			CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		}
	}
	return out, nil
}
