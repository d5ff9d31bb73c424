// Package store holds the versioned artifacts of one mission run. Every write
// passes the run's contract validator before anything is mutated.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/missionctl/internal/contract"
)

// Artifact is one typed, versioned output of a run.
type Artifact struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedBy string          `json:"created_by"`
	UpdatedBy string          `json:"updated_by"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Metadata describes an artifact without its payload.
type Metadata struct {
	Type      string    `json:"type"`
	CreatedBy string    `json:"created_by"`
	UpdatedBy string    `json:"updated_by"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ManifestStatus reports whether every required artifact exists.
type ManifestStatus string

const (
	ManifestInProgress ManifestStatus = "in-progress"
	ManifestComplete   ManifestStatus = "complete"
)

// Manifest is a snapshot of which artifacts a run holds.
type Manifest struct {
	RunID     string         `json:"run_id"`
	Artifacts []string       `json:"artifacts"`
	Status    ManifestStatus `json:"status"`
}

// Persister writes an artifact version durably. The in-memory copy is only
// replaced after SaveArtifact succeeds.
type Persister interface {
	SaveArtifact(ctx context.Context, runID string, a Artifact) error
}

// Option configures a RunStore.
type Option func(*RunStore)

// WithRequired sets the artifact types a complete run must hold.
func WithRequired(types ...string) Option {
	return func(s *RunStore) {
		s.required = append([]string(nil), types...)
	}
}

// WithPersister attaches durable storage.
func WithPersister(p Persister) Option {
	return func(s *RunStore) {
		s.persister = p
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *RunStore) {
		s.now = now
	}
}

// WithLogger sets the store's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *RunStore) {
		s.log = l
	}
}

// RunStore is the artifact memory for one run. Writes to the same artifact
// type are serialized; different types proceed in parallel.
type RunStore struct {
	runID     string
	validator *contract.Validator
	required  []string
	persister Persister
	now       func() time.Time
	log       zerolog.Logger

	mu        sync.RWMutex
	artifacts map[string]Artifact

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates an empty store for runID governed by validator.
func New(runID string, validator *contract.Validator, opts ...Option) *RunStore {
	s := &RunStore{
		runID:     runID,
		validator: validator,
		now:       time.Now,
		log:       zerolog.Nop(),
		artifacts: make(map[string]Artifact),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunID returns the run this store belongs to.
func (s *RunStore) RunID() string {
	return s.runID
}

func (s *RunStore) typeLock(artifactType string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[artifactType]
	if !ok {
		l = &sync.Mutex{}
		s.locks[artifactType] = l
	}
	return l
}

// Put creates or overwrites the artifact of the given type on behalf of
// agentID. data may be raw JSON bytes or any JSON-marshalable value.
// Ownership and schema are checked first; on any error the previous version
// is left untouched.
func (s *RunStore) Put(ctx context.Context, artifactType string, data any, agentID string) error {
	lock := s.typeLock(artifactType)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	prev, exists := s.artifacts[artifactType]
	s.mu.RUnlock()

	if err := s.validator.EnforceOwnership(agentID, artifactType, exists); err != nil {
		return err
	}

	raw, err := encode(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", artifactType, err)
	}
	if err := s.validator.ValidateArtifact(artifactType, raw); err != nil {
		return err
	}

	now := s.now().UTC()
	next := Artifact{
		Type:      artifactType,
		Data:      raw,
		CreatedBy: agentID,
		UpdatedBy: agentID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if exists {
		next.CreatedBy = prev.CreatedBy
		next.CreatedAt = prev.CreatedAt
		next.Version = prev.Version + 1
	}

	if s.persister != nil {
		if err := s.persister.SaveArtifact(ctx, s.runID, next); err != nil {
			return fmt.Errorf("persist %s v%d: %w", artifactType, next.Version, err)
		}
	}

	s.mu.Lock()
	s.artifacts[artifactType] = next
	s.mu.Unlock()

	s.log.Debug().
		Str("artifact", artifactType).
		Str("agent", agentID).
		Int("version", next.Version).
		Msg("artifact stored")
	return nil
}

func encode(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case json.RawMessage:
		return append(json.RawMessage(nil), v...), nil
	case []byte:
		return append(json.RawMessage(nil), v...), nil
	default:
		return json.Marshal(v)
	}
}

// Get returns the raw payload of an artifact.
func (s *RunStore) Get(artifactType string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[artifactType]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), a.Data...), true
}

// Decode unmarshals an artifact's payload into dst.
func (s *RunStore) Decode(artifactType string, dst any) error {
	raw, ok := s.Get(artifactType)
	if !ok {
		return fmt.Errorf("artifact %q not found", artifactType)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", artifactType, err)
	}
	return nil
}

// Has reports whether the artifact exists.
func (s *RunStore) Has(artifactType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.artifacts[artifactType]
	return ok
}

// GetMetadata returns an artifact's metadata without its payload.
func (s *RunStore) GetMetadata(artifactType string) (Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[artifactType]
	if !ok {
		return Metadata{}, false
	}
	return Metadata{
		Type:      a.Type,
		CreatedBy: a.CreatedBy,
		UpdatedBy: a.UpdatedBy,
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}, true
}

// BuildManifest derives a manifest from the current contents.
func (s *RunStore) BuildManifest() Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]string, 0, len(s.artifacts))
	for t := range s.artifacts {
		types = append(types, t)
	}
	sort.Strings(types)

	status := ManifestComplete
	for _, t := range s.required {
		if _, ok := s.artifacts[t]; !ok {
			status = ManifestInProgress
			break
		}
	}
	return Manifest{RunID: s.runID, Artifacts: types, Status: status}
}

// Artifacts returns a copy of every artifact, sorted by type.
func (s *RunStore) Artifacts() []Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		a.Data = append(json.RawMessage(nil), a.Data...)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Restore loads previously persisted artifacts, replacing anything held for
// the same types. It bypasses contract checks; the artifacts were validated
// when first written.
func (s *RunStore) Restore(artifacts []Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range artifacts {
		a.Data = append(json.RawMessage(nil), a.Data...)
		s.artifacts[a.Type] = a
	}
}
