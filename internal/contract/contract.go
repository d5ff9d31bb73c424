// Package contract holds per-run agent ownership contracts and artifact
// schemas, and enforces both before any artifact write.
package contract

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Level is an agent's right over one artifact type.
type Level string

const (
	// LevelOwner may create and overwrite the artifact.
	LevelOwner Level = "owner"
	// LevelProposeOnly may create the artifact but never overwrite it.
	LevelProposeOnly Level = "propose-only"
	// LevelReadOnly may not write the artifact. Types with no contract entry
	// resolve to this level.
	LevelReadOnly Level = "read-only"
)

// Valid returns true if the level is a known value.
func (l Level) Valid() bool {
	switch l {
	case LevelOwner, LevelProposeOnly, LevelReadOnly:
		return true
	default:
		return false
	}
}

// Ownership grants a level over one artifact type.
type Ownership struct {
	ArtifactType string `yaml:"artifact" json:"artifact"`
	Level        Level  `yaml:"level" json:"level"`
}

// AgentContract declares everything one agent may write.
type AgentContract struct {
	AgentID   string      `yaml:"id" json:"id"`
	Ownership []Ownership `yaml:"ownership" json:"ownership"`
}

// ErrOwnershipViolation matches every OwnershipViolationError via errors.Is.
var ErrOwnershipViolation = errors.New("ownership violation")

// ErrSchemaViolation matches every SchemaViolationError via errors.Is.
var ErrSchemaViolation = errors.New("schema violation")

// OwnershipViolationError is returned when an agent writes without rights.
type OwnershipViolationError struct {
	AgentID      string
	ArtifactType string
	Level        Level
	Overwrite    bool
}

func (e *OwnershipViolationError) Error() string {
	op := "create"
	if e.Overwrite {
		op = "overwrite"
	}
	return fmt.Sprintf("ownership violation: agent %q (%s) may not %s artifact %q",
		e.AgentID, e.Level, op, e.ArtifactType)
}

// Is lets errors.Is(err, ErrOwnershipViolation) match.
func (e *OwnershipViolationError) Is(target error) bool {
	return target == ErrOwnershipViolation
}

// Violation is one structural problem found in an artifact.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// SchemaViolationError lists every violation found in one artifact.
type SchemaViolationError struct {
	ArtifactType string
	Violations   []Violation
}

func (e *SchemaViolationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Path, v.Message))
	}
	return fmt.Sprintf("schema violation in %q: %s", e.ArtifactType, strings.Join(parts, "; "))
}

// Is lets errors.Is(err, ErrSchemaViolation) match.
func (e *SchemaViolationError) Is(target error) bool {
	return target == ErrSchemaViolation
}

// Validator is the per-run ownership and schema authority. It is immutable
// after construction.
type Validator struct {
	levels    map[string]map[string]Level
	contracts []AgentContract
	schemas   map[string]Schema
}

// NewValidator builds a validator from a policy. Unknown levels and
// duplicate entries are rejected.
func NewValidator(p Policy) (*Validator, error) {
	v := &Validator{
		levels:  make(map[string]map[string]Level, len(p.Agents)),
		schemas: make(map[string]Schema, len(p.Schemas)),
	}

	for _, c := range p.Agents {
		if c.AgentID == "" {
			return nil, fmt.Errorf("contract: agent id is required")
		}
		if _, dup := v.levels[c.AgentID]; dup {
			return nil, fmt.Errorf("contract: duplicate contract for agent %q", c.AgentID)
		}
		entries := make(map[string]Level, len(c.Ownership))
		for i, o := range c.Ownership {
			if o.ArtifactType == "" {
				return nil, fmt.Errorf("contract: %s ownership[%d] missing artifact", c.AgentID, i)
			}
			if !o.Level.Valid() {
				return nil, fmt.Errorf("contract: %s ownership[%d] unknown level %q", c.AgentID, i, o.Level)
			}
			if _, dup := entries[o.ArtifactType]; dup {
				return nil, fmt.Errorf("contract: %s lists %q twice", c.AgentID, o.ArtifactType)
			}
			entries[o.ArtifactType] = o.Level
		}
		v.levels[c.AgentID] = entries
		v.contracts = append(v.contracts, AgentContract{
			AgentID:   c.AgentID,
			Ownership: append([]Ownership(nil), c.Ownership...),
		})
	}

	for name, s := range p.Schemas {
		if err := s.check(); err != nil {
			return nil, fmt.Errorf("contract: schema %q: %w", name, err)
		}
		v.schemas[name] = s
	}

	return v, nil
}

// OwnershipLevel returns the agent's level for the artifact type.
func (v *Validator) OwnershipLevel(agentID, artifactType string) Level {
	if level, ok := v.levels[agentID][artifactType]; ok {
		return level
	}
	return LevelReadOnly
}

// HasOwnership reports whether the agent owns the artifact type outright.
func (v *Validator) HasOwnership(agentID, artifactType string) bool {
	return v.OwnershipLevel(agentID, artifactType) == LevelOwner
}

// EnforceOwnership fails when the write is not permitted: any write at
// read-only, and any overwrite without owner rights.
func (v *Validator) EnforceOwnership(agentID, artifactType string, isOverwrite bool) error {
	level := v.OwnershipLevel(agentID, artifactType)
	if level == LevelOwner || (level == LevelProposeOnly && !isOverwrite) {
		return nil
	}
	return &OwnershipViolationError{
		AgentID:      agentID,
		ArtifactType: artifactType,
		Level:        level,
		Overwrite:    isOverwrite,
	}
}

// ValidateArtifact checks raw JSON against the type's schema. Types without
// a schema only need to be valid JSON.
func (v *Validator) ValidateArtifact(artifactType string, data []byte) error {
	var violations []Violation
	if s, ok := v.schemas[artifactType]; ok {
		violations = s.Validate(data)
	} else {
		violations = validJSON(data)
	}
	if len(violations) == 0 {
		return nil
	}
	return &SchemaViolationError{ArtifactType: artifactType, Violations: violations}
}

// Contracts returns a copy of the configured contracts.
func (v *Validator) Contracts() []AgentContract {
	out := make([]AgentContract, len(v.contracts))
	for i, c := range v.contracts {
		out[i] = AgentContract{AgentID: c.AgentID, Ownership: append([]Ownership(nil), c.Ownership...)}
	}
	return out
}

// Writable returns the artifact types the agent may write at all, sorted.
func (v *Validator) Writable(agentID string) []string {
	var types []string
	for t, level := range v.levels[agentID] {
		if level != LevelReadOnly {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types
}
