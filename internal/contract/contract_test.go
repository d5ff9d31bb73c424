package contract

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := Load("")
	if err != nil {
		t.Fatalf("Load default policy failed: %v", err)
	}
	return v
}

func TestDefaultPolicy_Loads(t *testing.T) {
	v := testValidator(t)

	if got := len(v.Contracts()); got != 11 {
		t.Errorf("len(Contracts()) = %d, want 11", got)
	}
	want := []string{"backend_code", "frontend_code"}
	if diff := cmp.Diff(want, v.Writable("repairer")); diff != "" {
		t.Errorf("Writable(repairer) mismatch (-want +got):\n%s", diff)
	}
}

func TestOwnershipLevel(t *testing.T) {
	v := testValidator(t)

	tests := []struct {
		agent    string
		artifact string
		want     Level
	}{
		{"architect", "architecture", LevelOwner},
		{"planner", "architecture", LevelProposeOnly},
		{"frontend", "architecture", LevelReadOnly},
		{"unknown", "plan", LevelReadOnly},
	}
	for _, tt := range tests {
		t.Run(tt.agent+"/"+tt.artifact, func(t *testing.T) {
			if got := v.OwnershipLevel(tt.agent, tt.artifact); got != tt.want {
				t.Errorf("OwnershipLevel(%q, %q) = %q, want %q", tt.agent, tt.artifact, got, tt.want)
			}
		})
	}

	if !v.HasOwnership("qa", "backend_check") {
		t.Error("qa should own backend_check")
	}
	if v.HasOwnership("analyst", "plan") {
		t.Error("propose-only is not ownership")
	}
}

func TestEnforceOwnership(t *testing.T) {
	v := testValidator(t)

	tests := []struct {
		name      string
		agent     string
		artifact  string
		overwrite bool
		wantErr   bool
	}{
		{"owner creates", "planner", "plan", false, false},
		{"owner overwrites", "planner", "plan", true, false},
		{"propose-only creates", "analyst", "plan", false, false},
		{"propose-only overwrite rejected", "analyst", "plan", true, true},
		{"read-only create rejected", "frontend", "plan", false, true},
		{"read-only overwrite rejected", "frontend", "plan", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.EnforceOwnership(tt.agent, tt.artifact, tt.overwrite)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EnforceOwnership() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, ErrOwnershipViolation) {
				t.Errorf("error %v does not match ErrOwnershipViolation", err)
			}
			var ov *OwnershipViolationError
			if !errors.As(err, &ov) {
				t.Fatalf("error %T is not *OwnershipViolationError", err)
			}
			if ov.AgentID != tt.agent || ov.Overwrite != tt.overwrite {
				t.Errorf("violation = %+v", ov)
			}
		})
	}
}

func TestValidateArtifact_CollectsEveryViolation(t *testing.T) {
	v := testValidator(t)

	data := []byte(`{"tasks":[{"id":"t1","title":"API","area":"backend"},{"id":"","area":"mobile"}]}`)
	err := v.ValidateArtifact("plan", data)

	var sv *SchemaViolationError
	if !errors.As(err, &sv) {
		t.Fatalf("ValidateArtifact() error = %v, want *SchemaViolationError", err)
	}
	if !errors.Is(err, ErrSchemaViolation) {
		t.Error("error does not match ErrSchemaViolation")
	}

	want := []Violation{
		{Path: "tasks.1.id", Message: "must not be empty"},
		{Path: "tasks.1.title", Message: "is required"},
		{Path: "tasks.1.area", Message: "must be one of frontend, backend, shared"},
	}
	if diff := cmp.Diff(want, sv.Violations); diff != "" {
		t.Errorf("violations mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateArtifact(t *testing.T) {
	v := testValidator(t)

	tests := []struct {
		name     string
		artifact string
		data     string
		wantErr  bool
	}{
		{"valid requirements", "requirements", `{"summary":"todo app","features":["add","list"]}`, false},
		{"empty features", "requirements", `{"summary":"todo app","features":[]}`, true},
		{"non-string feature", "requirements", `{"summary":"todo app","features":[1]}`, true},
		{"wrong root type", "requirements", `["summary"]`, true},
		{"invalid json", "plan", `{"tasks":`, true},
		{"valid check", "review_report", `{"status":"passed","checks":[{"name":"style","status":"warning","issues":[{"severity":"low","message":"long line"}]}]}`, false},
		{"bad severity", "review_report", `{"status":"failed","checks":[{"name":"style","status":"failed","issues":[{"severity":"urgent","message":"x"}]}]}`, true},
		{"null issues allowed", "security_report", `{"status":"passed","checks":[{"name":"deps","status":"passed","issues":null}]}`, false},
		{"unknown type needs json only", "notes", `{"anything":true}`, false},
		{"unknown type invalid json", "notes", `nope`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateArtifact(tt.artifact, []byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArtifact(%q) error = %v, wantErr %v", tt.artifact, err, tt.wantErr)
			}
		})
	}
}

func TestNewValidator_RejectsBadPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
	}{
		{"missing id", Policy{Agents: []AgentContract{{}}}},
		{"duplicate agent", Policy{Agents: []AgentContract{{AgentID: "a"}, {AgentID: "a"}}}},
		{"unknown level", Policy{Agents: []AgentContract{{AgentID: "a", Ownership: []Ownership{{ArtifactType: "plan", Level: "admin"}}}}}},
		{"duplicate artifact", Policy{Agents: []AgentContract{{AgentID: "a", Ownership: []Ownership{
			{ArtifactType: "plan", Level: LevelOwner},
			{ArtifactType: "plan", Level: LevelReadOnly},
		}}}}},
		{"bad schema type", Policy{Schemas: map[string]Schema{"plan": {Fields: []Field{{Path: "x", Type: "date"}}}}}},
		{"item rules on scalar", Policy{Schemas: map[string]Schema{"plan": {Fields: []Field{{Path: "x", Type: TypeString, MinItems: 1}}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewValidator(tt.policy); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidators_AreIndependent(t *testing.T) {
	a := testValidator(t)
	b, err := NewValidator(Policy{Agents: []AgentContract{{
		AgentID:   "frontend",
		Ownership: []Ownership{{ArtifactType: "plan", Level: LevelOwner}},
	}}})
	if err != nil {
		t.Fatalf("NewValidator failed: %v", err)
	}

	if a.HasOwnership("frontend", "plan") {
		t.Error("default validator picked up another run's contract")
	}
	if !b.HasOwnership("frontend", "plan") {
		t.Error("custom validator lost its contract")
	}
}

func TestLoadPolicy_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `agents:
  - id: writer
    ownership:
      - {artifact: notes, level: owner}
schemas:
  notes:
    fields:
      - {path: body, type: string, required: true}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !v.HasOwnership("writer", "notes") {
		t.Error("writer should own notes")
	}
	if err := v.ValidateArtifact("notes", []byte(`{}`)); err == nil {
		t.Error("expected schema violation for missing body")
	}
}

func TestParsePolicy_UnknownKey(t *testing.T) {
	if _, err := ParsePolicy([]byte("agentz: []\n")); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
