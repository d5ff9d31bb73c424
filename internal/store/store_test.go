package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ShayCichocki/missionctl/internal/contract"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

func newTestStore(t *testing.T, opts ...Option) *RunStore {
	t.Helper()
	v, err := contract.Load("")
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	return New("run-1", v, opts...)
}

type failingPersister struct {
	mu    sync.Mutex
	fail  bool
	saved []Artifact
}

func (p *failingPersister) SaveArtifact(_ context.Context, _ string, a Artifact) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("disk full")
	}
	p.saved = append(p.saved, a)
	return nil
}

func TestPutGet_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := models.Requirements{
		Summary:     "todo app",
		Features:    []string{"add item", "list items"},
		Constraints: []string{"no auth"},
	}
	if err := s.Put(ctx, models.ArtifactRequirements, req, "analyst"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var got models.Requirements
	if err := s.Decode(models.ArtifactRequirements, &got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(req, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	raw := json.RawMessage(`{"prompt":"Build a todo app"}`)
	if err := s.Put(ctx, models.ArtifactRequest, raw, "intake"); err != nil {
		t.Fatalf("Put raw failed: %v", err)
	}
	gotRaw, ok := s.Get(models.ArtifactRequest)
	if !ok || string(gotRaw) != string(raw) {
		t.Errorf("Get() = %s, %v; want %s", gotRaw, ok, raw)
	}
}

func TestPut_VersionIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		plan := models.Plan{Tasks: []models.PlanTask{{ID: "t1", Title: "step", Area: "shared"}}}
		if err := s.Put(ctx, models.ArtifactPlan, plan, "planner"); err != nil {
			t.Fatalf("Put #%d failed: %v", i, err)
		}
		meta, ok := s.GetMetadata(models.ArtifactPlan)
		if !ok {
			t.Fatal("metadata missing")
		}
		if meta.Version != i {
			t.Errorf("after put #%d version = %d, want %d", i, meta.Version, i)
		}
	}
}

func TestGetMetadata_OmitsPayload(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(context.Background(), models.ArtifactRequest, models.Request{Prompt: "secret payload"}, "intake"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	meta, ok := s.GetMetadata(models.ArtifactRequest)
	if !ok {
		t.Fatal("metadata missing")
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal metadata: %v", err)
	}
	if strings.Contains(string(encoded), "secret payload") || strings.Contains(string(encoded), `"data"`) {
		t.Errorf("metadata leaks payload: %s", encoded)
	}
	if meta.CreatedBy != "intake" || meta.Version != 1 {
		t.Errorf("metadata = %+v", meta)
	}

	if _, ok := s.GetMetadata(models.ArtifactPlan); ok {
		t.Error("metadata for missing artifact should not exist")
	}
}

func TestPut_ReadOnlyAgentAlwaysFails(t *testing.T) {
	s := newTestStore(t)
	err := s.Put(context.Background(), models.ArtifactPlan, models.Plan{}, "frontend")
	if !errors.Is(err, contract.ErrOwnershipViolation) {
		t.Fatalf("Put() error = %v, want ownership violation", err)
	}
	if s.Has(models.ArtifactPlan) {
		t.Error("rejected write was stored")
	}
}

func TestPut_ProposeOnlyCreatesButCannotOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	plan := models.Plan{Tasks: []models.PlanTask{{ID: "t1", Title: "draft", Area: "frontend"}}}

	if err := s.Put(ctx, models.ArtifactPlan, plan, "analyst"); err != nil {
		t.Fatalf("propose-only create failed: %v", err)
	}
	err := s.Put(ctx, models.ArtifactPlan, plan, "analyst")
	if !errors.Is(err, contract.ErrOwnershipViolation) {
		t.Fatalf("propose-only overwrite error = %v, want ownership violation", err)
	}

	// The owner may still overwrite the proposal.
	if err := s.Put(ctx, models.ArtifactPlan, plan, "planner"); err != nil {
		t.Fatalf("owner overwrite failed: %v", err)
	}
	meta, _ := s.GetMetadata(models.ArtifactPlan)
	if meta.Version != 2 || meta.CreatedBy != "analyst" || meta.UpdatedBy != "planner" {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestPut_SchemaViolationLeavesPreviousVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	good := models.Requirements{Summary: "v1", Features: []string{"a"}}
	if err := s.Put(ctx, models.ArtifactRequirements, good, "analyst"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	err := s.Put(ctx, models.ArtifactRequirements, json.RawMessage(`{"summary":""}`), "analyst")
	var sv *contract.SchemaViolationError
	if !errors.As(err, &sv) {
		t.Fatalf("Put() error = %v, want schema violation", err)
	}
	if len(sv.Violations) != 2 {
		t.Errorf("violations = %v, want 2", sv.Violations)
	}

	var got models.Requirements
	if err := s.Decode(models.ArtifactRequirements, &got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Summary != "v1" {
		t.Errorf("summary = %q, previous version lost", got.Summary)
	}
}

func TestPut_PersistFailureIsAtomic(t *testing.T) {
	p := &failingPersister{}
	s := newTestStore(t, WithPersister(p))
	ctx := context.Background()

	if err := s.Put(ctx, models.ArtifactRequest, models.Request{Prompt: "first"}, "intake"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	p.fail = true
	if err := s.Put(ctx, models.ArtifactRequest, models.Request{Prompt: "second"}, "intake"); err == nil {
		t.Fatal("expected persist error")
	}

	var got models.Request
	if err := s.Decode(models.ArtifactRequest, &got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Prompt != "first" {
		t.Errorf("prompt = %q, want first", got.Prompt)
	}
	if meta, _ := s.GetMetadata(models.ArtifactRequest); meta.Version != 1 {
		t.Errorf("version = %d, want 1", meta.Version)
	}
	if len(p.saved) != 1 {
		t.Errorf("persisted %d versions, want 1", len(p.saved))
	}
}

func TestBuildManifest(t *testing.T) {
	s := newTestStore(t, WithRequired(models.ArtifactRequest, models.ArtifactRequirements))
	ctx := context.Background()

	m := s.BuildManifest()
	if m.Status != ManifestInProgress || len(m.Artifacts) != 0 || m.RunID != "run-1" {
		t.Errorf("empty manifest = %+v", m)
	}

	if err := s.Put(ctx, models.ArtifactRequirements, models.Requirements{Summary: "s", Features: []string{"f"}}, "analyst"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, models.ArtifactRequest, models.Request{Prompt: "p"}, "intake"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	m = s.BuildManifest()
	want := Manifest{
		RunID:     "run-1",
		Artifacts: []string{models.ArtifactRequest, models.ArtifactRequirements},
		Status:    ManifestComplete,
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}
}

func TestRestore(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return fixed }))

	s.Restore([]Artifact{{
		Type:      models.ArtifactRequest,
		Data:      json.RawMessage(`{"prompt":"restored"}`),
		CreatedBy: "intake",
		UpdatedBy: "intake",
		Version:   4,
		CreatedAt: fixed,
		UpdatedAt: fixed,
	}})

	if err := s.Put(context.Background(), models.ArtifactRequest, models.Request{Prompt: "next"}, "intake"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	meta, _ := s.GetMetadata(models.ArtifactRequest)
	if meta.Version != 5 {
		t.Errorf("version after restore = %d, want 5", meta.Version)
	}
	if got := len(s.Artifacts()); got != 1 {
		t.Errorf("len(Artifacts()) = %d, want 1", got)
	}
}

func TestPut_ConcurrentWritersSameType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bundle := models.CodeBundle{Files: []models.File{{Path: "main.go", Content: "package main"}}}
			if err := s.Put(ctx, models.ArtifactBackendCode, bundle, "backend"); err != nil {
				t.Errorf("Put failed: %v", err)
			}
		}()
	}
	wg.Wait()

	meta, _ := s.GetMetadata(models.ArtifactBackendCode)
	if meta.Version != 20 {
		t.Errorf("version = %d, want 20", meta.Version)
	}
}
