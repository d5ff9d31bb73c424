package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/ShayCichocki/missionctl/internal/agent"
	"github.com/ShayCichocki/missionctl/internal/engine"
	"github.com/ShayCichocki/missionctl/internal/gate"
	"github.com/ShayCichocki/missionctl/internal/llm"
	"github.com/ShayCichocki/missionctl/internal/runtime"
	"github.com/ShayCichocki/missionctl/internal/sandbox"
	"github.com/ShayCichocki/missionctl/internal/state"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

// Markers matched against agent system prompts.
const (
	markAnalyst   = "requirements analyst"
	markPlanner   = "technical planner"
	markArchitect = "software architect"
	markFrontend  = "frontend engineer"
	markBackend   = "backend engineer"
	markReviewer  = "senior code reviewer"
	markSecurity  = "security auditor"
	markRepairer  = "repair engineer"
)

const (
	requirementsJSON = `{"summary":"A todo list app","features":["add todos","complete todos"],"constraints":[]}`
	planJSON         = `{"tasks":[{"id":"t1","title":"Todo page","area":"frontend"},{"id":"t2","title":"Todo API","area":"backend"}]}`
	architectureJSON = `{"frontend":{"framework":"react","pages":["todos"]},"backend":{"framework":"express","endpoints":[{"method":"get","path":"/todos","description":"list"}]},"data_model":["Todo"]}`
	frontendJSON     = `{"files":[{"path":"index.html","content":"<ul id=\"todos\"></ul>\n"}]}`
	backendJSON      = `{"files":[{"path":"server.js","content":"const app = require('express')();\napp.listen(3000);\n"}]}`
	passedJSON       = `{"status":"passed","checks":[{"name":"audit","status":"passed","issues":[]}],"summary":"clean"}`
	lowIssueJSON     = `{"status":"warning","checks":[{"name":"style","status":"warning","issues":[{"severity":"low","message":"inconsistent naming","file":"server.js"}]}],"summary":"minor"}`
	criticalJSON     = `{"status":"failed","checks":[{"name":"injection","status":"failed","issues":[{"severity":"critical","message":"SQL injection in query","file":"server.js"}]}],"summary":"unsafe"}`
	patchedJSON      = `{"files":[{"path":"server.js","content":"const app = require('express')();\napp.listen(3000); // parameterized\n"}]}`
)

// scriptedLLM answers by system-prompt marker. Each marker has a sequence of
// answers; the last one repeats.
type scriptedLLM struct {
	mu      sync.Mutex
	answers map[string][]string
	errs    map[string]error
	calls   map[string]int
	// block holds calls for a marker until the channel is closed.
	block map[string]chan struct{}
	// entered is signalled when a blocked call starts waiting.
	entered chan string
}

func newScriptedLLM(answers map[string][]string) *scriptedLLM {
	return &scriptedLLM{
		answers: answers,
		errs:    make(map[string]error),
		calls:   make(map[string]int),
		block:   make(map[string]chan struct{}),
		entered: make(chan string, 16),
	}
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) PromptText(ctx context.Context, system, _ string) (string, error) {
	s.mu.Lock()
	marker := ""
	for m := range s.answers {
		if strings.Contains(system, m) {
			marker = m
			break
		}
	}
	if marker == "" {
		for m := range s.errs {
			if strings.Contains(system, m) {
				marker = m
				break
			}
		}
	}
	if marker == "" {
		s.mu.Unlock()
		return "", errors.New("no scripted answer")
	}
	n := s.calls[marker]
	s.calls[marker]++
	err := s.errs[marker]
	release := s.block[marker]
	var answer string
	if seq := s.answers[marker]; len(seq) > 0 {
		if n >= len(seq) {
			n = len(seq) - 1
		}
		answer = seq[n]
	}
	s.mu.Unlock()

	if release != nil {
		s.entered <- marker
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return answer, nil
}

func (s *scriptedLLM) count(marker string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[marker]
}

func todoAnswers() map[string][]string {
	return map[string][]string{
		markAnalyst:   {requirementsJSON},
		markPlanner:   {planJSON},
		markArchitect: {architectureJSON},
		markFrontend:  {frontendJSON},
		markBackend:   {backendJSON},
		markReviewer:  {lowIssueJSON},
		markSecurity:  {passedJSON},
		markRepairer:  {patchedJSON},
	}
}

// recorder counts observer events.
type recorder struct {
	NopObserver
	mu       sync.Mutex
	repairs  []models.Phase
	gates    map[models.Phase]int
	agents   int
	finished *models.MissionResult
}

func (r *recorder) GateEvaluated(_ string, phase models.Phase, _ gate.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gates == nil {
		r.gates = make(map[models.Phase]int)
	}
	r.gates[phase]++
}

func (r *recorder) RepairAttempted(_ string, phase models.Phase, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repairs = append(r.repairs, phase)
}

func (r *recorder) AgentInvoked(string, runtime.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents++
}

func (r *recorder) MissionFinished(res *models.MissionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = res
}

type harness struct {
	engine     *engine.Local
	controller *Controller
	llm        *scriptedLLM
	obs        *recorder
	store      state.Store
}

func testConfig() Config {
	return Config{
		MaxRepairs:     3,
		AgentTimeout:   5 * time.Second,
		RequestTimeout: 500 * time.Millisecond,
	}
}

func newHarness(t *testing.T, cfg Config, provider *scriptedLLM) *harness {
	t.Helper()
	return newHarnessWithStore(t, cfg, provider, state.NewMemory())
}

func newHarnessWithStore(t *testing.T, cfg Config, provider *scriptedLLM, s state.Store) *harness {
	t.Helper()
	return newHarnessWithAgents(t, cfg, provider, s, agent.Options{})
}

func newHarnessWithAgents(t *testing.T, cfg Config, provider *scriptedLLM, s state.Store, opts agent.Options) *harness {
	t.Helper()
	root := t.TempDir()
	eng := engine.NewLocal(s, engine.WithLogger(zerolog.Nop()))
	t.Cleanup(eng.Close)

	obs := &recorder{}
	c, err := NewController(eng, cfg, Deps{
		LLM: provider,
		Sandbox: func(id string) (sandbox.Sandbox, error) {
			return sandbox.NewLocal(filepath.Join(root, id))
		},
		Agents:   opts,
		Observer: obs,
		Log:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	return &harness{engine: eng, controller: c, llm: provider, obs: obs, store: s}
}

func (h *harness) start(t *testing.T) *engine.Run {
	t.Helper()
	run, err := h.controller.Start(context.Background(), Input{Prompt: "Build a todo app"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return run
}

func wait(t *testing.T, run *engine.Run) (*models.MissionResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	v, err := run.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		t.Fatalf("mission did not finish")
	}
	res, _ := v.(*models.MissionResult)
	return res, err
}

func waitForPhase(t *testing.T, h *harness, id string, phase models.Phase) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		v, err := h.engine.Query(context.Background(), id, engine.QueryProgress)
		if err == nil {
			if p, ok := v.(models.Progress); ok && p.Phase == phase {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("mission %s never reached %s", id, phase)
}

func lastState(t *testing.T, h *harness, id string) State {
	t.Helper()
	cp, err := h.store.LastCheckpoint(context.Background(), id)
	if err != nil {
		t.Fatalf("LastCheckpoint failed: %v", err)
	}
	var st State
	if err := json.Unmarshal(cp.Data, &st); err != nil {
		t.Fatalf("decode checkpoint: %v", err)
	}
	return st
}

func phases(st State) []models.Phase {
	out := []models.Phase{models.PhaseIntake}
	for _, tr := range st.History {
		out = append(out, tr.To)
	}
	return out
}

func TestMission_TodoAppCompletes(t *testing.T) {
	h := newHarness(t, testConfig(), newScriptedLLM(todoAnswers()))
	run := h.start(t)

	res, err := wait(t, run)
	if err != nil {
		t.Fatalf("mission failed: %v", err)
	}
	if !res.Success || res.Phase != models.PhaseComplete {
		t.Fatalf("result = %+v, want success", res)
	}

	var paths []string
	for _, f := range res.Files {
		paths = append(paths, f.Path)
	}
	if diff := cmp.Diff([]string{"frontend/index.html", "backend/server.js"}, paths); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if res.Stats.TotalFiles != 2 || res.Stats.TotalLines != 3 {
		t.Errorf("stats = %+v, want 2 files and 3 lines", res.Stats)
	}
	if res.Stats.Iterations != 0 {
		t.Errorf("iterations = %d, want 0 (low issues do not block)", res.Stats.Iterations)
	}

	st := lastState(t, h, run.MissionID())
	want := []models.Phase{
		models.PhaseIntake, models.PhaseAnalyze, models.PhasePlan, models.PhaseDesign,
		models.PhaseGenerateFrontend, models.PhaseGenerateBackend, models.PhaseReview,
		models.PhaseSecurityAudit, models.PhaseDeploy, models.PhaseComplete,
	}
	if diff := cmp.Diff(want, phases(st)); diff != "" {
		t.Errorf("phase history mismatch (-want +got):\n%s", diff)
	}
	if st.Manifest.Status != "complete" {
		t.Errorf("manifest status = %q, want complete", st.Manifest.Status)
	}

	m, err := h.store.GetMission(context.Background(), run.MissionID())
	if err != nil {
		t.Fatalf("GetMission failed: %v", err)
	}
	if m.Status != state.MissionComplete || m.Progress != 100 {
		t.Errorf("mission record = %s at %d%%, want complete at 100%%", m.Status, m.Progress)
	}

	// Both generators ran once, together.
	if h.llm.count(markFrontend) != 1 || h.llm.count(markBackend) != 1 {
		t.Errorf("generator calls = %d/%d, want 1/1", h.llm.count(markFrontend), h.llm.count(markBackend))
	}
	if h.obs.finished == nil || !h.obs.finished.Success {
		t.Error("observer did not see a successful finish")
	}
}

func TestMission_SecurityIssueFixedOnFirstRepair(t *testing.T) {
	answers := todoAnswers()
	answers[markSecurity] = []string{criticalJSON, passedJSON}
	h := newHarness(t, testConfig(), newScriptedLLM(answers))
	run := h.start(t)

	res, err := wait(t, run)
	if err != nil {
		t.Fatalf("mission failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}
	if res.Stats.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Stats.Iterations)
	}
	if got := h.llm.count(markRepairer); got != 1 {
		t.Errorf("repairer calls = %d, want 1", got)
	}
	if diff := cmp.Diff([]models.Phase{models.PhaseSecurityAudit}, h.obs.repairs); diff != "" {
		t.Errorf("repairs mismatch (-want +got):\n%s", diff)
	}

	st := lastState(t, h, run.MissionID())
	tail := phases(st)[7:]
	want := []models.Phase{models.PhaseSecurityAudit, models.PhaseRepair, models.PhaseSecurityAudit, models.PhaseDeploy, models.PhaseComplete}
	if diff := cmp.Diff(want, tail); diff != "" {
		t.Errorf("phase tail mismatch (-want +got):\n%s", diff)
	}

	for _, f := range res.Files {
		if f.Path == "backend/server.js" && !strings.Contains(f.Content, "parameterized") {
			t.Errorf("backend not patched: %q", f.Content)
		}
	}
}

func TestMission_EscapingPathIsRepaired(t *testing.T) {
	answers := todoAnswers()
	answers[markFrontend] = []string{`{"files":[{"path":"../escape.js","content":"alert(1)\n"}]}`}
	answers[markRepairer] = []string{frontendJSON}
	opts := agent.Options{Checks: map[string][]agent.CheckCommand{
		agent.AreaFrontend: {{Name: "build", Run: "true", Required: true}},
	}}
	h := newHarnessWithAgents(t, testConfig(), newScriptedLLM(answers), state.NewMemory(), opts)
	run := h.start(t)

	res, err := wait(t, run)
	if err != nil {
		t.Fatalf("mission failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}
	if diff := cmp.Diff([]models.Phase{models.PhaseGenerateFrontend}, h.obs.repairs); diff != "" {
		t.Errorf("repairs mismatch (-want +got):\n%s", diff)
	}
	if got := h.llm.count(markRepairer); got != 1 {
		t.Errorf("repairer calls = %d, want 1", got)
	}
	for _, f := range res.Files {
		if strings.Contains(f.Path, "escape") {
			t.Errorf("escaping file %q reached the result", f.Path)
		}
	}
}

func TestMission_RepairBudgetExhausted(t *testing.T) {
	answers := todoAnswers()
	answers[markSecurity] = []string{criticalJSON}
	h := newHarness(t, testConfig(), newScriptedLLM(answers))
	run := h.start(t)

	res, err := wait(t, run)
	var rejection *gate.RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("error = %v, want gate rejection", err)
	}
	if rejection.Phase != models.PhaseSecurityAudit {
		t.Errorf("rejected phase = %s, want security_audit", rejection.Phase)
	}
	if res == nil || res.Success || res.Phase != models.PhaseFailed {
		t.Fatalf("result = %+v, want failed", res)
	}
	if res.Stats.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", res.Stats.Iterations)
	}
	if h.llm.count(markRepairer) != 3 {
		t.Errorf("repairer calls = %d, want 3", h.llm.count(markRepairer))
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, "[critical] SQL injection in query") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors %v do not record the blocking issue", res.Errors)
	}
	if len(res.Files) != 2 {
		t.Errorf("failed result has %d files, want the 2 partial files", len(res.Files))
	}

	m, _ := h.store.GetMission(context.Background(), run.MissionID())
	if m.Status != state.MissionFailed {
		t.Errorf("mission status = %s, want failed", m.Status)
	}
}

func TestMission_ProducerFailureRetriesWithFeedback(t *testing.T) {
	answers := todoAnswers()
	// The first plan misses its required tasks and is rejected by the schema.
	answers[markPlanner] = []string{`{"tasks":[]}`, planJSON}
	h := newHarness(t, testConfig(), newScriptedLLM(answers))
	run := h.start(t)

	res, err := wait(t, run)
	if err != nil {
		t.Fatalf("mission failed: %v", err)
	}
	if res.Stats.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Stats.Iterations)
	}
	if got := h.llm.count(markPlanner); got != 2 {
		t.Errorf("planner calls = %d, want 2", got)
	}
}

func TestMission_ProviderUnavailableFailsImmediately(t *testing.T) {
	provider := newScriptedLLM(todoAnswers())
	delete(provider.answers, markAnalyst)
	provider.errs[markAnalyst] = fmt.Errorf("anthropic: %w", llm.ErrProviderUnavailable)
	h := newHarness(t, testConfig(), provider)
	run := h.start(t)

	res, err := wait(t, run)
	if !errors.Is(err, llm.ErrProviderUnavailable) {
		t.Fatalf("error = %v, want ErrProviderUnavailable", err)
	}
	if res.Success || res.Stats.Iterations != 0 {
		t.Errorf("result = %+v, want failure without retries", res)
	}
	if got := provider.count(markAnalyst); got != 1 {
		t.Errorf("analyst calls = %d, want 1", got)
	}
}

func approvalConfig() Config {
	cfg := testConfig()
	cfg.RequireApproval = true
	return cfg
}

func TestMission_FeedbackApproval(t *testing.T) {
	tests := []struct {
		name     string
		feedback Feedback
		success  bool
	}{
		{"approved", Feedback{Approved: true, Comment: "ship it"}, true},
		{"rejected", Feedback{Approved: false, Comment: "wrong colors"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, approvalConfig(), newScriptedLLM(todoAnswers()))
			run := h.start(t)
			id := run.MissionID()
			waitForPhase(t, h, id, models.PhaseHumanFeedback)

			v, err := h.engine.Query(context.Background(), id, engine.QueryProgress)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if p := v.(models.Progress); p.Progress != models.PhaseHumanFeedback.Progress() {
				t.Errorf("progress = %d, want %d", p.Progress, models.PhaseHumanFeedback.Progress())
			}

			sig, err := FeedbackSignal(tt.feedback)
			if err != nil {
				t.Fatalf("FeedbackSignal failed: %v", err)
			}
			if err := h.engine.Signal(context.Background(), id, sig); err != nil {
				t.Fatalf("Signal failed: %v", err)
			}

			res, _ := wait(t, run)
			if res.Success != tt.success {
				t.Fatalf("success = %v, want %v (%+v)", res.Success, tt.success, res)
			}
			if !tt.success && !strings.Contains(res.Error, tt.feedback.Comment) {
				t.Errorf("error %q does not carry the comment", res.Error)
			}
		})
	}
}

func TestMission_FeedbackTimeoutPolicy(t *testing.T) {
	tests := []struct {
		policy  string
		success bool
	}{
		{OnTimeoutApprove, true},
		{OnTimeoutReject, false},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			cfg := approvalConfig()
			cfg.FeedbackTimeout = 50 * time.Millisecond
			cfg.OnFeedbackTimeout = tt.policy
			h := newHarness(t, cfg, newScriptedLLM(todoAnswers()))

			res, _ := wait(t, h.start(t))
			if res.Success != tt.success {
				t.Errorf("success = %v, want %v", res.Success, tt.success)
			}
		})
	}
}

func TestMission_EarlyFeedbackIsHeld(t *testing.T) {
	provider := newScriptedLLM(todoAnswers())
	release := make(chan struct{})
	provider.block[markAnalyst] = release
	h := newHarness(t, approvalConfig(), provider)
	run := h.start(t)
	<-provider.entered

	sig, _ := FeedbackSignal(Feedback{Approved: true, Comment: "pre-approved"})
	if err := h.engine.Signal(context.Background(), run.MissionID(), sig); err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	// Unknown signals are ignored.
	if err := h.engine.Signal(context.Background(), run.MissionID(), engine.Signal{Name: "pause"}); err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)

	res, err := wait(t, run)
	if err != nil {
		t.Fatalf("mission failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v, want success from held feedback", res)
	}

	st := lastState(t, h, run.MissionID())
	if st.PendingSignal != nil {
		t.Error("pending feedback was not consumed")
	}
	for _, tr := range st.History {
		if tr.From == models.PhaseHumanFeedback && !strings.Contains(tr.Reason, "pre-approved") {
			t.Errorf("approval reason = %q", tr.Reason)
		}
	}
}

func TestMission_Cancel(t *testing.T) {
	provider := newScriptedLLM(todoAnswers())
	provider.block[markPlanner] = make(chan struct{})
	h := newHarness(t, testConfig(), provider)
	run := h.start(t)
	<-provider.entered

	if err := h.engine.Cancel(context.Background(), run.MissionID()); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	res, err := wait(t, run)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if res.Phase != models.PhaseCancelled {
		t.Errorf("phase = %s, want cancelled", res.Phase)
	}
	m, _ := h.store.GetMission(context.Background(), run.MissionID())
	if m.Status != state.MissionCancelled {
		t.Errorf("mission status = %s, want cancelled", m.Status)
	}
	if got := provider.count(markArchitect); got != 0 {
		t.Errorf("architect ran %d times after cancel", got)
	}
}

func TestMission_ResumeAfterShutdown(t *testing.T) {
	shared := state.NewMemory()
	provider := newScriptedLLM(todoAnswers())
	provider.block[markArchitect] = make(chan struct{})

	first := newHarnessWithStore(t, testConfig(), provider, shared)
	run := first.start(t)
	id := run.MissionID()
	<-provider.entered
	first.engine.Close()

	m, err := shared.GetMission(context.Background(), id)
	if err != nil {
		t.Fatalf("GetMission failed: %v", err)
	}
	if m.Status != state.MissionRunning || m.PID != 0 {
		t.Fatalf("interrupted mission = %s pid %d, want running and unowned", m.Status, m.PID)
	}

	provider.mu.Lock()
	delete(provider.block, markArchitect)
	provider.mu.Unlock()

	second := newHarnessWithStore(t, testConfig(), provider, shared)
	resumed, err := second.controller.Resume(context.Background(), id)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	res, err := wait(t, resumed)
	if err != nil {
		t.Fatalf("resumed mission failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}
	if got := provider.count(markAnalyst); got != 1 {
		t.Errorf("analyst calls = %d, want 1 (resume must not redo committed phases)", got)
	}
	if got := provider.count(markArchitect); got != 2 {
		t.Errorf("architect calls = %d, want 2", got)
	}
}

func TestMission_ResumeCompletedRejected(t *testing.T) {
	h := newHarness(t, testConfig(), newScriptedLLM(todoAnswers()))
	run := h.start(t)
	res, err := wait(t, run)
	if err != nil {
		t.Fatalf("mission failed: %v", err)
	}
	if res.MissionID != run.MissionID() {
		t.Errorf("result mission id = %q, want %q", res.MissionID, run.MissionID())
	}

	if _, err := h.controller.Resume(context.Background(), run.MissionID()); err == nil {
		t.Fatal("Resume of a completed mission succeeded")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"layered", Config{AgentTimeout: time.Second, PhaseTimeout: time.Minute, MissionTimeout: time.Hour}, false},
		{"agent above phase", Config{AgentTimeout: time.Minute, PhaseTimeout: time.Second}, true},
		{"phase above mission", Config{AgentTimeout: time.Second, PhaseTimeout: time.Hour, MissionTimeout: time.Minute}, true},
		{"agent above mission", Config{AgentTimeout: time.Hour, MissionTimeout: time.Minute}, true},
		{"bad policy", Config{OnFeedbackTimeout: "maybe"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStart_EmptyPrompt(t *testing.T) {
	h := newHarness(t, testConfig(), newScriptedLLM(todoAnswers()))
	if _, err := h.controller.Start(context.Background(), Input{}); err == nil {
		t.Error("Start with empty prompt succeeded")
	}
}

func TestState_ProgressDuringRepair(t *testing.T) {
	st := State{MissionID: "m1", Phase: models.PhaseRepair, RepairOf: models.PhaseReview}
	if got := st.Progress().Progress; got != models.PhaseReview.Progress() {
		t.Errorf("repair progress = %d, want %d", got, models.PhaseReview.Progress())
	}
	if st.Status() != state.MissionRunning {
		t.Errorf("status = %s, want running", st.Status())
	}
}
