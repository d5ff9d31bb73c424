package mcpserver_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/ShayCichocki/missionctl/internal/engine"
	"github.com/ShayCichocki/missionctl/internal/mcpserver"
	"github.com/ShayCichocki/missionctl/internal/mission"
	"github.com/ShayCichocki/missionctl/internal/sandbox"
	"github.com/ShayCichocki/missionctl/internal/state"
)

// fixedLLM answers every agent from a table keyed by system-prompt marker.
type fixedLLM map[string]string

func (fixedLLM) Name() string { return "fixed" }

func (f fixedLLM) PromptText(_ context.Context, system, _ string) (string, error) {
	for marker, answer := range f {
		if strings.Contains(system, marker) {
			return answer, nil
		}
	}
	return `{}`, nil
}

var answers = fixedLLM{
	"requirements analyst": `{"summary":"notes","features":["write notes"]}`,
	"technical planner":    `{"tasks":[{"id":"1","title":"Notes","area":"shared"}]}`,
	"software architect":   `{"frontend":{"framework":"vue"},"backend":{"framework":"fastapi","endpoints":[]}}`,
	"frontend engineer":    `{"files":[{"path":"app.vue","content":"<template/>"}]}`,
	"backend engineer":     `{"files":[{"path":"main.py","content":"app = FastAPI()"}]}`,
	"senior code reviewer": `{"status":"passed","checks":[],"summary":"ok"}`,
	"security auditor":     `{"status":"passed","checks":[],"summary":"ok"}`,
	"repair engineer":      `{"files":[{"path":"main.py","content":"app = FastAPI()"}]}`,
}

func newTestServer(t *testing.T) *mcpserver.Server {
	t.Helper()
	root := t.TempDir()
	eng := engine.NewLocal(state.NewMemory(), engine.WithLogger(zerolog.Nop()))
	t.Cleanup(eng.Close)

	c, err := mission.NewController(eng, mission.Config{
		RequireApproval: true,
		RequestTimeout:  200 * time.Millisecond,
	}, mission.Deps{
		LLM: answers,
		Sandbox: func(id string) (sandbox.Sandbox, error) {
			return sandbox.NewLocal(filepath.Join(root, id))
		},
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return mcpserver.NewServer(c, "test", zerolog.Nop())
}

func connectInMemory(t *testing.T, ctx context.Context, srv *mcpserver.Server) *sdkmcp.ClientSession {
	t.Helper()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	if _, err := srv.MCPServer.Connect(ctx, t1, nil); err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if res.IsError {
		t.Fatalf("CallTool(%s) returned error: %s", name, text(res))
	}
	result := make(map[string]any)
	if err := json.Unmarshal([]byte(text(res)), &result); err != nil {
		t.Fatalf("unmarshal tool result: %v (text: %s)", err, text(res))
	}
	return result
}

func callToolExpectError(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return err.Error()
	}
	if !res.IsError {
		t.Fatalf("CallTool(%s) succeeded, expected error", name)
	}
	return text(res)
}

func text(res *sdkmcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func waitForPhase(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, id, phase string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p := callTool(t, ctx, session, "mission_progress", map[string]any{"mission_id": id})
		if p["phase"] == phase {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("mission %s never reached %s", id, phase)
}

func waitForStatus(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, id, status string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := callTool(t, ctx, session, "mission_status", map[string]any{"mission_id": id})
		if st["status"] == status {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("mission %s never reached status %s", id, status)
	return nil
}

func TestServer_ApproveMission(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t))

	started := callTool(t, ctx, session, "start_mission", map[string]any{"prompt": "A notes app"})
	id, _ := started["mission_id"].(string)
	if id == "" {
		t.Fatalf("start_mission returned no id: %v", started)
	}

	waitForPhase(t, ctx, session, id, "human_feedback")

	ack := callTool(t, ctx, session, "send_feedback", map[string]any{"mission_id": id, "approved": true, "comment": "looks good"})
	if ack["ok"] != true {
		t.Errorf("send_feedback ack = %v", ack)
	}

	st := waitForStatus(t, ctx, session, id, "complete")
	result, ok := st["result"].(map[string]any)
	if !ok {
		t.Fatalf("status has no result: %v", st)
	}
	if result["success"] != true {
		t.Errorf("result success = %v, want true", result["success"])
	}
	if files, _ := result["files"].([]any); len(files) != 2 {
		t.Errorf("result has %d files, want 2", len(files))
	}

	list := callTool(t, ctx, session, "list_missions", map[string]any{"status": "complete"})
	if missions, _ := list["missions"].([]any); len(missions) != 1 {
		t.Errorf("list_missions(complete) returned %d missions, want 1", len(missions))
	}
}

func TestServer_CancelMission(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t))

	started := callTool(t, ctx, session, "start_mission", map[string]any{"prompt": "A notes app"})
	id := started["mission_id"].(string)
	waitForPhase(t, ctx, session, id, "human_feedback")

	callTool(t, ctx, session, "cancel_mission", map[string]any{"mission_id": id})
	waitForStatus(t, ctx, session, id, "cancelled")

	msg := callToolExpectError(t, ctx, session, "cancel_mission", map[string]any{"mission_id": id})
	if !strings.Contains(msg, "not running") {
		t.Errorf("second cancel error = %q, want not running", msg)
	}
}

func TestServer_Validation(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t))

	if msg := callToolExpectError(t, ctx, session, "start_mission", map[string]any{"prompt": " "}); !strings.Contains(msg, "prompt is required") {
		t.Errorf("start_mission error = %q", msg)
	}
	if msg := callToolExpectError(t, ctx, session, "mission_status", map[string]any{"mission_id": "nope"}); msg == "" {
		t.Error("mission_status for unknown id returned empty error")
	}
	callToolExpectError(t, ctx, session, "mission_progress", map[string]any{})
}
