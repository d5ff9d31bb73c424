// Package mcpserver exposes mission control as MCP tools so an assistant can
// start, watch, steer and cancel missions.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/ShayCichocki/missionctl/internal/engine"
	"github.com/ShayCichocki/missionctl/internal/logging"
	"github.com/ShayCichocki/missionctl/internal/mission"
	"github.com/ShayCichocki/missionctl/internal/state"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

// Server wraps the MCP SDK server around a mission controller.
type Server struct {
	MCPServer  *sdkmcp.Server
	controller *mission.Controller
	log        zerolog.Logger
}

// NewServer creates the server and registers every tool.
func NewServer(c *mission.Controller, version string, log zerolog.Logger) *Server {
	s := &Server{
		MCPServer: sdkmcp.NewServer(
			&sdkmcp.Implementation{Name: "missionctl", Version: version},
			nil,
		),
		controller: c,
		log:        logging.Component(log, "mcp"),
	}
	s.registerTools()
	return s
}

// Run serves over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info().Msg("serving missionctl tools over stdio")
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "start_mission",
		Description: "Start a mission that builds an application from a natural-language request. Returns the mission ID.",
	}, s.handleStartMission)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "mission_progress",
		Description: "Get the current phase, message and percentage of a mission.",
	}, s.handleProgress)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "mission_status",
		Description: "Get a mission's status, phase history and, once finished, its result.",
	}, s.handleStatus)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_missions",
		Description: "List missions, newest first, optionally filtered by status.",
	}, s.handleList)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "send_feedback",
		Description: "Approve or reject a mission waiting for human feedback.",
	}, s.handleFeedback)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "cancel_mission",
		Description: "Cancel a running mission.",
	}, s.handleCancel)
}

// --- Tool input/output types ---

type startMissionInput struct {
	Prompt  string `json:"prompt" jsonschema:"what to build"`
	AppName string `json:"app_name,omitempty" jsonschema:"optional application name"`
}

type startMissionOutput struct {
	MissionID string `json:"mission_id"`
	Status    string `json:"status"`
}

type missionInput struct {
	MissionID string `json:"mission_id" jsonschema:"mission ID from start_mission"`
}

type progressOutput struct {
	MissionID string `json:"mission_id"`
	Phase     string `json:"phase"`
	Message   string `json:"message"`
	Progress  int    `json:"progress"`
}

type transitionOutput struct {
	From   string `json:"from"`
	To     string `json:"to"`
	At     string `json:"at"`
	Reason string `json:"reason,omitempty"`
}

type statusOutput struct {
	MissionID  string                `json:"mission_id"`
	Status     string                `json:"status"`
	Phase      string                `json:"phase"`
	Message    string                `json:"message"`
	Progress   int                   `json:"progress"`
	Iterations int                   `json:"iterations"`
	Artifacts  []string              `json:"artifacts"`
	History    []transitionOutput    `json:"history"`
	Errors     []string              `json:"errors,omitempty"`
	Result     *models.MissionResult `json:"result,omitempty"`
}

type listInput struct {
	Status string `json:"status,omitempty" jsonschema:"running, complete, failed or cancelled"`
}

type missionSummary struct {
	MissionID string `json:"mission_id"`
	Status    string `json:"status"`
	Phase     string `json:"phase"`
	Progress  int    `json:"progress"`
	Prompt    string `json:"prompt"`
	UpdatedAt string `json:"updated_at"`
}

type listOutput struct {
	Missions []missionSummary `json:"missions"`
}

type feedbackInput struct {
	MissionID     string   `json:"mission_id" jsonschema:"mission ID from start_mission"`
	Approved      bool     `json:"approved" jsonschema:"true to deploy, false to reject"`
	Comment       string   `json:"comment,omitempty" jsonschema:"reason for the decision"`
	Modifications []string `json:"modifications,omitempty" jsonschema:"changes to apply before deploying"`
}

type ackOutput struct {
	MissionID string `json:"mission_id"`
	OK        bool   `json:"ok"`
}

// --- Handlers ---

func (s *Server) handleStartMission(ctx context.Context, _ *sdkmcp.CallToolRequest, input startMissionInput) (*sdkmcp.CallToolResult, startMissionOutput, error) {
	if strings.TrimSpace(input.Prompt) == "" {
		return nil, startMissionOutput{}, fmt.Errorf("prompt is required")
	}
	run, err := s.controller.Start(ctx, mission.Input{Prompt: input.Prompt, AppName: input.AppName})
	if err != nil {
		return nil, startMissionOutput{}, fmt.Errorf("start_mission: %w", err)
	}
	s.log.Info().Str("mission", run.MissionID()).Msg("mission started over mcp")
	return nil, startMissionOutput{MissionID: run.MissionID(), Status: string(state.MissionRunning)}, nil
}

func (s *Server) handleProgress(ctx context.Context, _ *sdkmcp.CallToolRequest, input missionInput) (*sdkmcp.CallToolResult, progressOutput, error) {
	if input.MissionID == "" {
		return nil, progressOutput{}, fmt.Errorf("mission_id is required")
	}
	v, err := s.controller.Engine().Query(ctx, input.MissionID, engine.QueryProgress)
	if err != nil {
		return nil, progressOutput{}, fmt.Errorf("mission_progress: %w", err)
	}
	p, ok := v.(models.Progress)
	if !ok {
		return nil, progressOutput{}, fmt.Errorf("mission_progress: unexpected answer %T", v)
	}
	return nil, progressOutput{
		MissionID: input.MissionID,
		Phase:     string(p.Phase),
		Message:   p.Message,
		Progress:  p.Progress,
	}, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *sdkmcp.CallToolRequest, input missionInput) (*sdkmcp.CallToolResult, statusOutput, error) {
	if input.MissionID == "" {
		return nil, statusOutput{}, fmt.Errorf("mission_id is required")
	}
	rep, err := mission.LoadReport(ctx, s.controller.Engine().Store(), input.MissionID)
	if err != nil {
		return nil, statusOutput{}, fmt.Errorf("mission_status: %w", err)
	}

	m := rep.Mission
	out := statusOutput{
		MissionID: m.ID,
		Status:    string(m.Status),
		Phase:     m.Phase,
		Message:   m.Message,
		Progress:  m.Progress,
		Artifacts: []string{},
		History:   []transitionOutput{},
	}
	if st := rep.State; st != nil {
		out.Iterations = st.Iterations
		out.Artifacts = append(out.Artifacts, st.Manifest.Artifacts...)
		out.Errors = st.Errors
		out.Result = st.Result
		for _, tr := range st.History {
			out.History = append(out.History, transitionOutput{
				From:   string(tr.From),
				To:     string(tr.To),
				At:     tr.At.Format(time.RFC3339),
				Reason: tr.Reason,
			})
		}
	}
	return nil, out, nil
}

func (s *Server) handleList(ctx context.Context, _ *sdkmcp.CallToolRequest, input listInput) (*sdkmcp.CallToolResult, listOutput, error) {
	var filter *state.MissionStatus
	if input.Status != "" {
		st := state.MissionStatus(input.Status)
		filter = &st
	}
	missions, err := s.controller.Engine().Store().ListMissions(ctx, filter)
	if err != nil {
		return nil, listOutput{}, fmt.Errorf("list_missions: %w", err)
	}
	out := listOutput{Missions: make([]missionSummary, 0, len(missions))}
	for _, m := range missions {
		out.Missions = append(out.Missions, missionSummary{
			MissionID: m.ID,
			Status:    string(m.Status),
			Phase:     m.Phase,
			Progress:  m.Progress,
			Prompt:    m.Prompt,
			UpdatedAt: m.UpdatedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

func (s *Server) handleFeedback(ctx context.Context, _ *sdkmcp.CallToolRequest, input feedbackInput) (*sdkmcp.CallToolResult, ackOutput, error) {
	if input.MissionID == "" {
		return nil, ackOutput{}, fmt.Errorf("mission_id is required")
	}
	sig, err := mission.FeedbackSignal(mission.Feedback{
		Approved:      input.Approved,
		Comment:       input.Comment,
		Modifications: input.Modifications,
	})
	if err != nil {
		return nil, ackOutput{}, err
	}
	if err := s.controller.Engine().Signal(ctx, input.MissionID, sig); err != nil {
		return nil, ackOutput{}, fmt.Errorf("send_feedback: %w", err)
	}
	return nil, ackOutput{MissionID: input.MissionID, OK: true}, nil
}

func (s *Server) handleCancel(ctx context.Context, _ *sdkmcp.CallToolRequest, input missionInput) (*sdkmcp.CallToolResult, ackOutput, error) {
	if input.MissionID == "" {
		return nil, ackOutput{}, fmt.Errorf("mission_id is required")
	}
	err := s.controller.Engine().Cancel(ctx, input.MissionID)
	if errors.Is(err, engine.ErrNotRunning) {
		return nil, ackOutput{}, fmt.Errorf("cancel_mission: %s is not running", input.MissionID)
	}
	if err != nil {
		return nil, ackOutput{}, fmt.Errorf("cancel_mission: %w", err)
	}
	return nil, ackOutput{MissionID: input.MissionID, OK: true}, nil
}
