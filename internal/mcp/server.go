// Package mcp exposes the pipeline use cases as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"regwatch-ai/backend/internal/auth"
	"regwatch-ai/backend/internal/pipeline"
	"regwatch-ai/backend/pkg/models"
)

// Runner executes pipeline triggers.
type Runner interface {
	Run(ctx context.Context, trig pipeline.Trigger) (*pipeline.RunResult, error)
}

type Server struct {
	mcpServer *server.MCPServer
	runner    Runner
}

func NewServer(runner Runner) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"RegWatch AI",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		runner: runner,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"suggest_regulators",
			mcp.WithDescription("Suggest the regulators that supervise an organization"),
			mcp.WithString("organization_id", mcp.Description("The organization to profile; defaults to the caller's organization")),
		),
		s.handleSuggestRegulators,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"match_circulars",
			mcp.WithDescription("Find the regulatory circulars relevant to an organization"),
			mcp.WithString("organization_id", mcp.Description("The organization to match for; defaults to the caller's organization")),
		),
		s.handleMatchCirculars,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"generate_assessment",
			mcp.WithDescription("Generate and save pre-assessment questions for a circular"),
			mcp.WithString("regulation_id", mcp.Required(), mcp.Description("The circular to assess")),
			mcp.WithString("organization_id", mcp.Description("The organization the assessment is for")),
		),
		s.handleGenerateAssessment,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"generate_tasks",
			mcp.WithDescription("Break a circular down into compliance tasks and send them to the task system"),
			mcp.WithString("regulation_id", mcp.Required(), mcp.Description("The circular to implement")),
			mcp.WithString("organization_id", mcp.Description("The organization the tasks are for")),
			mcp.WithString("risk", mcp.Description("Risk override"), mcp.Enum("high", "medium", "low")),
		),
		s.handleGenerateTasks,
	)
}

func (s *Server) handleSuggestRegulators(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orgID, errRes := organization(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	if orgID == "" {
		return mcp.NewToolResultError("Missing required parameter: organization_id"), nil
	}
	return s.run(ctx, pipeline.Trigger{OrganizationID: orgID, Mode: models.ModeSuggestRegulators})
}

func (s *Server) handleMatchCirculars(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orgID, errRes := organization(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	if orgID == "" {
		return mcp.NewToolResultError("Missing required parameter: organization_id"), nil
	}
	return s.run(ctx, pipeline.Trigger{OrganizationID: orgID, Mode: models.ModeMatchCirculars})
}

func (s *Server) handleGenerateAssessment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("regulation_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: regulation_id"), nil
	}
	orgID, errRes := organization(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	return s.run(ctx, pipeline.Trigger{
		OrganizationID: orgID,
		Mode:           models.ModeGenerateQuestions,
		DocumentID:     docID,
	})
}

func (s *Server) handleGenerateTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("regulation_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: regulation_id"), nil
	}
	orgID, errRes := organization(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	return s.run(ctx, pipeline.Trigger{
		OrganizationID: orgID,
		Mode:           models.ModeGenerateTasks,
		DocumentID:     docID,
		Risk:           request.GetString("risk", ""),
	})
}

// organization resolves the organization_id argument against the caller's
// token. A refusal comes back as a tool error result.
func organization(ctx context.Context, request mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	orgID, err := auth.ResolveOrganization(ctx, request.GetString("organization_id", ""))
	if err != nil {
		return "", mcp.NewToolResultError(err.Error())
	}
	return orgID, nil
}

// run reports pipeline errors as tool errors so the calling model can read
// them.
func (s *Server) run(ctx context.Context, trig pipeline.Trigger) (*mcp.CallToolResult, error) {
	res, err := s.runner.Run(ctx, trig)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to run %s: %v", trig.Mode, err)), nil
	}

	jsonBytes, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
