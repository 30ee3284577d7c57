package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// mcpHandler builds the MCP tool surface, served over streamable HTTP
// at /mcp. Three tools: list the schedule, read the health verdict, and
// trigger a run.
func (s *Server) mcpHandler() http.Handler {
	srv := server.NewMCPServer("cronloop", "1.0.0", server.WithToolCapabilities(false))

	srv.AddTool(
		mcp.NewTool("schedule_list",
			mcp.WithDescription("List every scheduled event with its cron expression, next and last run times, and success counters."),
		),
		s.mcpScheduleList,
	)

	srv.AddTool(
		mcp.NewTool("schedule_health",
			mcp.WithDescription("Report scheduler health: overall status, issues, and recommendations."),
		),
		s.mcpScheduleHealth,
	)

	srv.AddTool(
		mcp.NewTool("schedule_run",
			mcp.WithDescription("Run scheduled events. Without arguments, runs one due-check cycle. With event_id, runs that event immediately regardless of its schedule."),
			mcp.WithString("event_id",
				mcp.Description("ID of a single event to run now. Optional."),
			),
		),
		s.mcpScheduleRun,
	)

	return server.NewStreamableHTTPServer(srv)
}

func (s *Server) mcpScheduleList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResultJSON(s.cfg.Engine.Stats(time.Now()))
}

func (s *Server) mcpScheduleHealth(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResultJSON(s.cfg.Monitor.Check(time.Now()))
}

func (s *Server) mcpScheduleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id := req.GetString("event_id", ""); id != "" {
		res, err := s.cfg.Engine.RunEvent(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toolResultJSON(res)
	}
	return toolResultJSON(s.cfg.Engine.RunDueEvents(ctx, time.Now()))
}

func toolResultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("statusapi: encoding tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
