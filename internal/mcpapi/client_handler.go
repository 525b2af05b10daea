package mcpapi

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/agenthub/internal/agenthub"
)

// ClientHandler exposes session introspection: which memberships this
// client process currently holds across projects.
type ClientHandler struct {
	store    *agenthub.Store
	logger   zerolog.Logger
	clientID string
}

func (h *ClientHandler) RegisterTools(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("client_status",
		mcp.WithDescription("Show the calling client's session and project memberships"),
		mcp.WithString("client_id", mcp.Description("Override the ambient client identity")),
	), h.handleClientStatus)
}

func (h *ClientHandler) handleClientStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	clientID := optString(req.GetArguments(), "client_id")
	if clientID == "" {
		clientID = h.clientID
	}
	if clientID == "" {
		return mcp.NewToolResultError("no client identity available; pass client_id"), nil
	}
	session, err := h.store.GetClientSession(clientID)
	if err != nil {
		return toolError(h.logger, "client.status", err), nil
	}
	return toolJSON(session), nil
}
