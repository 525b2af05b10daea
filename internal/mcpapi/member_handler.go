package mcpapi

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/agenthub/internal/agenthub"
)

// MemberHandler covers membership tools. The client id flows from the
// server's own session identity unless the tool call overrides it, so a
// reconnecting agent reclaims its name without extra ceremony.
type MemberHandler struct {
	store    *agenthub.Store
	logger   zerolog.Logger
	clientID string
}

func (h *MemberHandler) RegisterTools(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("join_project",
		mcp.WithDescription("Join a project under a member name, reclaiming it if this client held it before"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("member_name", mcp.Required(), mcp.Description("Name to register under")),
		mcp.WithString("client_id", mcp.Description("Override the ambient client identity")),
		mcp.WithArray("capabilities", mcp.Description("Capability strings advertised to other members")),
		mcp.WithObject("labels", mcp.Description("Free-form string labels")),
	), h.handleJoin)

	s.AddTool(mcp.NewTool("heartbeat",
		mcp.WithDescription("Refresh a member's last-seen time"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("member_name", mcp.Required(), mcp.Description("Member name")),
	), h.handleHeartbeat)

	s.AddTool(mcp.NewTool("leave_project",
		mcp.WithDescription("Leave a project; pending inbox messages are archived"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("member_name", mcp.Required(), mcp.Description("Member name")),
	), h.handleLeave)

	s.AddTool(mcp.NewTool("list_members",
		mcp.WithDescription("List the current members of a project"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
	), h.handleListMembers)
}

func (h *MemberHandler) handleJoin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("member_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := req.GetArguments()
	clientID := optString(args, "client_id")
	if clientID == "" {
		clientID = h.clientID
	}
	member, err := h.store.Join(agenthub.JoinRequest{
		ProjectID:    projectID,
		Name:         name,
		ClientID:     clientID,
		Capabilities: optStrings(args, "capabilities"),
		Labels:       optStringMap(args, "labels"),
	})
	if err != nil {
		return toolError(h.logger, "member.join", err), nil
	}
	return toolJSON(member), nil
}

func (h *MemberHandler) handleHeartbeat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("member_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	member, err := h.store.Heartbeat(projectID, name)
	if err != nil {
		return toolError(h.logger, "member.heartbeat", err), nil
	}
	return toolJSON(member), nil
}

func (h *MemberHandler) handleLeave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("member_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.store.Leave(projectID, name); err != nil {
		return toolError(h.logger, "member.leave", err), nil
	}
	return toolJSON(map[string]any{"left": true, "projectId": projectID, "memberName": name}), nil
}

func (h *MemberHandler) handleListMembers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	members, err := h.store.ListMembers(projectID)
	if err != nil {
		return toolError(h.logger, "member.list", err), nil
	}
	return toolJSON(map[string]any{"members": members}), nil
}
