package mcpapi

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/agenthub/internal/agenthub"
)

// ProjectHandler covers the project lifecycle tools.
type ProjectHandler struct {
	store  *agenthub.Store
	logger zerolog.Logger
}

func (h *ProjectHandler) RegisterTools(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("create_project",
		mcp.WithDescription("Create a new coordination project"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Unique project identifier")),
		mcp.WithString("name", mcp.Description("Human-readable project name; defaults to the id")),
		mcp.WithString("description", mcp.Description("Free-form project description")),
		mcp.WithString("creator", mcp.Required(), mcp.Description("Member name of the creating agent")),
	), h.handleCreateProject)

	s.AddTool(mcp.NewTool("get_project",
		mcp.WithDescription("Fetch a project, optionally waiting for it to appear"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithBoolean("wait", mcp.Description("Block until the project exists or the timeout elapses")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Maximum seconds to wait; capped by server config")),
	), h.handleGetProject)

	s.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List all projects"),
	), h.handleListProjects)

	s.AddTool(mcp.NewTool("archive_project",
		mcp.WithDescription("Archive a project so it refuses new joins and sends"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("caller", mcp.Required(), mcp.Description("Member name of the caller; must be the creator")),
		mcp.WithString("reason", mcp.Description("Why the project is being archived")),
	), h.handleArchiveProject)

	s.AddTool(mcp.NewTool("unarchive_project",
		mcp.WithDescription("Restore an archived project to active use"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("caller", mcp.Required(), mcp.Description("Member name of the caller; must be the creator")),
	), h.handleUnarchiveProject)

	s.AddTool(mcp.NewTool("delete_project",
		mcp.WithDescription("Permanently delete a project and everything under it"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("caller", mcp.Required(), mcp.Description("Member name of the caller; must be the creator")),
	), h.handleDeleteProject)
}

func (h *ProjectHandler) handleCreateProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	creator, err := req.RequireString("creator")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := req.GetArguments()
	project, err := h.store.CreateProject(agenthub.CreateProjectRequest{
		ID:          projectID,
		Name:        optString(args, "name"),
		Description: optString(args, "description"),
		Creator:     creator,
	})
	if err != nil {
		return toolError(h.logger, "project.create", err), nil
	}
	return toolJSON(project), nil
}

func (h *ProjectHandler) handleGetProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := req.GetArguments()
	wait, timeout := waitTimeout(args)
	if wait {
		project, ok, err := h.store.AwaitProject(ctx, projectID, timeout)
		if err != nil {
			return toolError(h.logger, "project.get_wait", err), nil
		}
		if !ok {
			return toolJSON(map[string]any{"found": false}), nil
		}
		return toolJSON(project), nil
	}
	project, err := h.store.GetProject(projectID)
	if err != nil {
		return toolError(h.logger, "project.get", err), nil
	}
	return toolJSON(project), nil
}

func (h *ProjectHandler) handleListProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := h.store.ListProjects()
	if err != nil {
		return toolError(h.logger, "project.list", err), nil
	}
	return toolJSON(map[string]any{"projects": projects}), nil
}

func (h *ProjectHandler) handleArchiveProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	caller, err := req.RequireString("caller")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	project, err := h.store.ArchiveProject(projectID, caller, optString(req.GetArguments(), "reason"))
	if err != nil {
		return toolError(h.logger, "project.archive", err), nil
	}
	return toolJSON(project), nil
}

func (h *ProjectHandler) handleUnarchiveProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	caller, err := req.RequireString("caller")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	project, err := h.store.UnarchiveProject(projectID, caller)
	if err != nil {
		return toolError(h.logger, "project.unarchive", err), nil
	}
	return toolJSON(project), nil
}

func (h *ProjectHandler) handleDeleteProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	caller, err := req.RequireString("caller")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.store.DeleteProject(projectID, caller); err != nil {
		return toolError(h.logger, "project.delete", err), nil
	}
	return toolJSON(map[string]any{"deleted": true, "projectId": projectID}), nil
}
