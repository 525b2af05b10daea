package mcpapi

import (
	"context"
	"encoding/base64"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/agenthub/internal/agenthub"
)

// ResourceHandler covers the versioned shared-document tools. Inline
// content crosses the tool boundary as plain text; binary payloads should
// use an external path instead.
type ResourceHandler struct {
	store  *agenthub.Store
	logger zerolog.Logger
}

func (h *ResourceHandler) RegisterTools(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("store_resource",
		mcp.WithDescription("Create or update a shared resource; updates require the etag from the last read"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("resource_id", mcp.Required(), mcp.Description("Resource identifier")),
		mcp.WithString("caller", mcp.Required(), mcp.Description("Member name of the caller")),
		mcp.WithString("name", mcp.Description("Human-readable resource name")),
		mcp.WithString("description", mcp.Description("Free-form description")),
		mcp.WithString("mime_type", mcp.Description("Payload MIME type")),
		mcp.WithString("etag", mcp.Description("Version tag from the last read; empty on create")),
		mcp.WithString("content", mcp.Description("Inline payload; mutually exclusive with external_path")),
		mcp.WithString("external_path", mcp.Description("Absolute path to a file to reference instead of inline content")),
		mcp.WithArray("read_members", mcp.Description("Members allowed to read; \"*\" means any member")),
		mcp.WithArray("write_members", mcp.Description("Members allowed to write")),
		mcp.WithObject("metadata", mcp.Description("Free-form string metadata")),
	), h.handleStoreResource)

	s.AddTool(mcp.NewTool("get_resource",
		mcp.WithDescription("Fetch a resource and its payload, optionally waiting for it to appear"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("resource_id", mcp.Required(), mcp.Description("Resource identifier")),
		mcp.WithString("caller", mcp.Required(), mcp.Description("Member name of the caller")),
		mcp.WithBoolean("wait", mcp.Description("Block until the resource exists or the timeout elapses")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Maximum seconds to wait; capped by server config")),
	), h.handleGetResource)

	s.AddTool(mcp.NewTool("list_resources",
		mcp.WithDescription("List the resources the caller is allowed to read"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("caller", mcp.Required(), mcp.Description("Member name of the caller")),
	), h.handleListResources)

	s.AddTool(mcp.NewTool("delete_resource",
		mcp.WithDescription("Delete a resource; only its creator may do this"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("resource_id", mcp.Required(), mcp.Description("Resource identifier")),
		mcp.WithString("caller", mcp.Required(), mcp.Description("Member name of the caller")),
	), h.handleDeleteResource)
}

func (h *ResourceHandler) handleStoreResource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resourceID, err := req.RequireString("resource_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	caller, err := req.RequireString("caller")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := req.GetArguments()

	put := agenthub.PutResourceRequest{
		ProjectID:    projectID,
		ResourceID:   resourceID,
		Caller:       caller,
		Name:         optString(args, "name"),
		Description:  optString(args, "description"),
		MimeType:     optString(args, "mime_type"),
		Etag:         optString(args, "etag"),
		ExternalPath: optString(args, "external_path"),
		Metadata:     optStringMap(args, "metadata"),
	}
	if content := optString(args, "content"); content != "" {
		put.Content = []byte(content)
	}
	_, hasRead := args["read_members"]
	_, hasWrite := args["write_members"]
	if hasRead || hasWrite {
		put.Permissions = &agenthub.Permissions{
			Read:  optStrings(args, "read_members"),
			Write: optStrings(args, "write_members"),
		}
	}

	resource, err := h.store.PutResource(put)
	if err != nil {
		return toolError(h.logger, "resource.put", err), nil
	}
	return toolJSON(resource), nil
}

func (h *ResourceHandler) handleGetResource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resourceID, err := req.RequireString("resource_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	caller, err := req.RequireString("caller")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := req.GetArguments()
	wait, timeout := waitTimeout(args)

	var (
		resource agenthub.Resource
		payload  []byte
	)
	if wait {
		var ok bool
		resource, payload, ok, err = h.store.AwaitResource(ctx, projectID, resourceID, caller, timeout)
		if err != nil {
			return toolError(h.logger, "resource.get_wait", err), nil
		}
		if !ok {
			return toolJSON(map[string]any{"found": false}), nil
		}
	} else {
		resource, payload, err = h.store.GetResource(projectID, resourceID, caller)
		if err != nil {
			return toolError(h.logger, "resource.get", err), nil
		}
	}
	return toolJSON(resourceWithPayload(resource, payload)), nil
}

// resourceWithPayload attaches the payload to the manifest view, as text
// when it is valid UTF-8 and base64 otherwise.
func resourceWithPayload(resource agenthub.Resource, payload []byte) map[string]any {
	out := map[string]any{"resource": resource}
	if payload == nil {
		return out
	}
	if isText(payload) {
		out["content"] = string(payload)
	} else {
		out["contentBase64"] = base64.StdEncoding.EncodeToString(payload)
	}
	return out
}

func isText(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, c := range b {
		if c == 0 {
			return false
		}
	}
	return true
}

func (h *ResourceHandler) handleListResources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	caller, err := req.RequireString("caller")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resources, err := h.store.ListResources(projectID, caller)
	if err != nil {
		return toolError(h.logger, "resource.list", err), nil
	}
	return toolJSON(map[string]any{"resources": resources}), nil
}

func (h *ResourceHandler) handleDeleteResource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resourceID, err := req.RequireString("resource_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	caller, err := req.RequireString("caller")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.store.DeleteResource(projectID, resourceID, caller); err != nil {
		return toolError(h.logger, "resource.delete", err), nil
	}
	return toolJSON(map[string]any{"deleted": true, "resourceId": resourceID}), nil
}
