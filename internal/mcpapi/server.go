// Package mcpapi exposes the engine's operations as MCP tools. It is thin
// routing: argument extraction, one engine call, JSON result. The four
// engine error kinds pass through as structured tool errors; anything else
// is sanitized.
package mcpapi

import (
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/agenthub/internal/agenthub"
)

type toolRegisterer interface {
	RegisterTools(s *server.MCPServer)
}

// NewServer builds the MCP server with every tool family registered.
// clientID is the ambient identity of the connected agent process; member
// joins and session lookups fall back to it when the call omits one.
func NewServer(store *agenthub.Store, logger zerolog.Logger, name, version, clientID string) *server.MCPServer {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(true))
	handlers := []toolRegisterer{
		&ProjectHandler{store: store, logger: logger.With().Str("component", "mcpapi.project").Logger()},
		&MemberHandler{store: store, logger: logger.With().Str("component", "mcpapi.member").Logger(), clientID: clientID},
		&MessageHandler{store: store, logger: logger.With().Str("component", "mcpapi.message").Logger()},
		&ResourceHandler{store: store, logger: logger.With().Str("component", "mcpapi.resource").Logger()},
		&ClientHandler{store: store, logger: logger.With().Str("component", "mcpapi.client").Logger(), clientID: clientID},
	}
	for _, h := range handlers {
		h.RegisterTools(s)
	}
	return s
}

// toolError renders an engine failure as a tool result. Caller-facing kinds
// keep their code and details; system faults are logged and reduced to a
// generic message so internal paths never leak.
func toolError(logger zerolog.Logger, op string, err error) *mcp.CallToolResult {
	if e, ok := agenthub.CallerError(err); ok {
		payload := map[string]any{
			"kind":    string(e.Kind),
			"code":    e.Code,
			"message": e.Message,
		}
		if len(e.Details) > 0 {
			payload["details"] = e.Details
		}
		b, _ := json.Marshal(payload)
		return mcp.NewToolResultError(string(b))
	}
	logger.Error().Err(err).Str("op", op).Msg("engine operation failed")
	return mcp.NewToolResultError(`{"kind":"fault","message":"internal error"}`)
}

func toolJSON(v any) *mcp.CallToolResult {
	b, _ := json.Marshal(v)
	return mcp.NewToolResultText(string(b))
}

func optString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func optBool(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func optInt(args map[string]any, key string) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return 0
}

func optStrings(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func optStringMap(args map[string]any, key string) map[string]string {
	raw, ok := args[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func waitTimeout(args map[string]any) (bool, time.Duration) {
	wait := optBool(args, "wait")
	var timeout time.Duration
	if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}
	return wait, timeout
}
