package mcpapi

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/agenthub/internal/agenthub"
)

// MessageHandler covers the inbox tools.
type MessageHandler struct {
	store  *agenthub.Store
	logger zerolog.Logger
}

func (h *MessageHandler) RegisterTools(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a message to one member, or broadcast to every other member"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("sender", mcp.Required(), mcp.Description("Sending member's name")),
		mcp.WithString("recipient", mcp.Description("Target member; mutually exclusive with broadcast")),
		mcp.WithBoolean("broadcast", mcp.Description("Deliver to every member except the sender")),
		mcp.WithString("payload", mcp.Required(), mcp.Description("Message body")),
		mcp.WithBoolean("reply_expected", mcp.Description("Hint that the sender wants an answer")),
		mcp.WithString("priority", mcp.Description("Optional priority label carried verbatim")),
		mcp.WithString("trace_id", mcp.Description("Optional correlation id carried verbatim")),
	), h.handleSend)

	s.AddTool(mcp.NewTool("receive_messages",
		mcp.WithDescription("Consume pending inbox messages in arrival order; each message is delivered exactly once"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("member_name", mcp.Required(), mcp.Description("Receiving member's name")),
		mcp.WithNumber("offset", mcp.Description("Skip this many pending messages")),
		mcp.WithNumber("limit", mcp.Description("Maximum messages to return; default 100")),
		mcp.WithBoolean("wait", mcp.Description("Block until a message arrives or the timeout elapses")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Maximum seconds to wait; capped by server config")),
	), h.handleReceive)

	s.AddTool(mcp.NewTool("acknowledge_message",
		mcp.WithDescription("Archive one pending message by id; acknowledging twice is not an error"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("member_name", mcp.Required(), mcp.Description("Member whose inbox holds the message")),
		mcp.WithString("message_id", mcp.Required(), mcp.Description("Message identifier")),
	), h.handleAcknowledge)
}

func (h *MessageHandler) handleSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sender, err := req.RequireString("sender")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload, err := req.RequireString("payload")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := req.GetArguments()
	result, err := h.store.Send(agenthub.SendRequest{
		ProjectID:     projectID,
		Sender:        sender,
		Recipient:     optString(args, "recipient"),
		Broadcast:     optBool(args, "broadcast"),
		ReplyExpected: optBool(args, "reply_expected"),
		Payload:       payload,
		Priority:      optString(args, "priority"),
		TraceID:       optString(args, "trace_id"),
	})
	if err != nil {
		return toolError(h.logger, "message.send", err), nil
	}
	return toolJSON(result), nil
}

func (h *MessageHandler) handleReceive(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	member, err := req.RequireString("member_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := req.GetArguments()
	receiveReq := agenthub.ReceiveRequest{
		ProjectID: projectID,
		Member:    member,
		Offset:    optInt(args, "offset"),
		Limit:     optInt(args, "limit"),
	}
	wait, timeout := waitTimeout(args)
	if wait {
		messages, ok, err := h.store.AwaitMessages(ctx, receiveReq, timeout)
		if err != nil {
			return toolError(h.logger, "message.receive_wait", err), nil
		}
		if !ok {
			return toolJSON(map[string]any{"messages": []agenthub.Message{}, "timedOut": true}), nil
		}
		return toolJSON(map[string]any{"messages": messages}), nil
	}
	messages, err := h.store.Receive(receiveReq)
	if err != nil {
		return toolError(h.logger, "message.receive", err), nil
	}
	return toolJSON(map[string]any{"messages": messages}), nil
}

func (h *MessageHandler) handleAcknowledge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	member, err := req.RequireString("member_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	messageID, err := req.RequireString("message_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.store.Acknowledge(projectID, member, messageID); err != nil {
		return toolError(h.logger, "message.acknowledge", err), nil
	}
	return toolJSON(map[string]any{"acknowledged": true, "messageId": messageID}), nil
}
