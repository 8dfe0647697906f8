package synctools

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/chatsync/internal/chat"
	"github.com/HendryAvila/chatsync/internal/commands"
	"github.com/HendryAvila/chatsync/internal/sweep"
)

// SendTool handles the chat_send MCP tool.
type SendTool struct {
	messages    *commands.MessageCommands
	defaultUser string
}

// NewSendTool creates a SendTool. defaultUser is the sender when none is given.
func NewSendTool(messages *commands.MessageCommands, defaultUser string) *SendTool {
	return &SendTool{messages: messages, defaultUser: defaultUser}
}

// Definition returns the MCP tool definition for chat_send.
func (t *SendTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_send",
		mcp.WithDescription(
			"Send a text message. The message is stored locally first and then submitted; "+
				"if the remote store is unreachable it is kept as failed for chat_retry.",
		),
		mcp.WithString("conversation_id",
			mcp.Required(),
			mcp.Description("Conversation to send to"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Message text"),
		),
		mcp.WithString("sender_id",
			mcp.Description("Sending user (default: the configured user)"),
		),
	)
}

// Handle processes the chat_send tool call.
func (t *SendTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	convID := req.GetString("conversation_id", "")
	text := req.GetString("text", "")
	if convID == "" {
		return mcp.NewToolResultError("'conversation_id' is required"), nil
	}
	if text == "" {
		return mcp.NewToolResultError("'text' is required"), nil
	}
	sender := userArg(req, "sender_id", t.defaultUser)
	if sender == "" {
		return mcp.NewToolResultError("'sender_id' is required when no default user is configured"), nil
	}

	msg, err := t.messages.Send(ctx, commands.SendRequest{ConversationID: convID, SenderID: sender, Text: text})
	if err != nil {
		if msg != nil {
			return mcp.NewToolResultError(fmt.Sprintf(
				"Message saved locally as %s but not delivered [%s]: %v\nLocal ID: %s",
				msg.SyncStatus, chat.Classify(err), err, msg.LocalID)), nil
		}
		return failure("send", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Message sent.\nID: %s\nLocal ID: %s\nStatus: %s/%s",
		msg.ID, msg.LocalID, msg.Status, msg.SyncStatus)), nil
}

// ─── SendMediaTool ──────────────────────────────────────────────────────────

// SendMediaTool handles the chat_send_media MCP tool.
type SendMediaTool struct {
	messages    *commands.MessageCommands
	defaultUser string
}

// NewSendMediaTool creates a SendMediaTool.
func NewSendMediaTool(messages *commands.MessageCommands, defaultUser string) *SendMediaTool {
	return &SendMediaTool{messages: messages, defaultUser: defaultUser}
}

// Definition returns the MCP tool definition for chat_send_media.
func (t *SendMediaTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_send_media",
		mcp.WithDescription(
			"Send an image or file read from a local path. The attachment is uploaded before the message is submitted.",
		),
		mcp.WithString("conversation_id",
			mcp.Required(),
			mcp.Description("Conversation to send to"),
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path of the file to attach"),
		),
		mcp.WithString("caption",
			mcp.Description("Optional caption"),
		),
		mcp.WithString("sender_id",
			mcp.Description("Sending user (default: the configured user)"),
		),
	)
}

// Handle processes the chat_send_media tool call.
func (t *SendMediaTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	convID := req.GetString("conversation_id", "")
	path := req.GetString("path", "")
	if convID == "" || path == "" {
		return mcp.NewToolResultError("'conversation_id' and 'path' are required"), nil
	}
	sender := userArg(req, "sender_id", t.defaultUser)
	if sender == "" {
		return mcp.NewToolResultError("'sender_id' is required when no default user is configured"), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot read attachment: %v", err)), nil
	}
	mimeType := http.DetectContentType(data)
	typ := chat.ContentFile
	if strings.HasPrefix(mimeType, "image/") {
		typ = chat.ContentImage
	}

	msg, err := t.messages.SendMedia(ctx, commands.MediaRequest{
		ConversationID: convID,
		SenderID:       sender,
		Type:           typ,
		Caption:        req.GetString("caption", ""),
		FileName:       filepath.Base(path),
		MIMEType:       mimeType,
		Data:           data,
		PreviewURL:     "file://" + path,
	})
	if err != nil {
		if msg != nil {
			return mcp.NewToolResultError(fmt.Sprintf(
				"Attachment saved locally as %s but not delivered [%s]: %v\nLocal ID: %s",
				msg.SyncStatus, chat.Classify(err), err, msg.LocalID)), nil
		}
		return failure("send media", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s sent (%s).\nID: %s\nURL: %s",
		typ, humanize.Bytes(uint64(len(data))), msg.ID, msg.Content.MediaURL)), nil
}

// ─── RetryTool ──────────────────────────────────────────────────────────────

// RetryTool handles the chat_retry MCP tool.
type RetryTool struct {
	messages *commands.MessageCommands
	sweeper  *sweep.Sweeper
}

// NewRetryTool creates a RetryTool.
func NewRetryTool(messages *commands.MessageCommands, sweeper *sweep.Sweeper) *RetryTool {
	return &RetryTool{messages: messages, sweeper: sweeper}
}

// Definition returns the MCP tool definition for chat_retry.
func (t *RetryTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_retry",
		mcp.WithDescription(
			"Resubmit unsynced messages. With message_id, resends that message; "+
				"without it, runs a sweep over every pending message (and failed ones if configured).",
		),
		mcp.WithString("message_id",
			mcp.Description("Local or canonical id of a single message to resend"),
		),
	)
}

// Handle processes the chat_retry tool call.
func (t *RetryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if key := req.GetString("message_id", ""); key != "" {
		msg, err := t.messages.Resend(ctx, key)
		if err != nil {
			return failure("retry", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Message resent.\nID: %s\nLocal ID: %s", msg.ID, msg.LocalID)), nil
	}

	report, err := t.sweeper.Run(ctx)
	if err != nil {
		return failure("retry sweep", err), nil
	}
	text := fmt.Sprintf("## Retry Sweep\n\n- **Attempted**: %d\n- **Synced**: %d\n- **Failed**: %d\n- **Skipped**: %d\n",
		report.Attempted, report.Synced, report.Failed, report.Skipped)
	for _, it := range report.Items {
		if it.Result != sweep.ResultSynced {
			text += fmt.Sprintf("- `%s` %s [%s]: %s\n", it.LocalID, it.Result, it.Kind, it.Error)
		}
	}
	return mcp.NewToolResultText(text), nil
}
