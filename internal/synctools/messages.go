package synctools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/chatsync/internal/chat"
	"github.com/HendryAvila/chatsync/internal/commands"
	"github.com/HendryAvila/chatsync/internal/localstore"
	"github.com/HendryAvila/chatsync/internal/receipts"
)

// MessagesTool handles the chat_messages MCP tool.
type MessagesTool struct {
	messages    *commands.MessageCommands
	store       *localstore.Store
	defaultUser string
}

// NewMessagesTool creates a MessagesTool.
func NewMessagesTool(messages *commands.MessageCommands, store *localstore.Store, defaultUser string) *MessagesTool {
	return &MessagesTool{messages: messages, store: store, defaultUser: defaultUser}
}

// Definition returns the MCP tool definition for chat_messages.
func (t *MessagesTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_messages",
		mcp.WithDescription(
			"List messages of a conversation, oldest first, including ones still in flight. "+
				"Each message shows its delivery and sync status and who has read it.",
		),
		mcp.WithString("conversation_id",
			mcp.Required(),
			mcp.Description("Conversation to read"),
		),
		mcp.WithString("viewer_id",
			mcp.Description("User whose deletions are hidden (default: the configured user)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Page size (default: 50)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Messages to skip (default: 0)"),
		),
		mcp.WithBoolean("include_deleted",
			mcp.Description("Also show messages the viewer deleted"),
		),
	)
}

// Handle processes the chat_messages tool call.
func (t *MessagesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	convID := req.GetString("conversation_id", "")
	if convID == "" {
		return mcp.NewToolResultError("'conversation_id' is required"), nil
	}
	conv, err := t.store.GetConversation(ctx, convID)
	if err != nil {
		return failure("list messages", err), nil
	}

	viewer := userArg(req, "viewer_id", t.defaultUser)
	msgs, err := t.messages.List(ctx, convID, commands.ListOptions{
		Viewer:         viewer,
		IncludeDeleted: boolArg(req, "include_deleted", false),
		Limit:          intArg(req, "limit", 0),
		Offset:         intArg(req, "offset", 0),
	})
	if err != nil {
		return failure("list messages", err), nil
	}
	if len(msgs) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No messages in %s.", convID)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Messages in %s (%d)\n\n", convID, len(msgs))
	for _, a := range receipts.Annotate(*conv, msgs) {
		formatMessage(&sb, a.Message)
		switch {
		case a.ReadByAll:
			sb.WriteString("  read by everyone\n")
		case len(a.ReadByUsers) > 0:
			fmt.Fprintf(&sb, "  read by: %s\n", strings.Join(a.ReadByUsers, ", "))
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── PendingTool ────────────────────────────────────────────────────────────

// PendingTool handles the chat_pending MCP tool.
type PendingTool struct {
	store *localstore.Store
}

// NewPendingTool creates a PendingTool.
func NewPendingTool(store *localstore.Store) *PendingTool {
	return &PendingTool{store: store}
}

// Definition returns the MCP tool definition for chat_pending.
func (t *PendingTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_pending",
		mcp.WithDescription("List messages not yet confirmed by the remote store."),
		mcp.WithBoolean("include_failed",
			mcp.Description("Also list messages whose last attempt failed (default: true)"),
		),
	)
}

// Handle processes the chat_pending tool call.
func (t *PendingTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pending, err := t.store.GetPendingMessages(ctx)
	if err != nil {
		return failure("list pending", err), nil
	}
	var failed []chat.Message
	if boolArg(req, "include_failed", true) {
		failed, err = t.store.GetFailedMessages(ctx)
		if err != nil {
			return failure("list failed", err), nil
		}
	}
	if len(pending)+len(failed) == 0 {
		return mcp.NewToolResultText("Everything is synced."), nil
	}

	var sb strings.Builder
	if len(pending) > 0 {
		fmt.Fprintf(&sb, "## Pending (%d)\n\n", len(pending))
		for _, m := range pending {
			formatMessage(&sb, m)
		}
	}
	if len(failed) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "## Failed (%d)\n\n", len(failed))
		for _, m := range failed {
			formatMessage(&sb, m)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── DeleteTool ─────────────────────────────────────────────────────────────

// DeleteTool handles the chat_delete MCP tool.
type DeleteTool struct {
	messages    *commands.MessageCommands
	defaultUser string
}

// NewDeleteTool creates a DeleteTool.
func NewDeleteTool(messages *commands.MessageCommands, defaultUser string) *DeleteTool {
	return &DeleteTool{messages: messages, defaultUser: defaultUser}
}

// Definition returns the MCP tool definition for chat_delete.
func (t *DeleteTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_delete",
		mcp.WithDescription("Delete a message for one user only. Other participants still see it."),
		mcp.WithString("message_id",
			mcp.Required(),
			mcp.Description("Local or canonical message id"),
		),
		mcp.WithString("user_id",
			mcp.Description("User deleting the message (default: the configured user)"),
		),
	)
}

// Handle processes the chat_delete tool call.
func (t *DeleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("message_id", "")
	if key == "" {
		return mcp.NewToolResultError("'message_id' is required"), nil
	}
	user := userArg(req, "user_id", t.defaultUser)
	msg, err := t.messages.DeleteForUser(ctx, key, user)
	if err != nil && msg == nil {
		return failure("delete", err), nil
	}
	text := fmt.Sprintf("Message %s deleted for %s.", msg.ID, user)
	if err != nil {
		text += fmt.Sprintf("\nWarning: remote store not updated [%s]: %v", chat.Classify(err), err)
	}
	return mcp.NewToolResultText(text), nil
}

// ─── MarkReadTool ───────────────────────────────────────────────────────────

// MarkReadTool handles the chat_mark_read MCP tool.
type MarkReadTool struct {
	messages    *commands.MessageCommands
	defaultUser string
}

// NewMarkReadTool creates a MarkReadTool.
func NewMarkReadTool(messages *commands.MessageCommands, defaultUser string) *MarkReadTool {
	return &MarkReadTool{messages: messages, defaultUser: defaultUser}
}

// Definition returns the MCP tool definition for chat_mark_read.
func (t *MarkReadTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_mark_read",
		mcp.WithDescription("Record that a user read a message. Status never moves backwards."),
		mcp.WithString("message_id",
			mcp.Required(),
			mcp.Description("Local or canonical message id"),
		),
		mcp.WithString("user_id",
			mcp.Description("Reader (default: the configured user)"),
		),
	)
}

// Handle processes the chat_mark_read tool call.
func (t *MarkReadTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("message_id", "")
	if key == "" {
		return mcp.NewToolResultError("'message_id' is required"), nil
	}
	user := userArg(req, "user_id", t.defaultUser)
	msg, err := t.messages.MarkRead(ctx, key, user)
	if err != nil && msg == nil {
		return failure("mark read", err), nil
	}
	text := fmt.Sprintf("Message %s marked read by %s (status: %s).", msg.ID, user, msg.Status)
	if err != nil {
		text += fmt.Sprintf("\nWarning: remote store not updated [%s]: %v", chat.Classify(err), err)
	}
	return mcp.NewToolResultText(text), nil
}

// ─── MarkSeenTool ───────────────────────────────────────────────────────────

// MarkSeenTool handles the chat_mark_seen MCP tool.
type MarkSeenTool struct {
	messages    *commands.MessageCommands
	defaultUser string
}

// NewMarkSeenTool creates a MarkSeenTool.
func NewMarkSeenTool(messages *commands.MessageCommands, defaultUser string) *MarkSeenTool {
	return &MarkSeenTool{messages: messages, defaultUser: defaultUser}
}

// Definition returns the MCP tool definition for chat_mark_seen.
func (t *MarkSeenTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_mark_seen",
		mcp.WithDescription("Mark a whole conversation as seen by a user and reset their unread count."),
		mcp.WithString("conversation_id",
			mcp.Required(),
			mcp.Description("Conversation id"),
		),
		mcp.WithString("user_id",
			mcp.Description("Viewer (default: the configured user)"),
		),
	)
}

// Handle processes the chat_mark_seen tool call.
func (t *MarkSeenTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	convID := req.GetString("conversation_id", "")
	if convID == "" {
		return mcp.NewToolResultError("'conversation_id' is required"), nil
	}
	user := userArg(req, "user_id", t.defaultUser)
	conv, err := t.messages.MarkConversationSeen(ctx, convID, user)
	if err != nil && conv == nil {
		return failure("mark seen", err), nil
	}
	text := fmt.Sprintf("Conversation %s marked seen by %s.", convID, user)
	if err != nil {
		text += fmt.Sprintf("\nWarning: remote store not updated [%s]: %v", chat.Classify(err), err)
	}
	return mcp.NewToolResultText(text), nil
}
