package synctools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/chatsync/internal/commands"
)

// FindOrCreateTool handles the chat_find_or_create MCP tool.
type FindOrCreateTool struct {
	convs       *commands.ConversationCommands
	defaultUser string
}

// NewFindOrCreateTool creates a FindOrCreateTool.
func NewFindOrCreateTool(convs *commands.ConversationCommands, defaultUser string) *FindOrCreateTool {
	return &FindOrCreateTool{convs: convs, defaultUser: defaultUser}
}

// Definition returns the MCP tool definition for chat_find_or_create.
func (t *FindOrCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_find_or_create",
		mcp.WithDescription(
			"Open the direct conversation with a contact, creating it if needed. "+
				"The contact can be a user id or an email address.",
		),
		mcp.WithString("contact",
			mcp.Required(),
			mcp.Description("User id or email of the other participant"),
		),
		mcp.WithString("user_id",
			mcp.Description("Current user (default: the configured user)"),
		),
	)
}

// Handle processes the chat_find_or_create tool call.
func (t *FindOrCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	contact := req.GetString("contact", "")
	if contact == "" {
		return mcp.NewToolResultError("'contact' is required"), nil
	}
	conv, err := t.convs.FindOrCreate(ctx, userArg(req, "user_id", t.defaultUser), contact)
	if err != nil {
		return failure("find or create conversation", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Conversation ready.\nID: %s\nParticipants: %s",
		conv.ID, strings.Join(conv.Participants, ", "))), nil
}

// ─── CreateGroupTool ────────────────────────────────────────────────────────

// CreateGroupTool handles the chat_create_group MCP tool.
type CreateGroupTool struct {
	convs       *commands.ConversationCommands
	defaultUser string
}

// NewCreateGroupTool creates a CreateGroupTool.
func NewCreateGroupTool(convs *commands.ConversationCommands, defaultUser string) *CreateGroupTool {
	return &CreateGroupTool{convs: convs, defaultUser: defaultUser}
}

// Definition returns the MCP tool definition for chat_create_group.
func (t *CreateGroupTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_create_group",
		mcp.WithDescription("Create a group conversation. Groups have 3 to 20 members including the creator."),
		mcp.WithArray("participants",
			mcp.Required(),
			mcp.Description("User ids to add besides the creator"),
			mcp.WithStringItems(),
		),
		mcp.WithString("name",
			mcp.Description("Group name"),
		),
		mcp.WithString("user_id",
			mcp.Description("Creator (default: the configured user)"),
		),
	)
}

// Handle processes the chat_create_group tool call.
func (t *CreateGroupTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	participants := listArg(req, "participants")
	if len(participants) == 0 {
		return mcp.NewToolResultError("'participants' is required"), nil
	}
	conv, err := t.convs.CreateGroup(ctx, userArg(req, "user_id", t.defaultUser), participants, req.GetString("name", ""))
	if err != nil {
		return failure("create group", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Group created.\nID: %s\nName: %s\nMembers (%d): %s",
		conv.ID, conv.Name, len(conv.Participants), strings.Join(conv.Participants, ", "))), nil
}

// ─── ConversationsTool ──────────────────────────────────────────────────────

// ConversationsTool handles the chat_conversations MCP tool.
type ConversationsTool struct {
	convs       *commands.ConversationCommands
	defaultUser string
}

// NewConversationsTool creates a ConversationsTool.
func NewConversationsTool(convs *commands.ConversationCommands, defaultUser string) *ConversationsTool {
	return &ConversationsTool{convs: convs, defaultUser: defaultUser}
}

// Definition returns the MCP tool definition for chat_conversations.
func (t *ConversationsTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_conversations",
		mcp.WithDescription("List a user's conversations, most recently active first."),
		mcp.WithString("user_id",
			mcp.Description("User (default: the configured user)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum conversations to return (default: all)"),
		),
	)
}

// Handle processes the chat_conversations tool call.
func (t *ConversationsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user := userArg(req, "user_id", t.defaultUser)
	if user == "" {
		return mcp.NewToolResultError("'user_id' is required when no default user is configured"), nil
	}
	convs, err := t.convs.List(ctx, user, intArg(req, "limit", 0))
	if err != nil {
		return failure("list conversations", err), nil
	}
	if len(convs) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No conversations for %s.", user)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Conversations for %s (%d)\n\n", user, len(convs))
	for _, c := range convs {
		formatConversation(&sb, c, user)
	}
	return mcp.NewToolResultText(sb.String()), nil
}
