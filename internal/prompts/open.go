package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// OpenPrompt handles the chat-open MCP prompt.
// It opens the direct conversation with a contact and shows recent history.
type OpenPrompt struct{}

// NewOpenPrompt creates an OpenPrompt.
func NewOpenPrompt() *OpenPrompt {
	return &OpenPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *OpenPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("chat-open",
		mcp.WithPromptDescription(
			"Open the conversation with a contact and show the latest messages, "+
				"optionally sending a first message.",
		),
		mcp.WithArgument("contact",
			mcp.ArgumentDescription("User id or email of the person to talk to"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("message",
			mcp.ArgumentDescription("Optional message to send once the conversation is open"),
		),
	)
}

// Handle processes the chat-open prompt request.
func (p *OpenPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	contact := req.Params.Arguments["contact"]
	if contact == "" {
		return nil, fmt.Errorf("'contact' argument is required")
	}

	text := fmt.Sprintf(
		"Open my conversation with '%s'.\n\n"+
			"Please:\n"+
			"1. Run `chat_find_or_create` with contact='%s'\n"+
			"2. Run `chat_messages` with the returned conversation id and limit=20\n"+
			"3. Show the messages oldest first, marking any that are not synced\n"+
			"4. Run `chat_mark_seen` for the conversation",
		contact, contact,
	)
	if msg := req.Params.Arguments["message"]; msg != "" {
		text += fmt.Sprintf("\n5. Send this message with `chat_send`: %q\n"+
			"   If it fails, tell me it was kept locally and can be retried", msg)
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Open conversation with %s", contact),
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(text),
			},
		},
	}, nil
}
