// Package prompts implements MCP prompt handlers for the sync engine.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the sync-status MCP prompt.
// It instructs the AI to report what is still waiting to be synced.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("sync-status",
		mcp.WithPromptDescription(
			"Check what is waiting to be synced. "+
				"Shows store counters, pending and failed messages, "+
				"and offers to retry them.",
		),
	)
}

// Handle processes the sync-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Chat Sync Status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `chat_stats` and then `chat_pending` to check the sync state.\n\n" +
						"Then:\n" +
						"1. Summarize how many messages are synced, pending and failed\n" +
						"2. List the failed messages with their conversation and text\n" +
						"3. If anything is pending or failed, ask whether to run `chat_retry`\n" +
						"4. Never retry without asking: a retry may deliver a message the sender gave up on",
				),
			},
		},
	}, nil
}
