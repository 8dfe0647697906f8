// Package synctools provides MCP tool handlers that drive the sync pipeline.
//
// Each tool follows the same pattern:
// - A struct with its dependencies injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// Failures are reported as tool errors carrying the failure kind, never as
// Go errors, so the client can show them and decide whether to retry.
package synctools

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/chatsync/internal/chat"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// listArg accepts either a JSON array of strings or a comma-separated string.
func listArg(req mcp.CallToolRequest, key string) []string {
	var out []string
	switch v := req.GetArguments()[key].(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// failure renders err as a tool error that names its kind.
func failure(action string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s failed [%s]: %v", action, chat.Classify(err), err))
}

// userArg resolves the acting user, falling back to the configured default.
func userArg(req mcp.CallToolRequest, key, fallback string) string {
	if v := strings.TrimSpace(req.GetString(key, "")); v != "" {
		return v
	}
	return fallback
}

func formatMessage(sb *strings.Builder, m chat.Message) {
	body := m.Content.Text
	if m.Content.Type != chat.ContentText && m.Content.Type != "" {
		body = strings.TrimSpace(fmt.Sprintf("[%s] %s %s", m.Content.Type, m.Content.MediaURL, body))
	}
	fmt.Fprintf(sb, "- `%s` **%s**: %s _(%s, %s, %s)_\n",
		m.ID, m.SenderID, body, m.Status, m.SyncStatus, humanize.Time(m.Timestamp))
}

func formatConversation(sb *strings.Builder, c chat.Conversation, viewer string) {
	title := c.Name
	if title == "" {
		title = strings.Join(c.Participants, ", ")
	}
	fmt.Fprintf(sb, "- `%s` %s (%s", c.ID, title, c.Type)
	if n := c.UnreadCount[viewer]; n > 0 {
		fmt.Fprintf(sb, ", %d unread", n)
	}
	fmt.Fprintf(sb, ", active %s)\n", humanize.Time(c.LastActivity))
	if c.LastMessage != nil {
		fmt.Fprintf(sb, "  last: %s: %s\n", c.LastMessage.SenderID, c.LastMessage.Text)
	}
}
