package synctools

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/chatsync/internal/localstore"
	"github.com/HendryAvila/chatsync/internal/sweep"
)

// RetentionTool handles the chat_retention_sweep MCP tool.
type RetentionTool struct {
	retention *sweep.Retention
}

// NewRetentionTool creates a RetentionTool.
func NewRetentionTool(retention *sweep.Retention) *RetentionTool {
	return &RetentionTool{retention: retention}
}

// Definition returns the MCP tool definition for chat_retention_sweep.
func (t *RetentionTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_retention_sweep",
		mcp.WithDescription(
			"Permanently delete local messages older than the retention window, regardless of their sync state.",
		),
	)
}

// Handle processes the chat_retention_sweep tool call.
func (t *RetentionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := t.retention.RunOnce(ctx)
	if err != nil {
		return failure("retention sweep", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted %s messages older than %d days.",
		humanize.Comma(n), t.retention.MaxAgeDays())), nil
}

// ─── StatsTool ──────────────────────────────────────────────────────────────

// StatsTool handles the chat_stats MCP tool.
type StatsTool struct {
	store *localstore.Store
}

// NewStatsTool creates a StatsTool with the given local store.
func NewStatsTool(store *localstore.Store) *StatsTool {
	return &StatsTool{store: store}
}

// Definition returns the MCP tool definition for chat_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_stats",
		mcp.WithDescription("Show local store statistics: users, conversations and messages by sync state."),
	)
}

// Handle processes the chat_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.store.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get stats: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("## Sync Statistics\n\n")
	sb.WriteString(fmt.Sprintf("- **Users**: %s\n", humanize.Comma(int64(stats.Users))))
	sb.WriteString(fmt.Sprintf("- **Conversations**: %s\n", humanize.Comma(int64(stats.Conversations))))
	sb.WriteString(fmt.Sprintf("- **Messages**: %s\n", humanize.Comma(int64(stats.Messages))))
	sb.WriteString(fmt.Sprintf("  - synced: %d, pending: %d, failed: %d\n", stats.Synced, stats.Pending, stats.Failed))
	sb.WriteString(fmt.Sprintf("- **Soft-deleted**: %d\n", stats.SoftDeleted))
	sb.WriteString(fmt.Sprintf("- **Database**: %s\n", t.store.Path()))
	return mcp.NewToolResultText(sb.String()), nil
}
