// Package resources implements MCP resource handlers for the sync engine.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (chatsync://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/chatsync/internal/cache"
	"github.com/HendryAvila/chatsync/internal/localstore"
)

// StatusURI addresses the sync status resource.
const StatusURI = "chatsync://sync/status"

// StatsSource reports local store counters.
type StatsSource interface {
	Stats(ctx context.Context) (*localstore.Stats, error)
	Path() string
}

// Handler manages sync resource endpoints.
type Handler struct {
	store    StatsSource
	realtime func() string
	recent   *cache.Recorder
}

// NewHandler creates a resource Handler. realtime reports the event feed
// state and recent holds the latest invalidated keys; both may be nil.
func NewHandler(store StatsSource, realtime func() string, recent *cache.Recorder) *Handler {
	return &Handler{store: store, realtime: realtime, recent: recent}
}

// Status is the JSON body of the status resource.
type Status struct {
	Database      string            `json:"database"`
	Realtime      string            `json:"realtime"`
	Stats         *localstore.Stats `json:"stats"`
	Invalidations []cache.Key       `json:"recentInvalidations,omitempty"`
}

// StatusResource returns the MCP resource definition for sync status.
func (h *Handler) StatusResource() mcp.Resource {
	return mcp.NewResource(
		StatusURI,
		"Chat Sync Status",
		mcp.WithResourceDescription("Local store counters by sync state and the realtime feed connection state"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStatus returns the current sync status as JSON.
func (h *Handler) HandleStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	stats, err := h.store.Stats(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	st := Status{Database: h.store.Path(), Realtime: "disabled", Stats: stats}
	if h.realtime != nil {
		st.Realtime = h.realtime()
	}
	if h.recent != nil {
		st.Invalidations = h.recent.Keys()
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling status: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
