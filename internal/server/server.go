// Package server wires all sync components and creates the MCP server.
//
// This is the composition root: it creates concrete implementations
// and injects them into the commands, tools, prompts and resources that
// depend on abstractions. No business logic lives here, only wiring.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/HendryAvila/chatsync/internal/cache"
	"github.com/HendryAvila/chatsync/internal/commands"
	"github.com/HendryAvila/chatsync/internal/config"
	"github.com/HendryAvila/chatsync/internal/localstore"
	"github.com/HendryAvila/chatsync/internal/media"
	"github.com/HendryAvila/chatsync/internal/metrics"
	"github.com/HendryAvila/chatsync/internal/optimistic"
	"github.com/HendryAvila/chatsync/internal/prompts"
	"github.com/HendryAvila/chatsync/internal/realtime"
	"github.com/HendryAvila/chatsync/internal/remote"
	"github.com/HendryAvila/chatsync/internal/resources"
	"github.com/HendryAvila/chatsync/internal/sweep"
	"github.com/HendryAvila/chatsync/internal/synctools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// recentInvalidations bounds the keys kept for the status resource.
const recentInvalidations = 50

// App holds every wired component. Close must be called on shutdown.
type App struct {
	Config        *config.Config
	Logger        zerolog.Logger
	MCP           *server.MCPServer
	Store         *localstore.Store
	Remote        remote.Client
	Optimistic    *optimistic.Store
	Messages      *commands.MessageCommands
	Conversations *commands.ConversationCommands
	Sweeper       *sweep.Sweeper
	Retention     *sweep.Retention
	Listener      *realtime.Listener
	Invalidations *cache.Recorder
	Registry      *prometheus.Registry
	Metrics       *metrics.Metrics

	redis   *cache.RedisPublisher
	closers []func() error
}

// New resolves every dependency from cfg. Optional subsystems (S3 media,
// Redis fan-out, the realtime feed) are only built when configured. On
// error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (app *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// --- Metrics ---

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	// --- Local store ---

	a.Store, err = localstore.New(localstore.Config{
		DataDir:         cfg.DataDir,
		DefaultPageSize: cfg.Chat.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)

	// --- Remote store ---

	a.Remote, err = a.newRemote(ctx)
	if err != nil {
		return nil, err
	}

	// --- Cache invalidation ---

	a.Invalidations = cache.NewRecorder(recentInvalidations)
	invalidator := cache.Multi{a.Invalidations}
	if cfg.Cache.RedisURL != "" {
		a.redis, err = cache.NewRedisPublisher(ctx, cfg.Cache.RedisURL, cfg.Cache.Channel)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, a.redis.Close)
		invalidator = append(invalidator, a.redis)
	}

	// --- Media ---

	var uploader media.Uploader
	if cfg.Media.Bucket != "" {
		uploader, err = media.NewS3Uploader(ctx, media.S3Config{
			Bucket:          cfg.Media.Bucket,
			Region:          cfg.Media.Region,
			AccessKeyID:     cfg.Media.AccessKeyID,
			SecretAccessKey: cfg.Media.SecretAccessKey,
			PublicBaseURL:   cfg.Media.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("creating media uploader: %w", err)
		}
	}

	// --- Commands ---

	a.Optimistic = optimistic.New(logger)
	a.Messages, err = commands.NewMessageCommands(commands.MessageOptions{
		Store:         a.Store,
		Optimistic:    a.Optimistic,
		Remote:        a.Remote,
		Uploader:      uploader,
		Cache:         invalidator,
		Metrics:       a.Metrics,
		Logger:        logger,
		RemoteTimeout: cfg.Remote.Timeout.Duration,
	})
	if err != nil {
		return nil, fmt.Errorf("creating message commands: %w", err)
	}
	a.Conversations, err = commands.NewConversationCommands(commands.ConversationOptions{
		Store:                a.Store,
		Remote:               a.Remote,
		Directory:            a.Store,
		Cache:                invalidator,
		Logger:               logger,
		RemoteTimeout:        cfg.Remote.Timeout.Duration,
		MaxGroupParticipants: cfg.Chat.MaxGroupParticipants,
	})
	if err != nil {
		return nil, fmt.Errorf("creating conversation commands: %w", err)
	}

	// --- Maintenance ---

	a.Sweeper, err = sweep.New(sweep.Options{
		Source:        a.Store,
		Resender:      a.Messages,
		IncludeFailed: cfg.Retry.IncludeFailed,
		Metrics:       a.Metrics,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating retry sweeper: %w", err)
	}
	a.Retention, err = sweep.NewRetention(sweep.RetentionOptions{
		Store:      a.Store,
		MaxAgeDays: cfg.Retention.MaxAgeDays,
		Cron:       cfg.Retention.Cron,
		Metrics:    a.Metrics,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating retention scheduler: %w", err)
	}

	// --- Realtime feed ---

	if cfg.Remote.RealtimeURL != "" {
		handler, err := realtime.NewHandler(realtime.HandlerOptions{
			Store:                a.Store,
			Fetcher:              a.Remote,
			Cache:                invalidator,
			Metrics:              a.Metrics,
			Logger:               logger,
			MaxGroupParticipants: cfg.Chat.MaxGroupParticipants,
		})
		if err != nil {
			return nil, fmt.Errorf("creating realtime handler: %w", err)
		}
		a.Listener, err = realtime.NewListener(realtime.Config{
			URL:   cfg.Remote.RealtimeURL,
			Token: cfg.Remote.Token,
		}, handler, logger)
		if err != nil {
			return nil, fmt.Errorf("creating realtime listener: %w", err)
		}
	}

	a.MCP = a.newMCPServer()
	return a, nil
}

// newRemote selects the remote store backend named by the config.
func (a *App) newRemote(ctx context.Context) (remote.Client, error) {
	rc := a.Config.Remote
	switch rc.Kind {
	case config.RemoteHTTP:
		return remote.NewHTTP(rc.BaseURL,
			remote.WithToken(rc.Token),
			remote.WithTimeout(rc.Timeout.Duration),
		), nil
	case config.RemoteFirestore:
		fs, err := remote.NewFirestore(ctx, rc.FirestoreProject, rc.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("connecting to firestore: %w", err)
		}
		a.closers = append(a.closers, fs.Close)
		return fs, nil
	case config.RemoteMemory, "":
		a.Logger.Warn().Msg("using the in-process remote store; messages never leave this process")
		return remote.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown remote kind %q", rc.Kind)
	}
}

// newMCPServer registers every tool, prompt and resource.
func (a *App) newMCPServer() *server.MCPServer {
	s := server.NewMCPServer(
		"chatsync",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)
	user := a.Config.UserID

	// --- Messaging ---

	sendTool := synctools.NewSendTool(a.Messages, user)
	s.AddTool(sendTool.Definition(), sendTool.Handle)

	sendMediaTool := synctools.NewSendMediaTool(a.Messages, user)
	s.AddTool(sendMediaTool.Definition(), sendMediaTool.Handle)

	messagesTool := synctools.NewMessagesTool(a.Messages, a.Store, user)
	s.AddTool(messagesTool.Definition(), messagesTool.Handle)

	deleteTool := synctools.NewDeleteTool(a.Messages, user)
	s.AddTool(deleteTool.Definition(), deleteTool.Handle)

	markReadTool := synctools.NewMarkReadTool(a.Messages, user)
	s.AddTool(markReadTool.Definition(), markReadTool.Handle)

	markSeenTool := synctools.NewMarkSeenTool(a.Messages, user)
	s.AddTool(markSeenTool.Definition(), markSeenTool.Handle)

	// --- Conversations ---

	findTool := synctools.NewFindOrCreateTool(a.Conversations, user)
	s.AddTool(findTool.Definition(), findTool.Handle)

	groupTool := synctools.NewCreateGroupTool(a.Conversations, user)
	s.AddTool(groupTool.Definition(), groupTool.Handle)

	convsTool := synctools.NewConversationsTool(a.Conversations, user)
	s.AddTool(convsTool.Definition(), convsTool.Handle)

	// --- Sync maintenance ---

	pendingTool := synctools.NewPendingTool(a.Store)
	s.AddTool(pendingTool.Definition(), pendingTool.Handle)

	retryTool := synctools.NewRetryTool(a.Messages, a.Sweeper)
	s.AddTool(retryTool.Definition(), retryTool.Handle)

	retentionTool := synctools.NewRetentionTool(a.Retention)
	s.AddTool(retentionTool.Definition(), retentionTool.Handle)

	statsTool := synctools.NewStatsTool(a.Store)
	s.AddTool(statsTool.Definition(), statsTool.Handle)

	// --- Prompts ---

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	openPrompt := prompts.NewOpenPrompt()
	s.AddPrompt(openPrompt.Definition(), openPrompt.Handle)

	// --- Resources ---

	resourceHandler := resources.NewHandler(a.Store, a.realtimeState, a.Invalidations)
	s.AddResource(resourceHandler.StatusResource(), resourceHandler.HandleStatus)

	// Subscribed hosts re-read the status resource when message lists change.
	a.Invalidations.OnInvalidate(func(k cache.Key) {
		if k.Scope() == "messages" {
			s.SendNotificationToAllClients("notifications/resources/updated", map[string]any{
				"uri": resources.StatusURI,
			})
		}
	})

	return s
}

// realtimeState reports the feed state for the status resource.
func (a *App) realtimeState() string {
	if a.Listener == nil {
		return "disabled"
	}
	return string(a.Listener.State())
}

// Close releases every opened resource in reverse order. It is safe to
// call on a partially built App.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn().Err(err).Msg("shutdown")
	}
}

// serverInstructions returns the system instructions that tell the AI
// how to use the sync tools.
func serverInstructions() string {
	return `You have access to chatsync, an offline-first chat message store.

## How sending works
Every message is written to the local store before it is submitted to the
remote store. A send that cannot reach the remote store is NOT lost: the
message stays local with sync status "failed" and chat_retry resubmits it.
Never send the same text twice because a send reported a failure; retry it.

## Status values
- status: sending -> sent -> delivered -> read. It never moves backwards.
- sync status: pending (in flight), synced (confirmed), failed (needs retry).

## Typical flow
1. chat_find_or_create with an email or user id to open a direct conversation
2. chat_messages to read it, chat_mark_seen once the user has looked at it
3. chat_send or chat_send_media to reply
4. chat_pending and chat_retry when the user asks what did not go out

## Deleting
chat_delete hides a message for one user only. Other participants keep it.

## Groups
chat_create_group needs 3 to 20 members including the creator.`
}
