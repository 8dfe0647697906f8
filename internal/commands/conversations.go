package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/HendryAvila/chatsync/internal/cache"
	"github.com/HendryAvila/chatsync/internal/chat"
	"github.com/HendryAvila/chatsync/internal/remote"
)

// ConversationOptions wires the collaborators of ConversationCommands.
type ConversationOptions struct {
	Store                ConversationStore
	Remote               remote.Client
	Directory            Directory
	Cache                cache.Invalidator
	Logger               zerolog.Logger
	RemoteTimeout        time.Duration
	MaxGroupParticipants int
}

// ConversationCommands resolves direct and group conversations against the
// remote store and mirrors the result locally.
type ConversationCommands struct {
	store         ConversationStore
	remote        remote.Client
	directory     Directory
	cache         cache.Invalidator
	log           zerolog.Logger
	remoteTimeout time.Duration
	maxGroup      int
}

// NewConversationCommands validates the required collaborators.
func NewConversationCommands(opts ConversationOptions) (*ConversationCommands, error) {
	if opts.Store == nil {
		return nil, errors.New("commands: conversation store is required")
	}
	if opts.Remote == nil {
		return nil, errors.New("commands: remote client is required")
	}
	if opts.Directory == nil {
		return nil, errors.New("commands: contact directory is required")
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = DefaultRemoteTimeout
	}
	if opts.MaxGroupParticipants <= 0 {
		opts.MaxGroupParticipants = chat.DefaultMaxGroupParticipants
	}
	return &ConversationCommands{
		store:         opts.Store,
		remote:        opts.Remote,
		directory:     opts.Directory,
		cache:         opts.Cache,
		log:           opts.Logger.With().Str("component", "conversations").Logger(),
		remoteTimeout: opts.RemoteTimeout,
		maxGroup:      opts.MaxGroupParticipants,
	}, nil
}

// FindOrCreate resolves contact (a user id or email) and returns the direct
// conversation between them and currentUserID, creating it remotely if
// needed. Nothing is written locally unless the whole resolution succeeds.
func (c *ConversationCommands) FindOrCreate(ctx context.Context, currentUserID, contact string) (*chat.Conversation, error) {
	if strings.TrimSpace(currentUserID) == "" || strings.TrimSpace(contact) == "" {
		return nil, chat.NewPipelineError(opFindOrCreate, stageValidate, "",
			fmt.Errorf("user and contact are required: %w", chat.ErrConstraintViolation))
	}

	other, err := c.directory.LookupContact(ctx, contact)
	if err != nil {
		return nil, chat.NewPipelineError(opFindOrCreate, stageLookup, "", err)
	}
	if other.ID == currentUserID {
		return nil, chat.NewPipelineError(opFindOrCreate, stageValidate, "",
			fmt.Errorf("cannot open a conversation with yourself: %w", chat.ErrConstraintViolation))
	}

	rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()
	id, err := c.remote.CreateOrGetConversation(rctx, currentUserID, other.ID)
	if err != nil {
		return nil, chat.NewPipelineError(opFindOrCreate, stageRemote, "", err)
	}
	return c.mirror(ctx, rctx, opFindOrCreate, id)
}

// CreateGroup creates a named group of the creator plus participantIDs.
// The member count is checked before anything is sent.
func (c *ConversationCommands) CreateGroup(ctx context.Context, creatorID string, participantIDs []string, name string) (*chat.Conversation, error) {
	if strings.TrimSpace(creatorID) == "" {
		return nil, chat.NewPipelineError(opCreateGroup, stageValidate, "",
			fmt.Errorf("creator id is required: %w", chat.ErrConstraintViolation))
	}
	members := chat.NormalizeParticipants(append([]string{creatorID}, participantIDs...))
	if err := chat.ValidateGroupSize(len(members), c.maxGroup); err != nil {
		return nil, chat.NewPipelineError(opCreateGroup, stageValidate, "", err)
	}

	rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()
	id, err := c.remote.CreateGroupConversation(rctx, creatorID, members, strings.TrimSpace(name))
	if err != nil {
		return nil, chat.NewPipelineError(opCreateGroup, stageRemote, "", err)
	}
	return c.mirror(ctx, rctx, opCreateGroup, id)
}

// Refresh re-reads a conversation from the remote store and stores it.
func (c *ConversationCommands) Refresh(ctx context.Context, conversationID string) (*chat.Conversation, error) {
	rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()
	return c.mirror(ctx, rctx, opRefresh, conversationID)
}

// List returns userID's local conversations, most recent activity first.
func (c *ConversationCommands) List(ctx context.Context, userID string, limit int) ([]chat.Conversation, error) {
	convs, err := c.store.GetConversations(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return convs, nil
}

// mirror fetches id from the remote store, validates it and upserts it.
// Local writes use ctx; the fetch uses the caller's remote deadline.
func (c *ConversationCommands) mirror(ctx, rctx context.Context, op, id string) (*chat.Conversation, error) {
	conv, err := c.remote.GetConversationByID(rctx, id)
	if err != nil {
		return nil, chat.NewPipelineError(op, stageFetch, "", err)
	}
	if conv == nil {
		return nil, chat.NewPipelineError(op, stageFetch, "",
			fmt.Errorf("%w: %s", chat.ErrConversationNotFound, id))
	}
	if err := conv.Validate(c.maxGroup); err != nil {
		return nil, chat.NewPipelineError(op, stageValidate, "", err)
	}
	if err := c.store.UpsertConversation(ctx, *conv); err != nil {
		return nil, chat.NewPipelineError(op, stageLocal, "", err)
	}

	keys := []cache.Key{cache.ConversationKey(conv.ID)}
	for _, p := range conv.Participants {
		keys = append(keys, cache.ConversationsKey(p))
	}
	if err := c.cache.Invalidate(ctx, keys...); err != nil {
		c.log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("cache invalidation failed")
	}

	c.log.Info().Str("op", op).Str("conversation_id", conv.ID).Str("type", string(conv.Type)).
		Int("participants", len(conv.Participants)).Msg("conversation stored")
	return conv, nil
}
