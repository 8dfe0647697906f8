package commands

import (
	"context"
	"time"

	"github.com/HendryAvila/chatsync/internal/chat"
	"github.com/HendryAvila/chatsync/internal/localstore"
)

// MessageStore is the local persistence the message pipeline needs.
// *localstore.Store satisfies it.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg chat.Message) (bool, error)
	UpdateMessage(ctx context.Context, key string, patch chat.MessagePatch) (*chat.Message, error)
	MergeMessage(ctx context.Context, localID, canonicalID string, patch chat.MessagePatch) (*chat.Message, error)
	GetMessage(ctx context.Context, key string) (*chat.Message, error)
	GetConversationMessages(ctx context.Context, conversationID string, opts localstore.PageOptions) ([]chat.Message, error)
	DeleteMessage(ctx context.Context, key, userID string) (*chat.Message, error)
	GetConversation(ctx context.Context, id string) (*chat.Conversation, error)
	TouchConversation(ctx context.Context, id string, lm chat.LastMessage) error
	MarkConversationSeen(ctx context.Context, id, userID string, seenAt time.Time) (*chat.Conversation, error)
}

// ConversationStore is the local persistence conversation resolution needs.
type ConversationStore interface {
	UpsertConversation(ctx context.Context, conv chat.Conversation) error
	GetConversation(ctx context.Context, id string) (*chat.Conversation, error)
	GetConversations(ctx context.Context, userID string, limit int) ([]chat.Conversation, error)
}

// Directory resolves a contact reference (id or email) to a user.
// Unknown contacts fail with chat.ErrContactNotFound.
type Directory interface {
	LookupContact(ctx context.Context, contact string) (*chat.User, error)
}

var (
	_ MessageStore      = (*localstore.Store)(nil)
	_ ConversationStore = (*localstore.Store)(nil)
	_ Directory         = (*localstore.Store)(nil)
)

// Operation and stage names used in errors, logs and metrics.
const (
	opSend          = "send"
	opSendMedia     = "send_media"
	opResend        = "resend"
	opDelete        = "delete"
	opMarkDelivered = "mark_delivered"
	opMarkRead      = "mark_read"
	opMarkSeen      = "mark_seen"
	opFindOrCreate  = "find_or_create"
	opCreateGroup   = "create_group"
	opRefresh       = "refresh"

	stageValidate  = "validate"
	stageLocal     = "local"
	stageUpload    = "upload"
	stageRemote    = "remote"
	stageReconcile = "reconcile"
	stageLookup    = "lookup"
	stageFetch     = "fetch"
)
