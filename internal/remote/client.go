// Package remote defines the contract with the remote system of record and
// provides adapters for it: an in-process store, a JSON REST client and a
// Firestore client.
package remote

import (
	"context"
	"time"

	"github.com/HendryAvila/chatsync/internal/chat"
)

// SendPayload is what the pipeline submits for a new message. ClientID is the
// local id; the remote store uses it to deduplicate retries.
type SendPayload struct {
	SenderID string       `json:"senderId"`
	Content  chat.Content `json:"content"`
	ClientID string       `json:"clientId"`
	SentAt   time.Time    `json:"sentAt"`
}

// StatusUpdate carries receipt and deletion changes for one message. Empty
// fields are left untouched by the remote store.
type StatusUpdate struct {
	Status      chat.Status          `json:"status,omitempty"`
	DeliveredTo []string             `json:"deliveredTo,omitempty"`
	ReadBy      map[string]time.Time `json:"readBy,omitempty"`
	DeletedFor  []string             `json:"deletedFor,omitempty"`
}

// Client is the remote sync contract. Failures wrap chat.ErrRemoteUnavailable,
// chat.ErrRemoteTimeout, chat.ErrNotFound or chat.ErrConstraintViolation.
type Client interface {
	// SendMessage stores a message and returns its canonical id. Sending the
	// same ClientID twice returns the same id.
	SendMessage(ctx context.Context, conversationID string, p SendPayload) (string, error)
	UpdateMessageStatus(ctx context.Context, conversationID, messageID string, u StatusUpdate) error
	// CreateOrGetConversation returns the direct conversation between the two
	// users, creating it if needed.
	CreateOrGetConversation(ctx context.Context, userID, otherUserID string) (string, error)
	CreateGroupConversation(ctx context.Context, creatorID string, participantIDs []string, name string) (string, error)
	// GetConversationByID returns nil, nil when the conversation does not exist.
	GetConversationByID(ctx context.Context, id string) (*chat.Conversation, error)
	MarkConversationSeen(ctx context.Context, conversationID, userID string, seenAt time.Time) error
}
