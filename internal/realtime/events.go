// Package realtime applies server-pushed changes to the local store. Events
// arrive over a websocket as JSON envelopes and are reconciled against local
// rows by canonical id or by the client id the message was sent with.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/HendryAvila/chatsync/internal/chat"
)

// Event types.
const (
	EventMessageNew         = "message.new"
	EventMessageStatus      = "message.status"
	EventConversationUpdate = "conversation.update"
)

// Envelope is the wire format of every pushed event.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MessageNewPayload announces a message stored remotely. ClientID is the
// sender's local id when the sender was a sync client.
type MessageNewPayload struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	ClientID       string       `json:"clientId,omitempty"`
	Content        chat.Content `json:"content"`
	Timestamp      time.Time    `json:"timestamp"`
	Status         chat.Status  `json:"status,omitempty"`
}

// MessageStatusPayload carries receipt and deletion changes.
type MessageStatusPayload struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversationId"`
	Status         chat.Status          `json:"status,omitempty"`
	DeliveredTo    []string             `json:"deliveredTo,omitempty"`
	ReadBy         map[string]time.Time `json:"readBy,omitempty"`
	DeletedFor     []string             `json:"deletedFor,omitempty"`
}
