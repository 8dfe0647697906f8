// Package chat defines the domain model shared by the sync pipeline: users,
// conversations, messages and the failure taxonomy.
package chat

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ─── Status ──────────────────────────────────────────────────────────────────

// Status is the delivery progress of a message. It only moves forward.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Rank orders statuses; unknown values rank below sending.
func (s Status) Rank() int {
	switch s {
	case StatusSending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.Rank() > 0 }

// MaxStatus returns whichever of a and b is further along.
func MaxStatus(a, b Status) Status {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseStatus validates a status string.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid status %q: must be sending, sent, delivered or read", v)
	}
	return s, nil
}

// SyncStatus tracks agreement with the remote store, independent of Status.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// Valid reports whether s is a known sync status.
func (s SyncStatus) Valid() bool {
	return s == SyncPending || s == SyncSynced || s == SyncFailed
}

// ─── Messages ────────────────────────────────────────────────────────────────

// ContentType is the payload kind of a message.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentFile  ContentType = "file"
)

// ParseContentType validates a content type, defaulting empty to text.
func ParseContentType(v string) (ContentType, error) {
	switch ContentType(strings.ToLower(strings.TrimSpace(v))) {
	case "", ContentText:
		return ContentText, nil
	case ContentImage:
		return ContentImage, nil
	case ContentFile:
		return ContentFile, nil
	}
	return "", fmt.Errorf("invalid content type %q: must be text, image or file", v)
}

// Content is the user-visible payload of a message.
type Content struct {
	Text           string      `json:"text"`
	Type           ContentType `json:"type"`
	MediaURL       string      `json:"mediaURL,omitempty"`
	MediaThumbnail string      `json:"mediaThumbnail,omitempty"`
}

// Message is a single chat message. ID equals LocalID until the remote store
// confirms it and assigns a canonical id.
type Message struct {
	ID             string               `json:"id"`
	LocalID        string               `json:"localId,omitempty"`
	ConversationID string               `json:"conversationId"`
	SenderID       string               `json:"senderId"`
	Content        Content              `json:"content"`
	Timestamp      time.Time            `json:"timestamp"`
	Status         Status               `json:"status"`
	SyncStatus     SyncStatus           `json:"syncStatus"`
	DeliveredTo    StringSet            `json:"deliveredTo"`
	ReadBy         map[string]time.Time `json:"readBy"`
	DeletedFor     StringSet            `json:"deletedFor"`
	DeletedAt      *time.Time           `json:"deletedAt,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
}

// Confirmed reports whether the remote store has assigned a canonical id.
func (m Message) Confirmed() bool {
	return m.LocalID == "" || m.ID != m.LocalID
}

// DeletedForUser reports whether userID has soft-deleted the message.
func (m Message) DeletedForUser(userID string) bool {
	return m.DeletedFor.Has(userID)
}

// Clone returns a deep copy so callers cannot alias sets or maps.
func (m Message) Clone() Message {
	out := m
	out.DeliveredTo = m.DeliveredTo.Clone()
	out.DeletedFor = m.DeletedFor.Clone()
	out.ReadBy = make(map[string]time.Time, len(m.ReadBy))
	for k, v := range m.ReadBy {
		out.ReadBy[k] = v
	}
	if m.DeletedAt != nil {
		at := *m.DeletedAt
		out.DeletedAt = &at
	}
	return out
}

// MessagePatch is a partial update. Nil fields are left untouched;
// DeliveredTo and ReadBy are merged into the existing values.
type MessagePatch struct {
	ID          *string
	Status      *Status
	SyncStatus  *SyncStatus
	Content     *Content
	DeliveredTo []string
	ReadBy      map[string]time.Time
}

// Apply merges p into m. Status never moves backwards and a read time,
// once recorded, is only replaced by an earlier one.
func (m *Message) Apply(p MessagePatch) {
	if p.ID != nil && *p.ID != "" {
		m.ID = *p.ID
	}
	if p.Status != nil {
		m.Status = MaxStatus(m.Status, *p.Status)
	}
	if p.SyncStatus != nil {
		m.SyncStatus = *p.SyncStatus
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	if len(p.DeliveredTo) > 0 && m.DeliveredTo == nil {
		m.DeliveredTo = NewStringSet()
	}
	for _, id := range p.DeliveredTo {
		m.DeliveredTo.Add(id)
	}
	if len(p.ReadBy) > 0 && m.ReadBy == nil {
		m.ReadBy = make(map[string]time.Time, len(p.ReadBy))
	}
	for id, at := range p.ReadBy {
		if prev, ok := m.ReadBy[id]; !ok || at.Before(prev) {
			m.ReadBy[id] = at
		}
	}
}

// StringPtr, StatusPtr and SyncPtr build patch fields inline.
func StringPtr(v string) *string       { return &v }
func StatusPtr(v Status) *Status       { return &v }
func SyncPtr(v SyncStatus) *SyncStatus { return &v }

// ─── Conversations ───────────────────────────────────────────────────────────

// ConversationType distinguishes one-to-one from group conversations.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// DefaultMaxGroupParticipants is the group size ceiling unless configured.
const DefaultMaxGroupParticipants = 20

// MinGroupParticipants is the smallest legal group, creator included.
const MinGroupParticipants = 3

// ParticipantDetail is the display data cached for each participant.
type ParticipantDetail struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// LastMessage summarizes the newest message of a conversation.
type LastMessage struct {
	Text      string    `json:"text"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
}

// SeenMarker records when a participant last viewed a conversation.
type SeenMarker struct {
	SeenAt time.Time `json:"seenAt"`
}

// Conversation is a direct or group thread. The remote store owns its id.
type Conversation struct {
	ID                 string                       `json:"id"`
	Type               ConversationType             `json:"type"`
	Participants       []string                     `json:"participants"`
	ParticipantDetails map[string]ParticipantDetail `json:"participantDetails,omitempty"`
	Name               string                       `json:"name,omitempty"`
	LastMessage        *LastMessage                 `json:"lastMessage,omitempty"`
	LastActivity       time.Time                    `json:"lastActivity"`
	UnreadCount        map[string]int               `json:"unreadCount,omitempty"`
	LastSeenBy         map[string]SeenMarker        `json:"lastSeenBy,omitempty"`
	CreatedAt          time.Time                    `json:"createdAt"`
}

// HasParticipant reports whether userID is a member.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Validate checks the participant-count invariant for the conversation type.
func (c Conversation) Validate(maxGroup int) error {
	if c.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	n := len(NormalizeParticipants(c.Participants))
	switch c.Type {
	case ConversationDirect:
		if n != 2 {
			return fmt.Errorf("direct conversation %s has %d participants, want 2: %w", c.ID, n, ErrConstraintViolation)
		}
	case ConversationGroup:
		if err := ValidateGroupSize(n, maxGroup); err != nil {
			return err
		}
	default:
		return fmt.Errorf("conversation %s has unknown type %q: %w", c.ID, c.Type, ErrConstraintViolation)
	}
	return nil
}

// ValidateGroupSize checks n against MinGroupParticipants and maxGroup.
// A non-positive maxGroup means DefaultMaxGroupParticipants.
func ValidateGroupSize(n, maxGroup int) error {
	if maxGroup <= 0 {
		maxGroup = DefaultMaxGroupParticipants
	}
	if n < MinGroupParticipants || n > maxGroup {
		return fmt.Errorf("group needs %d to %d participants, got %d: %w", MinGroupParticipants, maxGroup, n, ErrInvalidGroup)
	}
	return nil
}

// NormalizeParticipants trims, dedupes and sorts participant ids.
func NormalizeParticipants(ids []string) []string {
	set := NewStringSet()
	for _, id := range ids {
		set.Add(strings.TrimSpace(id))
	}
	return set.Slice()
}

// DirectKey is the order-independent identity of a direct pair.
func DirectKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1]
}

// ─── Users ───────────────────────────────────────────────────────────────────

// User is a locally cached profile. The remote store is authoritative.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email,omitempty"`
	PhotoURL    string    `json:"photoURL,omitempty"`
	LastSynced  time.Time `json:"lastSynced"`
}
