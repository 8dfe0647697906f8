package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HendryAvila/chatsync/internal/chat"
	"github.com/oklog/ulid/v2"
)

// Memory is an in-process remote store. It assigns ULID canonical ids and
// supports fault injection so the offline paths can be exercised without a
// network.
type Memory struct {
	mu            sync.Mutex
	users         map[string]chat.User
	conversations map[string]*chat.Conversation
	direct        map[string]string // DirectKey -> conversation id
	messages      map[string]map[string]*chat.Message
	byClient      map[string]string // client id -> canonical id
	offline       bool
	failures      []error
	calls         map[string]int
	now           func() time.Time
}

// NewMemory returns an empty, online Memory.
func NewMemory() *Memory {
	return &Memory{
		users:         make(map[string]chat.User),
		conversations: make(map[string]*chat.Conversation),
		direct:        make(map[string]string),
		messages:      make(map[string]map[string]*chat.Message),
		byClient:      make(map[string]string),
		calls:         make(map[string]int),
		now:           time.Now,
	}
}

// AddUser registers a user whose name and avatar fill participant details.
func (m *Memory) AddUser(u chat.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// SetOffline makes every call fail with chat.ErrRemoteUnavailable.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// FailNext queues errors returned by the next calls, one per call.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Calls returns how many times op was invoked, failures included.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Messages returns copies of the stored messages of a conversation.
func (m *Memory) Messages(conversationID string) []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chat.Message, 0, len(m.messages[conversationID]))
	for _, msg := range m.messages[conversationID] {
		out = append(out, msg.Clone())
	}
	return out
}

// PutConversation stores conv as-is, bypassing creation rules.
func (m *Memory) PutConversation(conv chat.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := conv
	m.conversations[c.ID] = &c
}

// enter records the call and returns an injected failure, if any.
// Callers hold m.mu.
func (m *Memory) enter(op string) error {
	m.calls[op]++
	if m.offline {
		return fmt.Errorf("remote: %s: %w", op, chat.ErrRemoteUnavailable)
	}
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		if err != nil {
			return fmt.Errorf("remote: %s: %w", op, err)
		}
	}
	return nil
}

func (m *Memory) SendMessage(ctx context.Context, conversationID string, p SendPayload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("send_message"); err != nil {
		return "", err
	}

	conv, ok := m.conversations[conversationID]
	if !ok {
		return "", fmt.Errorf("remote: send to %s: %w", conversationID, chat.ErrConversationNotFound)
	}
	if !conv.HasParticipant(p.SenderID) {
		return "", fmt.Errorf("remote: %s is not in %s: %w", p.SenderID, conversationID, chat.ErrConstraintViolation)
	}
	if p.ClientID != "" {
		if id, ok := m.byClient[p.ClientID]; ok {
			return id, nil
		}
	}

	sentAt := p.SentAt
	if sentAt.IsZero() {
		sentAt = m.now()
	}
	id := ulid.Make().String()
	msg := &chat.Message{
		ID:             id,
		LocalID:        p.ClientID,
		ConversationID: conversationID,
		SenderID:       p.SenderID,
		Content:        p.Content,
		Timestamp:      sentAt,
		Status:         chat.StatusSent,
		SyncStatus:     chat.SyncSynced,
		DeliveredTo:    chat.NewStringSet(),
		ReadBy:         map[string]time.Time{},
		DeletedFor:     chat.NewStringSet(),
		CreatedAt:      m.now(),
	}
	if m.messages[conversationID] == nil {
		m.messages[conversationID] = make(map[string]*chat.Message)
	}
	m.messages[conversationID][id] = msg
	if p.ClientID != "" {
		m.byClient[p.ClientID] = id
	}

	conv.LastMessage = &chat.LastMessage{Text: p.Content.Text, SenderID: p.SenderID, Timestamp: sentAt}
	if sentAt.After(conv.LastActivity) {
		conv.LastActivity = sentAt
	}
	if conv.UnreadCount == nil {
		conv.UnreadCount = map[string]int{}
	}
	for _, pid := range conv.Participants {
		if pid != p.SenderID {
			conv.UnreadCount[pid]++
		}
	}
	return id, nil
}

func (m *Memory) UpdateMessageStatus(ctx context.Context, conversationID, messageID string, u StatusUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("update_message_status"); err != nil {
		return err
	}

	msg, ok := m.messages[conversationID][messageID]
	if !ok {
		return fmt.Errorf("remote: message %s: %w", messageID, chat.ErrNotFound)
	}
	patch := chat.MessagePatch{DeliveredTo: u.DeliveredTo, ReadBy: u.ReadBy}
	if u.Status != "" {
		patch.Status = &u.Status
	}
	msg.Apply(patch)
	for _, id := range u.DeletedFor {
		msg.DeletedFor.Add(id)
	}
	return nil
}

func (m *Memory) CreateOrGetConversation(ctx context.Context, userID, otherUserID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("create_or_get_conversation"); err != nil {
		return "", err
	}
	if userID == "" || otherUserID == "" || userID == otherUserID {
		return "", fmt.Errorf("remote: direct conversation needs two distinct users: %w", chat.ErrConstraintViolation)
	}

	key := chat.DirectKey(userID, otherUserID)
	if id, ok := m.direct[key]; ok {
		return id, nil
	}
	id := ulid.Make().String()
	m.conversations[id] = m.newConversation(id, chat.ConversationDirect, []string{userID, otherUserID}, "")
	m.direct[key] = id
	return id, nil
}

func (m *Memory) CreateGroupConversation(ctx context.Context, creatorID string, participantIDs []string, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("create_group_conversation"); err != nil {
		return "", err
	}

	members := chat.NormalizeParticipants(append([]string{creatorID}, participantIDs...))
	if err := chat.ValidateGroupSize(len(members), 0); err != nil {
		return "", fmt.Errorf("remote: %w", err)
	}
	id := ulid.Make().String()
	m.conversations[id] = m.newConversation(id, chat.ConversationGroup, members, name)
	return id, nil
}

// newConversation builds a conversation record. Callers hold m.mu.
func (m *Memory) newConversation(id string, typ chat.ConversationType, members []string, name string) *chat.Conversation {
	now := m.now()
	details := make(map[string]chat.ParticipantDetail, len(members))
	unread := make(map[string]int, len(members))
	for _, uid := range members {
		d := chat.ParticipantDetail{Name: uid}
		if u, ok := m.users[uid]; ok {
			d = chat.ParticipantDetail{Name: u.DisplayName, Avatar: u.PhotoURL}
		}
		details[uid] = d
		unread[uid] = 0
	}
	return &chat.Conversation{
		ID:                 id,
		Type:               typ,
		Participants:       chat.NormalizeParticipants(members),
		ParticipantDetails: details,
		Name:               name,
		LastActivity:       now,
		UnreadCount:        unread,
		LastSeenBy:         map[string]chat.SeenMarker{},
		CreatedAt:          now,
	}
}

func (m *Memory) GetConversationByID(ctx context.Context, id string) (*chat.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("get_conversation"); err != nil {
		return nil, err
	}
	conv, ok := m.conversations[id]
	if !ok {
		return nil, nil
	}
	out := *conv
	out.Participants = append([]string(nil), conv.Participants...)
	out.ParticipantDetails = copyMap(conv.ParticipantDetails)
	out.UnreadCount = copyMap(conv.UnreadCount)
	out.LastSeenBy = copyMap(conv.LastSeenBy)
	if conv.LastMessage != nil {
		lm := *conv.LastMessage
		out.LastMessage = &lm
	}
	return &out, nil
}

func (m *Memory) MarkConversationSeen(ctx context.Context, conversationID, userID string, seenAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("mark_conversation_seen"); err != nil {
		return err
	}
	conv, ok := m.conversations[conversationID]
	if !ok {
		return fmt.Errorf("remote: %s: %w", conversationID, chat.ErrConversationNotFound)
	}
	if conv.LastSeenBy == nil {
		conv.LastSeenBy = map[string]chat.SeenMarker{}
	}
	if prev, ok := conv.LastSeenBy[userID]; !ok || seenAt.After(prev.SeenAt) {
		conv.LastSeenBy[userID] = chat.SeenMarker{SeenAt: seenAt}
	}
	if conv.UnreadCount == nil {
		conv.UnreadCount = map[string]int{}
	}
	conv.UnreadCount[userID] = 0
	return nil
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
