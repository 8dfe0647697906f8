package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/HendryAvila/chatsync/internal/cache"
	"github.com/HendryAvila/chatsync/internal/chat"
	"github.com/HendryAvila/chatsync/internal/metrics"
)

// Store is the local persistence the handler writes to.
type Store interface {
	InsertMessage(ctx context.Context, msg chat.Message) (bool, error)
	UpdateMessage(ctx context.Context, key string, patch chat.MessagePatch) (*chat.Message, error)
	DeleteMessage(ctx context.Context, key, userID string) (*chat.Message, error)
	UpsertConversation(ctx context.Context, conv chat.Conversation) error
	TouchConversation(ctx context.Context, id string, lm chat.LastMessage) error
}

// ConversationFetcher loads a conversation the local store has not seen yet.
// remote.Client satisfies it.
type ConversationFetcher interface {
	GetConversationByID(ctx context.Context, id string) (*chat.Conversation, error)
}

// HandlerOptions wires a Handler. Fetcher, Cache and Metrics are optional.
type HandlerOptions struct {
	Store                Store
	Fetcher              ConversationFetcher
	Cache                cache.Invalidator
	Metrics              *metrics.Metrics
	Logger               zerolog.Logger
	MaxGroupParticipants int
}

// Handler applies decoded events to the local store.
type Handler struct {
	store    Store
	fetcher  ConversationFetcher
	cache    cache.Invalidator
	metrics  *metrics.Metrics
	log      zerolog.Logger
	maxGroup int
}

// NewHandler returns a Handler.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Store == nil {
		return nil, errors.New("realtime: store is required")
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	return &Handler{
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		cache:    opts.Cache,
		metrics:  opts.Metrics,
		log:      opts.Logger.With().Str("component", "realtime").Logger(),
		maxGroup: opts.MaxGroupParticipants,
	}, nil
}

// Handle decodes one raw envelope and applies it. Unknown event types are
// ignored.
func (h *Handler) Handle(ctx context.Context, raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.metrics.ObserveRealtime("invalid", "error")
		return fmt.Errorf("realtime: decode envelope: %w", err)
	}

	var err error
	switch env.Type {
	case EventMessageNew:
		var p MessageNewPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			err = h.messageNew(ctx, p)
		}
	case EventMessageStatus:
		var p MessageStatusPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			err = h.messageStatus(ctx, p)
		}
	case EventConversationUpdate:
		var p chat.Conversation
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			err = h.conversationUpdate(ctx, p)
		}
	default:
		h.metrics.ObserveRealtime(env.Type, "ignored")
		h.log.Debug().Str("type", env.Type).Msg("ignoring event")
		return nil
	}

	if err != nil {
		h.metrics.ObserveRealtime(env.Type, "error")
		h.log.Warn().Err(err).Str("type", env.Type).Msg("event not applied")
		return fmt.Errorf("realtime: %s: %w", env.Type, err)
	}
	h.metrics.ObserveRealtime(env.Type, "ok")
	return nil
}

// messageNew reconciles a pushed message. Our own echo is matched through the
// client id and gets its canonical id; anything else is inserted.
func (h *Handler) messageNew(ctx context.Context, p MessageNewPayload) error {
	if p.ID == "" || p.ConversationID == "" {
		return fmt.Errorf("message id and conversation id are required: %w", chat.ErrConstraintViolation)
	}
	status := chat.MaxStatus(chat.StatusSent, p.Status)

	if p.ClientID != "" {
		_, err := h.store.UpdateMessage(ctx, p.ClientID, chat.MessagePatch{
			ID:         chat.StringPtr(p.ID),
			Status:     chat.StatusPtr(status),
			SyncStatus: chat.SyncPtr(chat.SyncSynced),
		})
		if err == nil {
			h.invalidate(ctx, p.ConversationID)
			return nil
		}
		if !errors.Is(err, chat.ErrNotFound) {
			return err
		}
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := chat.Message{
		ID:             p.ID,
		LocalID:        p.ClientID,
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		Content:        p.Content,
		Timestamp:      ts,
		Status:         status,
		SyncStatus:     chat.SyncSynced,
	}

	_, err := h.store.InsertMessage(ctx, msg)
	if errors.Is(err, chat.ErrConstraintViolation) && h.fetcher != nil {
		// Most likely a conversation we have not stored yet.
		if ferr := h.fetchConversation(ctx, p.ConversationID); ferr != nil {
			return errors.Join(err, ferr)
		}
		_, err = h.store.InsertMessage(ctx, msg)
	}
	if err != nil {
		return err
	}

	if err := h.store.TouchConversation(ctx, p.ConversationID, chat.LastMessage{
		Text:      p.Content.Text,
		SenderID:  p.SenderID,
		Timestamp: ts,
	}); err != nil {
		h.log.Warn().Err(err).Str("conversation_id", p.ConversationID).Msg("touch conversation")
	}
	h.invalidate(ctx, p.ConversationID)
	return nil
}

func (h *Handler) messageStatus(ctx context.Context, p MessageStatusPayload) error {
	if p.ID == "" {
		return fmt.Errorf("message id is required: %w", chat.ErrConstraintViolation)
	}
	patch := chat.MessagePatch{DeliveredTo: p.DeliveredTo, ReadBy: p.ReadBy}
	if p.Status != "" {
		if !p.Status.Valid() {
			return fmt.Errorf("unknown status %q: %w", p.Status, chat.ErrConstraintViolation)
		}
		patch.Status = chat.StatusPtr(p.Status)
	}
	if patch.Status != nil || len(patch.DeliveredTo) > 0 || len(patch.ReadBy) > 0 {
		if _, err := h.store.UpdateMessage(ctx, p.ID, patch); err != nil {
			return err
		}
	}
	for _, uid := range p.DeletedFor {
		if _, err := h.store.DeleteMessage(ctx, p.ID, uid); err != nil {
			return err
		}
	}
	h.invalidate(ctx, p.ConversationID)
	return nil
}

func (h *Handler) conversationUpdate(ctx context.Context, conv chat.Conversation) error {
	if err := conv.Validate(h.maxGroup); err != nil {
		return err
	}
	if err := h.store.UpsertConversation(ctx, conv); err != nil {
		return err
	}
	keys := []cache.Key{cache.ConversationKey(conv.ID)}
	for _, p := range conv.Participants {
		keys = append(keys, cache.ConversationsKey(p))
	}
	h.invalidateKeys(ctx, keys...)
	return nil
}

func (h *Handler) fetchConversation(ctx context.Context, id string) error {
	conv, err := h.fetcher.GetConversationByID(ctx, id)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("%w: %s", chat.ErrConversationNotFound, id)
	}
	return h.conversationUpdate(ctx, *conv)
}

func (h *Handler) invalidate(ctx context.Context, conversationID string) {
	if conversationID == "" {
		return
	}
	h.invalidateKeys(ctx, cache.MessagesKey(conversationID), cache.ConversationKey(conversationID))
}

func (h *Handler) invalidateKeys(ctx context.Context, keys ...cache.Key) {
	if err := h.cache.Invalidate(ctx, keys...); err != nil {
		h.log.Warn().Err(err).Msg("cache invalidation failed")
		return
	}
	h.metrics.ObserveInvalidation(len(keys))
}
