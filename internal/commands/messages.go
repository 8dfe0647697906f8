// Package commands implements the user-facing sync operations: the
// optimistic send pipeline, receipts, deletion and conversation resolution.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/HendryAvila/chatsync/internal/cache"
	"github.com/HendryAvila/chatsync/internal/chat"
	"github.com/HendryAvila/chatsync/internal/localstore"
	"github.com/HendryAvila/chatsync/internal/media"
	"github.com/HendryAvila/chatsync/internal/metrics"
	"github.com/HendryAvila/chatsync/internal/optimistic"
	"github.com/HendryAvila/chatsync/internal/remote"
)

// DefaultRemoteTimeout bounds a single remote call made by a command.
const DefaultRemoteTimeout = 15 * time.Second

// MessageOptions wires the collaborators of MessageCommands. Uploader,
// Cache and Metrics are optional.
type MessageOptions struct {
	Store         MessageStore
	Optimistic    *optimistic.Store
	Remote        remote.Client
	Uploader      media.Uploader
	Cache         cache.Invalidator
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
	RemoteTimeout time.Duration
}

// MessageCommands runs the send pipeline and message-level mutations.
type MessageCommands struct {
	store         MessageStore
	optimistic    *optimistic.Store
	remote        remote.Client
	uploader      media.Uploader
	cache         cache.Invalidator
	metrics       *metrics.Metrics
	log           zerolog.Logger
	remoteTimeout time.Duration
}

// NewMessageCommands validates the required collaborators.
func NewMessageCommands(opts MessageOptions) (*MessageCommands, error) {
	if opts.Store == nil {
		return nil, errors.New("commands: message store is required")
	}
	if opts.Remote == nil {
		return nil, errors.New("commands: remote client is required")
	}
	if opts.Optimistic == nil {
		opts.Optimistic = optimistic.New(opts.Logger)
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = DefaultRemoteTimeout
	}
	return &MessageCommands{
		store:         opts.Store,
		optimistic:    opts.Optimistic,
		remote:        opts.Remote,
		uploader:      opts.Uploader,
		cache:         opts.Cache,
		metrics:       opts.Metrics,
		log:           opts.Logger.With().Str("component", "commands").Logger(),
		remoteTimeout: opts.RemoteTimeout,
	}, nil
}

// ─── Requests ────────────────────────────────────────────────────────────────

// SendRequest is a text message to send.
type SendRequest struct {
	ConversationID string
	SenderID       string
	Text           string
}

func (r SendRequest) validate() error {
	if strings.TrimSpace(r.ConversationID) == "" {
		return fmt.Errorf("conversation id is required: %w", chat.ErrConstraintViolation)
	}
	if strings.TrimSpace(r.SenderID) == "" {
		return fmt.Errorf("sender id is required: %w", chat.ErrConstraintViolation)
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("message text is required: %w", chat.ErrConstraintViolation)
	}
	return nil
}

// MediaRequest is an attachment to send. PreviewURL is shown until the
// upload finishes; when empty a local placeholder is used.
type MediaRequest struct {
	ConversationID string
	SenderID       string
	Type           chat.ContentType
	Caption        string
	FileName       string
	MIMEType       string
	Data           []byte
	PreviewURL     string
}

func (r MediaRequest) validate() error {
	if strings.TrimSpace(r.ConversationID) == "" || strings.TrimSpace(r.SenderID) == "" {
		return fmt.Errorf("conversation and sender ids are required: %w", chat.ErrConstraintViolation)
	}
	if r.Type != chat.ContentImage && r.Type != chat.ContentFile {
		return fmt.Errorf("media type must be image or file, got %q: %w", r.Type, chat.ErrConstraintViolation)
	}
	if len(r.Data) == 0 {
		return fmt.Errorf("attachment %q is empty: %w", r.FileName, chat.ErrConstraintViolation)
	}
	return nil
}

// ListOptions selects a page of a conversation for one viewer.
type ListOptions struct {
	Viewer         string
	IncludeDeleted bool
	Limit          int
	Offset         int
	Before         time.Time
}

// ─── Send pipeline ───────────────────────────────────────────────────────────

// Send runs the optimistic pipeline for a text message: it shows the message
// immediately, persists it as pending, submits it to the remote store and
// swaps in the canonical id. A remote failure leaves the local row as
// sent/failed for a later Resend; the returned message is the latest local
// state in both cases.
func (c *MessageCommands) Send(ctx context.Context, req SendRequest) (*chat.Message, error) {
	if err := req.validate(); err != nil {
		c.metrics.ObserveSend("rejected")
		return nil, chat.NewPipelineError(opSend, stageValidate, "", err)
	}
	content := chat.Content{Text: req.Text, Type: chat.ContentText}

	run, msg, err := c.persist(ctx, opSend, req.ConversationID, req.SenderID, content)
	if err != nil {
		return nil, err
	}
	return c.deliver(ctx, opSend, run, msg)
}

// SendMedia is Send for an attachment. The message is persisted with the
// preview first, then the upload replaces it with the stored URLs before the
// remote submit.
func (c *MessageCommands) SendMedia(ctx context.Context, req MediaRequest) (*chat.Message, error) {
	if err := req.validate(); err != nil {
		c.metrics.ObserveSend("rejected")
		return nil, chat.NewPipelineError(opSendMedia, stageValidate, "", err)
	}
	if c.uploader == nil {
		c.metrics.ObserveSend("rejected")
		return nil, chat.NewPipelineError(opSendMedia, stageValidate, "",
			fmt.Errorf("media uploads are not configured: %w", chat.ErrConstraintViolation))
	}

	preview := req.PreviewURL
	if preview == "" {
		preview = "local://" + req.FileName
	}
	content := chat.Content{Text: req.Caption, Type: req.Type, MediaURL: preview}

	run, msg, err := c.persist(ctx, opSendMedia, req.ConversationID, req.SenderID, content)
	if err != nil {
		return nil, err
	}

	started := timeNow()
	uctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	res, err := c.uploader.Upload(uctx, media.Upload{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		FileName:       req.FileName,
		ContentType:    req.MIMEType,
		Data:           req.Data,
	})
	cancel()
	c.metrics.ObserveStage(stageUpload, started)
	if err != nil {
		c.metrics.ObserveUpload("error")
		return c.fail(ctx, opSendMedia, stageUpload, run, msg, err)
	}
	c.metrics.ObserveUpload("ok")

	content.MediaURL = res.URL
	content.MediaThumbnail = res.ThumbnailURL
	updated, err := c.store.UpdateMessage(ctx, msg.LocalID, chat.MessagePatch{Content: &content})
	if err != nil {
		return c.fail(ctx, opSendMedia, stageLocal, run, msg, err)
	}
	return c.deliver(ctx, opSendMedia, run, updated)
}

// Resend submits a stored pending or failed message again. The remote store
// deduplicates on the local id, so a resend after a lost acknowledgement does
// not create a second message.
func (c *MessageCommands) Resend(ctx context.Context, key string) (*chat.Message, error) {
	msg, err := c.store.GetMessage(ctx, key)
	if err != nil {
		return nil, chat.NewPipelineError(opResend, stageLocal, key, err)
	}
	if msg.SyncStatus == chat.SyncSynced {
		return msg, chat.NewPipelineError(opResend, stageValidate, msg.LocalID,
			fmt.Errorf("message %s is already synced: %w", msg.ID, chat.ErrNotResendable))
	}
	if msg.Content.Type != chat.ContentText && !isRemoteURL(msg.Content.MediaURL) {
		return msg, chat.NewPipelineError(opResend, stageValidate, msg.LocalID,
			fmt.Errorf("attachment of %s was never uploaded, send it again: %w", msg.LocalID, chat.ErrNotResendable))
	}
	return c.deliver(ctx, opResend, resumeSendRun(msg.LocalID), msg)
}

// persist covers the created -> local_persisted step. The optimistic entry is
// visible while the local write runs and is removed once the durable row (or
// the failure) is known.
func (c *MessageCommands) persist(ctx context.Context, op, conversationID, senderID string, content chat.Content) (*sendRun, *chat.Message, error) {
	now := timeNow()
	localID := newLocalID()
	run := newSendRun(localID)

	msg := chat.Message{
		ID:             localID,
		LocalID:        localID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Timestamp:      now,
		Status:         chat.StatusSending,
		SyncStatus:     chat.SyncPending,
		DeliveredTo:    chat.NewStringSet(),
		ReadBy:         map[string]time.Time{},
		DeletedFor:     chat.NewStringSet(),
		CreatedAt:      now,
	}

	c.optimistic.Add(msg)
	c.metrics.SetOptimistic(c.optimistic.Len())

	started := timeNow()
	_, err := c.store.InsertMessage(ctx, msg)
	c.metrics.ObserveStage(stageLocal, started)

	c.optimistic.Remove(localID)
	c.metrics.SetOptimistic(c.optimistic.Len())

	if err != nil {
		c.metrics.ObserveSend("rejected")
		c.log.Warn().Err(err).Str("op", op).Str("local_id", localID).
			Str("conversation_id", conversationID).Msg("local persist failed")
		return nil, nil, chat.NewPipelineError(op, stageLocal, localID, err)
	}
	if err := run.advance(StateLocalPersisted); err != nil {
		return nil, nil, err
	}

	if err := c.store.TouchConversation(ctx, conversationID, chat.LastMessage{
		Text:      previewText(content),
		SenderID:  senderID,
		Timestamp: now,
	}); err != nil {
		c.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("touch conversation")
	}
	c.invalidate(ctx, conversationID)

	c.log.Debug().Str("op", op).Str("local_id", localID).Str("state", string(run.state)).Msg("message persisted")
	return run, &msg, nil
}

// deliver covers local_persisted -> remote_confirmed | failed. Once the
// remote call returns, local writes no longer follow the caller's
// cancellation so the row always ends synced or failed.
func (c *MessageCommands) deliver(ctx context.Context, op string, run *sendRun, msg *chat.Message) (*chat.Message, error) {
	started := timeNow()
	rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	remoteID, err := c.remote.SendMessage(rctx, msg.ConversationID, remote.SendPayload{
		SenderID: msg.SenderID,
		Content:  msg.Content,
		ClientID: msg.LocalID,
		SentAt:   msg.Timestamp,
	})
	cancel()
	c.metrics.ObserveStage(stageRemote, started)
	if err != nil {
		return c.fail(ctx, op, stageRemote, run, msg, err)
	}

	wctx := context.WithoutCancel(ctx)
	updated, err := c.reconcile(wctx, msg, remoteID)
	if err != nil {
		c.metrics.ObserveSend("reconcile_error")
		c.log.Error().Err(err).Str("op", op).Str("local_id", msg.LocalID).
			Str("remote_id", remoteID).Msg("canonical id swap failed")
		return c.fail(ctx, op, stageReconcile, run, msg, err)
	}
	if err := run.advance(StateRemoteConfirmed); err != nil {
		return updated, err
	}

	c.metrics.ObserveSend("synced")
	c.invalidate(wctx, msg.ConversationID)
	c.log.Info().Str("op", op).Str("local_id", msg.LocalID).Str("id", remoteID).Msg("message synced")
	return updated, nil
}

// reconcile swaps the local row to the canonical id. When a row with that id
// is already stored, the two rows are merged into one.
func (c *MessageCommands) reconcile(ctx context.Context, msg *chat.Message, remoteID string) (*chat.Message, error) {
	confirmed := chat.MessagePatch{
		Status:     chat.StatusPtr(chat.StatusSent),
		SyncStatus: chat.SyncPtr(chat.SyncSynced),
	}
	swap := confirmed
	swap.ID = chat.StringPtr(remoteID)

	updated, err := c.store.UpdateMessage(ctx, msg.LocalID, swap)
	if !errors.Is(err, chat.ErrConstraintViolation) {
		return updated, err
	}
	merged, merr := c.store.MergeMessage(ctx, msg.LocalID, remoteID, confirmed)
	if merr != nil {
		return nil, errors.Join(err, merr)
	}
	c.log.Info().Str("local_id", msg.LocalID).Str("id", remoteID).Msg("merged duplicate row")
	return merged, nil
}

// fail records a failed attempt: the row becomes sent/failed so it is
// retryable, and the classified error is returned alongside the latest row.
// The compensating write runs even when ctx is already cancelled.
func (c *MessageCommands) fail(ctx context.Context, op, stage string, run *sendRun, msg *chat.Message, cause error) (*chat.Message, error) {
	perr := chat.NewPipelineError(op, stage, msg.LocalID, cause)
	if err := run.advance(StateFailed); err != nil {
		return msg, errors.Join(perr, err)
	}

	wctx := context.WithoutCancel(ctx)
	out := msg
	updated, err := c.store.UpdateMessage(wctx, msg.LocalID, chat.MessagePatch{
		Status:     chat.StatusPtr(chat.StatusSent),
		SyncStatus: chat.SyncPtr(chat.SyncFailed),
	})
	if err != nil {
		c.log.Error().Err(err).Str("local_id", msg.LocalID).Msg("mark message failed")
	} else {
		out = updated
	}
	if c.optimistic.Remove(msg.LocalID) {
		c.metrics.SetOptimistic(c.optimistic.Len())
	}

	c.metrics.ObserveSend(string(chat.Classify(perr)))
	c.invalidate(wctx, msg.ConversationID)
	c.log.Warn().Err(cause).Str("op", op).Str("stage", stage).Str("local_id", msg.LocalID).
		Str("kind", string(chat.Classify(perr))).Msg("send failed")
	return out, perr
}

// ─── Receipts and deletion ───────────────────────────────────────────────────

// DeleteForUser hides a message for one user. The local delete always
// applies; a non-nil error alongside the message means the remote store was
// not told.
func (c *MessageCommands) DeleteForUser(ctx context.Context, key, userID string) (*chat.Message, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, chat.NewPipelineError(opDelete, stageValidate, key,
			fmt.Errorf("user id is required: %w", chat.ErrConstraintViolation))
	}
	msg, err := c.store.DeleteMessage(ctx, key, userID)
	if err != nil {
		return nil, chat.NewPipelineError(opDelete, stageLocal, key, err)
	}
	c.invalidate(ctx, msg.ConversationID)
	return msg, c.propagate(ctx, opDelete, msg, remote.StatusUpdate{DeletedFor: []string{userID}})
}

// MarkDelivered records that userID received the message.
func (c *MessageCommands) MarkDelivered(ctx context.Context, key, userID string) (*chat.Message, error) {
	patch := chat.MessagePatch{
		Status:      chat.StatusPtr(chat.StatusDelivered),
		DeliveredTo: []string{userID},
	}
	return c.receipt(ctx, opMarkDelivered, key, userID, patch, remote.StatusUpdate{
		Status:      chat.StatusDelivered,
		DeliveredTo: []string{userID},
	})
}

// MarkRead records that userID read the message. Read implies delivered.
func (c *MessageCommands) MarkRead(ctx context.Context, key, userID string) (*chat.Message, error) {
	now := timeNow()
	patch := chat.MessagePatch{
		Status:      chat.StatusPtr(chat.StatusRead),
		DeliveredTo: []string{userID},
		ReadBy:      map[string]time.Time{userID: now},
	}
	return c.receipt(ctx, opMarkRead, key, userID, patch, remote.StatusUpdate{
		Status:      chat.StatusRead,
		DeliveredTo: []string{userID},
		ReadBy:      map[string]time.Time{userID: now},
	})
}

func (c *MessageCommands) receipt(ctx context.Context, op, key, userID string, patch chat.MessagePatch, upd remote.StatusUpdate) (*chat.Message, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, chat.NewPipelineError(op, stageValidate, key,
			fmt.Errorf("user id is required: %w", chat.ErrConstraintViolation))
	}
	msg, err := c.store.UpdateMessage(ctx, key, patch)
	if err != nil {
		return nil, chat.NewPipelineError(op, stageLocal, key, err)
	}
	c.invalidate(ctx, msg.ConversationID)
	return msg, c.propagate(ctx, op, msg, upd)
}

// propagate pushes a status change for a confirmed message. Unconfirmed
// messages have nothing to update remotely yet.
func (c *MessageCommands) propagate(ctx context.Context, op string, msg *chat.Message, upd remote.StatusUpdate) error {
	if !msg.Confirmed() || msg.SyncStatus != chat.SyncSynced {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()
	if err := c.remote.UpdateMessageStatus(rctx, msg.ConversationID, msg.ID, upd); err != nil {
		c.log.Warn().Err(err).Str("op", op).Str("id", msg.ID).Msg("remote status update failed")
		return chat.NewPipelineError(op, stageRemote, msg.LocalID, err)
	}
	return nil
}

// MarkConversationSeen moves userID's seen marker to now, resets their unread
// count and reports the marker to the remote store.
func (c *MessageCommands) MarkConversationSeen(ctx context.Context, conversationID, userID string) (*chat.Conversation, error) {
	now := timeNow()
	conv, err := c.store.MarkConversationSeen(ctx, conversationID, userID, now)
	if err != nil {
		return nil, chat.NewPipelineError(opMarkSeen, stageLocal, "", err)
	}
	keys := []cache.Key{cache.MessagesKey(conversationID), cache.ConversationKey(conversationID), cache.ConversationsKey(userID)}
	c.invalidateKeys(ctx, keys...)

	rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()
	if err := c.remote.MarkConversationSeen(rctx, conversationID, userID, now); err != nil {
		c.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("remote seen marker failed")
		return conv, chat.NewPipelineError(opMarkSeen, stageRemote, "", err)
	}
	return conv, nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// List returns a page of durable messages merged with any optimistic entries
// for the conversation, ordered by timestamp. Messages the viewer deleted are
// hidden unless IncludeDeleted is set.
func (c *MessageCommands) List(ctx context.Context, conversationID string, opts ListOptions) ([]chat.Message, error) {
	stored, err := c.store.GetConversationMessages(ctx, conversationID, localstore.PageOptions{
		Limit:  opts.Limit,
		Offset: opts.Offset,
		Before: opts.Before,
	})
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	seen := make(map[string]bool, len(stored))
	out := make([]chat.Message, 0, len(stored))
	for _, m := range stored {
		if m.LocalID != "" {
			seen[m.LocalID] = true
		}
		if opts.Viewer != "" && !opts.IncludeDeleted && m.DeletedForUser(opts.Viewer) {
			continue
		}
		out = append(out, m)
	}
	for _, m := range c.optimistic.ListForConversation(conversationID) {
		if seen[m.LocalID] {
			continue
		}
		if !opts.Before.IsZero() && !m.Timestamp.Before(opts.Before) {
			continue
		}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (c *MessageCommands) invalidate(ctx context.Context, conversationID string) {
	keys := []cache.Key{cache.MessagesKey(conversationID), cache.ConversationKey(conversationID)}
	if conv, err := c.store.GetConversation(ctx, conversationID); err == nil {
		for _, p := range conv.Participants {
			keys = append(keys, cache.ConversationsKey(p))
		}
	}
	c.invalidateKeys(ctx, keys...)
}

func (c *MessageCommands) invalidateKeys(ctx context.Context, keys ...cache.Key) {
	if err := c.cache.Invalidate(ctx, keys...); err != nil {
		c.log.Warn().Err(err).Int("keys", len(keys)).Msg("cache invalidation failed")
		return
	}
	c.metrics.ObserveInvalidation(len(keys))
}

func previewText(content chat.Content) string {
	if content.Text != "" {
		return content.Text
	}
	switch content.Type {
	case chat.ContentImage:
		return "[image]"
	case chat.ContentFile:
		return "[file]"
	}
	return ""
}

func isRemoteURL(u string) bool {
	return strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")
}
