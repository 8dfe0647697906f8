package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HendryAvila/chatsync/internal/chat"
)

const conversationColumns = `id, type, participants, participant_details, name,
	last_message_text, last_message_sender_id, last_message_at, last_activity,
	unread_count, last_seen_by, created_at`

// UpsertConversation inserts conv or replaces the stored row with the same id.
// It updates in place so the cascade from conversations to messages never
// fires on a refresh.
func (s *Store) UpsertConversation(ctx context.Context, conv chat.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("localstore: upsert conversation: id is required")
	}
	now := timeNow()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.LastActivity.IsZero() {
		conv.LastActivity = conv.CreatedAt
	}

	participants, err := encodeJSON(chat.NormalizeParticipants(conv.Participants))
	if err != nil {
		return err
	}
	details, err := encodeJSON(nonNilMap(conv.ParticipantDetails))
	if err != nil {
		return err
	}
	unread, err := encodeJSON(nonNilMap(conv.UnreadCount))
	if err != nil {
		return err
	}
	seen, err := encodeSeen(conv.LastSeenBy)
	if err != nil {
		return err
	}

	var lmText, lmSender *string
	var lmAt any
	if lm := conv.LastMessage; lm != nil {
		lmText = &lm.Text
		lmSender = nullableString(lm.SenderID)
		lmAt = toMillis(lm.Timestamp)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.execHook(ctx, s.db,
		`INSERT INTO conversations (`+conversationColumns+`, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     type                   = excluded.type,
		     participants           = excluded.participants,
		     participant_details    = excluded.participant_details,
		     name                   = excluded.name,
		     last_message_text      = excluded.last_message_text,
		     last_message_sender_id = excluded.last_message_sender_id,
		     last_message_at        = excluded.last_message_at,
		     last_activity          = excluded.last_activity,
		     unread_count           = excluded.unread_count,
		     last_seen_by           = excluded.last_seen_by,
		     updated_at             = excluded.updated_at`,
		conv.ID, string(conv.Type), participants, details, nullableString(conv.Name),
		lmText, lmSender, lmAt, toMillis(conv.LastActivity),
		unread, seen, toMillis(conv.CreatedAt), now.UnixMilli(),
	); err != nil {
		return fmt.Errorf("localstore: upsert conversation %s: %w", conv.ID, classify(err))
	}
	return nil
}

// GetConversation returns the stored conversation with the given id.
func (s *Store) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id,
	))
	if isNoRows(err) {
		return nil, fmt.Errorf("localstore: %s: %w", id, chat.ErrConversationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: get conversation %s: %w", id, err)
	}
	return c, nil
}

// GetConversations lists conversations by most recent activity. A non-empty
// userID restricts the list to conversations that user participates in.
func (s *Store) GetConversations(ctx context.Context, userID string, limit int) ([]chat.Conversation, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	query := `SELECT ` + conversationColumns + ` FROM conversations c`
	args := []any{}
	if userID != "" {
		query += ` WHERE EXISTS (SELECT 1 FROM json_each(c.participants) p WHERE p.value = ?)`
		args = append(args, userID)
	}
	query += ` ORDER BY last_activity DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("localstore: list conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []chat.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("localstore: list conversations: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// TouchConversation advances the last-message summary and activity time.
// An older summary than the stored one is ignored.
func (s *Store) TouchConversation(ctx context.Context, id string, lm chat.LastMessage) error {
	at := toMillis(lm.Timestamp)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.execHook(ctx, s.db,
		`UPDATE conversations
		 SET last_message_text = ?,
		     last_message_sender_id = ?,
		     last_message_at = ?,
		     last_activity = MAX(last_activity, ?),
		     updated_at = ?
		 WHERE id = ? AND (last_message_at IS NULL OR last_message_at <= ?)`,
		lm.Text, nullableString(lm.SenderID), at, at, timeNow().UnixMilli(), id, at,
	)
	if err != nil {
		return fmt.Errorf("localstore: touch conversation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either unknown or already newer; only the first is an error.
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM conversations WHERE id = ?", id).Scan(&exists)
		if isNoRows(err) {
			return fmt.Errorf("localstore: touch %s: %w", id, chat.ErrConversationNotFound)
		}
		return err
	}
	return nil
}

// MarkConversationSeen records that userID viewed the conversation at seenAt
// and resets that user's unread counter. Earlier marks are ignored.
func (s *Store) MarkConversationSeen(ctx context.Context, id, userID string, seenAt time.Time) (*chat.Conversation, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return nil, fmt.Errorf("localstore: mark seen: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := scanConversation(tx.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id,
	))
	if isNoRows(err) {
		return nil, fmt.Errorf("localstore: mark seen %s: %w", id, chat.ErrConversationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: mark seen %s: %w", id, err)
	}
	if !c.HasParticipant(userID) {
		return nil, fmt.Errorf("localstore: mark seen %s: %s is not a participant: %w", id, userID, chat.ErrConstraintViolation)
	}

	if prev, ok := c.LastSeenBy[userID]; !ok || seenAt.After(prev.SeenAt) {
		c.LastSeenBy[userID] = chat.SeenMarker{SeenAt: seenAt.UTC()}
	}
	c.UnreadCount[userID] = 0

	seen, err := encodeSeen(c.LastSeenBy)
	if err != nil {
		return nil, err
	}
	unread, err := encodeJSON(c.UnreadCount)
	if err != nil {
		return nil, err
	}
	if _, err := s.execHook(ctx, tx,
		`UPDATE conversations SET last_seen_by = ?, unread_count = ?, updated_at = ? WHERE id = ?`,
		seen, unread, timeNow().UnixMilli(), id,
	); err != nil {
		return nil, fmt.Errorf("localstore: mark seen %s: %w", id, err)
	}
	if err := s.commitHook(tx); err != nil {
		return nil, fmt.Errorf("localstore: mark seen %s: commit: %w", id, err)
	}
	return c, nil
}

// DeleteConversation removes a conversation and, through the cascade, all of
// its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.execHook(ctx, s.db, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("localstore: delete conversation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("localstore: delete %s: %w", id, chat.ErrConversationNotFound)
	}
	return nil
}

func scanConversation(row rowScanner) (*chat.Conversation, error) {
	var (
		c                          chat.Conversation
		typ, participants, details string
		name, lmText, lmSender     sql.NullString
		lmAt                       sql.NullInt64
		lastActivity, createdAt    int64
		unread, seen               string
	)
	if err := row.Scan(
		&c.ID, &typ, &participants, &details, &name,
		&lmText, &lmSender, &lmAt, &lastActivity,
		&unread, &seen, &createdAt,
	); err != nil {
		return nil, err
	}

	c.Type = chat.ConversationType(typ)
	c.Name = name.String
	c.LastActivity = fromMillis(lastActivity)
	c.CreatedAt = fromMillis(createdAt)
	if lmAt.Valid {
		c.LastMessage = &chat.LastMessage{
			Text:      lmText.String,
			SenderID:  lmSender.String,
			Timestamp: fromMillis(lmAt.Int64),
		}
	}

	if err := decodeJSON(participants, &c.Participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	c.ParticipantDetails = map[string]chat.ParticipantDetail{}
	if err := decodeJSON(details, &c.ParticipantDetails); err != nil {
		return nil, fmt.Errorf("decode participant_details: %w", err)
	}
	c.UnreadCount = map[string]int{}
	if err := decodeJSON(unread, &c.UnreadCount); err != nil {
		return nil, fmt.Errorf("decode unread_count: %w", err)
	}
	var seenMs map[string]int64
	if err := decodeJSON(seen, &seenMs); err != nil {
		return nil, fmt.Errorf("decode last_seen_by: %w", err)
	}
	c.LastSeenBy = make(map[string]chat.SeenMarker, len(seenMs))
	for id, ms := range seenMs {
		c.LastSeenBy[id] = chat.SeenMarker{SeenAt: fromMillis(ms)}
	}
	return &c, nil
}

// encodeSeen stores last-seen marks as unix milliseconds per user.
func encodeSeen(seen map[string]chat.SeenMarker) (string, error) {
	ms := make(map[string]int64, len(seen))
	for id, mark := range seen {
		ms[id] = toMillis(mark.SeenAt)
	}
	return encodeJSON(ms)
}

func nonNilMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}
