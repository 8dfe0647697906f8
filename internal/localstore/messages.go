package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HendryAvila/chatsync/internal/chat"
)

const messageColumns = `id, local_id, conversation_id, sender_id, content_text, content_type,
	media_url, media_thumbnail, timestamp, status, sync_status,
	delivered_to, read_by, deleted_at, deleted_for, created_at`

// PageOptions bounds a conversation message query. A zero Before means no
// upper bound; a non-positive Limit uses the configured page size.
type PageOptions struct {
	Limit  int
	Offset int
	Before time.Time
}

// InsertMessage writes msg if no row with the same id (or local id) exists.
// A duplicate is a no-op and reports inserted=false with a nil error. A
// message whose conversation is not stored locally fails with
// chat.ErrConstraintViolation and writes nothing.
func (s *Store) InsertMessage(ctx context.Context, msg chat.Message) (bool, error) {
	if msg.ID == "" {
		msg.ID = msg.LocalID
	}
	if msg.ID == "" {
		return false, fmt.Errorf("localstore: insert message: id is required")
	}
	if msg.Content.Type == "" {
		msg.Content.Type = chat.ContentText
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = timeNow()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = msg.CreatedAt
	}

	delivered, readBy, deletedFor, err := encodeMessageSets(msg)
	if err != nil {
		return false, fmt.Errorf("localstore: insert message %s: %w", msg.ID, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.execHook(ctx, s.db,
		`INSERT OR IGNORE INTO messages (`+messageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, nullableString(msg.LocalID), msg.ConversationID, msg.SenderID,
		msg.Content.Text, string(msg.Content.Type),
		nullableString(msg.Content.MediaURL), nullableString(msg.Content.MediaThumbnail),
		toMillis(msg.Timestamp), string(msg.Status), string(msg.SyncStatus),
		delivered, readBy, deletedAtMillis(msg.DeletedAt), deletedFor, toMillis(msg.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("localstore: insert message %s: %w", msg.ID, classify(err))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetMessage returns the message whose id or local id equals key.
func (s *Store) GetMessage(ctx context.Context, key string) (*chat.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, selectByKey, key, key, key))
	if isNoRows(err) {
		return nil, fmt.Errorf("localstore: message %s: %w", key, chat.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: get message %s: %w", key, err)
	}
	return m, nil
}

// An exact id match wins over a local id match.
const selectByKey = `SELECT ` + messageColumns + ` FROM messages
	WHERE id = ? OR local_id = ?
	ORDER BY (id = ?) DESC
	LIMIT 1`

// UpdateMessage applies patch to the message whose id or local id equals key.
// The id swap and every other field change commit in one transaction. Moving
// to an id already owned by another row fails with chat.ErrConstraintViolation.
func (s *Store) UpdateMessage(ctx context.Context, key string, patch chat.MessagePatch) (*chat.Message, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return nil, fmt.Errorf("localstore: update message: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	m, err := scanMessage(tx.QueryRowContext(ctx, selectByKey, key, key, key))
	if isNoRows(err) {
		return nil, fmt.Errorf("localstore: update message %s: %w", key, chat.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: update message %s: %w", key, err)
	}

	oldID := m.ID
	m.Apply(patch)

	delivered, readBy, deletedFor, err := encodeMessageSets(*m)
	if err != nil {
		return nil, fmt.Errorf("localstore: update message %s: %w", key, err)
	}
	if _, err := s.execHook(ctx, tx,
		`UPDATE messages
		 SET id = ?,
		     content_text = ?,
		     content_type = ?,
		     media_url = ?,
		     media_thumbnail = ?,
		     status = ?,
		     sync_status = ?,
		     delivered_to = ?,
		     read_by = ?,
		     deleted_for = ?
		 WHERE id = ?`,
		m.ID, m.Content.Text, string(m.Content.Type),
		nullableString(m.Content.MediaURL), nullableString(m.Content.MediaThumbnail),
		string(m.Status), string(m.SyncStatus),
		delivered, readBy, deletedFor, oldID,
	); err != nil {
		return nil, fmt.Errorf("localstore: update message %s: %w", key, classify(err))
	}

	if err := s.commitHook(tx); err != nil {
		return nil, fmt.Errorf("localstore: update message %s: commit: %w", key, err)
	}
	return m, nil
}

// MergeMessage folds the row known by localID into the row already stored
// under canonicalID, then applies patch to the survivor. This resolves a
// canonical id that arrived (for example through a realtime push without a
// client id) before the sender could swap its own row. The survivor keeps
// the client timestamp and local id, and unions the receipt and deletion
// sets. A canonical row that already belongs to a different local id fails
// with chat.ErrConstraintViolation.
func (s *Store) MergeMessage(ctx context.Context, localID, canonicalID string, patch chat.MessagePatch) (*chat.Message, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return nil, fmt.Errorf("localstore: merge message: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	canon, err := scanMessage(tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, canonicalID))
	if isNoRows(err) {
		return nil, fmt.Errorf("localstore: merge message %s: %w", canonicalID, chat.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: merge message %s: %w", canonicalID, err)
	}
	if canon.LocalID == localID {
		// Already reconciled.
		canon.Apply(patch)
		return canon, s.saveMerged(ctx, tx, canon, "")
	}
	if canon.LocalID != "" && canon.LocalID != canon.ID {
		return nil, fmt.Errorf("localstore: merge message %s: owned by local id %s: %w",
			canonicalID, canon.LocalID, chat.ErrConstraintViolation)
	}

	local, err := scanMessage(tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE local_id = ? AND id <> ?`, localID, canonicalID))
	if isNoRows(err) {
		return nil, fmt.Errorf("localstore: merge message %s: %w", localID, chat.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: merge message %s: %w", localID, err)
	}
	if local.ConversationID != canon.ConversationID {
		return nil, fmt.Errorf("localstore: merge message %s into %s: conversation mismatch: %w",
			localID, canonicalID, chat.ErrConstraintViolation)
	}

	canon.LocalID = localID
	canon.Timestamp = local.Timestamp
	canon.Status = chat.MaxStatus(canon.Status, local.Status)
	for _, id := range local.DeliveredTo.Slice() {
		canon.DeliveredTo.Add(id)
	}
	for _, id := range local.DeletedFor.Slice() {
		canon.DeletedFor.Add(id)
	}
	for id, at := range local.ReadBy {
		if prev, ok := canon.ReadBy[id]; !ok || at.Before(prev) {
			canon.ReadBy[id] = at
		}
	}
	if canon.DeletedAt == nil || (local.DeletedAt != nil && local.DeletedAt.Before(*canon.DeletedAt)) {
		canon.DeletedAt = local.DeletedAt
	}
	canon.Apply(patch)

	if _, err := s.execHook(ctx, tx, `DELETE FROM messages WHERE id = ?`, local.ID); err != nil {
		return nil, fmt.Errorf("localstore: merge message %s: drop duplicate: %w", localID, err)
	}
	if err := s.saveMerged(ctx, tx, canon, localID); err != nil {
		return nil, err
	}
	return canon, nil
}

// saveMerged writes m back by id and commits tx. A non-empty localID is
// attached to the row as well.
func (s *Store) saveMerged(ctx context.Context, tx *sql.Tx, m *chat.Message, localID string) error {
	delivered, readBy, deletedFor, err := encodeMessageSets(*m)
	if err != nil {
		return fmt.Errorf("localstore: merge message %s: %w", m.ID, err)
	}
	if _, err := s.execHook(ctx, tx,
		`UPDATE messages
		 SET local_id = COALESCE(?, local_id),
		     timestamp = ?,
		     status = ?,
		     sync_status = ?,
		     delivered_to = ?,
		     read_by = ?,
		     deleted_at = ?,
		     deleted_for = ?
		 WHERE id = ?`,
		nullableString(localID), toMillis(m.Timestamp),
		string(m.Status), string(m.SyncStatus),
		delivered, readBy, deletedAtMillis(m.DeletedAt), deletedFor, m.ID,
	); err != nil {
		return fmt.Errorf("localstore: merge message %s: %w", m.ID, classify(err))
	}
	if err := s.commitHook(tx); err != nil {
		return fmt.Errorf("localstore: merge message %s: commit: %w", m.ID, err)
	}
	return nil
}

// GetConversationMessages returns one page of a conversation in ascending
// timestamp order. Soft-deleted rows are included; callers filter per viewer.
func (s *Store) GetConversationMessages(ctx context.Context, conversationID string, opts PageOptions) ([]chat.Message, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}
	if !opts.Before.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, opts.Before.UnixMilli())
	}
	query += " ORDER BY timestamp ASC, created_at ASC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	msgs, err := s.queryMessages(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("localstore: conversation messages %s: %w", conversationID, err)
	}
	return msgs, nil
}

// CountMessages returns the number of stored rows for a conversation,
// soft-deleted rows included.
func (s *Store) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID,
	).Scan(&n)
	return n, err
}

// GetPendingMessages returns every message awaiting remote confirmation,
// across all conversations, oldest first.
func (s *Store) GetPendingMessages(ctx context.Context) ([]chat.Message, error) {
	return s.messagesBySync(ctx, chat.SyncPending)
}

// GetFailedMessages returns every message whose last sync attempt failed,
// oldest first.
func (s *Store) GetFailedMessages(ctx context.Context) ([]chat.Message, error) {
	return s.messagesBySync(ctx, chat.SyncFailed)
}

func (s *Store) messagesBySync(ctx context.Context, st chat.SyncStatus) ([]chat.Message, error) {
	msgs, err := s.queryMessages(ctx, s.db,
		`SELECT `+messageColumns+` FROM messages
		 WHERE sync_status = ?
		 ORDER BY timestamp ASC, created_at ASC, id ASC`,
		string(st),
	)
	if err != nil {
		return nil, fmt.Errorf("localstore: %s messages: %w", st, err)
	}
	return msgs, nil
}

// DeleteMessage soft-deletes the message for userID only. deleted_at is set on
// the first deletion and kept afterwards. Other participants still see the row.
func (s *Store) DeleteMessage(ctx context.Context, key, userID string) (*chat.Message, error) {
	if userID == "" {
		return nil, fmt.Errorf("localstore: delete message %s: user id is required", key)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return nil, fmt.Errorf("localstore: delete message: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	m, err := scanMessage(tx.QueryRowContext(ctx, selectByKey, key, key, key))
	if isNoRows(err) {
		return nil, fmt.Errorf("localstore: delete message %s: %w", key, chat.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: delete message %s: %w", key, err)
	}

	if m.DeletedFor == nil {
		m.DeletedFor = chat.NewStringSet()
	}
	if !m.DeletedFor.Add(userID) {
		return m, nil
	}
	if m.DeletedAt == nil {
		now := timeNow().UTC()
		m.DeletedAt = &now
	}

	deletedFor, err := encodeJSON(m.DeletedFor)
	if err != nil {
		return nil, err
	}
	if _, err := s.execHook(ctx, tx,
		`UPDATE messages SET deleted_for = ?, deleted_at = ? WHERE id = ?`,
		deletedFor, deletedAtMillis(m.DeletedAt), m.ID,
	); err != nil {
		return nil, fmt.Errorf("localstore: delete message %s: %w", key, err)
	}
	if err := s.commitHook(tx); err != nil {
		return nil, fmt.Errorf("localstore: delete message %s: commit: %w", key, err)
	}
	return m, nil
}

// DeleteOldMessages hard-deletes every message whose timestamp is older than
// maxAgeDays, regardless of sync or read state, and returns the count removed.
func (s *Store) DeleteOldMessages(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays <= 0 {
		return 0, fmt.Errorf("localstore: retention: max age must be positive, got %d", maxAgeDays)
	}
	cutoff := timeNow().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.execHook(ctx, s.db, `DELETE FROM messages WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("localstore: retention: %w", err)
	}
	return res.RowsAffected()
}

// ─── Row mapping ─────────────────────────────────────────────────────────────

func (s *Store) queryMessages(ctx context.Context, q queryer, query string, args ...any) ([]chat.Message, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMessage(row rowScanner) (*chat.Message, error) {
	var (
		m                             chat.Message
		localID, mediaURL, thumb      sql.NullString
		contentType, status, syncStat string
		ts, createdAt                 int64
		deletedAt                     sql.NullInt64
		delivered, readBy, deletedFor string
	)
	if err := row.Scan(
		&m.ID, &localID, &m.ConversationID, &m.SenderID, &m.Content.Text, &contentType,
		&mediaURL, &thumb, &ts, &status, &syncStat,
		&delivered, &readBy, &deletedAt, &deletedFor, &createdAt,
	); err != nil {
		return nil, err
	}

	m.LocalID = localID.String
	m.Content.Type = chat.ContentType(contentType)
	m.Content.MediaURL = mediaURL.String
	m.Content.MediaThumbnail = thumb.String
	m.Timestamp = fromMillis(ts)
	m.CreatedAt = fromMillis(createdAt)
	m.Status = chat.Status(status)
	m.SyncStatus = chat.SyncStatus(syncStat)
	if deletedAt.Valid {
		at := fromMillis(deletedAt.Int64)
		m.DeletedAt = &at
	}

	m.DeliveredTo = chat.NewStringSet()
	if err := decodeJSON(delivered, &m.DeliveredTo); err != nil {
		return nil, fmt.Errorf("decode delivered_to: %w", err)
	}
	m.DeletedFor = chat.NewStringSet()
	if err := decodeJSON(deletedFor, &m.DeletedFor); err != nil {
		return nil, fmt.Errorf("decode deleted_for: %w", err)
	}
	var reads map[string]int64
	if err := decodeJSON(readBy, &reads); err != nil {
		return nil, fmt.Errorf("decode read_by: %w", err)
	}
	m.ReadBy = make(map[string]time.Time, len(reads))
	for id, ms := range reads {
		m.ReadBy[id] = fromMillis(ms)
	}
	return &m, nil
}

// encodeMessageSets renders the JSON columns. read_by is stored as unix
// milliseconds per user.
func encodeMessageSets(m chat.Message) (delivered, readBy, deletedFor string, err error) {
	if m.DeliveredTo == nil {
		m.DeliveredTo = chat.NewStringSet()
	}
	if m.DeletedFor == nil {
		m.DeletedFor = chat.NewStringSet()
	}
	if delivered, err = encodeJSON(m.DeliveredTo); err != nil {
		return
	}
	if deletedFor, err = encodeJSON(m.DeletedFor); err != nil {
		return
	}
	reads := make(map[string]int64, len(m.ReadBy))
	for id, at := range m.ReadBy {
		reads[id] = toMillis(at)
	}
	readBy, err = encodeJSON(reads)
	return
}

func deletedAtMillis(at *time.Time) any {
	if at == nil {
		return nil
	}
	return at.UnixMilli()
}
