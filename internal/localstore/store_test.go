package localstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/HendryAvila/chatsync/internal/chat"
	"github.com/HendryAvila/chatsync/internal/localstore"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestStore creates a Store backed by a temp directory for isolation.
func newTestStore(t *testing.T) *localstore.Store {
	t.Helper()
	s, err := localstore.New(localstore.Config{DataDir: t.TempDir(), DefaultPageSize: 50})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ensureConversation creates the direct conversation that messages depend on.
func ensureConversation(t *testing.T, s *localstore.Store, id string, participants ...string) {
	t.Helper()
	if len(participants) == 0 {
		participants = []string{"alice", "bob"}
	}
	typ := chat.ConversationDirect
	if len(participants) > 2 {
		typ = chat.ConversationGroup
	}
	conv := chat.Conversation{ID: id, Type: typ, Participants: participants, CreatedAt: base, LastActivity: base}
	if err := s.UpsertConversation(context.Background(), conv); err != nil {
		t.Fatalf("failed to upsert conversation %q: %v", id, err)
	}
}

func newMessage(id, conv string, ts time.Time) chat.Message {
	return chat.Message{
		ID:             id,
		LocalID:        id,
		ConversationID: conv,
		SenderID:       "alice",
		Content:        chat.Content{Text: "hello " + id, Type: chat.ContentText},
		Timestamp:      ts,
		Status:         chat.StatusSending,
		SyncStatus:     chat.SyncPending,
	}
}

func mustInsert(t *testing.T, s *localstore.Store, m chat.Message) {
	t.Helper()
	if _, err := s.InsertMessage(context.Background(), m); err != nil {
		t.Fatalf("insert %s: %v", m.ID, err)
	}
}

// ─── New / Initialization ───────────────────────────────────────────────────

func TestNew_ReopenKeepsDataAndVersion(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := localstore.New(localstore.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	ensureConversation(t, s1, "c1")
	mustInsert(t, s1, newMessage("m1", "c1", base))
	s1.Close()

	s2, err := localstore.New(localstore.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	if _, err := s2.GetMessage(ctx, "m1"); err != nil {
		t.Fatalf("message not found after reopen: %v", err)
	}
	v, err := s2.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 1 {
		t.Errorf("schema version = %d, want 1", v)
	}
}

func TestNew_ForeignKeysEnabledOnEveryConnection(t *testing.T) {
	s := newTestStore(t)
	db := s.DB()
	db.SetMaxOpenConns(4)
	for i := 0; i < 4; i++ {
		var on int
		if err := db.QueryRow("PRAGMA foreign_keys").Scan(&on); err != nil {
			t.Fatalf("pragma: %v", err)
		}
		if on != 1 {
			t.Fatalf("foreign_keys = %d, want 1", on)
		}
	}
}

// ─── Insert ─────────────────────────────────────────────────────────────────

func TestInsertMessage_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")

	m := newMessage("m1", "c1", base)
	inserted, err := s.InsertMessage(ctx, m)
	if err != nil || !inserted {
		t.Fatalf("first insert = %v, %v; want true, nil", inserted, err)
	}
	inserted, err = s.InsertMessage(ctx, m)
	if err != nil {
		t.Fatalf("duplicate insert should not error: %v", err)
	}
	if inserted {
		t.Error("duplicate insert should report inserted=false")
	}

	n, err := s.CountMessages(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("row count = %d, want 1", n)
	}
}

func TestInsertMessage_DuplicateLocalIDIgnored(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")

	mustInsert(t, s, newMessage("l1", "c1", base))
	dup := newMessage("srv-1", "c1", base)
	dup.LocalID = "l1"
	inserted, err := s.InsertMessage(ctx, dup)
	if err != nil || inserted {
		t.Fatalf("insert with taken local id = %v, %v; want false, nil", inserted, err)
	}
}

func TestInsertMessage_UnknownConversationRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.InsertMessage(ctx, newMessage("m1", "missing", base))
	if !errors.Is(err, chat.ErrConstraintViolation) {
		t.Fatalf("error = %v, want ErrConstraintViolation", err)
	}
	if _, err := s.GetMessage(ctx, "m1"); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("row should not exist, GetMessage error = %v", err)
	}
}

// ─── Update ─────────────────────────────────────────────────────────────────

func TestUpdateMessage_SwapIDByLocalID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")
	mustInsert(t, s, newMessage("l1", "c1", base))

	got, err := s.UpdateMessage(ctx, "l1", chat.MessagePatch{
		ID:         chat.StringPtr("srv-1"),
		Status:     chat.StatusPtr(chat.StatusSent),
		SyncStatus: chat.SyncPtr(chat.SyncSynced),
	})
	if err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	if got.ID != "srv-1" || got.LocalID != "l1" {
		t.Errorf("ids = %q/%q, want srv-1/l1", got.ID, got.LocalID)
	}

	byLocal, err := s.GetMessage(ctx, "l1")
	if err != nil {
		t.Fatalf("lookup by local id: %v", err)
	}
	if byLocal.ID != "srv-1" || byLocal.SyncStatus != chat.SyncSynced || byLocal.Status != chat.StatusSent {
		t.Errorf("stored = %+v", byLocal)
	}
	if !byLocal.Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want unchanged %v", byLocal.Timestamp, base)
	}

	// A second reconciliation keyed by local id is harmless.
	if _, err := s.UpdateMessage(ctx, "l1", chat.MessagePatch{ID: chat.StringPtr("srv-1")}); err != nil {
		t.Errorf("repeat reconciliation: %v", err)
	}
}

func TestUpdateMessage_StatusIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")
	mustInsert(t, s, newMessage("m1", "c1", base))

	if _, err := s.UpdateMessage(ctx, "m1", chat.MessagePatch{Status: chat.StatusPtr(chat.StatusRead)}); err != nil {
		t.Fatal(err)
	}
	got, err := s.UpdateMessage(ctx, "m1", chat.MessagePatch{Status: chat.StatusPtr(chat.StatusSent)})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != chat.StatusRead {
		t.Errorf("status = %q, want read", got.Status)
	}
}

func TestUpdateMessage_SwapConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")
	mustInsert(t, s, newMessage("l1", "c1", base))
	mustInsert(t, s, newMessage("srv-1", "c1", base))

	_, err := s.UpdateMessage(ctx, "l1", chat.MessagePatch{ID: chat.StringPtr("srv-1")})
	if !errors.Is(err, chat.ErrConstraintViolation) {
		t.Fatalf("error = %v, want ErrConstraintViolation", err)
	}
}

func TestMergeMessage_FoldsLocalRowIntoCanonical(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")

	local := newMessage("l1", "c1", base)
	local.DeletedFor = chat.NewStringSet("alice")
	mustInsert(t, s, local)

	pushed := newMessage("srv-1", "c1", base.Add(time.Minute))
	pushed.LocalID = ""
	pushed.Status = chat.StatusDelivered
	pushed.SyncStatus = chat.SyncSynced
	pushed.DeliveredTo = chat.NewStringSet("bob")
	mustInsert(t, s, pushed)

	got, err := s.MergeMessage(ctx, "l1", "srv-1", chat.MessagePatch{
		Status:     chat.StatusPtr(chat.StatusSent),
		SyncStatus: chat.SyncPtr(chat.SyncSynced),
	})
	if err != nil {
		t.Fatalf("MergeMessage: %v", err)
	}
	if got.ID != "srv-1" || got.LocalID != "l1" {
		t.Errorf("ids = %q/%q, want srv-1/l1", got.ID, got.LocalID)
	}
	if got.Status != chat.StatusDelivered || got.SyncStatus != chat.SyncSynced {
		t.Errorf("status = %s/%s, want delivered/synced", got.Status, got.SyncStatus)
	}

	stored, err := s.GetMessage(ctx, "l1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if stored.ID != "srv-1" {
		t.Errorf("local id resolves to %q, want srv-1", stored.ID)
	}
	if !stored.Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want client timestamp %v", stored.Timestamp, base)
	}
	if !stored.DeliveredTo.Has("bob") || !stored.DeletedFor.Has("alice") {
		t.Errorf("sets = delivered %v, deleted %v, want both sides kept", stored.DeliveredTo.Slice(), stored.DeletedFor.Slice())
	}
	if n, _ := s.CountMessages(ctx, "c1"); n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}

	// Merging again is a no-op.
	if _, err := s.MergeMessage(ctx, "l1", "srv-1", chat.MessagePatch{}); err != nil {
		t.Errorf("repeat merge: %v", err)
	}
}

func TestMergeMessage_CanonicalOwnedElsewhere(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")
	mustInsert(t, s, newMessage("l1", "c1", base))
	owned := newMessage("srv-1", "c1", base)
	owned.LocalID = "l2"
	mustInsert(t, s, owned)

	_, err := s.MergeMessage(ctx, "l1", "srv-1", chat.MessagePatch{})
	if !errors.Is(err, chat.ErrConstraintViolation) {
		t.Fatalf("error = %v, want ErrConstraintViolation", err)
	}
	if n, _ := s.CountMessages(ctx, "c1"); n != 2 {
		t.Errorf("rows = %d, want both rows untouched", n)
	}
}

func TestMergeMessage_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")
	mustInsert(t, s, newMessage("l1", "c1", base))

	if _, err := s.MergeMessage(ctx, "l1", "srv-404", chat.MessagePatch{}); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestUpdateMessage_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdateMessage(context.Background(), "nope", chat.MessagePatch{})
	if !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestUpdateMessage_CommitFailureLeavesRowUntouched(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")
	mustInsert(t, s, newMessage("l1", "c1", base))

	s.FailCommits(errors.New("disk full"))
	if _, err := s.UpdateMessage(ctx, "l1", chat.MessagePatch{
		ID:         chat.StringPtr("srv-1"),
		SyncStatus: chat.SyncPtr(chat.SyncSynced),
	}); err == nil {
		t.Fatal("expected commit error")
	}

	got, err := s.GetMessage(ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "l1" || got.SyncStatus != chat.SyncPending {
		t.Errorf("partial update leaked: id=%q sync=%q", got.ID, got.SyncStatus)
	}
}

func TestUpdateMessage_MergesReceipts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "g1", "alice", "bob", "carol")
	mustInsert(t, s, newMessage("m1", "g1", base))

	if _, err := s.UpdateMessage(ctx, "m1", chat.MessagePatch{DeliveredTo: []string{"bob"}}); err != nil {
		t.Fatal(err)
	}
	got, err := s.UpdateMessage(ctx, "m1", chat.MessagePatch{
		DeliveredTo: []string{"carol"},
		ReadBy:      map[string]time.Time{"bob": base.Add(time.Minute)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !got.DeliveredTo.Has("bob") || !got.DeliveredTo.Has("carol") {
		t.Errorf("deliveredTo = %v, want bob and carol", got.DeliveredTo.Slice())
	}
	if !got.ReadBy["bob"].Equal(base.Add(time.Minute)) {
		t.Errorf("readBy[bob] = %v", got.ReadBy["bob"])
	}
}

// ─── Queries ────────────────────────────────────────────────────────────────

func TestGetConversationMessages_Pagination(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")

	// Insert out of order; timestamps drive ordering.
	for _, i := range []int{9, 3, 0, 7, 1, 5, 2, 8, 4, 6} {
		mustInsert(t, s, newMessage(fmt.Sprintf("m%d", i), "c1", base.Add(time.Duration(i)*time.Second)))
	}

	page, err := s.GetConversationMessages(ctx, "c1", localstore.PageOptions{Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 5 {
		t.Fatalf("len = %d, want 5", len(page))
	}
	for i, m := range page {
		if want := fmt.Sprintf("m%d", i); m.ID != want {
			t.Errorf("page[%d] = %q, want %q", i, m.ID, want)
		}
	}

	next, err := s.GetConversationMessages(ctx, "c1", localstore.PageOptions{Limit: 5, Offset: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(next) != 5 || next[0].ID != "m5" {
		t.Errorf("second page starts at %v", next)
	}

	before, err := s.GetConversationMessages(ctx, "c1", localstore.PageOptions{Before: base.Add(3 * time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != 3 {
		t.Errorf("before filter returned %d rows, want 3", len(before))
	}
}

func TestGetPendingMessages_AcrossConversations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")
	ensureConversation(t, s, "c2", "alice", "carol")

	mustInsert(t, s, newMessage("b", "c2", base.Add(2*time.Second)))
	mustInsert(t, s, newMessage("a", "c1", base.Add(time.Second)))
	synced := newMessage("done", "c1", base)
	synced.SyncStatus = chat.SyncSynced
	mustInsert(t, s, synced)
	failed := newMessage("f", "c1", base)
	failed.SyncStatus = chat.SyncFailed
	mustInsert(t, s, failed)

	pending, err := s.GetPendingMessages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != "a" || pending[1].ID != "b" {
		t.Errorf("pending = %v, want [a b]", ids(pending))
	}

	failedRows, err := s.GetFailedMessages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(failedRows) != 1 || failedRows[0].ID != "f" {
		t.Errorf("failed = %v, want [f]", ids(failedRows))
	}
}

func ids(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

// ─── Delete ─────────────────────────────────────────────────────────────────

func TestDeleteMessage_PerUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")
	mustInsert(t, s, newMessage("m1", "c1", base))

	frozen := base.Add(time.Hour)
	restore := localstore.SetTimeNow(func() time.Time { return frozen })
	defer restore()

	if _, err := s.DeleteMessage(ctx, "m1", "alice"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.DeletedForUser("alice") || got.DeletedForUser("bob") {
		t.Errorf("deletedFor = %v, want [alice]", got.DeletedFor.Slice())
	}
	if got.DeletedAt == nil || !got.DeletedAt.Equal(frozen) {
		t.Errorf("deletedAt = %v, want %v", got.DeletedAt, frozen)
	}

	if _, err := s.DeleteMessage(ctx, "m1", "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DeleteMessage(ctx, "m1", "bob"); err != nil {
		t.Fatalf("repeat delete should be a no-op: %v", err)
	}
	got, _ = s.GetMessage(ctx, "m1")
	if got.DeletedFor.Len() != 2 {
		t.Errorf("deletedFor = %v, want alice and bob", got.DeletedFor.Slice())
	}
	if !got.DeletedAt.Equal(frozen) {
		t.Errorf("deletedAt changed on second delete: %v", got.DeletedAt)
	}

	n, _ := s.CountMessages(ctx, "c1")
	if n != 1 {
		t.Errorf("row count = %d, want 1 (soft delete keeps the row)", n)
	}

	if _, err := s.DeleteMessage(ctx, "missing", "alice"); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("missing message error = %v, want ErrNotFound", err)
	}
}

func TestDeleteOldMessages_Retention(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")

	now := base
	restore := localstore.SetTimeNow(func() time.Time { return now })
	defer restore()

	old := newMessage("old", "c1", now.AddDate(0, 0, -100))
	old.SyncStatus = chat.SyncPending
	mustInsert(t, s, old)
	mustInsert(t, s, newMessage("fresh", "c1", now.Add(-time.Hour)))

	n, err := s.DeleteOldMessages(ctx, 90)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if _, err := s.GetMessage(ctx, "old"); !errors.Is(err, chat.ErrNotFound) {
		t.Error("old message should be gone")
	}
	if _, err := s.GetMessage(ctx, "fresh"); err != nil {
		t.Errorf("fresh message should remain: %v", err)
	}

	if _, err := s.DeleteOldMessages(ctx, 0); err == nil {
		t.Error("non-positive max age should be rejected")
	}
}

// ─── Conversations ──────────────────────────────────────────────────────────

func TestUpsertConversation_DoesNotCascade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")
	mustInsert(t, s, newMessage("m1", "c1", base))

	if err := s.UpsertConversation(ctx, chat.Conversation{
		ID: "c1", Type: chat.ConversationDirect, Participants: []string{"alice", "bob"},
		Name: "renamed", LastActivity: base.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	if n, _ := s.CountMessages(ctx, "c1"); n != 1 {
		t.Errorf("messages after upsert = %d, want 1", n)
	}
	c, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "renamed" {
		t.Errorf("name = %q, want renamed", c.Name)
	}
}

func TestDeleteConversation_Cascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")
	mustInsert(t, s, newMessage("m1", "c1", base))

	if err := s.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetMessage(ctx, "m1"); !errors.Is(err, chat.ErrNotFound) {
		t.Error("message should be removed with its conversation")
	}
	if err := s.DeleteConversation(ctx, "c1"); !errors.Is(err, chat.ErrConversationNotFound) {
		t.Errorf("second delete error = %v", err)
	}
}

func TestGetConversations_FilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, c := range []chat.Conversation{
		{ID: "old", Type: chat.ConversationDirect, Participants: []string{"alice", "bob"}},
		{ID: "new", Type: chat.ConversationDirect, Participants: []string{"alice", "carol"}},
		{ID: "other", Type: chat.ConversationDirect, Participants: []string{"bob", "carol"}},
	} {
		c.LastActivity = base.Add(time.Duration(i) * time.Minute)
		if err := s.UpsertConversation(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.GetConversations(ctx, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "old" {
		t.Errorf("alice conversations = %v", got)
	}

	all, err := s.GetConversations(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("all conversations = %d, want 3", len(all))
	}
}

func TestTouchConversation_IgnoresOlderSummary(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")

	newer := chat.LastMessage{Text: "second", SenderID: "bob", Timestamp: base.Add(2 * time.Minute)}
	older := chat.LastMessage{Text: "first", SenderID: "alice", Timestamp: base.Add(time.Minute)}
	if err := s.TouchConversation(ctx, "c1", newer); err != nil {
		t.Fatal(err)
	}
	if err := s.TouchConversation(ctx, "c1", older); err != nil {
		t.Fatal(err)
	}
	c, _ := s.GetConversation(ctx, "c1")
	if c.LastMessage == nil || c.LastMessage.Text != "second" {
		t.Errorf("last message = %+v, want second", c.LastMessage)
	}
	if !c.LastActivity.Equal(newer.Timestamp) {
		t.Errorf("last activity = %v, want %v", c.LastActivity, newer.Timestamp)
	}
	if err := s.TouchConversation(ctx, "missing", newer); !errors.Is(err, chat.ErrConversationNotFound) {
		t.Errorf("missing conversation error = %v", err)
	}
}

func TestMarkConversationSeen(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.UpsertConversation(ctx, chat.Conversation{
		ID: "c1", Type: chat.ConversationDirect, Participants: []string{"alice", "bob"},
		UnreadCount: map[string]int{"bob": 3},
	}); err != nil {
		t.Fatal(err)
	}

	c, err := s.MarkConversationSeen(ctx, "c1", "bob", base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount["bob"] != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount["bob"])
	}
	if _, err := s.MarkConversationSeen(ctx, "c1", "bob", base); err != nil {
		t.Fatal(err)
	}
	stored, _ := s.GetConversation(ctx, "c1")
	if !stored.LastSeenBy["bob"].SeenAt.Equal(base.Add(time.Minute)) {
		t.Errorf("seenAt regressed to %v", stored.LastSeenBy["bob"].SeenAt)
	}
	if _, err := s.MarkConversationSeen(ctx, "c1", "mallory", base); !errors.Is(err, chat.ErrConstraintViolation) {
		t.Errorf("non-participant error = %v", err)
	}
}

// ─── Users ──────────────────────────────────────────────────────────────────

func TestLookupContact(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.UpsertUser(ctx, chat.User{ID: "u-bob", DisplayName: "Bob", Email: "Bob@Example.com"}); err != nil {
		t.Fatal(err)
	}

	for _, ref := range []string{"u-bob", "bob@example.com", "BOB@example.com"} {
		u, err := s.LookupContact(ctx, ref)
		if err != nil {
			t.Fatalf("LookupContact(%q): %v", ref, err)
		}
		if u.ID != "u-bob" {
			t.Errorf("LookupContact(%q) = %q", ref, u.ID)
		}
	}
	if _, err := s.LookupContact(ctx, "nobody"); !errors.Is(err, chat.ErrContactNotFound) {
		t.Errorf("unknown contact error = %v, want ErrContactNotFound", err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ensureConversation(t, s, "c1")
	mustInsert(t, s, newMessage("m1", "c1", base))
	m2 := newMessage("m2", "c1", base)
	m2.SyncStatus = chat.SyncFailed
	mustInsert(t, s, m2)

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Conversations != 1 || st.Messages != 2 || st.Pending != 1 || st.Failed != 1 {
		t.Errorf("stats = %+v", st)
	}
}
