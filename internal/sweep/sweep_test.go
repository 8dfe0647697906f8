package sweep_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/HendryAvila/chatsync/internal/chat"
	"github.com/HendryAvila/chatsync/internal/commands"
	"github.com/HendryAvila/chatsync/internal/localstore"
	"github.com/HendryAvila/chatsync/internal/remote"
	"github.com/HendryAvila/chatsync/internal/sweep"
)

type fixture struct {
	store    *localstore.Store
	remote   *remote.Memory
	messages *commands.MessageCommands
	convID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := localstore.New(localstore.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mem := remote.NewMemory()
	convID, err := mem.CreateOrGetConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("remote create: %v", err)
	}
	conv, _ := mem.GetConversationByID(ctx, convID)
	if err := store.UpsertConversation(ctx, *conv); err != nil {
		t.Fatalf("upsert conversation: %v", err)
	}

	msgs, err := commands.NewMessageCommands(commands.MessageOptions{
		Store:  store,
		Remote: mem,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewMessageCommands: %v", err)
	}
	return &fixture{store: store, remote: mem, messages: msgs, convID: convID}
}

func (f *fixture) sendOffline(t *testing.T, text string) *chat.Message {
	t.Helper()
	f.remote.SetOffline(true)
	defer f.remote.SetOffline(false)
	msg, err := f.messages.Send(context.Background(), commands.SendRequest{ConversationID: f.convID, SenderID: "alice", Text: text})
	if err == nil {
		t.Fatal("offline send should fail")
	}
	return msg
}

// insertPending stores a message that never reached the send step.
func (f *fixture) insertPending(t *testing.T, id string) {
	t.Helper()
	msg := chat.Message{
		ID:             id,
		LocalID:        id,
		ConversationID: f.convID,
		SenderID:       "alice",
		Content:        chat.Content{Text: "pending " + id, Type: chat.ContentText},
		Timestamp:      time.Now(),
		Status:         chat.StatusSending,
		SyncStatus:     chat.SyncPending,
	}
	if _, err := f.store.InsertMessage(context.Background(), msg); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func TestSweeper_PendingOnlyByDefault(t *testing.T) {
	f := newFixture(t)
	f.insertPending(t, "p1")
	f.sendOffline(t, "failed one")

	s, err := sweep.New(sweep.Options{Source: f.store, Resender: f.messages, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Attempted != 1 || report.Synced != 1 {
		t.Errorf("report = %+v, want 1 attempted and synced", report)
	}
	if report.Items[0].LocalID != "p1" || report.Items[0].ID == "p1" {
		t.Errorf("item = %+v, want p1 swapped to a canonical id", report.Items[0])
	}

	failed, _ := f.store.GetFailedMessages(context.Background())
	if len(failed) != 1 {
		t.Errorf("failed messages = %d, want 1 left untouched", len(failed))
	}
}

func TestSweeper_IncludeFailed(t *testing.T) {
	f := newFixture(t)
	f.sendOffline(t, "a")
	f.sendOffline(t, "b")

	s, err := sweep.New(sweep.Options{Source: f.store, Resender: f.messages, IncludeFailed: true, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Synced != 2 {
		t.Errorf("synced = %d, want 2", report.Synced)
	}
	if n := len(f.remote.Messages(f.convID)); n != 2 {
		t.Errorf("remote messages = %d, want 2", n)
	}
}

func TestSweeper_TimestampOrderAcrossStates(t *testing.T) {
	f := newFixture(t)
	older := f.sendOffline(t, "older failed")
	time.Sleep(2 * time.Millisecond)
	f.insertPending(t, "newer-pending")

	s, _ := sweep.New(sweep.Options{Source: f.store, Resender: f.messages, IncludeFailed: true, Logger: zerolog.Nop()})
	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(report.Items))
	}
	if report.Items[0].LocalID != older.LocalID || report.Items[1].LocalID != "newer-pending" {
		t.Errorf("order = [%s %s], want the failed message first", report.Items[0].LocalID, report.Items[1].LocalID)
	}
}

func TestSweeper_RecordsFailures(t *testing.T) {
	f := newFixture(t)
	f.insertPending(t, "p1")
	f.insertPending(t, "p2")
	f.remote.FailNext(chat.ErrRemoteUnavailable)

	s, _ := sweep.New(sweep.Options{Source: f.store, Resender: f.messages, Logger: zerolog.Nop()})
	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Attempted != 2 || report.Failed != 1 || report.Synced != 1 {
		t.Errorf("report = %+v, want 2 attempted, 1 failed, 1 synced", report)
	}
	var kinds []chat.Kind
	for _, it := range report.Items {
		if it.Result == sweep.ResultFailed {
			kinds = append(kinds, it.Kind)
		}
	}
	if len(kinds) != 1 || kinds[0] != chat.KindRemoteUnavailable {
		t.Errorf("failure kinds = %v, want [remote_unavailable]", kinds)
	}
}

func TestSweeper_SkippedVersusRejected(t *testing.T) {
	f := newFixture(t)
	f.insertPending(t, "rejected")
	upload := chat.Message{
		ID:             "never-uploaded",
		LocalID:        "never-uploaded",
		ConversationID: f.convID,
		SenderID:       "alice",
		Content:        chat.Content{Type: chat.ContentImage, MediaURL: "local://cat.png"},
		Timestamp:      time.Now().Add(time.Second),
		Status:         chat.StatusSending,
		SyncStatus:     chat.SyncPending,
	}
	if _, err := f.store.InsertMessage(context.Background(), upload); err != nil {
		t.Fatalf("insert upload: %v", err)
	}
	f.remote.FailNext(chat.ErrConstraintViolation)

	s, _ := sweep.New(sweep.Options{Source: f.store, Resender: f.messages, Logger: zerolog.Nop()})
	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Attempted != 2 || report.Failed != 1 || report.Skipped != 1 {
		t.Fatalf("report = %+v, want 1 failed and 1 skipped", report)
	}
	results := map[string]string{}
	for _, it := range report.Items {
		results[it.LocalID] = it.Result
	}
	if got := results["rejected"]; got != sweep.ResultFailed {
		t.Errorf("remote rejection result = %q, want %q", got, sweep.ResultFailed)
	}
	if got := results["never-uploaded"]; got != sweep.ResultSkipped {
		t.Errorf("missing upload result = %q, want %q", got, sweep.ResultSkipped)
	}
}

func TestSweeper_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.insertPending(t, "p1")

	s, _ := sweep.New(sweep.Options{Source: f.store, Resender: f.messages, Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := sweep.New(sweep.Options{}); err == nil {
		t.Error("expected error without source and resender")
	}
}
