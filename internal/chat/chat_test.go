package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/HendryAvila/chatsync/internal/chat"
)

// ─── StringSet ───────────────────────────────────────────────────────────────

func TestStringSet_AddIsIdempotent(t *testing.T) {
	s := chat.NewStringSet()
	if !s.Add("u1") {
		t.Fatal("first Add should report a change")
	}
	if s.Add("u1") {
		t.Error("second Add should not report a change")
	}
	if s.Add("") {
		t.Error("empty id should be ignored")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestStringSet_JSONIsSortedArray(t *testing.T) {
	s := chat.NewStringSet("c", "a", "b")
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["a","b","c"]` {
		t.Errorf("json = %s, want [\"a\",\"b\",\"c\"]", data)
	}

	var back chat.StringSet
	if err := json.Unmarshal([]byte(`null`), &back); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if back == nil || back.Len() != 0 {
		t.Errorf("null should decode to an empty set, got %v", back)
	}
}

// ─── Status ──────────────────────────────────────────────────────────────────

func TestMaxStatus_NeverMovesBackwards(t *testing.T) {
	tests := []struct {
		a, b, want chat.Status
	}{
		{chat.StatusSending, chat.StatusSent, chat.StatusSent},
		{chat.StatusRead, chat.StatusSent, chat.StatusRead},
		{chat.StatusDelivered, chat.StatusDelivered, chat.StatusDelivered},
		{chat.StatusSent, "bogus", chat.StatusSent},
	}
	for _, tt := range tests {
		if got := chat.MaxStatus(tt.a, tt.b); got != tt.want {
			t.Errorf("MaxStatus(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := chat.ParseStatus(" Delivered "); err != nil || s != chat.StatusDelivered {
		t.Errorf("ParseStatus = %q, %v; want delivered", s, err)
	}
	if _, err := chat.ParseStatus("lost"); err == nil {
		t.Error("expected error for unknown status")
	}
}

// ─── Apply ───────────────────────────────────────────────────────────────────

func TestApply_MergesSetsAndClampsStatus(t *testing.T) {
	early := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	m := chat.Message{
		ID:          "local-1",
		LocalID:     "local-1",
		Status:      chat.StatusDelivered,
		DeliveredTo: chat.NewStringSet("bob"),
		ReadBy:      map[string]time.Time{"bob": late},
	}

	m.Apply(chat.MessagePatch{
		ID:          chat.StringPtr("srv-1"),
		Status:      chat.StatusPtr(chat.StatusSent),
		SyncStatus:  chat.SyncPtr(chat.SyncSynced),
		DeliveredTo: []string{"carol", "bob"},
		ReadBy:      map[string]time.Time{"bob": early, "carol": late},
	})

	if m.ID != "srv-1" {
		t.Errorf("ID = %q, want srv-1", m.ID)
	}
	if m.Status != chat.StatusDelivered {
		t.Errorf("Status = %q, want delivered (no regression)", m.Status)
	}
	if m.SyncStatus != chat.SyncSynced {
		t.Errorf("SyncStatus = %q, want synced", m.SyncStatus)
	}
	if m.DeliveredTo.Len() != 2 {
		t.Errorf("DeliveredTo = %v, want bob and carol", m.DeliveredTo.Slice())
	}
	if !m.ReadBy["bob"].Equal(early) {
		t.Errorf("ReadBy[bob] = %v, want earliest %v", m.ReadBy["bob"], early)
	}
	if !m.Confirmed() {
		t.Error("message with swapped id should be confirmed")
	}
}

func TestClone_DoesNotAlias(t *testing.T) {
	m := chat.Message{DeliveredTo: chat.NewStringSet("a"), DeletedFor: chat.NewStringSet(), ReadBy: map[string]time.Time{}}
	c := m.Clone()
	c.DeliveredTo.Add("b")
	c.DeletedFor.Add("a")
	c.ReadBy["a"] = time.Now()
	if m.DeliveredTo.Has("b") || m.DeletedFor.Has("a") || len(m.ReadBy) != 0 {
		t.Error("clone mutated the original")
	}
}

// ─── Conversations ───────────────────────────────────────────────────────────

func TestConversationValidate(t *testing.T) {
	tests := []struct {
		name    string
		conv    chat.Conversation
		wantErr error
	}{
		{"direct ok", chat.Conversation{ID: "c", Type: chat.ConversationDirect, Participants: []string{"a", "b"}}, nil},
		{"direct dup", chat.Conversation{ID: "c", Type: chat.ConversationDirect, Participants: []string{"a", "a"}}, chat.ErrConstraintViolation},
		{"group too small", chat.Conversation{ID: "g", Type: chat.ConversationGroup, Participants: []string{"a", "b"}}, chat.ErrInvalidGroup},
		{"group ok", chat.Conversation{ID: "g", Type: chat.ConversationGroup, Participants: []string{"a", "b", "c"}}, nil},
		{"unknown type", chat.Conversation{ID: "x", Type: "channel", Participants: []string{"a"}}, chat.ErrConstraintViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conv.Validate(chat.DefaultMaxGroupParticipants)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateGroupSize_Bounds(t *testing.T) {
	if err := chat.ValidateGroupSize(20, 20); err != nil {
		t.Errorf("20 of 20 should pass: %v", err)
	}
	if err := chat.ValidateGroupSize(21, 20); !errors.Is(err, chat.ErrInvalidGroup) {
		t.Errorf("21 of 20 error = %v, want ErrInvalidGroup", err)
	}
	if err := chat.ValidateGroupSize(21, 0); !errors.Is(err, chat.ErrInvalidGroup) {
		t.Errorf("default ceiling should be %d", chat.DefaultMaxGroupParticipants)
	}
}

func TestDirectKey_OrderIndependent(t *testing.T) {
	if chat.DirectKey("b", "a") != chat.DirectKey("a", "b") {
		t.Error("DirectKey should not depend on argument order")
	}
}

// ─── Errors ──────────────────────────────────────────────────────────────────

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want chat.Kind
	}{
		{fmt.Errorf("wrap: %w", chat.ErrContactNotFound), chat.KindContactNotFound},
		{chat.ErrConversationNotFound, chat.KindConversationNotFound},
		{chat.ErrNotFound, chat.KindNotFound},
		{fmt.Errorf("insert: %w", chat.ErrConstraintViolation), chat.KindConstraintViolation},
		{context.DeadlineExceeded, chat.KindRemoteTimeout},
		{chat.ErrRemoteUnavailable, chat.KindRemoteUnavailable},
		{errors.New("boom"), chat.KindUnknown},
	}
	for _, tt := range tests {
		if got := chat.Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestPipelineError_MatchesSentinel(t *testing.T) {
	err := chat.NewPipelineError("send", "remote", "l1", context.DeadlineExceeded)
	if !errors.Is(err, chat.ErrRemoteTimeout) {
		t.Error("timeout pipeline error should match ErrRemoteTimeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("pipeline error should unwrap to the cause")
	}

	var pe *chat.PipelineError
	if !errors.As(err, &pe) || pe.LocalID != "l1" || pe.Stage != "remote" {
		t.Fatalf("errors.As = %+v", pe)
	}

	nf := chat.NewPipelineError("find_or_create", "lookup", "", chat.ErrContactNotFound)
	if !errors.Is(nf, chat.ErrNotFound) || !errors.Is(nf, chat.ErrContactNotFound) {
		t.Error("contact-not-found should match both sentinels")
	}
	if errors.Is(nf, chat.ErrConversationNotFound) {
		t.Error("contact-not-found must not match conversation-not-found")
	}
	if chat.NewPipelineError("x", "y", "", nil) != nil {
		t.Error("nil cause should produce nil error")
	}

	stuck := chat.NewPipelineError("resend", "validate", "l1", fmt.Errorf("no upload: %w", chat.ErrNotResendable))
	if !errors.Is(stuck, chat.ErrNotResendable) || !errors.Is(stuck, chat.ErrConstraintViolation) {
		t.Error("not-resendable should match both sentinels")
	}
	if got := chat.Classify(stuck); got != chat.KindConstraintViolation {
		t.Errorf("Classify = %s, want %s", got, chat.KindConstraintViolation)
	}
	rejected := chat.NewPipelineError("resend", "remote", "l1", chat.ErrConstraintViolation)
	if errors.Is(rejected, chat.ErrNotResendable) {
		t.Error("a remote rejection must not match not-resendable")
	}
}
