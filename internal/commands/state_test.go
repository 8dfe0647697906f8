package commands

import (
	"testing"

	"github.com/HendryAvila/chatsync/internal/chat"
)

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from, to SendState
		ok       bool
	}{
		{StateCreated, StateLocalPersisted, true},
		{StateLocalPersisted, StateRemoteConfirmed, true},
		{StateLocalPersisted, StateFailed, true},
		{StateCreated, StateRemoteConfirmed, false},
		{StateCreated, StateFailed, false},
		{StateRemoteConfirmed, StateFailed, false},
		{StateFailed, StateRemoteConfirmed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := CanAdvance(tt.from, tt.to)
			if (err == nil) != tt.ok {
				t.Errorf("CanAdvance(%s, %s) error = %v, want ok=%v", tt.from, tt.to, err, tt.ok)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(StateRemoteConfirmed) || !IsTerminal(StateFailed) {
		t.Error("remote_confirmed and failed should be terminal")
	}
	if IsTerminal(StateCreated) || IsTerminal(StateLocalPersisted) {
		t.Error("created and local_persisted should not be terminal")
	}
}

func TestSendRun_Advance(t *testing.T) {
	run := newSendRun("l1")
	if err := run.advance(StateLocalPersisted); err != nil {
		t.Fatalf("advance to local_persisted: %v", err)
	}
	if err := run.advance(StateRemoteConfirmed); err != nil {
		t.Fatalf("advance to remote_confirmed: %v", err)
	}
	if err := run.advance(StateFailed); err == nil {
		t.Error("advance out of a terminal state should fail")
	}
	if run.state != StateRemoteConfirmed {
		t.Errorf("state = %s, want %s", run.state, StateRemoteConfirmed)
	}

	resumed := resumeSendRun("l2")
	if err := resumed.advance(StateFailed); err != nil {
		t.Errorf("resumed run should be able to fail: %v", err)
	}
}

func TestPreviewText(t *testing.T) {
	tests := []struct {
		name string
		in   chat.Content
		want string
	}{
		{"text", chat.Content{Text: "hi", Type: chat.ContentText}, "hi"},
		{"image without caption", chat.Content{Type: chat.ContentImage}, "[image]"},
		{"file without caption", chat.Content{Type: chat.ContentFile}, "[file]"},
		{"image with caption", chat.Content{Text: "look", Type: chat.ContentImage}, "look"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := previewText(tt.in); got != tt.want {
				t.Errorf("previewText() = %q, want %q", got, tt.want)
			}
		})
	}
}
