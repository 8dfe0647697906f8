package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HendryAvila/chatsync/internal/chat"
	"github.com/HendryAvila/chatsync/internal/remote"
)

func TestHTTP_SendMessage(t *testing.T) {
	var got remote.SendPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/conversations/c1/messages" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "srv-1"})
	}))
	defer srv.Close()

	c := remote.NewHTTP(srv.URL+"/", remote.WithToken("tok"))
	id, err := c.SendMessage(context.Background(), "c1", remote.SendPayload{
		SenderID: "alice", ClientID: "l1", Content: chat.Content{Text: "hi", Type: chat.ContentText},
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != "srv-1" {
		t.Errorf("id = %q, want srv-1", id)
	}
	if got.ClientID != "l1" || got.Content.Text != "hi" {
		t.Errorf("payload = %+v", got)
	}
}

func TestHTTP_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{"not found", http.StatusNotFound, chat.ErrConversationNotFound},
		{"conflict", http.StatusConflict, chat.ErrConstraintViolation},
		{"unavailable", http.StatusServiceUnavailable, chat.ErrRemoteUnavailable},
		{"gateway timeout", http.StatusGatewayTimeout, chat.ErrRemoteTimeout},
		{"teapot", http.StatusTeapot, chat.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
			}))
			defer srv.Close()

			_, err := remote.NewHTTP(srv.URL).SendMessage(context.Background(), "c1", remote.SendPayload{})
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHTTP_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := remote.NewHTTP(srv.URL, remote.WithTimeout(50*time.Millisecond))
	_, err := c.SendMessage(context.Background(), "c1", remote.SendPayload{})
	if !errors.Is(err, chat.ErrRemoteTimeout) {
		t.Fatalf("error = %v, want ErrRemoteTimeout", err)
	}
}

func TestHTTP_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := remote.NewHTTP(url).CreateOrGetConversation(context.Background(), "a", "b")
	if !errors.Is(err, chat.ErrRemoteUnavailable) {
		t.Fatalf("error = %v, want ErrRemoteUnavailable", err)
	}
}

func TestHTTP_GetConversationByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/conversations/missing" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(chat.Conversation{
			ID: "c1", Type: chat.ConversationDirect, Participants: []string{"alice", "bob"},
		})
	}))
	defer srv.Close()

	c := remote.NewHTTP(srv.URL)
	conv, err := c.GetConversationByID(context.Background(), "c1")
	if err != nil || conv == nil || conv.ID != "c1" || len(conv.Participants) != 2 {
		t.Fatalf("GetConversationByID = %+v, %v", conv, err)
	}
	missing, err := c.GetConversationByID(context.Background(), "missing")
	if missing != nil || err != nil {
		t.Errorf("missing = %v, %v; want nil, nil", missing, err)
	}
}
