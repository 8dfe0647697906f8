package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HendryAvila/chatsync/internal/chat"
)

// DefaultTimeout bounds each HTTP round trip unless overridden.
const DefaultTimeout = 15 * time.Second

// HTTP talks to a JSON REST backend.
type HTTP struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// HTTPOption configures an HTTP client.
type HTTPOption func(*HTTP)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) HTTPOption {
	return func(h *HTTP) { h.token = token }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(h *HTTP) { h.httpClient.Timeout = timeout }
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.httpClient = c }
}

// NewHTTP returns a client for the backend at baseURL.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type idResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *HTTP) SendMessage(ctx context.Context, conversationID string, p SendPayload) (string, error) {
	var out idResponse
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := h.do(ctx, http.MethodPost, path, p, &out, chat.ErrConversationNotFound); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("remote: send message: empty id in response: %w", chat.ErrUnknown)
	}
	return out.ID, nil
}

func (h *HTTP) UpdateMessageStatus(ctx context.Context, conversationID, messageID string, u StatusUpdate) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages/" + url.PathEscape(messageID)
	return h.do(ctx, http.MethodPatch, path, u, nil, chat.ErrNotFound)
}

func (h *HTTP) CreateOrGetConversation(ctx context.Context, userID, otherUserID string) (string, error) {
	body := map[string]string{"userId": userID, "otherUserId": otherUserID}
	var out idResponse
	if err := h.do(ctx, http.MethodPost, "/conversations/direct", body, &out, chat.ErrContactNotFound); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (h *HTTP) CreateGroupConversation(ctx context.Context, creatorID string, participantIDs []string, name string) (string, error) {
	body := map[string]any{"creatorId": creatorID, "participantIds": participantIDs, "name": name}
	var out idResponse
	if err := h.do(ctx, http.MethodPost, "/conversations/group", body, &out, chat.ErrContactNotFound); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (h *HTTP) GetConversationByID(ctx context.Context, id string) (*chat.Conversation, error) {
	var out chat.Conversation
	err := h.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &out, chat.ErrConversationNotFound)
	if errors.Is(err, chat.ErrConversationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTP) MarkConversationSeen(ctx context.Context, conversationID, userID string, seenAt time.Time) error {
	body := map[string]any{"userId": userID, "seenAt": seenAt}
	path := "/conversations/" + url.PathEscape(conversationID) + "/seen"
	return h.do(ctx, http.MethodPost, path, body, nil, chat.ErrConversationNotFound)
}

// do performs one JSON round trip. A 404 maps to notFound; transport and
// status failures map onto the chat taxonomy.
func (h *HTTP) do(ctx context.Context, method, path string, body, out any, notFound error) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("remote: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, transportError(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("remote: read response: %w", transportError(err))
	}

	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.Unmarshal(data, &e)
		msg := e.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("remote: %s %s: %d %s: %w", method, path, resp.StatusCode, msg, statusError(resp.StatusCode, notFound))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("remote: decode response: %w", err)
		}
	}
	return nil
}

func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", chat.ErrRemoteTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", chat.ErrRemoteUnavailable, err)
}

func statusError(code int, notFound error) error {
	switch {
	case code == http.StatusNotFound:
		return notFound
	case code == http.StatusConflict, code == http.StatusUnprocessableEntity, code == http.StatusBadRequest:
		return chat.ErrConstraintViolation
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return chat.ErrRemoteTimeout
	case code == http.StatusTooManyRequests, code >= 500:
		return chat.ErrRemoteUnavailable
	default:
		return chat.ErrUnknown
	}
}
