// Package cache carries query-cache invalidation signals out of the sync
// pipeline. Views that render the local store subscribe to these keys and
// refetch when one is invalidated.
package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Key names a cached query.
type Key string

// ConversationsKey is the conversation list of a user.
func ConversationsKey(userID string) Key { return Key("conversations:" + userID) }

// MessagesKey is the message list of a conversation.
func MessagesKey(conversationID string) Key { return Key("messages:" + conversationID) }

// ConversationKey is a single conversation record.
func ConversationKey(conversationID string) Key { return Key("conversation:" + conversationID) }

// Scope returns the part of k before the first colon.
func (k Key) Scope() string {
	scope, _, _ := strings.Cut(string(k), ":")
	return scope
}

// Invalidator is notified after each durable state change.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...Key) error
}

// Func adapts a function to Invalidator.
type Func func(ctx context.Context, keys ...Key) error

func (f Func) Invalidate(ctx context.Context, keys ...Key) error { return f(ctx, keys...) }

// Nop discards invalidations.
type Nop struct{}

func (Nop) Invalidate(context.Context, ...Key) error { return nil }

// Multi fans an invalidation out to every member and joins their errors.
type Multi []Invalidator

func (m Multi) Invalidate(ctx context.Context, keys ...Key) error {
	var errs []error
	for _, inv := range m {
		if inv == nil {
			continue
		}
		if err := inv.Invalidate(ctx, keys...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every invalidated key in order and lets in-process
// observers subscribe. It backs the MCP status resource and tests.
type Recorder struct {
	mu        sync.Mutex
	keys      []Key
	listeners []func(Key)
	limit     int
}

// NewRecorder keeps at most limit keys; limit <= 0 keeps all of them.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Invalidate(_ context.Context, keys ...Key) error {
	r.mu.Lock()
	r.keys = append(r.keys, keys...)
	if r.limit > 0 && len(r.keys) > r.limit {
		r.keys = append([]Key(nil), r.keys[len(r.keys)-r.limit:]...)
	}
	listeners := append([]func(Key){}, r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		for _, k := range keys {
			fn(k)
		}
	}
	return nil
}

// OnInvalidate registers fn for every key invalidated from now on.
func (r *Recorder) OnInvalidate(fn func(Key)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Keys returns a copy of the recorded keys, oldest first.
func (r *Recorder) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Key(nil), r.keys...)
}

// Has reports whether k has been invalidated.
func (r *Recorder) Has(k Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.keys {
		if got == k {
			return true
		}
	}
	return false
}

// Reset forgets recorded keys.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.keys = nil
	r.mu.Unlock()
}
