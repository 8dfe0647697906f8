// Package optimistic holds messages the user has sent but that are not yet
// durably stored. Entries live only in memory and are dropped as soon as the
// local store accepts the row.
package optimistic

import (
	"sort"
	"sync"

	"github.com/HendryAvila/chatsync/internal/chat"
	"github.com/rs/zerolog"
)

// EventType identifies a change to the optimistic layer.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event is delivered to subscribers after every change.
type Event struct {
	Type    EventType
	Message chat.Message
}

// Listener receives change events. It runs on the mutating goroutine and
// must not call back into the Store.
type Listener func(Event)

// Store is a goroutine-safe, observable map of optimistic messages keyed by
// local id. The zero value is not usable; call New.
type Store struct {
	mu        sync.RWMutex
	messages  map[string]chat.Message
	listeners map[int]Listener
	nextSub   int
	log       zerolog.Logger
}

// New returns an empty Store.
func New(logger zerolog.Logger) *Store {
	return &Store{
		messages:  make(map[string]chat.Message),
		listeners: make(map[int]Listener),
		log:       logger.With().Str("component", "optimistic").Logger(),
	}
}

// Add records msg under its local id, replacing any previous entry.
func (s *Store) Add(msg chat.Message) {
	if msg.LocalID == "" {
		msg.LocalID = msg.ID
	}
	msg = msg.Clone()

	s.mu.Lock()
	s.messages[msg.LocalID] = msg
	s.mu.Unlock()

	s.emit(Event{Type: EventAdded, Message: msg.Clone()})
}

// Update applies patch to the entry for localID and reports whether it existed.
func (s *Store) Update(localID string, patch chat.MessagePatch) bool {
	s.mu.Lock()
	msg, ok := s.messages[localID]
	if ok {
		msg.Apply(patch)
		s.messages[localID] = msg
	}
	s.mu.Unlock()

	if ok {
		s.emit(Event{Type: EventUpdated, Message: msg.Clone()})
	}
	return ok
}

// Remove drops the entry for localID and reports whether it existed.
func (s *Store) Remove(localID string) bool {
	s.mu.Lock()
	msg, ok := s.messages[localID]
	delete(s.messages, localID)
	s.mu.Unlock()

	if ok {
		s.emit(Event{Type: EventRemoved, Message: msg})
	}
	return ok
}

// Get returns a copy of the entry for localID.
func (s *Store) Get(localID string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[localID]
	if !ok {
		return chat.Message{}, false
	}
	return msg.Clone(), true
}

// ListForConversation returns copies of the conversation's entries ordered by
// timestamp ascending.
func (s *Store) ListForConversation(conversationID string) []chat.Message {
	s.mu.RLock()
	out := make([]chat.Message, 0)
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].LocalID < out[j].LocalID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Len returns the number of optimistic entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Subscribe registers fn for change events and returns a func that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) emit(ev Event) {
	s.mu.RLock()
	handlers := make([]Listener, 0, len(s.listeners))
	for _, h := range s.listeners {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Interface("panic", r).Str("event", string(ev.Type)).Msg("optimistic listener panicked")
				}
			}()
			h(ev)
		}()
	}
}
