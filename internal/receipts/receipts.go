// Package receipts derives per-message read state from conversation-level
// last-seen marks. A participant has read a message when their mark is at or
// after the message timestamp; the sender never counts as a reader.
package receipts

import (
	"sort"
	"time"

	"github.com/HendryAvila/chatsync/internal/chat"
)

// ReadBy returns the participants, sorted, who have seen msg.
func ReadBy(conv chat.Conversation, msg chat.Message) []string {
	out := make([]string, 0)
	for _, p := range chat.NormalizeParticipants(conv.Participants) {
		if p == msg.SenderID {
			continue
		}
		mark, ok := conv.LastSeenBy[p]
		if !ok || mark.SeenAt.IsZero() {
			continue
		}
		if !mark.SeenAt.Before(msg.Timestamp) {
			out = append(out, p)
		}
	}
	return out
}

// ReadByAll reports whether every participant other than the sender has
// seen msg.
func ReadByAll(conv chat.Conversation, msg chat.Message) bool {
	others := 0
	for _, p := range chat.NormalizeParticipants(conv.Participants) {
		if p != msg.SenderID {
			others++
		}
	}
	return others > 0 && len(ReadBy(conv, msg)) == others
}

// Annotated is a message with its derived readers.
type Annotated struct {
	chat.Message
	ReadByUsers []string `json:"readByUsers"`
	ReadByAll   bool     `json:"readByAll"`
}

// Annotate derives read state for a page of messages.
func Annotate(conv chat.Conversation, msgs []chat.Message) []Annotated {
	out := make([]Annotated, len(msgs))
	for i, m := range msgs {
		out[i] = Annotated{Message: m, ReadByUsers: ReadBy(conv, m), ReadByAll: ReadByAll(conv, m)}
	}
	return out
}

// Patch returns the read-by entries implied by conv that msg does not yet
// record, suitable for chat.MessagePatch.ReadBy. It returns nil when nothing
// is new.
func Patch(conv chat.Conversation, msg chat.Message) map[string]time.Time {
	var out map[string]time.Time
	for _, p := range ReadBy(conv, msg) {
		if _, ok := msg.ReadBy[p]; ok {
			continue
		}
		if out == nil {
			out = make(map[string]time.Time)
		}
		out[p] = conv.LastSeenBy[p].SeenAt
	}
	return out
}

// LastReadIndex returns the index of the newest message in the
// timestamp-ordered page that userID has seen, or -1.
func LastReadIndex(conv chat.Conversation, msgs []chat.Message, userID string) int {
	mark, ok := conv.LastSeenBy[userID]
	if !ok {
		return -1
	}
	i := sort.Search(len(msgs), func(i int) bool { return msgs[i].Timestamp.After(mark.SeenAt) })
	return i - 1
}
