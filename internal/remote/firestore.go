package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/HendryAvila/chatsync/internal/chat"
)

// Firestore collection layout:
//
//	users/{userId}
//	conversations/{conversationId}
//	conversations/{conversationId}/messages/{messageId}
const (
	usersCollection         = "users"
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

// Firestore is the Firebase-backed system of record.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore initializes a Firebase app for projectID and opens its
// Firestore client. An empty credentialsFile uses application default
// credentials (or the emulator when FIRESTORE_EMULATOR_HOST is set).
func NewFirestore(ctx context.Context, projectID, credentialsFile string) (*Firestore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("remote: firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote: firestore client: %w", err)
	}
	return &Firestore{client: client}, nil
}

// Close releases the Firestore client.
func (f *Firestore) Close() error {
	return f.client.Close()
}

// ─── Documents ───────────────────────────────────────────────────────────────

type fsParticipant struct {
	Name   string `firestore:"name"`
	Avatar string `firestore:"avatar,omitempty"`
}

type fsLastMessage struct {
	Text      string    `firestore:"text"`
	SenderID  string    `firestore:"senderId"`
	Timestamp time.Time `firestore:"timestamp"`
}

type fsSeen struct {
	SeenAt time.Time `firestore:"seenAt"`
}

type fsConversation struct {
	Type               string                   `firestore:"type"`
	Participants       []string                 `firestore:"participants"`
	ParticipantDetails map[string]fsParticipant `firestore:"participantDetails"`
	Name               string                   `firestore:"name,omitempty"`
	LastMessage        *fsLastMessage           `firestore:"lastMessage,omitempty"`
	LastActivity       time.Time                `firestore:"lastActivity"`
	UnreadCount        map[string]int           `firestore:"unreadCount"`
	LastSeenBy         map[string]fsSeen        `firestore:"lastSeenBy"`
	CreatedAt          time.Time                `firestore:"createdAt"`
}

type fsMessage struct {
	ClientID       string               `firestore:"clientId"`
	SenderID       string               `firestore:"senderId"`
	Text           string               `firestore:"text"`
	Type           string               `firestore:"type"`
	MediaURL       string               `firestore:"mediaURL,omitempty"`
	MediaThumbnail string               `firestore:"mediaThumbnail,omitempty"`
	Timestamp      time.Time            `firestore:"timestamp"`
	Status         string               `firestore:"status"`
	DeliveredTo    []string             `firestore:"deliveredTo"`
	ReadBy         map[string]time.Time `firestore:"readBy"`
	DeletedFor     []string             `firestore:"deletedFor"`
}

type fsUser struct {
	DisplayName string `firestore:"displayName"`
	PhotoURL    string `firestore:"photoURL"`
}

func conversationFromDoc(id string, d fsConversation) *chat.Conversation {
	c := &chat.Conversation{
		ID:                 id,
		Type:               chat.ConversationType(d.Type),
		Participants:       chat.NormalizeParticipants(d.Participants),
		ParticipantDetails: make(map[string]chat.ParticipantDetail, len(d.ParticipantDetails)),
		Name:               d.Name,
		LastActivity:       d.LastActivity,
		UnreadCount:        copyMap(d.UnreadCount),
		LastSeenBy:         make(map[string]chat.SeenMarker, len(d.LastSeenBy)),
		CreatedAt:          d.CreatedAt,
	}
	for uid, p := range d.ParticipantDetails {
		c.ParticipantDetails[uid] = chat.ParticipantDetail{Name: p.Name, Avatar: p.Avatar}
	}
	for uid, s := range d.LastSeenBy {
		c.LastSeenBy[uid] = chat.SeenMarker{SeenAt: s.SeenAt}
	}
	if d.LastMessage != nil {
		c.LastMessage = &chat.LastMessage{Text: d.LastMessage.Text, SenderID: d.LastMessage.SenderID, Timestamp: d.LastMessage.Timestamp}
	}
	return c
}

func messageDoc(p SendPayload, sentAt time.Time) fsMessage {
	return fsMessage{
		ClientID:       p.ClientID,
		SenderID:       p.SenderID,
		Text:           p.Content.Text,
		Type:           string(p.Content.Type),
		MediaURL:       p.Content.MediaURL,
		MediaThumbnail: p.Content.MediaThumbnail,
		Timestamp:      sentAt,
		Status:         string(chat.StatusSent),
		DeliveredTo:    []string{},
		ReadBy:         map[string]time.Time{},
		DeletedFor:     []string{},
	}
}

// directConversationID makes direct conversations addressable by their
// participant pair so concurrent creations converge on one document.
func directConversationID(a, b string) string {
	return "direct_" + chat.DirectKey(a, b)
}

// ─── Client ──────────────────────────────────────────────────────────────────

func (f *Firestore) SendMessage(ctx context.Context, conversationID string, p SendPayload) (string, error) {
	convRef := f.client.Collection(conversationsCollection).Doc(conversationID)
	msgs := convRef.Collection(messagesCollection)
	sentAt := p.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	var id string
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(convRef)
		if err != nil {
			return err
		}
		var conv fsConversation
		if err := snap.DataTo(&conv); err != nil {
			return err
		}
		if p.ClientID != "" {
			existing, err := tx.Documents(msgs.Where("clientId", "==", p.ClientID).Limit(1)).GetAll()
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				id = existing[0].Ref.ID
				return nil
			}
		}

		ref := msgs.NewDoc()
		if err := tx.Create(ref, messageDoc(p, sentAt)); err != nil {
			return err
		}
		updates := []firestore.Update{
			{Path: "lastMessage", Value: fsLastMessage{Text: p.Content.Text, SenderID: p.SenderID, Timestamp: sentAt}},
		}
		if sentAt.After(conv.LastActivity) {
			updates = append(updates, firestore.Update{Path: "lastActivity", Value: sentAt})
		}
		for _, uid := range conv.Participants {
			if uid != p.SenderID {
				updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{"unreadCount", uid}, Value: firestore.Increment(1)})
			}
		}
		if err := tx.Update(convRef, updates); err != nil {
			return err
		}
		id = ref.ID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("remote: send message: %w", mapFirestoreError(err, chat.ErrConversationNotFound))
	}
	return id, nil
}

func (f *Firestore) UpdateMessageStatus(ctx context.Context, conversationID, messageID string, u StatusUpdate) error {
	ref := f.client.Collection(conversationsCollection).Doc(conversationID).Collection(messagesCollection).Doc(messageID)

	var updates []firestore.Update
	if u.Status != "" {
		updates = append(updates, firestore.Update{Path: "status", Value: string(u.Status)})
	}
	if len(u.DeliveredTo) > 0 {
		updates = append(updates, firestore.Update{Path: "deliveredTo", Value: firestore.ArrayUnion(toAny(u.DeliveredTo)...)})
	}
	for uid, at := range u.ReadBy {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{"readBy", uid}, Value: at})
	}
	if len(u.DeletedFor) > 0 {
		updates = append(updates, firestore.Update{Path: "deletedFor", Value: firestore.ArrayUnion(toAny(u.DeletedFor)...)})
	}
	if len(updates) == 0 {
		return nil
	}
	if _, err := ref.Update(ctx, updates); err != nil {
		return fmt.Errorf("remote: update message %s: %w", messageID, mapFirestoreError(err, chat.ErrNotFound))
	}
	return nil
}

func (f *Firestore) CreateOrGetConversation(ctx context.Context, userID, otherUserID string) (string, error) {
	if userID == "" || otherUserID == "" || userID == otherUserID {
		return "", fmt.Errorf("remote: direct conversation needs two distinct users: %w", chat.ErrConstraintViolation)
	}
	id := directConversationID(userID, otherUserID)
	doc, err := f.newConversationDoc(ctx, chat.ConversationDirect, []string{userID, otherUserID}, "")
	if err != nil {
		return "", err
	}
	_, err = f.client.Collection(conversationsCollection).Doc(id).Create(ctx, doc)
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return "", fmt.Errorf("remote: create conversation: %w", mapFirestoreError(err, chat.ErrContactNotFound))
	}
	return id, nil
}

func (f *Firestore) CreateGroupConversation(ctx context.Context, creatorID string, participantIDs []string, name string) (string, error) {
	members := chat.NormalizeParticipants(append([]string{creatorID}, participantIDs...))
	doc, err := f.newConversationDoc(ctx, chat.ConversationGroup, members, name)
	if err != nil {
		return "", err
	}
	ref := f.client.Collection(conversationsCollection).NewDoc()
	if _, err := ref.Create(ctx, doc); err != nil {
		return "", fmt.Errorf("remote: create group: %w", mapFirestoreError(err, chat.ErrNotFound))
	}
	return ref.ID, nil
}

// newConversationDoc fills participant details from the users collection.
// Unknown users fall back to their id as display name.
func (f *Firestore) newConversationDoc(ctx context.Context, typ chat.ConversationType, members []string, name string) (fsConversation, error) {
	refs := make([]*firestore.DocumentRef, len(members))
	for i, uid := range members {
		refs[i] = f.client.Collection(usersCollection).Doc(uid)
	}
	snaps, err := f.client.GetAll(ctx, refs)
	if err != nil {
		return fsConversation{}, fmt.Errorf("remote: load participants: %w", mapFirestoreError(err, chat.ErrContactNotFound))
	}

	now := time.Now().UTC()
	doc := fsConversation{
		Type:               string(typ),
		Participants:       members,
		ParticipantDetails: make(map[string]fsParticipant, len(members)),
		Name:               name,
		LastActivity:       now,
		UnreadCount:        make(map[string]int, len(members)),
		LastSeenBy:         map[string]fsSeen{},
		CreatedAt:          now,
	}
	for i, uid := range members {
		detail := fsParticipant{Name: uid}
		if snaps[i] != nil && snaps[i].Exists() {
			var u fsUser
			if err := snaps[i].DataTo(&u); err == nil {
				detail = fsParticipant{Name: u.DisplayName, Avatar: u.PhotoURL}
			}
		}
		doc.ParticipantDetails[uid] = detail
		doc.UnreadCount[uid] = 0
	}
	return doc, nil
}

func (f *Firestore) GetConversationByID(ctx context.Context, id string) (*chat.Conversation, error) {
	snap, err := f.client.Collection(conversationsCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("remote: get conversation %s: %w", id, mapFirestoreError(err, chat.ErrConversationNotFound))
	}
	var d fsConversation
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("remote: decode conversation %s: %w", id, err)
	}
	return conversationFromDoc(snap.Ref.ID, d), nil
}

func (f *Firestore) MarkConversationSeen(ctx context.Context, conversationID, userID string, seenAt time.Time) error {
	ref := f.client.Collection(conversationsCollection).Doc(conversationID)
	_, err := ref.Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"lastSeenBy", userID}, Value: fsSeen{SeenAt: seenAt}},
		{FieldPath: firestore.FieldPath{"unreadCount", userID}, Value: 0},
	})
	if err != nil {
		return fmt.Errorf("remote: mark seen %s: %w", conversationID, mapFirestoreError(err, chat.ErrConversationNotFound))
	}
	return nil
}

// mapFirestoreError maps gRPC status codes onto the chat taxonomy.
func mapFirestoreError(err error, notFound error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", chat.ErrRemoteTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", notFound, err)
	case codes.AlreadyExists, codes.FailedPrecondition, codes.InvalidArgument, codes.OutOfRange:
		return fmt.Errorf("%w: %v", chat.ErrConstraintViolation, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %v", chat.ErrRemoteTimeout, err)
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return fmt.Errorf("%w: %v", chat.ErrRemoteUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", chat.ErrUnknown, err)
	}
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
