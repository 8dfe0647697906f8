package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/HendryAvila/chatsync/internal/chat"
)

// UpsertUser caches a user profile.
func (s *Store) UpsertUser(ctx context.Context, u chat.User) error {
	if u.ID == "" {
		return fmt.Errorf("localstore: upsert user: id is required")
	}
	if u.LastSynced.IsZero() {
		u.LastSynced = timeNow()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.execHook(ctx, s.db,
		`INSERT INTO users (id, display_name, email, photo_url, last_synced)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     display_name = excluded.display_name,
		     email        = excluded.email,
		     photo_url    = excluded.photo_url,
		     last_synced  = excluded.last_synced`,
		u.ID, u.DisplayName, nullableString(strings.ToLower(u.Email)), nullableString(u.PhotoURL), toMillis(u.LastSynced),
	); err != nil {
		return fmt.Errorf("localstore: upsert user %s: %w", u.ID, err)
	}
	return nil
}

// GetUser returns the cached user with the given id.
func (s *Store) GetUser(ctx context.Context, id string) (*chat.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, display_name, email, photo_url, last_synced FROM users WHERE id = ?`, id,
	))
	if isNoRows(err) {
		return nil, fmt.Errorf("localstore: user %s: %w", id, chat.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: get user %s: %w", id, err)
	}
	return u, nil
}

// LookupContact resolves a contact reference (user id or email, case
// insensitive for email) against the cached users table.
func (s *Store) LookupContact(ctx context.Context, contact string) (*chat.User, error) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return nil, fmt.Errorf("localstore: empty contact: %w", chat.ErrContactNotFound)
	}
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, display_name, email, photo_url, last_synced FROM users
		 WHERE id = ? OR email = ?
		 ORDER BY (id = ?) DESC
		 LIMIT 1`,
		contact, strings.ToLower(contact), contact,
	))
	if isNoRows(err) {
		return nil, fmt.Errorf("localstore: %q: %w", contact, chat.ErrContactNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: lookup contact %q: %w", contact, err)
	}
	return u, nil
}

func scanUser(row rowScanner) (*chat.User, error) {
	var (
		u               chat.User
		email, photoURL sql.NullString
		lastSynced      int64
	)
	if err := row.Scan(&u.ID, &u.DisplayName, &email, &photoURL, &lastSynced); err != nil {
		return nil, err
	}
	u.Email = email.String
	u.PhotoURL = photoURL.String
	u.LastSynced = fromMillis(lastSynced)
	return &u, nil
}
