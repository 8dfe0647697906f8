package localstore

import (
	"database/sql"
	"time"
)

// DB exposes the internal *sql.DB for test helpers in localstore_test.
// This file only compiles during `go test`.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetTimeNow freezes the store clock and returns a restore func.
func SetTimeNow(fn func() time.Time) (restore func()) {
	prev := timeNow
	timeNow = fn
	return func() { timeNow = prev }
}

// FailCommits makes every transaction commit return err.
func (s *Store) FailCommits(err error) {
	s.hooks.commit = func(tx *sql.Tx) error {
		_ = tx.Rollback()
		return err
	}
}
