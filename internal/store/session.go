package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// Session is a key/value namespace that lives as long as one browser
// session. It satisfies automation.KV.
type Session struct {
	db        *DB
	namespace string
}

func (db *DB) Session(namespace string) *Session {
	return &Session{db: db, namespace: namespace}
}

func (s *Session) Namespace() string { return s.namespace }

func (s *Session) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(
		"SELECT value FROM session_state WHERE namespace = ? AND key = ?",
		s.namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s/%s: %w", s.namespace, key, err)
	}
	return value, nil
}

func (s *Session) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO session_state (namespace, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.namespace, key, value,
	)
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", s.namespace, key, err)
	}
	return nil
}

func (s *Session) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, 0, len(keys)+1)
	args = append(args, s.namespace)
	for _, k := range keys {
		args = append(args, k)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	_, err := s.db.Exec(
		"DELETE FROM session_state WHERE namespace = ? AND key IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", s.namespace, err)
	}
	return nil
}

// End drops every key in the namespace, the way closing a browser tab
// drops its session storage.
func (s *Session) End() error {
	if _, err := s.db.Exec("DELETE FROM session_state WHERE namespace = ?", s.namespace); err != nil {
		return fmt.Errorf("ending session %s: %w", s.namespace, err)
	}
	return nil
}
