package sqliteadapter

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dashsync/contexts/data-platform/sync-engine/ports"
)

// LocalStore is the durable on-device key/value store, one row per
// namespaced key in the kv_store table.
type LocalStore struct {
	db *sql.DB
}

func NewLocalStore(db *sql.DB) *LocalStore {
	return &LocalStore{db: db}
}

func (s *LocalStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %q: %w", key, err)
	}
	return value, true, nil
}

func (s *LocalStore) Set(key string, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	return nil
}

func (s *LocalStore) Remove(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *LocalStore) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv_store ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

var _ ports.LocalStore = (*LocalStore)(nil)
