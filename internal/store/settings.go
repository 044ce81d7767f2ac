package store

import (
	"context"
	"database/sql"
	"encoding/json"
)

// GetSetting returns the raw string value for key, or "" if unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// ListSettings returns every key-value pair, per GET /api/settings.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// PutSetting upserts a key. Non-string values are JSON-encoded before
// storage, per PUT /api/settings.
func (s *Store) PutSetting(ctx context.Context, key string, value any) error {
	var v string
	if str, ok := value.(string); ok {
		v = str
	} else {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		v = string(data)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?,?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, v)
	return err
}
