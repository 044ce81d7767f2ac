package store

import (
	"context"
	"database/sql"
	"time"
)

// UpsertCliUsageCache records the latest quota snapshot for a provider.
func (s *Store) UpsertCliUsageCache(ctx context.Context, provider, windowsJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cli_usage_cache (provider, windows_json, refreshed_at) VALUES (?,?,?)
		 ON CONFLICT(provider) DO UPDATE SET windows_json = excluded.windows_json, refreshed_at = excluded.refreshed_at`,
		provider, windowsJSON, time.Now())
	return err
}

// GetCliUsageCache loads the cached snapshot for a provider, if any.
func (s *Store) GetCliUsageCache(ctx context.Context, provider string) (*CliUsageCache, error) {
	var c CliUsageCache
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, windows_json, refreshed_at FROM cli_usage_cache WHERE provider = ?`, provider,
	).Scan(&c.Provider, &c.WindowsJSON, &c.RefreshedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCliUsageCache returns the cached snapshot for every provider.
func (s *Store) ListCliUsageCache(ctx context.Context) ([]CliUsageCache, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider, windows_json, refreshed_at FROM cli_usage_cache`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CliUsageCache
	for rows.Next() {
		var c CliUsageCache
		if err := rows.Scan(&c.Provider, &c.WindowsJSON, &c.RefreshedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
