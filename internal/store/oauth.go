package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/nextlevelbuilder/climpire/internal/errs"
)

// UpsertOAuthCredential inserts or replaces the stored credential for a
// provider.
func (s *Store) UpsertOAuthCredential(ctx context.Context, c *OAuthCredential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_credentials (provider, source, email, scope, expires_at, encrypted_data, access_token, refresh_token)
		 VALUES (?,?,?,?,?,?,?,?)
		 ON CONFLICT(provider) DO UPDATE SET
		   source = excluded.source, email = excluded.email, scope = excluded.scope,
		   expires_at = excluded.expires_at, encrypted_data = excluded.encrypted_data,
		   access_token = excluded.access_token, refresh_token = excluded.refresh_token`,
		c.Provider, c.Source, c.Email, c.Scope, c.ExpiresAt, c.EncryptedData, c.AccessToken, c.RefreshToken)
	return err
}

// GetOAuthCredential loads the stored credential for a provider.
func (s *Store) GetOAuthCredential(ctx context.Context, provider string) (*OAuthCredential, error) {
	var c OAuthCredential
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, source, email, scope, expires_at, encrypted_data, access_token, refresh_token
		 FROM oauth_credentials WHERE provider = ?`, provider,
	).Scan(&c.Provider, &c.Source, &c.Email, &c.Scope, &c.ExpiresAt, &c.EncryptedData, &c.AccessToken, &c.RefreshToken)
	if err == sql.ErrNoRows {
		return nil, errs.NewNotFoundError("oauth_credential", provider)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListOAuthCredentials returns every stored credential (used by
// GET /api/oauth/status).
func (s *Store) ListOAuthCredentials(ctx context.Context) ([]OAuthCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, source, email, scope, expires_at, encrypted_data, access_token, refresh_token FROM oauth_credentials`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OAuthCredential
	for rows.Next() {
		var c OAuthCredential
		if err := rows.Scan(&c.Provider, &c.Source, &c.Email, &c.Scope, &c.ExpiresAt, &c.EncryptedData, &c.AccessToken, &c.RefreshToken); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateOAuthTokens persists a refreshed access token and expiry, keeping
// the rest of the row intact.
func (s *Store) UpdateOAuthTokens(ctx context.Context, provider, accessToken string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE oauth_credentials SET access_token = ?, expires_at = ? WHERE provider = ?`,
		accessToken, expiresAt, provider)
	return err
}

// DeleteOAuthCredential removes a stored credential, per
// POST /api/oauth/disconnect.
func (s *Store) DeleteOAuthCredential(ctx context.Context, provider string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM oauth_credentials WHERE provider = ?`, provider)
	return err
}

// CreateOAuthState records a one-time-use in-flight OAuth handshake row.
func (s *Store) CreateOAuthState(ctx context.Context, st *OAuthState) error {
	if st.ID == "" {
		st.ID = NewID()
	}
	st.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_states (id, provider, encrypted_verifier, redirect_to, created_at) VALUES (?,?,?,?,?)`,
		st.ID, st.Provider, st.EncryptedVerifier, st.RedirectTo, st.CreatedAt)
	return err
}

// ConsumeOAuthState atomically loads and deletes a state row. A row older
// than 10 minutes is treated as expired: it is deleted and nil is
// returned, per spec.md §8 scenario S6.
func (s *Store) ConsumeOAuthState(ctx context.Context, id, provider string) (*OAuthState, error) {
	var st OAuthState
	err := s.db.QueryRowContext(ctx,
		`SELECT id, provider, encrypted_verifier, redirect_to, created_at FROM oauth_states WHERE id = ? AND provider = ?`,
		id, provider,
	).Scan(&st.ID, &st.Provider, &st.EncryptedVerifier, &st.RedirectTo, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE id = ?`, id); err != nil {
		return nil, err
	}

	if time.Since(st.CreatedAt) > 10*time.Minute {
		return nil, nil
	}
	return &st, nil
}
