package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/notiva/notiva-sync/credentials"
)

var _ credentials.Store = (*CredentialStore)(nil)

type CredentialStore struct {
	db *sql.DB
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Get(ctx context.Context, integrationID string) (credentials.Credential, error) {
	const q = `SELECT integration_id, access_token, refresh_token, expires_at, scopes, updated_at
		FROM credentials WHERE integration_id = $1`

	var (
		cred      credentials.Credential
		expiresAt sql.NullTime
		scopes    []byte
	)

	err := s.db.QueryRowContext(ctx, q, integrationID).Scan(
		&cred.IntegrationID, &cred.AccessToken, &cred.RefreshToken,
		&expiresAt, &scopes, &cred.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return credentials.Credential{}, credentials.ErrNotFound
	}

	if err != nil {
		return credentials.Credential{}, err
	}

	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		cred.ExpiresAt = &t
	}

	if err := json.Unmarshal(scopes, &cred.Scopes); err != nil {
		return credentials.Credential{}, err
	}

	return cred, nil
}

func (s *CredentialStore) Save(ctx context.Context, cred *credentials.Credential) error {
	scopes, err := json.Marshal(cred.Scopes)
	if err != nil {
		return err
	}

	var expiresAt sql.NullTime
	if cred.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: cred.ExpiresAt.UTC(), Valid: true}
	}

	const q = `INSERT INTO credentials (integration_id, access_token, refresh_token, expires_at, scopes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (integration_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, q,
		cred.IntegrationID, cred.AccessToken, cred.RefreshToken,
		expiresAt, scopes, time.Now().UTC(),
	)

	return err
}

func (s *CredentialStore) Delete(ctx context.Context, integrationID string) error {
	const q = `DELETE FROM credentials WHERE integration_id = $1`

	_, err := s.db.ExecContext(ctx, q, integrationID)

	return err
}
