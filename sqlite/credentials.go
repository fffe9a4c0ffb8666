package sqlite

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
		FROM credentials WHERE integration_id = ?`

	var (
		cred      credentials.Credential
		expiresAt sql.NullInt64
		scopes    string
		updatedAt int64
	)

	err := s.db.QueryRowContext(ctx, q, integrationID).Scan(
		&cred.IntegrationID, &cred.AccessToken, &cred.RefreshToken,
		&expiresAt, &scopes, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return credentials.Credential{}, credentials.ErrNotFound
	}

	if err != nil {
		return credentials.Credential{}, err
	}

	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0).UTC()
		cred.ExpiresAt = &t
	}

	if err := json.Unmarshal([]byte(scopes), &cred.Scopes); err != nil {
		return credentials.Credential{}, err
	}

	cred.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return cred, nil
}

func (s *CredentialStore) Save(ctx context.Context, cred *credentials.Credential) error {
	scopes, err := json.Marshal(cred.Scopes)
	if err != nil {
		return err
	}

	var expiresAt sql.NullInt64
	if cred.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: cred.ExpiresAt.Unix(), Valid: true}
	}

	const q = `INSERT INTO credentials (integration_id, access_token, refresh_token, expires_at, scopes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (integration_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, q,
		cred.IntegrationID, cred.AccessToken, cred.RefreshToken,
		expiresAt, string(scopes), time.Now().UTC().Unix(),
	)

	return err
}

func (s *CredentialStore) Delete(ctx context.Context, integrationID string) error {
	const q = `DELETE FROM credentials WHERE integration_id = ?`

	_, err := s.db.ExecContext(ctx, q, integrationID)

	return err
}
