// Package credentials persists OAuth2 token pairs per integration and keeps
// them valid for long-running background jobs. The Manager is the only
// component that mutates a credential; everything else asks it for a valid
// access token right before each network call.
package credentials

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("credential not found")

	// ErrAuthExpired means the refresh token was rejected by the provider.
	// The stored credential is deleted and the user must reconnect the
	// integration; callers surface this as a single "reconnect required"
	// signal instead of raw provider error text.
	ErrAuthExpired = errors.New("authorization expired: reconnect required")

	// ErrNetwork wraps transient transport failures (DNS, connection
	// refused, timeout). The stored credential is left intact and the
	// caller may retry later.
	ErrNetwork = errors.New("network error")
)

// Credential is one stored OAuth2 token pair. ExpiresAt is nil until the
// first token exchange completes; after that it is the absolute time past
// which AccessToken must be treated as invalid.
type Credential struct {
	IntegrationID string
	AccessToken   string
	RefreshToken  string
	ExpiresAt     *time.Time
	Scopes        []string
	UpdatedAt     time.Time
}

// Store persists credentials keyed by integration id. Save overwrites the
// record for the credential's integration id.
type Store interface {
	Get(ctx context.Context, integrationID string) (Credential, error)
	Save(ctx context.Context, cred *Credential) error
	Delete(ctx context.Context, integrationID string) error
}
