package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/notiva/notiva-sync/metrics"
)

// refreshMargin is how close to expiry a token may get before it is
// refreshed. Five minutes covers the longest single page fetch with room to
// spare.
const refreshMargin = 5 * time.Minute

const defaultRefreshTimeout = 30 * time.Second

// ProviderConfig identifies the OAuth token endpoint and client used for
// refresh calls.
type ProviderConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

type ManagerOption func(*Manager)

func WithHTTPClient(hc *http.Client) ManagerOption {
	return func(m *Manager) {
		m.hc = hc
	}
}

func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithCounters(c *metrics.Counters) ManagerOption {
	return func(m *Manager) {
		m.counters = c
	}
}

// WithClock overrides the time source. Tests use it to control expiry.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager resolves a valid access token for an integration, refreshing the
// stored credential in place when it is near expiry. Concurrent callers
// needing a refresh for the same integration converge on a single refresh
// flight.
type Manager struct {
	store    Store
	provider ProviderConfig
	hc       *http.Client
	logger   *zap.Logger
	counters *metrics.Counters
	now      func() time.Time
	group    singleflight.Group
}

func NewManager(store Store, provider ProviderConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		provider: provider,
		hc:       &http.Client{Timeout: defaultRefreshTimeout},
		logger:   zap.NewNop(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// GetValidToken returns an access token guaranteed to be valid for at least
// the refresh margin. It never returns a token without checking expiry
// first. A nil ExpiresAt means the token was never exchanged and forces a
// refresh.
func (m *Manager) GetValidToken(ctx context.Context, integrationID string) (string, error) {
	cred, err := m.store.Get(ctx, integrationID)
	if err != nil {
		if err == ErrNotFound {
			return "", fmt.Errorf("%w: no credential for %s", ErrAuthExpired, integrationID)
		}

		return "", err
	}

	if cred.ExpiresAt != nil && m.now().Add(refreshMargin).Before(*cred.ExpiresAt) {
		return cred.AccessToken, nil
	}

	token, err, _ := m.group.Do(integrationID, func() (any, error) {
		return m.refresh(ctx, integrationID)
	})
	if err != nil {
		return "", err
	}

	return token.(string), nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (m *Manager) refresh(ctx context.Context, integrationID string) (string, error) {
	// Re-read inside the flight: another caller may have refreshed while we
	// waited on the singleflight lock.
	cred, err := m.store.Get(ctx, integrationID)
	if err != nil {
		if err == ErrNotFound {
			return "", fmt.Errorf("%w: no credential for %s", ErrAuthExpired, integrationID)
		}

		return "", err
	}

	if cred.ExpiresAt != nil && m.now().Add(refreshMargin).Before(*cred.ExpiresAt) {
		return cred.AccessToken, nil
	}

	if m.counters != nil {
		m.counters.IncRefresh()
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)
	form.Set("client_id", m.provider.ClientID)
	form.Set("client_secret", m.provider.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.provider.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token refresh: %v", ErrNetwork, err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading token response: %v", ErrNetwork, err)
	}

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrNetwork, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		var terr tokenErrorResponse

		_ = json.Unmarshal(body, &terr)

		m.logger.Warn("refresh rejected, deleting credential",
			zap.String("integration_id", integrationID),
			zap.Int("status", resp.StatusCode),
			zap.String("error", terr.Error),
		)

		if err := m.store.Delete(ctx, integrationID); err != nil {
			m.logger.Error("deleting rejected credential", zap.Error(err))
		}

		return "", ErrAuthExpired
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("%w: malformed token response: %v", ErrNetwork, err)
	}

	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: token response missing access_token", ErrNetwork)
	}

	expiresAt := m.now().Add(time.Duration(token.ExpiresIn) * time.Second)

	cred.AccessToken = token.AccessToken
	cred.ExpiresAt = &expiresAt

	if token.RefreshToken != "" {
		cred.RefreshToken = token.RefreshToken
	}

	if err := m.store.Save(ctx, &cred); err != nil {
		return "", err
	}

	m.logger.Debug("token refreshed",
		zap.String("integration_id", integrationID),
		zap.Time("expires_at", expiresAt),
	)

	return cred.AccessToken, nil
}
