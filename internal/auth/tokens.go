package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reviewsync/internal/adapters/observability"
	"reviewsync/internal/domain"
)

// Endpoints carries the per-platform OAuth token endpoints and app
// credentials. Tests point these at httptest servers.
type Endpoints struct {
	GoogleTokenURL     string
	GoogleClientID     string
	GoogleClientSecret string
	FacebookBase       string
	FacebookAppID      string
	FacebookAppSecret  string
	// YelpAPIKey is the app-level key used when a yelp connection was
	// created without its own credential.
	YelpAPIKey string
}

// Manager guarantees a valid access token before any adapter call.
// Refreshed tokens are persisted in a single atomic connection update;
// token fields are never partially written.
type Manager struct {
	store  domain.Store
	hc     *http.Client
	eps    Endpoints
	margin time.Duration
	now    func() time.Time
}

func NewManager(store domain.Store, eps Endpoints, margin time.Duration) *Manager {
	if margin <= 0 {
		margin = 5 * time.Minute
	}
	return &Manager{
		store:  store,
		hc:     &http.Client{Timeout: 15 * time.Second},
		eps:    eps,
		margin: margin,
		now:    time.Now,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// Valid returns an access token usable right now, refreshing and persisting
// first when the stored one expires within the safety margin.
func (m *Manager) Valid(ctx context.Context, conn domain.PlatformConnection) (string, domain.PlatformConnection, error) {
	switch conn.Platform {
	case domain.PlatformYelp:
		// static API key, nothing to refresh
		if conn.AccessToken == "" {
			return m.eps.YelpAPIKey, conn, nil
		}
		return conn.AccessToken, conn, nil
	case domain.PlatformAPI:
		return conn.AccessToken, conn, nil
	}
	if conn.TokenExpiresAt == nil || conn.TokenExpiresAt.After(m.now().Add(m.margin)) {
		return conn.AccessToken, conn, nil
	}

	var (
		tr  tokenResponse
		err error
	)
	switch conn.Platform {
	case domain.PlatformGoogle:
		tr, err = m.refreshGoogle(ctx, conn)
	case domain.PlatformFacebook:
		tr, err = m.refreshFacebook(ctx, conn)
	default:
		return "", conn, fmt.Errorf("no token endpoint for platform %q", conn.Platform)
	}
	if err != nil {
		if domain.NeedsReauth(err) {
			// terminal: surface via connection status so the UI can prompt a reconnect
			if serr := m.store.SetConnectionStatus(ctx, conn.ID, domain.SyncError); serr != nil {
				log.Error().Err(serr).Int64("connection", conn.ID).Msg("failed to flag connection for re-auth")
			}
			conn.SyncStatus = domain.SyncError
		}
		return "", conn, err
	}

	expires := m.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	refresh := conn.RefreshToken
	if tr.RefreshToken != "" {
		refresh = &tr.RefreshToken // endpoint rotated it
	}
	if err := m.store.UpdateConnectionToken(ctx, conn.ID, tr.AccessToken, refresh, &expires); err != nil {
		return "", conn, fmt.Errorf("persist refreshed token: %w", err)
	}
	conn.AccessToken = tr.AccessToken
	conn.RefreshToken = refresh
	conn.TokenExpiresAt = &expires
	log.Info().Int64("connection", conn.ID).Str("platform", string(conn.Platform)).
		Time("expires_at", expires).Msg("access token refreshed")
	return tr.AccessToken, conn, nil
}

func (m *Manager) refreshGoogle(ctx context.Context, conn domain.PlatformConnection) (tokenResponse, error) {
	if conn.RefreshToken == nil || *conn.RefreshToken == "" {
		return tokenResponse{}, &domain.AuthError{Reason: domain.ReasonNeedsReauth, Err: fmt.Errorf("no refresh token stored")}
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", *conn.RefreshToken)
	form.Set("client_id", m.eps.GoogleClientID)
	form.Set("client_secret", m.eps.GoogleClientSecret)
	return m.exchange(ctx, "google", http.MethodPost, m.eps.GoogleTokenURL, strings.NewReader(form.Encode()))
}

// refreshFacebook re-exchanges the current long-lived page token. Facebook
// has no refresh_token grant; the token itself is the exchange credential.
func (m *Manager) refreshFacebook(ctx context.Context, conn domain.PlatformConnection) (tokenResponse, error) {
	exchange := conn.AccessToken
	if conn.RefreshToken != nil && *conn.RefreshToken != "" {
		exchange = *conn.RefreshToken
	}
	if exchange == "" {
		return tokenResponse{}, &domain.AuthError{Reason: domain.ReasonNeedsReauth, Err: fmt.Errorf("no token to exchange")}
	}
	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", m.eps.FacebookAppID)
	q.Set("client_secret", m.eps.FacebookAppSecret)
	q.Set("fb_exchange_token", exchange)
	u := strings.TrimRight(m.eps.FacebookBase, "/") + "/oauth/access_token?" + q.Encode()
	return m.exchange(ctx, "facebook", http.MethodGet, u, nil)
}

func (m *Manager) exchange(ctx context.Context, service, method, u string, body io.Reader) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return tokenResponse{}, err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := m.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
			return tokenResponse{}, ctx.Err()
		}
		// network trouble or timeout: the next cron cycle retries
		return tokenResponse{}, &domain.AuthError{Reason: domain.ReasonTransient, Err: err}
	}
	defer resp.Body.Close()
	observability.ObserveExternal(service, "token", resp.StatusCode, time.Since(start))

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	switch {
	case resp.StatusCode == http.StatusOK:
		var tr tokenResponse
		if err := json.Unmarshal(b, &tr); err != nil {
			return tokenResponse{}, &domain.AuthError{Reason: domain.ReasonTransient, Err: fmt.Errorf("decode token response: %w", err)}
		}
		if tr.AccessToken == "" {
			return tokenResponse{}, &domain.AuthError{Reason: domain.ReasonTransient, Err: fmt.Errorf("empty access_token in response")}
		}
		return tr, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		// throttled, not revoked: the connection stays active and the next
		// scheduled run retries
		return tokenResponse{}, &domain.RateLimitError{Err: fmt.Errorf("%s token endpoint %d", service, resp.StatusCode)}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		// invalid_grant and friends: the refresh credential is revoked
		var tr tokenResponse
		_ = json.Unmarshal(b, &tr)
		reason := tr.Error
		if reason == "" {
			reason = strings.TrimSpace(string(b))
		}
		return tokenResponse{}, &domain.AuthError{Reason: domain.ReasonNeedsReauth, Err: fmt.Errorf("%s token endpoint %d: %s", service, resp.StatusCode, reason)}
	default:
		return tokenResponse{}, &domain.AuthError{Reason: domain.ReasonTransient, Err: fmt.Errorf("%s token endpoint %d", service, resp.StatusCode)}
	}
}
