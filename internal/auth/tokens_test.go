package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reviewsync/internal/auth"
	"reviewsync/internal/domain"
)

// stubStore records the writes the manager makes. Unused Store methods panic
// through the embedded nil interface, which is exactly what we want here.
type stubStore struct {
	domain.Store
	tokenWrites  int
	lastAccess   string
	lastRefresh  *string
	lastExpires  *time.Time
	statusWrites []domain.SyncStatus
}

func (s *stubStore) UpdateConnectionToken(ctx context.Context, id int64, access string, refresh *string, expiresAt *time.Time) error {
	s.tokenWrites++
	s.lastAccess = access
	s.lastRefresh = refresh
	s.lastExpires = expiresAt
	return nil
}

func (s *stubStore) SetConnectionStatus(ctx context.Context, id int64, st domain.SyncStatus) error {
	s.statusWrites = append(s.statusWrites, st)
	return nil
}

func ptr[T any](v T) *T { return &v }

var frozen = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func googleConn(expiresIn time.Duration, refresh string) domain.PlatformConnection {
	c := domain.PlatformConnection{
		ID: 1, BusinessID: 77, Platform: domain.PlatformGoogle,
		ExternalID: "loc-1", AccessToken: "stale", SyncStatus: domain.SyncActive,
	}
	c.TokenExpiresAt = ptr(frozen.Add(expiresIn))
	if refresh != "" {
		c.RefreshToken = &refresh
	}
	return c
}

func manager(store domain.Store, tokenURL string) *auth.Manager {
	m := auth.NewManager(store, auth.Endpoints{
		GoogleTokenURL: tokenURL, GoogleClientID: "cid", GoogleClientSecret: "secret",
		FacebookBase: tokenURL, FacebookAppID: "fid", FacebookAppSecret: "fsecret",
		YelpAPIKey: "app-yelp-key",
	}, 5*time.Minute)
	auth.SetClock(m, func() time.Time { return frozen })
	return m
}

func TestValid_FreshTokenPassesThrough(t *testing.T) {
	store := &stubStore{}
	m := manager(store, "http://unused.invalid")

	tok, _, err := m.Valid(context.Background(), googleConn(time.Hour, "r1"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if tok != "stale" {
		t.Fatalf("token = %q, want stored token", tok)
	}
	if store.tokenWrites != 0 {
		t.Fatalf("fresh token must not hit the endpoint or the store")
	}
}

func TestValid_StaticKeyPlatformsNeverRefresh(t *testing.T) {
	store := &stubStore{}
	m := manager(store, "http://unused.invalid")

	conn := domain.PlatformConnection{
		ID: 2, Platform: domain.PlatformYelp, AccessToken: "yelp-key",
		TokenExpiresAt: ptr(frozen.Add(-time.Hour)), // even when "expired"
	}
	tok, _, err := m.Valid(context.Background(), conn)
	if err != nil || tok != "yelp-key" {
		t.Fatalf("tok = %q, err = %v", tok, err)
	}
}

func TestValid_YelpFallsBackToAppKey(t *testing.T) {
	store := &stubStore{}
	m := manager(store, "http://unused.invalid")

	conn := domain.PlatformConnection{ID: 2, Platform: domain.PlatformYelp}
	tok, _, err := m.Valid(context.Background(), conn)
	if err != nil || tok != "app-yelp-key" {
		t.Fatalf("tok = %q, err = %v, want the app-level key", tok, err)
	}
}

func TestValid_RefreshPersistsRotatedToken(t *testing.T) {
	var gotGrant, gotRefresh string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotGrant = r.PostFormValue("grant_type")
		gotRefresh = r.PostFormValue("refresh_token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","refresh_token":"r2","expires_in":3600}`))
	}))
	defer srv.Close()

	store := &stubStore{}
	m := manager(store, srv.URL)

	tok, updated, err := m.Valid(context.Background(), googleConn(time.Minute, "r1"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if gotGrant != "refresh_token" || gotRefresh != "r1" {
		t.Fatalf("bad grant request: grant=%q refresh=%q", gotGrant, gotRefresh)
	}
	if tok != "fresh" || updated.AccessToken != "fresh" {
		t.Fatalf("refreshed token not returned: %q", tok)
	}
	if store.tokenWrites != 1 {
		t.Fatalf("token writes = %d, want exactly one atomic persist", store.tokenWrites)
	}
	if store.lastRefresh == nil || *store.lastRefresh != "r2" {
		t.Fatalf("rotated refresh token not persisted")
	}
	want := frozen.Add(time.Hour)
	if store.lastExpires == nil || !store.lastExpires.Equal(want) {
		t.Fatalf("expires_at = %v, want %v", store.lastExpires, want)
	}
}

func TestValid_KeepsOldRefreshTokenWhenNotRotated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","expires_in":3600}`))
	}))
	defer srv.Close()

	store := &stubStore{}
	m := manager(store, srv.URL)

	if _, _, err := m.Valid(context.Background(), googleConn(time.Minute, "r1")); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if store.lastRefresh == nil || *store.lastRefresh != "r1" {
		t.Fatalf("existing refresh token lost")
	}
}

func TestValid_InvalidGrantFlagsReauth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been revoked."}`))
	}))
	defer srv.Close()

	store := &stubStore{}
	m := manager(store, srv.URL)

	_, updated, err := m.Valid(context.Background(), googleConn(time.Minute, "r1"))
	if !domain.NeedsReauth(err) {
		t.Fatalf("revoked grant must need re-auth, got %v", err)
	}
	if len(store.statusWrites) != 1 || store.statusWrites[0] != domain.SyncError {
		t.Fatalf("connection not flipped to error: %v", store.statusWrites)
	}
	if updated.SyncStatus != domain.SyncError {
		t.Fatalf("returned copy must reflect the new status")
	}
	if store.tokenWrites != 0 {
		t.Fatalf("no token write on a failed refresh")
	}
}

func TestValid_MissingRefreshTokenNeedsReauth(t *testing.T) {
	store := &stubStore{}
	m := manager(store, "http://unused.invalid")

	_, _, err := m.Valid(context.Background(), googleConn(time.Minute, ""))
	if !domain.NeedsReauth(err) {
		t.Fatalf("missing refresh token must need re-auth, got %v", err)
	}
}

func TestValid_RateLimitedEndpointKeepsConnectionActive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
	}))
	defer srv.Close()

	store := &stubStore{}
	m := manager(store, srv.URL)

	_, updated, err := m.Valid(context.Background(), googleConn(time.Minute, "r1"))
	var rl *domain.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("429 must surface as a rate limit, got %v", err)
	}
	if domain.NeedsReauth(err) {
		t.Fatalf("a throttled endpoint must not demand re-auth")
	}
	if len(store.statusWrites) != 0 {
		t.Fatalf("rate limit must leave the connection status alone: %v", store.statusWrites)
	}
	if updated.SyncStatus != domain.SyncActive {
		t.Fatalf("connection status = %q, want active", updated.SyncStatus)
	}
}

func TestValid_RequestTimeoutStatusIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestTimeout)
	}))
	defer srv.Close()

	store := &stubStore{}
	m := manager(store, srv.URL)

	_, _, err := m.Valid(context.Background(), googleConn(time.Minute, "r1"))
	if err == nil || domain.NeedsReauth(err) {
		t.Fatalf("408 must be transient, got %v", err)
	}
	if len(store.statusWrites) != 0 {
		t.Fatalf("transient failure must leave the connection status alone")
	}
}

func TestValid_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := &stubStore{}
	m := manager(store, srv.URL)

	_, _, err := m.Valid(context.Background(), googleConn(time.Minute, "r1"))
	if err == nil || domain.NeedsReauth(err) {
		t.Fatalf("5xx must be transient, got %v", err)
	}
	if len(store.statusWrites) != 0 {
		t.Fatalf("transient failure must leave the connection status alone")
	}
}

func TestValid_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	store := &stubStore{}
	m := manager(store, srv.URL)
	auth.SetHTTPClient(m, &http.Client{Timeout: 20 * time.Millisecond})

	_, _, err := m.Valid(context.Background(), googleConn(time.Minute, "r1"))
	if err == nil || domain.NeedsReauth(err) {
		t.Fatalf("timeout must be transient, got %v", err)
	}
	if len(store.statusWrites) != 0 {
		t.Fatalf("timeout must leave the connection status alone")
	}
}

func TestValid_FacebookExchangesCurrentToken(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fb-fresh","expires_in":5184000}`))
	}))
	defer srv.Close()

	store := &stubStore{}
	m := manager(store, srv.URL)

	conn := domain.PlatformConnection{
		ID: 3, Platform: domain.PlatformFacebook, ExternalID: "page-1",
		AccessToken: "fb-old", TokenExpiresAt: ptr(frozen.Add(time.Minute)),
	}
	tok, _, err := m.Valid(context.Background(), conn)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if tok != "fb-fresh" {
		t.Fatalf("tok = %q", tok)
	}
	for _, want := range []string{"grant_type=fb_exchange_token", "fb_exchange_token=fb-old"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query %q missing %q", gotQuery, want)
		}
	}
}
