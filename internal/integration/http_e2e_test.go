//go:build integration || !unit

package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	httpserver "reviewsync/internal/adapters/http_server"
	"reviewsync/internal/adapters/yelp"
	"reviewsync/internal/app"
	"reviewsync/internal/domain"
	mysqlrepo "reviewsync/internal/storage/mysql"
)

// ---------- helpers ----------

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = filepath.Join("..", "..", "migrations")
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir %s: %v", dir, err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		t.Fatalf("no .sql files in %s", dir)
	}
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}
	runOpts := &dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=reviewsync",
		},
	}
	resource, err := pool.RunWithOptions(runOpts, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	hostPort := resource.GetPort("3306/tcp")
	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/reviewsync?parseTime=true&multiStatements=true&charset=utf8mb4,utf8&loc=UTC",
		hostPort)

	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	applyMigrations(t, db)
	return db
}

// staticTokens satisfies the token manager port for platforms whose stored
// credential is already usable (yelp API keys in this test).
type staticTokens struct{}

func (staticTokens) Valid(ctx context.Context, conn domain.PlatformConnection) (string, domain.PlatformConnection, error) {
	return conn.AccessToken, conn, nil
}

// cannedClassifier stands in for the LLM.
type cannedClassifier struct{ result domain.ClassificationResult }

func (c cannedClassifier) Classify(ctx context.Context, rv domain.Review) (*domain.ClassificationResult, error) {
	if rv.Content == nil {
		return nil, nil
	}
	out := c.result
	return &out, nil
}

type recordingSMS struct{ sent []string }

func (r *recordingSMS) Send(ctx context.Context, to, body string) error {
	r.sent = append(r.sent, to)
	return nil
}

type recordingEmail struct{ sent []string }

func (r *recordingEmail) Send(ctx context.Context, to, subject, html string) error {
	r.sent = append(r.sent, to)
	return nil
}

// ---------- the test ----------

// Full pipeline: a fake Yelp API feeds a real sync cycle against a real
// MySQL, then the public HTTP surface serves what landed.
func TestHTTP_EndToEnd_SyncAndList(t *testing.T) {
	db := startMySQL(t)
	repo := mysqlrepo.New(db)
	ctx := context.Background()

	// Seed the connection and one alert recipient.
	if _, err := db.Exec(`INSERT INTO platform_connections
		(business_id, platform, external_id, access_token, sync_status)
		VALUES (77, 'yelp', 'garaje-sf', 'y-key', 'active')`); err != nil {
		t.Fatalf("seed connection: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO notification_preferences
		(user_id, business_id, email, sms_enabled, phone_number, timezone)
		VALUES (1, 77, 'owner@example.com', 1, '+15550001', 'UTC')`); err != nil {
		t.Fatalf("seed preferences: %v", err)
	}
	conn, err := repo.GetConnectionFor(ctx, 77, domain.PlatformYelp)
	if err != nil {
		t.Fatalf("load seeded connection: %v", err)
	}

	// Fake Yelp upstream.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer y-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"total":2,"reviews":[
			{"id":"y-1","rating":1,"text":"hair in my food, manager shrugged","time_created":"2025-05-01 18:30:00","user":{"name":"Ana"}},
			{"id":"y-2","rating":5,"text":"best tacos in town","time_created":"2025-05-02 12:00:00","user":{"name":"Bob"}}
		]}`)
	}))
	defer upstream.Close()

	// Real services, canned externals.
	sms := &recordingSMS{}
	email := &recordingEmail{}
	alerts := app.NewAlertRouter(repo, sms, email)
	registry := app.NewAdapterRegistry(yelp.New(upstream.URL, 100))
	svc := app.NewSyncService(repo, staticTokens{}, registry, cannedClassifier{result: domain.ClassificationResult{
		Sentiment: domain.SentimentNegative,
		Urgency:   9,
		Themes:    []domain.Theme{domain.ThemeQuality},
		Summary:   "Hygiene complaint, staff dismissive.",
	}}, alerts, nil)

	srv := httpserver.New()
	srv.MountHandlers(&httpserver.Handlers{
		Sync:        svc,
		Alerts:      alerts,
		Store:       repo,
		ReviewLimit: 50,
	})
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	// Kick a sync through the API.
	res, err := http.Post(fmt.Sprintf("%s/v1/connections/%d/sync?business_id=77", ts.URL, conn.ID), "", nil)
	if err != nil {
		t.Fatalf("POST sync: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sync status %d", res.StatusCode)
	}
	var syncBody struct {
		Fetched int `json:"fetched"`
		New     int `json:"new"`
		Alerted int `json:"alerted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&syncBody); err != nil {
		t.Fatalf("decode sync result: %v", err)
	}
	if syncBody.Fetched != 2 || syncBody.New != 2 {
		t.Fatalf("sync result: %+v", syncBody)
	}

	// Both reviews classified as urgency 9: SMS + email each.
	if len(sms.sent) != 2 || len(email.sent) != 2 {
		t.Fatalf("alerts: sms=%d email=%d", len(sms.sent), len(email.sent))
	}

	// The public listing serves what landed, newest first, classified.
	res, err = http.Get(fmt.Sprintf("%s/v1/businesses/77/reviews", ts.URL))
	if err != nil {
		t.Fatalf("GET reviews: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", res.StatusCode)
	}
	var list []struct {
		ExternalID string  `json:"external_id"`
		Rating     int     `json:"rating"`
		Sentiment  *string `json:"sentiment"`
		AlertSent  bool    `json:"alert_sent"`
	}
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 || list[0].ExternalID != "y-2" {
		t.Fatalf("list: %+v", list)
	}
	if list[1].Sentiment == nil || *list[1].Sentiment != "negative" || !list[1].AlertSent {
		t.Fatalf("classification/alert state not served: %+v", list[1])
	}

	// Second sync is a write no-op and must not re-alert.
	res, err = http.Post(fmt.Sprintf("%s/v1/connections/%d/sync", ts.URL, conn.ID), "", nil)
	if err != nil {
		t.Fatalf("POST resync: %v", err)
	}
	res.Body.Close()
	if len(sms.sent) != 2 {
		t.Fatalf("resync re-alerted: %d sms", len(sms.sent))
	}

	// Connection listing hides credentials.
	res, err = http.Get(fmt.Sprintf("%s/v1/connections?business_id=77", ts.URL))
	if err != nil {
		t.Fatalf("GET connections: %v", err)
	}
	defer res.Body.Close()
	var conns []map[string]any
	if err := json.NewDecoder(res.Body).Decode(&conns); err != nil {
		t.Fatalf("decode connections: %v", err)
	}
	if len(conns) != 1 {
		t.Fatalf("connections: %+v", conns)
	}
	if _, leaked := conns[0]["access_token"]; leaked {
		t.Fatalf("access token leaked through the API")
	}
	if conns[0]["last_synced_at"] == nil {
		t.Fatalf("last_synced_at not stamped: %+v", conns[0])
	}
}
