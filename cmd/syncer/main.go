package main

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"reviewsync/internal/adapters/facebook"
	"reviewsync/internal/adapters/google"
	"reviewsync/internal/adapters/observability"
	openaiad "reviewsync/internal/adapters/openai"
	redisad "reviewsync/internal/adapters/redis"
	"reviewsync/internal/adapters/sendgrid"
	"reviewsync/internal/adapters/twilio"
	"reviewsync/internal/adapters/yelp"
	"reviewsync/internal/app"
	"reviewsync/internal/auth"
	"reviewsync/internal/shared"
	mysqlrepo "reviewsync/internal/storage/mysql"
)

// The syncer is the cron entry point: it walks every active platform
// connection and runs one sync cycle each. SYNC_WORKERS defaults to 1 —
// connections run sequentially to stay friendly with third-party rate
// limits; raising it is safe because connections touch disjoint rows.
func main() {
	ctx := context.Background()
	cfg := shared.Load()

	log.Logger = observability.NewLogger(cfg.AppEnv, "syncer")

	log.Info().Int("workers", cfg.SyncWorkers).Msg("syncer starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)
	rd := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.LockTTL)

	tokens := auth.NewManager(repo, auth.Endpoints{
		GoogleTokenURL:     cfg.GoogleTokenURL,
		GoogleClientID:     cfg.GoogleClientID,
		GoogleClientSecret: cfg.GoogleClientSecret,
		FacebookBase:       cfg.FacebookAPIBase,
		FacebookAppID:      cfg.FacebookAppID,
		FacebookAppSecret:  cfg.FacebookAppSecret,
		YelpAPIKey:         cfg.YelpAPIKey,
	}, cfg.TokenMargin)

	adapters := app.NewAdapterRegistry(
		google.New(cfg.GoogleAPIBase, cfg.PageSize, 5),
		yelp.New(cfg.YelpAPIBase, 5),
		facebook.New(cfg.FacebookAPIBase, cfg.PageSize, 5),
	)
	classifier := openaiad.NewClassifier(cfg.OpenAIKey, cfg.OpenAIModel, cfg.CallTimeout)
	alerts := app.NewAlertRouter(repo,
		twilio.NewSender(cfg.TwilioSID, cfg.TwilioToken, cfg.TwilioFrom),
		sendgrid.NewSender(cfg.SendGridKey, cfg.SendGridFrom, "ReviewSync"),
	)
	svc := app.NewSyncService(repo, tokens, adapters, classifier, alerts, rd)

	conns, err := repo.ListActiveConnections(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("listing active connections failed")
	}
	log.Info().Int("connections", len(conns)).Msg("sync run starting")

	workers := cfg.SyncWorkers
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup

	var mu sync.Mutex
	var fetched, newReviews, updated, alerted, failures int

	for _, conn := range conns {
		conn := conn

		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Fatal().Err(err).Msg("semaphore acquire failed")
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			res := svc.SyncPlatform(ctx, conn.ID)

			mu.Lock()
			fetched += res.Fetched
			newReviews += res.New
			updated += res.Updated
			alerted += res.Alerted
			if res.Err != nil {
				failures++
			}
			mu.Unlock()

			if res.Err != nil {
				log.Warn().Int64("connection", conn.ID).Str("platform", string(conn.Platform)).
					Bool("needs_reauth", res.NeedsReauth).Err(res.Err).Msg("sync failed")
				return
			}
			log.Info().Int64("connection", conn.ID).Str("platform", string(conn.Platform)).
				Int("new", res.New).Msg("sync ok")
		}()
	}

	wg.Wait()
	log.Info().
		Int("connections", len(conns)).
		Int("fetched", fetched).
		Int("new", newReviews).
		Int("updated", updated).
		Int("alerted", alerted).
		Int("failures", failures).
		Msg("sync run completed")
}
