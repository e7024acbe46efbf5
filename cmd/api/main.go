package main

import (
	"database/sql"
	"net/http"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"reviewsync/internal/adapters/facebook"
	"reviewsync/internal/adapters/google"
	server "reviewsync/internal/adapters/http_server"
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

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "api")

	observability.Serve()

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

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
	sync := app.NewSyncService(repo, tokens, adapters, classifier, alerts, rd)
	reply := app.NewReplyService(repo, tokens, adapters)

	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Sync:        sync,
		Reply:       reply,
		Alerts:      alerts,
		Store:       repo,
		Pending:     rd,
		ReviewLimit: cfg.ReviewLimit,
	})

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}
