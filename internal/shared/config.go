package shared

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleTokenURL     string
	GoogleAPIBase      string
	FacebookAppID      string
	FacebookAppSecret  string
	FacebookAPIBase    string
	YelpAPIKey         string
	YelpAPIBase        string

	OpenAIKey   string
	OpenAIModel string

	TwilioSID   string
	TwilioToken string
	TwilioFrom  string

	SendGridKey  string
	SendGridFrom string

	SyncWorkers int
	PageSize    int
	ReviewLimit int
	LockTTL     time.Duration
	TokenMargin time.Duration
	CallTimeout time.Duration
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/reviewsync?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:   env("REDIS_ADDR", "localhost:6379"),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),

		GoogleClientID:     env("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: env("GOOGLE_CLIENT_SECRET", ""),
		GoogleTokenURL:     env("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		GoogleAPIBase:      env("GOOGLE_API_BASE", "https://mybusiness.googleapis.com/v4"),
		FacebookAppID:      env("FACEBOOK_APP_ID", ""),
		FacebookAppSecret:  env("FACEBOOK_APP_SECRET", ""),
		FacebookAPIBase:    env("FACEBOOK_API_BASE", "https://graph.facebook.com/v19.0"),
		YelpAPIKey:         env("YELP_API_KEY", ""),
		YelpAPIBase:        env("YELP_API_BASE", "https://api.yelp.com/v3"),

		OpenAIKey:   env("OPENAI_API_KEY", ""),
		OpenAIModel: env("OPENAI_MODEL", "gpt-4o-mini"),

		TwilioSID:   env("TWILIO_ACCOUNT_SID", ""),
		TwilioToken: env("TWILIO_AUTH_TOKEN", ""),
		TwilioFrom:  env("TWILIO_FROM_NUMBER", ""),

		SendGridKey:  env("SENDGRID_API_KEY", ""),
		SendGridFrom: env("SENDGRID_FROM_EMAIL", "alerts@reviewsync.local"),

		SyncWorkers: atoi("SYNC_WORKERS", 1),
		PageSize:    atoi("SYNC_PAGE_SIZE", 50),
		ReviewLimit: atoi("API_REVIEW_LIMIT", 50),
		LockTTL:     time.Duration(atoi("SYNC_LOCK_TTL_SECONDS", 300)) * time.Second,
		TokenMargin: time.Duration(atoi("TOKEN_REFRESH_MARGIN_SECONDS", 300)) * time.Second,
		CallTimeout: time.Duration(atoi("EXTERNAL_CALL_TIMEOUT_SECONDS", 20)) * time.Second,
	}
	if c.OpenAIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY is empty; classification disabled")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
