package observability

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviewsync", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reviewsync", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviewsync", Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reviewsync", Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	SyncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviewsync", Name: "sync_cycles_total", Help: "Sync cycles per platform and outcome."},
		[]string{"platform", "outcome"}, // outcome: ok|noop|auth|transient|rate_limited|locked
	)
	ReviewsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviewsync", Name: "reviews_ingested_total", Help: "Upserted reviews per platform."},
		[]string{"platform", "kind"}, // kind: new|updated|unchanged|skipped
	)
	Classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviewsync", Name: "classifications_total", Help: "LLM classification attempts."},
		[]string{"outcome"}, // outcome: ok|skipped|error
	)
	AlertSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviewsync", Name: "alert_sends_total", Help: "Alert channel sends."},
		[]string{"channel", "outcome"}, // channel: sms|email; outcome: sent|failed|suppressed
	)
)

func Serve() {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency,
		SyncCycles, ReviewsIngested, Classifications, AlertSends)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveSync(platform, outcome string) { SyncCycles.WithLabelValues(platform, outcome).Inc() }
func ObserveIngest(platform, kind string)  { ReviewsIngested.WithLabelValues(platform, kind).Inc() }
func ObserveClassification(outcome string) { Classifications.WithLabelValues(outcome).Inc() }
func ObserveAlert(channel, outcome string) { AlertSends.WithLabelValues(channel, outcome).Inc() }

func LabelErr(err error) string {
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}
