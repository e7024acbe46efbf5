package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reviewsync/internal/adapters/observability"
	"reviewsync/internal/domain"
)

// SyncService drives one platform connection's sync cycle: fetch, normalize,
// dedup-upsert, classify, alert. Errors never escape SyncPlatform; they ride
// inside the returned SyncResult so one connection's failure cannot touch
// another's.
type SyncService struct {
	store      domain.Store
	tokens     domain.TokenManager
	adapters   map[domain.Platform]domain.Adapter
	classifier domain.Classifier
	alerts     *AlertRouter
	locker     domain.SyncLocker // nil disables advisory locking
	now        func() time.Time
}

func NewSyncService(store domain.Store, tokens domain.TokenManager, adapters map[domain.Platform]domain.Adapter,
	classifier domain.Classifier, alerts *AlertRouter, locker domain.SyncLocker) *SyncService {
	return &SyncService{
		store:      store,
		tokens:     tokens,
		adapters:   adapters,
		classifier: classifier,
		alerts:     alerts,
		locker:     locker,
		now:        time.Now,
	}
}

// NewAdapterRegistry builds the platform lookup table. The orchestrator
// never switches on platform type; adding a platform means adding a map
// entry here.
func NewAdapterRegistry(adapters ...domain.Adapter) map[domain.Platform]domain.Adapter {
	m := make(map[domain.Platform]domain.Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Platform()] = a
	}
	return m
}

// SyncPlatformFor is the scoped entry point: the connection must belong to
// businessID or the sync is refused. No ambient bypass exists around this
// check.
func (s *SyncService) SyncPlatformFor(ctx context.Context, businessID, connectionID int64) domain.SyncResult {
	conn, err := s.store.GetConnection(ctx, connectionID)
	if err != nil {
		return failed(connectionID, err)
	}
	if conn.BusinessID != businessID {
		return failed(connectionID, domain.ErrNotFound)
	}
	return s.SyncPlatform(ctx, connectionID)
}

// SyncPlatform runs one full sync cycle for the connection.
func (s *SyncService) SyncPlatform(ctx context.Context, connectionID int64) domain.SyncResult {
	res := domain.SyncResult{ConnectionID: connectionID}

	conn, err := s.store.GetConnection(ctx, connectionID)
	if err != nil {
		return failed(connectionID, fmt.Errorf("load connection: %w", err))
	}
	if conn.SyncStatus != domain.SyncActive {
		observability.ObserveSync(string(conn.Platform), "noop")
		return res
	}

	if s.locker != nil {
		ok, lerr := s.locker.Acquire(ctx, connectionID)
		if lerr != nil {
			// lock infra down; the keyed upsert still guarantees no duplicates
			log.Warn().Err(lerr).Int64("connection", connectionID).Msg("sync lock unavailable, proceeding")
		} else if !ok {
			observability.ObserveSync(string(conn.Platform), "locked")
			return res
		} else {
			defer func() {
				if rerr := s.locker.Release(context.WithoutCancel(ctx), connectionID); rerr != nil {
					log.Warn().Err(rerr).Int64("connection", connectionID).Msg("sync lock release failed")
				}
			}()
		}
	}

	adapter, ok := s.adapters[conn.Platform]
	if !ok {
		return failed(connectionID, fmt.Errorf("no adapter registered for platform %q", conn.Platform))
	}

	// The token source re-validates on every call so paginated fetches
	// survive a mid-stream expiry. It tracks the freshest connection copy.
	current := conn
	source := func(ctx context.Context) (string, error) {
		tok, updated, terr := s.tokens.Valid(ctx, current)
		if terr == nil {
			current = updated
		}
		return tok, terr
	}

	// Prime once so terminal auth failures surface before anything counts.
	if _, err := source(ctx); err != nil {
		return s.fetchFailed(ctx, conn, res, err)
	}

	fetched, err := adapter.Fetch(ctx, conn, source)
	res.Fetched = len(fetched.Reviews)
	res.Skipped = fetched.Skipped
	if err != nil {
		return s.fetchFailed(ctx, conn, res, err)
	}

	var classifyQueue []int64
	for _, raw := range fetched.Reviews {
		rv := adapter.Normalize(conn, raw)
		out, uerr := s.store.UpsertReview(ctx, rv)
		if uerr != nil {
			res.Skipped++
			log.Warn().Err(uerr).Int64("connection", conn.ID).Str("external_id", rv.ExternalID).
				Msg("review upsert failed")
			observability.ObserveIngest(string(conn.Platform), "skipped")
			continue
		}
		switch {
		case out.Inserted:
			res.New++
			classifyQueue = append(classifyQueue, out.ID)
			observability.ObserveIngest(string(conn.Platform), "new")
		case out.Changed:
			res.Updated++
			observability.ObserveIngest(string(conn.Platform), "updated")
			// re-classify only on edited text; rating-only edits would
			// waste an LLM call
			if out.ContentChanged {
				classifyQueue = append(classifyQueue, out.ID)
			}
		default:
			observability.ObserveIngest(string(conn.Platform), "unchanged")
		}
	}

	for _, id := range classifyQueue {
		analyzed, alerted := s.classifyAndAlert(ctx, id)
		if analyzed {
			res.Analyzed++
		}
		res.Alerted += alerted
	}

	if err := s.store.MarkSynced(ctx, conn.ID, s.now()); err != nil {
		log.Error().Err(err).Int64("connection", conn.ID).Msg("failed to stamp last_synced_at")
	}
	observability.ObserveSync(string(conn.Platform), "ok")
	log.Info().Int64("connection", conn.ID).Str("platform", string(conn.Platform)).
		Int("fetched", res.Fetched).Int("new", res.New).Int("updated", res.Updated).
		Int("analyzed", res.Analyzed).Int("alerted", res.Alerted).Int("skipped", res.Skipped).
		Msg("sync cycle complete")
	return res
}

// classifyAndAlert runs the best-effort tail of the pipeline for one newly
// written review. Nothing here is fatal to the sync cycle.
func (s *SyncService) classifyAndAlert(ctx context.Context, reviewID int64) (analyzed bool, alerted int) {
	rv, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		log.Warn().Err(err).Int64("review", reviewID).Msg("load review for classification failed")
		return false, 0
	}
	c, err := s.classifier.Classify(ctx, rv)
	if err != nil {
		// review persists without sentiment/urgency; alerting treats it
		// as below threshold
		log.Warn().Err(err).Int64("review", reviewID).Msg("classification failed")
		return false, 0
	}
	if c == nil {
		return false, 0 // rating-only review
	}
	if err := s.store.UpdateClassification(ctx, reviewID, *c); err != nil {
		log.Warn().Err(err).Int64("review", reviewID).Msg("persist classification failed")
		return false, 0
	}
	rv.Sentiment = &c.Sentiment
	rv.UrgencyScore = &c.Urgency
	rv.Themes = c.Themes
	rv.AISummary = &c.Summary

	n, err := s.alerts.RouteAlert(ctx, rv)
	if err != nil {
		log.Warn().Err(err).Int64("review", reviewID).Msg("alert routing failed")
	}
	return true, n
}

func (s *SyncService) fetchFailed(ctx context.Context, conn domain.PlatformConnection, res domain.SyncResult, err error) domain.SyncResult {
	res.Err = err
	res.ErrMessage = err.Error()
	switch {
	case domain.NeedsReauth(err):
		// terminal: the user has to reconnect. The token manager flips the
		// status for refresh-grant deaths; fetch-level 401/403 lands here.
		// The write is idempotent either way.
		res.NeedsReauth = true
		if serr := s.store.SetConnectionStatus(ctx, conn.ID, domain.SyncError); serr != nil {
			log.Error().Err(serr).Int64("connection", conn.ID).Msg("failed to flag connection for re-auth")
		}
		observability.ObserveSync(string(conn.Platform), "auth")
	case isRateLimited(err):
		observability.ObserveSync(string(conn.Platform), "rate_limited")
	default:
		observability.ObserveSync(string(conn.Platform), "transient")
	}
	log.Warn().Err(err).Int64("connection", conn.ID).Str("platform", string(conn.Platform)).
		Bool("needs_reauth", res.NeedsReauth).Msg("sync cycle aborted")
	return res
}

func isRateLimited(err error) bool {
	var rl *domain.RateLimitError
	return errors.As(err, &rl)
}

func failed(connectionID int64, err error) domain.SyncResult {
	return domain.SyncResult{ConnectionID: connectionID, Err: err, ErrMessage: err.Error()}
}
