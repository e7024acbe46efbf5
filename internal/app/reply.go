package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reviewsync/internal/domain"
)

// ReplyService posts owner replies upstream through the platform adapters
// and records the response locally. Yelp has no reply API; its adapter
// simply doesn't implement Replier.
type ReplyService struct {
	store    domain.Store
	tokens   domain.TokenManager
	adapters map[domain.Platform]domain.Adapter
	now      func() time.Time
}

func NewReplyService(store domain.Store, tokens domain.TokenManager, adapters map[domain.Platform]domain.Adapter) *ReplyService {
	return &ReplyService{store: store, tokens: tokens, adapters: adapters, now: time.Now}
}

func (s *ReplyService) PostReply(ctx context.Context, reviewID int64, text string) error {
	rv, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return fmt.Errorf("load review: %w", err)
	}
	adapter, ok := s.adapters[rv.Platform]
	if !ok {
		return fmt.Errorf("no adapter registered for platform %q", rv.Platform)
	}
	replier, ok := adapter.(domain.Replier)
	if !ok {
		return fmt.Errorf("platform %q does not accept replies", rv.Platform)
	}

	conn, err := s.store.GetConnectionFor(ctx, rv.BusinessID, rv.Platform)
	if err != nil {
		return fmt.Errorf("load connection: %w", err)
	}
	token, conn, err := s.tokens.Valid(ctx, conn)
	if err != nil {
		return err
	}
	if err := replier.Reply(ctx, conn, token, rv.ExternalID, text); err != nil {
		return err
	}
	if err := s.store.UpdateReply(ctx, rv.ID, text, s.now()); err != nil {
		// upstream accepted the reply; local state catches up on next sync
		log.Error().Err(err).Int64("review", rv.ID).Msg("reply persisted upstream but not locally")
		return err
	}
	return nil
}

// Reclassify re-runs classification for one review, for backfills and for
// flows where classification happens out-of-band.
func (s *SyncService) Reclassify(ctx context.Context, reviewID int64) (*domain.ClassificationResult, error) {
	rv, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("load review: %w", err)
	}
	c, err := s.classifier.Classify(ctx, rv)
	if err != nil || c == nil {
		return nil, err
	}
	if err := s.store.UpdateClassification(ctx, reviewID, *c); err != nil {
		return nil, fmt.Errorf("persist classification: %w", err)
	}
	return c, nil
}
