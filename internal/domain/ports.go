package domain

import (
	"context"
	"time"
)

type Store interface {
	// Connections
	GetConnection(ctx context.Context, id int64) (PlatformConnection, error)
	GetConnectionFor(ctx context.Context, businessID int64, p Platform) (PlatformConnection, error)
	ListConnections(ctx context.Context, businessID int64) ([]PlatformConnection, error)
	ListActiveConnections(ctx context.Context) ([]PlatformConnection, error)
	UpdateConnectionToken(ctx context.Context, id int64, access string, refresh *string, expiresAt *time.Time) error
	SetConnectionStatus(ctx context.Context, id int64, st SyncStatus) error
	MarkSynced(ctx context.Context, id int64, at time.Time) error

	// Reviews
	UpsertReview(ctx context.Context, r Review) (UpsertOutcome, error)
	GetReview(ctx context.Context, id int64) (Review, error)
	ListReviews(ctx context.Context, businessID int64, limit int) ([]Review, error)
	UpdateClassification(ctx context.Context, id int64, c ClassificationResult) error
	MarkAlerted(ctx context.Context, id int64, at time.Time) error
	UpdateReply(ctx context.Context, id int64, text string, at time.Time) error

	// Alerting
	ListPreferences(ctx context.Context, businessID int64) ([]NotificationPreference, error)
}

// UpsertOutcome describes what a keyed review upsert actually did.
type UpsertOutcome struct {
	ID             int64
	Inserted       bool
	Changed        bool // existing row, any mutable field differed
	ContentChanged bool // existing row, review text edited upstream
}

// TokenSource hands out a currently-valid access token. Adapters that
// paginate call it per page, so a long fetch survives token expiry.
type TokenSource func(ctx context.Context) (string, error)

// Adapter translates one platform's review API into RawReviews and maps
// them onto the canonical Review shape.
type Adapter interface {
	Platform() Platform
	Fetch(ctx context.Context, conn PlatformConnection, token TokenSource) (FetchResult, error)
	Normalize(conn PlatformConnection, raw RawReview) Review
}

// Replier is implemented by adapters whose platform accepts posted replies.
type Replier interface {
	Reply(ctx context.Context, conn PlatformConnection, token, externalID, text string) error
}

type FetchResult struct {
	Reviews []RawReview
	Skipped int // malformed records dropped mid-fetch
}

type TokenManager interface {
	Valid(ctx context.Context, conn PlatformConnection) (string, PlatformConnection, error)
}

type Classifier interface {
	// Classify returns (nil, nil) for reviews with no textual content.
	Classify(ctx context.Context, rv Review) (*ClassificationResult, error)
}

type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

type EmailSender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// SyncLocker serializes sync cycles per connection when the caller cannot
// guarantee a single invoker.
type SyncLocker interface {
	Acquire(ctx context.Context, connectionID int64) (bool, error)
	Release(ctx context.Context, connectionID int64) error
}
