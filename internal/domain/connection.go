package domain

import "time"

type Platform string

const (
	PlatformGoogle   Platform = "google"
	PlatformYelp     Platform = "yelp"
	PlatformFacebook Platform = "facebook"
	PlatformAPI      Platform = "api"
)

type SyncStatus string

const (
	SyncActive   SyncStatus = "active"
	SyncError    SyncStatus = "error"
	SyncDisabled SyncStatus = "disabled"
)

// PlatformConnection binds one business to one external review source.
// At most one connection exists per (BusinessID, Platform).
type PlatformConnection struct {
	ID             int64
	BusinessID     int64
	Platform       Platform
	ExternalID     string // platform's location/business/page id
	AccessToken    string
	RefreshToken   *string
	TokenExpiresAt *time.Time
	SyncStatus     SyncStatus
	LastSyncedAt   *time.Time
}
