package domain

import (
	"encoding/json"
	"time"
)

type ResponseStatus string

const (
	ResponsePending   ResponseStatus = "pending"
	ResponseResponded ResponseStatus = "responded"
	ResponseIgnored   ResponseStatus = "ignored"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentMixed    Sentiment = "mixed"
)

type Theme string

const (
	ThemeService       Theme = "service"
	ThemeQuality       Theme = "quality"
	ThemePricing       Theme = "pricing"
	ThemeCleanliness   Theme = "cleanliness"
	ThemeStaff         Theme = "staff"
	ThemeWaitTime      Theme = "wait_time"
	ThemeLocation      Theme = "location"
	ThemeCommunication Theme = "communication"
	ThemeOther         Theme = "other"
)

// KnownTheme reports whether t is one of the classifier's allowed tags.
func KnownTheme(t Theme) bool {
	switch t {
	case ThemeService, ThemeQuality, ThemePricing, ThemeCleanliness,
		ThemeStaff, ThemeWaitTime, ThemeLocation, ThemeCommunication, ThemeOther:
		return true
	}
	return false
}

// RawReview is a platform-native review as fetched, before normalization.
// Rating stays on the platform's own scale; Scale records that scale's maximum.
type RawReview struct {
	ExternalID  string
	Author      string
	Rating      float64
	Scale       float64
	Text        *string
	PublishedAt time.Time
	Raw         json.RawMessage
}

// Review is the canonical cross-platform record.
// (BusinessID, Platform, ExternalID) is the dedup key; the store upserts on it.
type Review struct {
	ID             int64          `json:"id"`
	BusinessID     int64          `json:"business_id"`
	Platform       Platform       `json:"platform"`
	ExternalID     string         `json:"external_id"`
	AuthorName     string         `json:"author_name"`
	Rating         int            `json:"rating"` // 1..5 after normalization
	Content        *string        `json:"content"`
	PublishedAt    time.Time      `json:"published_at"`
	ResponseStatus ResponseStatus `json:"response_status"`
	ResponseText   *string        `json:"response_text,omitempty"`
	RespondedAt    *time.Time     `json:"responded_at,omitempty"`
	Sentiment      *Sentiment     `json:"sentiment"`
	UrgencyScore   *int           `json:"urgency_score"` // 1..10
	Themes         []Theme        `json:"themes,omitempty"`
	AISummary      *string        `json:"ai_summary,omitempty"`
	AlertSent      bool           `json:"alert_sent"`
	AlertSentAt    *time.Time     `json:"alert_sent_at,omitempty"`
	RawJSON        []byte         `json:"-"`
}

type ClassificationResult struct {
	Sentiment Sentiment `json:"sentiment"`
	Urgency   int       `json:"urgency"`
	Themes    []Theme   `json:"themes"`
	Summary   string    `json:"summary"`
}

// SyncResult is the value object one sync cycle returns. Err never crosses
// the orchestrator boundary as a panic or a bare return; it rides here.
type SyncResult struct {
	ConnectionID int64  `json:"connection_id"`
	Fetched      int    `json:"fetched"`
	New          int    `json:"new"`
	Updated      int    `json:"updated"`
	Analyzed     int    `json:"analyzed"`
	Alerted      int    `json:"alerted"`
	Skipped      int    `json:"skipped"`
	NeedsReauth  bool   `json:"needs_reauth,omitempty"`
	Err          error  `json:"-"`
	ErrMessage   string `json:"error,omitempty"`
}
