package app

import (
	"time"

	"reviewsync/internal/domain"
)

// test hooks for pinning the clock

func SetAlertClock(a *AlertRouter, now func() time.Time) { a.now = now }

func SetSyncClock(s *SyncService, now func() time.Time) { s.now = now }

func SMSBodyForTest(rv domain.Review) string { return smsBody(rv) }
