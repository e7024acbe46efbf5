package domain

// NotificationPreference is one user's alerting configuration for a business.
// QuietHours* are local clock times "HH:MM"; both nil means no quiet hours.
type NotificationPreference struct {
	UserID          int64
	BusinessID      int64
	Email           string
	SMSEnabled      bool
	PhoneNumber     *string
	EmailEnabled    *bool // nil defaults to enabled
	DigestEnabled   bool
	MinUrgencyScore int
	QuietHoursStart *string
	QuietHoursEnd   *string
	Timezone        string // IANA name, e.g. "America/Chicago"
}

// EmailOn resolves the nullable EmailEnabled flag (unset means on).
func (p NotificationPreference) EmailOn() bool {
	return p.EmailEnabled == nil || *p.EmailEnabled
}
