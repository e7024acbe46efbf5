package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"reviewsync/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func valTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return *p
}

// valRaw keeps JSON columns NULL instead of '' when no blob was captured.
func valRaw(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func ptrFromNullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func ptrFromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// ---- connections ----

func (r *Repo) GetConnection(ctx context.Context, id int64) (domain.PlatformConnection, error) {
	return scanConnection(r.db.QueryRowContext(ctx, getConnectionSQL, id))
}

func (r *Repo) GetConnectionFor(ctx context.Context, businessID int64, p domain.Platform) (domain.PlatformConnection, error) {
	return scanConnection(r.db.QueryRowContext(ctx, getConnectionForSQL, businessID, string(p)))
}

func (r *Repo) ListConnections(ctx context.Context, businessID int64) ([]domain.PlatformConnection, error) {
	return r.queryConnections(ctx, listConnectionsSQL, businessID)
}

func (r *Repo) ListActiveConnections(ctx context.Context) ([]domain.PlatformConnection, error) {
	return r.queryConnections(ctx, listActiveConnectionsSQL)
}

func (r *Repo) queryConnections(ctx context.Context, q string, args ...any) ([]domain.PlatformConnection, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PlatformConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanConnection(row rowScanner) (domain.PlatformConnection, error) {
	var (
		c        domain.PlatformConnection
		platform string
		status   string
		refresh  sql.NullString
		expires  sql.NullTime
		synced   sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.BusinessID, &platform, &c.ExternalID, &c.AccessToken,
		&refresh, &expires, &status, &synced); err != nil {
		if err == sql.ErrNoRows {
			return domain.PlatformConnection{}, domain.ErrNotFound
		}
		return domain.PlatformConnection{}, err
	}
	c.Platform = domain.Platform(platform)
	c.SyncStatus = domain.SyncStatus(status)
	c.RefreshToken = ptrFromNullStr(refresh)
	c.TokenExpiresAt = ptrFromNullTime(expires)
	c.LastSyncedAt = ptrFromNullTime(synced)
	return c, nil
}

func (r *Repo) UpdateConnectionToken(ctx context.Context, id int64, access string, refresh *string, expiresAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, updateConnectionTokenSQL, access, valStr(refresh), valTime(expiresAt), id)
	return err
}

func (r *Repo) SetConnectionStatus(ctx context.Context, id int64, st domain.SyncStatus) error {
	_, err := r.db.ExecContext(ctx, setConnectionStatusSQL, string(st), id)
	return err
}

func (r *Repo) MarkSynced(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, markSyncedSQL, at, id)
	return err
}

// ---- reviews ----

// UpsertReview inserts-or-updates on (business_id, platform, external_id).
// The write itself is one atomic statement; the preceding point read only
// feeds the outcome flags so the caller can tell new from edited from
// unchanged without re-classifying everything.
func (r *Repo) UpsertReview(ctx context.Context, rv domain.Review) (domain.UpsertOutcome, error) {
	var out domain.UpsertOutcome

	var (
		prevID      int64
		prevAuthor  string
		prevRating  int
		prevContent sql.NullString
	)
	err := r.db.QueryRowContext(ctx, getReviewByKeySQL, rv.BusinessID, string(rv.Platform), rv.ExternalID).
		Scan(&prevID, &prevAuthor, &prevRating, &prevContent)
	existed := err == nil
	if err != nil && err != sql.ErrNoRows {
		return out, err
	}

	res, err := r.db.ExecContext(ctx, upsertReviewSQL,
		rv.BusinessID,
		string(rv.Platform),
		rv.ExternalID,
		rv.AuthorName,
		rv.Rating,
		valStr(rv.Content),
		rv.PublishedAt,
		string(rv.ResponseStatus),
		valRaw(rv.RawJSON),
	)
	if err != nil {
		return out, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return out, err
	}
	out.ID = id

	if !existed {
		out.Inserted = true
		return out, nil
	}
	out.ID = prevID
	newContent := ""
	if rv.Content != nil {
		newContent = *rv.Content
	}
	out.ContentChanged = prevContent.String != newContent || prevContent.Valid != (rv.Content != nil)
	out.Changed = out.ContentChanged || prevAuthor != rv.AuthorName || prevRating != rv.Rating
	return out, nil
}

func (r *Repo) GetReview(ctx context.Context, id int64) (domain.Review, error) {
	return scanReview(r.db.QueryRowContext(ctx, getReviewSQL, id))
}

func (r *Repo) ListReviews(ctx context.Context, businessID int64, limit int) ([]domain.Review, error) {
	rows, err := r.db.QueryContext(ctx, listReviewsSQL, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

func scanReview(row rowScanner) (domain.Review, error) {
	var (
		rv         domain.Review
		platform   string
		respStatus string
		content    sql.NullString
		respText   sql.NullString
		respAt     sql.NullTime
		sentiment  sql.NullString
		urgency    sql.NullInt64
		themes     sql.NullString
		summary    sql.NullString
		alertAt    sql.NullTime
		raw        []byte
	)
	if err := row.Scan(&rv.ID, &rv.BusinessID, &platform, &rv.ExternalID, &rv.AuthorName,
		&rv.Rating, &content, &rv.PublishedAt, &respStatus, &respText, &respAt,
		&sentiment, &urgency, &themes, &summary, &rv.AlertSent, &alertAt, &raw); err != nil {
		if err == sql.ErrNoRows {
			return domain.Review{}, domain.ErrNotFound
		}
		return domain.Review{}, err
	}
	rv.Platform = domain.Platform(platform)
	rv.ResponseStatus = domain.ResponseStatus(respStatus)
	rv.Content = ptrFromNullStr(content)
	rv.ResponseText = ptrFromNullStr(respText)
	rv.RespondedAt = ptrFromNullTime(respAt)
	if sentiment.Valid {
		s := domain.Sentiment(sentiment.String)
		rv.Sentiment = &s
	}
	if urgency.Valid {
		u := int(urgency.Int64)
		rv.UrgencyScore = &u
	}
	if themes.Valid && themes.String != "" {
		_ = json.Unmarshal([]byte(themes.String), &rv.Themes)
	}
	rv.AISummary = ptrFromNullStr(summary)
	rv.AlertSentAt = ptrFromNullTime(alertAt)
	if len(raw) > 0 {
		rv.RawJSON = append([]byte(nil), raw...)
	}
	return rv, nil
}

// UpdateClassification writes only the four classifier-owned fields.
func (r *Repo) UpdateClassification(ctx context.Context, id int64, c domain.ClassificationResult) error {
	themes, _ := json.Marshal(c.Themes)
	_, err := r.db.ExecContext(ctx, updateClassificationSQL,
		string(c.Sentiment), c.Urgency, string(themes), c.Summary, id)
	return err
}

func (r *Repo) MarkAlerted(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, markAlertedSQL, at, id)
	return err
}

func (r *Repo) UpdateReply(ctx context.Context, id int64, text string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, updateReplySQL, text, at, id)
	return err
}

// ---- preferences ----

func (r *Repo) ListPreferences(ctx context.Context, businessID int64) ([]domain.NotificationPreference, error) {
	rows, err := r.db.QueryContext(ctx, listPreferencesSQL, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.NotificationPreference
	for rows.Next() {
		var (
			p          domain.NotificationPreference
			phone      sql.NullString
			emailOn    sql.NullBool
			quietStart sql.NullString
			quietEnd   sql.NullString
		)
		if err := rows.Scan(&p.UserID, &p.BusinessID, &p.Email, &p.SMSEnabled, &phone,
			&emailOn, &p.DigestEnabled, &p.MinUrgencyScore, &quietStart, &quietEnd,
			&p.Timezone); err != nil {
			return nil, err
		}
		p.PhoneNumber = ptrFromNullStr(phone)
		if emailOn.Valid {
			b := emailOn.Bool
			p.EmailEnabled = &b
		}
		p.QuietHoursStart = ptrFromNullStr(quietStart)
		p.QuietHoursEnd = ptrFromNullStr(quietEnd)
		out = append(out, p)
	}
	return out, rows.Err()
}
