package mysql

const connectionColumns = `
  id, business_id, platform, external_id, access_token, refresh_token,
  token_expires_at, sync_status, last_synced_at`

const getConnectionSQL = `
SELECT` + connectionColumns + `
FROM platform_connections
WHERE id = ?`

const getConnectionForSQL = `
SELECT` + connectionColumns + `
FROM platform_connections
WHERE business_id = ? AND platform = ?`

const listConnectionsSQL = `
SELECT` + connectionColumns + `
FROM platform_connections
WHERE business_id = ?
ORDER BY platform`

const listActiveConnectionsSQL = `
SELECT` + connectionColumns + `
FROM platform_connections
WHERE sync_status = 'active'
ORDER BY id`

// Token fields are written in one statement so a refresh can never be
// half-persisted.
const updateConnectionTokenSQL = `
UPDATE platform_connections
SET access_token = ?, refresh_token = ?, token_expires_at = ?
WHERE id = ?`

const setConnectionStatusSQL = `
UPDATE platform_connections
SET sync_status = ?
WHERE id = ?`

const markSyncedSQL = `
UPDATE platform_connections
SET last_synced_at = ?, sync_status = 'active'
WHERE id = ?`

// LAST_INSERT_ID(id) makes the existing row's id observable through
// result.LastInsertId() when the insert collapses into an update.
const upsertReviewSQL = `
INSERT INTO reviews
  (business_id, platform, external_id, author_name, rating, content,
   published_at, response_status, raw)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  id           = LAST_INSERT_ID(id),
  author_name  = VALUES(author_name),
  rating       = VALUES(rating),
  content      = VALUES(content),
  published_at = VALUES(published_at),
  raw          = VALUES(raw),
  updated_at   = CURRENT_TIMESTAMP`

const reviewColumns = `
  id, business_id, platform, external_id, author_name, rating, content,
  published_at, response_status, response_text, responded_at, sentiment,
  urgency_score, themes, ai_summary, alert_sent, alert_sent_at, raw`

const getReviewSQL = `
SELECT` + reviewColumns + `
FROM reviews
WHERE id = ?`

const getReviewByKeySQL = `
SELECT id, author_name, rating, content
FROM reviews
WHERE business_id = ? AND platform = ? AND external_id = ?`

const listReviewsSQL = `
SELECT` + reviewColumns + `
FROM reviews
WHERE business_id = ?
ORDER BY published_at DESC, id DESC
LIMIT ?`

const updateClassificationSQL = `
UPDATE reviews
SET sentiment = ?, urgency_score = ?, themes = ?, ai_summary = ?
WHERE id = ?`

const markAlertedSQL = `
UPDATE reviews
SET alert_sent = 1, alert_sent_at = ?
WHERE id = ?`

const updateReplySQL = `
UPDATE reviews
SET response_status = 'responded', response_text = ?, responded_at = ?
WHERE id = ?`

const listPreferencesSQL = `
SELECT
  user_id, business_id, email, sms_enabled, phone_number, email_enabled,
  digest_enabled, min_urgency_score, quiet_hours_start, quiet_hours_end,
  timezone
FROM notification_preferences
WHERE business_id = ?`
