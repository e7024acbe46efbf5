// internal/adapters/google/client.go
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"reviewsync/internal/adapters/observability"
	"reviewsync/internal/domain"
)

// Client fetches Google Business Profile location reviews. The API paginates
// with pageToken; access tokens are short-lived, so every page asks the
// TokenSource for a fresh one instead of caching it across the whole fetch.
type Client struct {
	base     string
	hc       *http.Client
	rl       *rate.Limiter
	pageSize int
}

func New(base string, pageSize, rps int) *Client {
	if rps <= 0 {
		rps = 5
	}
	if pageSize <= 0 || pageSize > 50 {
		pageSize = 50
	}
	return &Client{
		base:     strings.TrimRight(base, "/"),
		hc:       &http.Client{Timeout: 20 * time.Second},
		rl:       rate.NewLimiter(rate.Limit(rps), rps),
		pageSize: pageSize,
	}
}

func (c *Client) Platform() domain.Platform { return domain.PlatformGoogle }

var starRatings = map[string]float64{
	"ONE": 1, "TWO": 2, "THREE": 3, "FOUR": 4, "FIVE": 5,
}

type reviewsPage struct {
	Reviews       []json.RawMessage `json:"reviews"`
	NextPageToken string            `json:"nextPageToken"`
}

type reviewItem struct {
	ReviewID string `json:"reviewId"`
	Reviewer struct {
		DisplayName string `json:"displayName"`
	} `json:"reviewer"`
	StarRating string `json:"starRating"`
	Comment    string `json:"comment"`
	CreateTime string `json:"createTime"`
	UpdateTime string `json:"updateTime"`
}

func (c *Client) Fetch(ctx context.Context, conn domain.PlatformConnection, token domain.TokenSource) (domain.FetchResult, error) {
	var out domain.FetchResult
	pageToken := ""
	for {
		tok, err := token(ctx)
		if err != nil {
			return out, err
		}
		u := fmt.Sprintf("%s/%s/reviews?pageSize=%d", c.base, conn.ExternalID, c.pageSize)
		if pageToken != "" {
			u += "&pageToken=" + url.QueryEscape(pageToken)
		}
		var page reviewsPage
		if err := c.getJSON(ctx, u, tok, &page); err != nil {
			return out, err
		}
		for _, rec := range page.Reviews {
			raw, err := parseReview(rec)
			if err != nil {
				out.Skipped++
				log.Warn().Err(err).Int64("connection", conn.ID).Msg("google: skipping malformed review")
				continue
			}
			out.Reviews = append(out.Reviews, raw)
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

func parseReview(rec json.RawMessage) (domain.RawReview, error) {
	var it reviewItem
	if err := json.Unmarshal(rec, &it); err != nil {
		return domain.RawReview{}, &domain.ParseError{Err: err}
	}
	if it.ReviewID == "" {
		return domain.RawReview{}, &domain.ParseError{Err: fmt.Errorf("missing reviewId")}
	}
	stars, ok := starRatings[it.StarRating]
	if !ok {
		return domain.RawReview{}, &domain.ParseError{Err: fmt.Errorf("unknown starRating %q", it.StarRating)}
	}
	published, err := time.Parse(time.RFC3339, it.CreateTime)
	if err != nil {
		// updateTime is sometimes the only timestamp on edited reviews
		if published, err = time.Parse(time.RFC3339, it.UpdateTime); err != nil {
			return domain.RawReview{}, &domain.ParseError{Err: fmt.Errorf("bad timestamp: %w", err)}
		}
	}
	raw := domain.RawReview{
		ExternalID:  it.ReviewID,
		Author:      it.Reviewer.DisplayName,
		Rating:      stars,
		Scale:       5,
		PublishedAt: published,
		Raw:         append(json.RawMessage(nil), rec...),
	}
	if t := strings.TrimSpace(it.Comment); t != "" {
		raw.Text = &t
	}
	return raw, nil
}

func (c *Client) Normalize(conn domain.PlatformConnection, raw domain.RawReview) domain.Review {
	return domain.Review{
		BusinessID:     conn.BusinessID,
		Platform:       domain.PlatformGoogle,
		ExternalID:     raw.ExternalID,
		AuthorName:     raw.Author,
		Rating:         domain.NormalizeRating(raw.Rating, raw.Scale),
		Content:        raw.Text,
		PublishedAt:    raw.PublishedAt,
		ResponseStatus: domain.ResponsePending,
		RawJSON:        raw.Raw,
	}
}

// Reply posts an owner reply to one review.
func (c *Client) Reply(ctx context.Context, conn domain.PlatformConnection, token, externalID, text string) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/reviews/%s/reply", c.base, conn.ExternalID, url.PathEscape(externalID))
	body, _ := json.Marshal(map[string]string{"comment": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.TransientError{Err: err}
	}
	defer resp.Body.Close()
	observability.ObserveExternal("google", "reply", resp.StatusCode, time.Since(start))
	return classifyStatus(resp)
}

func (c *Client) getJSON(ctx context.Context, u, token string, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.TransientError{Err: err}
	}
	defer resp.Body.Close()
	observability.ObserveExternal("google", "reviews", resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &domain.ParseError{Err: err}
		}
		return nil
	}
	return classifyStatus(resp)
}

// classifyStatus maps non-2xx responses onto the shared error taxonomy.
// No retry here: the scheduler is the retry mechanism.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.AuthError{Reason: domain.ReasonNeedsReauth, Err: fmt.Errorf("google %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.RateLimitError{Err: fmt.Errorf("google 429")}
	case resp.StatusCode >= 500:
		return &domain.TransientError{Err: fmt.Errorf("google %d", resp.StatusCode)}
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("google bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
}
