// internal/adapters/yelp/client.go
package yelp

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

// Client fetches a business's review snapshot from the Yelp Fusion API.
// Yelp's public API only exposes a capped recent sample plus aggregates,
// so one GET is the whole fetch: there is nothing to paginate.
type Client struct {
	base string
	hc   *http.Client
	rl   *rate.Limiter
}

func New(base string, rps int) *Client {
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 20 * time.Second},
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (c *Client) Platform() domain.Platform { return domain.PlatformYelp }

type reviewsResponse struct {
	Reviews []json.RawMessage `json:"reviews"`
	Total   int               `json:"total"`
}

type reviewItem struct {
	ID          string  `json:"id"`
	Rating      float64 `json:"rating"`
	Text        string  `json:"text"`
	TimeCreated string  `json:"time_created"`
	User        struct {
		Name string `json:"name"`
	} `json:"user"`
}

func (c *Client) Fetch(ctx context.Context, conn domain.PlatformConnection, token domain.TokenSource) (domain.FetchResult, error) {
	var out domain.FetchResult
	key, err := token(ctx)
	if err != nil {
		return out, err
	}
	if err := c.rl.Wait(ctx); err != nil {
		return out, err
	}

	u := fmt.Sprintf("%s/businesses/%s/reviews?sort_by=newest", c.base, url.PathEscape(conn.ExternalID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return out, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, &domain.TransientError{Err: err}
	}
	defer resp.Body.Close()
	observability.ObserveExternal("yelp", "reviews", resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return out, &domain.AuthError{Reason: domain.ReasonNeedsReauth, Err: fmt.Errorf("yelp %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return out, &domain.RateLimitError{Err: fmt.Errorf("yelp 429")}
	case resp.StatusCode >= 500:
		return out, &domain.TransientError{Err: fmt.Errorf("yelp %d", resp.StatusCode)}
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return out, fmt.Errorf("yelp bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var page reviewsResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return out, &domain.ParseError{Err: err}
	}
	for _, rec := range page.Reviews {
		raw, err := parseReview(rec)
		if err != nil {
			out.Skipped++
			log.Warn().Err(err).Int64("connection", conn.ID).Msg("yelp: skipping malformed review")
			continue
		}
		out.Reviews = append(out.Reviews, raw)
	}
	return out, nil
}

func parseReview(rec json.RawMessage) (domain.RawReview, error) {
	var it reviewItem
	if err := json.Unmarshal(rec, &it); err != nil {
		return domain.RawReview{}, &domain.ParseError{Err: err}
	}
	if it.ID == "" {
		return domain.RawReview{}, &domain.ParseError{Err: fmt.Errorf("missing review id")}
	}
	// Yelp timestamps are "2006-01-02 15:04:05" in the business's local zone.
	published, err := time.Parse("2006-01-02 15:04:05", it.TimeCreated)
	if err != nil {
		return domain.RawReview{}, &domain.ParseError{Err: fmt.Errorf("bad time_created: %w", err)}
	}
	raw := domain.RawReview{
		ExternalID:  it.ID,
		Author:      it.User.Name,
		Rating:      it.Rating,
		Scale:       5,
		PublishedAt: published,
		Raw:         append(json.RawMessage(nil), rec...),
	}
	if t := strings.TrimSpace(it.Text); t != "" {
		raw.Text = &t
	}
	return raw, nil
}

func (c *Client) Normalize(conn domain.PlatformConnection, raw domain.RawReview) domain.Review {
	return domain.Review{
		BusinessID:     conn.BusinessID,
		Platform:       domain.PlatformYelp,
		ExternalID:     raw.ExternalID,
		AuthorName:     raw.Author,
		Rating:         domain.NormalizeRating(raw.Rating, raw.Scale),
		Content:        raw.Text,
		PublishedAt:    raw.PublishedAt,
		ResponseStatus: domain.ResponsePending,
		RawJSON:        raw.Raw,
	}
}
