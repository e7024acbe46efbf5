// internal/adapters/facebook/client.go
package facebook

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

// Client fetches page ratings from the Facebook Graph API with cursor
// pagination. The stored token is a pre-resolved page access token, so a
// single TokenSource call covers the whole fetch (unlike Google, there is
// no per-call business-token exchange).
type Client struct {
	base  string
	hc    *http.Client
	rl    *rate.Limiter
	limit int
}

func New(base string, limit, rps int) *Client {
	if rps <= 0 {
		rps = 5
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return &Client{
		base:  strings.TrimRight(base, "/"),
		hc:    &http.Client{Timeout: 20 * time.Second},
		rl:    rate.NewLimiter(rate.Limit(rps), rps),
		limit: limit,
	}
}

func (c *Client) Platform() domain.Platform { return domain.PlatformFacebook }

type ratingsPage struct {
	Data   []json.RawMessage `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
}

type ratingItem struct {
	OpenGraphStoryID   string   `json:"open_graph_story_id"`
	Rating             *float64 `json:"rating"`
	RecommendationType string   `json:"recommendation_type"`
	ReviewText         string   `json:"review_text"`
	CreatedTime        string   `json:"created_time"`
	Reviewer           struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	} `json:"reviewer"`
}

func (c *Client) Fetch(ctx context.Context, conn domain.PlatformConnection, token domain.TokenSource) (domain.FetchResult, error) {
	var out domain.FetchResult
	tok, err := token(ctx)
	if err != nil {
		return out, err
	}
	after := ""
	for {
		q := url.Values{}
		q.Set("fields", "open_graph_story_id,rating,recommendation_type,review_text,created_time,reviewer")
		q.Set("limit", fmt.Sprintf("%d", c.limit))
		q.Set("access_token", tok)
		if after != "" {
			q.Set("after", after)
		}
		u := fmt.Sprintf("%s/%s/ratings?%s", c.base, url.PathEscape(conn.ExternalID), q.Encode())

		var page ratingsPage
		if err := c.getJSON(ctx, u, &page); err != nil {
			return out, err
		}
		for _, rec := range page.Data {
			raw, err := parseRating(rec)
			if err != nil {
				out.Skipped++
				log.Warn().Err(err).Int64("connection", conn.ID).Msg("facebook: skipping malformed rating")
				continue
			}
			out.Reviews = append(out.Reviews, raw)
		}
		if page.Paging.Next == "" || page.Paging.Cursors.After == "" || len(page.Data) == 0 {
			return out, nil
		}
		after = page.Paging.Cursors.After
	}
}

func parseRating(rec json.RawMessage) (domain.RawReview, error) {
	var it ratingItem
	if err := json.Unmarshal(rec, &it); err != nil {
		return domain.RawReview{}, &domain.ParseError{Err: err}
	}
	if it.OpenGraphStoryID == "" {
		return domain.RawReview{}, &domain.ParseError{Err: fmt.Errorf("missing open_graph_story_id")}
	}
	rating := 0.0
	switch {
	case it.Rating != nil:
		rating = *it.Rating
	case it.RecommendationType == "positive":
		rating = 5
	case it.RecommendationType == "negative":
		rating = 1
	default:
		return domain.RawReview{}, &domain.ParseError{Err: fmt.Errorf("no rating or recommendation_type")}
	}
	published, err := time.Parse(time.RFC3339, it.CreatedTime)
	if err != nil {
		return domain.RawReview{}, &domain.ParseError{Err: fmt.Errorf("bad created_time: %w", err)}
	}
	raw := domain.RawReview{
		ExternalID:  it.OpenGraphStoryID,
		Author:      it.Reviewer.Name,
		Rating:      rating,
		Scale:       5,
		PublishedAt: published,
		Raw:         append(json.RawMessage(nil), rec...),
	}
	if t := strings.TrimSpace(it.ReviewText); t != "" {
		raw.Text = &t
	}
	return raw, nil
}

func (c *Client) Normalize(conn domain.PlatformConnection, raw domain.RawReview) domain.Review {
	return domain.Review{
		BusinessID:     conn.BusinessID,
		Platform:       domain.PlatformFacebook,
		ExternalID:     raw.ExternalID,
		AuthorName:     raw.Author,
		Rating:         domain.NormalizeRating(raw.Rating, raw.Scale),
		Content:        raw.Text,
		PublishedAt:    raw.PublishedAt,
		ResponseStatus: domain.ResponsePending,
		RawJSON:        raw.Raw,
	}
}

// Reply posts a page comment on the review's open graph story.
func (c *Client) Reply(ctx context.Context, conn domain.PlatformConnection, token, externalID, text string) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}
	form := url.Values{}
	form.Set("message", text)
	form.Set("access_token", token)
	u := fmt.Sprintf("%s/%s/comments", c.base, url.PathEscape(externalID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.TransientError{Err: err}
	}
	defer resp.Body.Close()
	observability.ObserveExternal("facebook", "reply", resp.StatusCode, time.Since(start))
	return classifyStatus(resp)
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
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
	observability.ObserveExternal("facebook", "ratings", resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &domain.ParseError{Err: err}
		}
		return nil
	}
	return classifyStatus(resp)
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.AuthError{Reason: domain.ReasonNeedsReauth, Err: fmt.Errorf("facebook %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.RateLimitError{Err: fmt.Errorf("facebook 429")}
	case resp.StatusCode >= 500:
		return &domain.TransientError{Err: fmt.Errorf("facebook %d", resp.StatusCode)}
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("facebook bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
}
