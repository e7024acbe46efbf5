// internal/adapters/openai/classifier.go
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"reviewsync/internal/adapters/observability"
	"reviewsync/internal/domain"
)

const systemPrompt = `You analyze customer reviews of local businesses.
Respond with a single JSON object and nothing else, shaped exactly as:
{"sentiment":"positive|negative|neutral|mixed","urgency":1-10,"themes":["service","quality","pricing","cleanliness","staff","wait_time","location","communication","other"],"summary":"one sentence"}
urgency measures how much the review demands an immediate human response.`

// completer is the slice of go-openai's client the classifier needs; tests
// substitute a fake.
type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Classifier struct {
	llm     completer
	model   string
	timeout time.Duration
}

func NewClassifier(apiKey, model string, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Classifier{llm: openai.NewClient(apiKey), model: model, timeout: timeout}
}

// newWithCompleter exists for tests.
func newWithCompleter(llm completer, model string) *Classifier {
	return &Classifier{llm: llm, model: model, timeout: 30 * time.Second}
}

type wireResult struct {
	Sentiment string   `json:"sentiment"`
	Urgency   int      `json:"urgency"`
	Themes    []string `json:"themes"`
	Summary   string   `json:"summary"`
}

// Classify assigns sentiment, urgency, themes and a summary to one review.
// Rating-only reviews return (nil, nil): there is nothing to analyze.
// All model and parse failures come back as ClassificationError; callers
// log and move on, classification is best-effort.
func (c *Classifier) Classify(ctx context.Context, rv domain.Review) (*domain.ClassificationResult, error) {
	if rv.Content == nil || strings.TrimSpace(*rv.Content) == "" {
		observability.ObserveClassification("skipped")
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	user := fmt.Sprintf("Rating: %d/5\nReview:\n%s", rv.Rating, *rv.Content)
	resp, err := c.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.2,
		MaxTokens:   300,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		observability.ObserveClassification("error")
		return nil, &domain.ClassificationError{Err: err}
	}
	if len(resp.Choices) == 0 {
		observability.ObserveClassification("error")
		return nil, &domain.ClassificationError{Err: fmt.Errorf("no choices in completion")}
	}

	out, err := parseResult(resp.Choices[0].Message.Content)
	if err != nil {
		observability.ObserveClassification("error")
		return nil, &domain.ClassificationError{Err: err}
	}
	observability.ObserveClassification("ok")
	return out, nil
}

// parseResult tolerates the model wrapping its JSON in prose or markdown
// fences: the first balanced {...} substring is what gets unmarshalled.
func parseResult(content string) (*domain.ClassificationResult, error) {
	blob, ok := extractJSON(content)
	if !ok {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	var w wireResult
	if err := json.Unmarshal([]byte(blob), &w); err != nil {
		return nil, fmt.Errorf("unmarshal model output: %w", err)
	}

	res := &domain.ClassificationResult{
		Urgency: w.Urgency,
		Summary: strings.TrimSpace(w.Summary),
	}
	switch domain.Sentiment(strings.ToLower(w.Sentiment)) {
	case domain.SentimentPositive, domain.SentimentNegative, domain.SentimentNeutral, domain.SentimentMixed:
		res.Sentiment = domain.Sentiment(strings.ToLower(w.Sentiment))
	default:
		res.Sentiment = domain.SentimentNeutral
	}
	if res.Urgency < 1 {
		res.Urgency = 1
	}
	if res.Urgency > 10 {
		res.Urgency = 10
	}
	for _, t := range w.Themes {
		th := domain.Theme(strings.ToLower(strings.TrimSpace(t)))
		if domain.KnownTheme(th) {
			res.Themes = append(res.Themes, th)
		}
	}
	return res, nil
}

// extractJSON returns the first balanced top-level JSON object in s.
// Braces inside string literals don't count.
func extractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
