package toxicity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Labels are the fixed categories the classifier reports. The sidecar runs
// a toxic-bert style model; scores are independent sigmoid probabilities.
var Labels = []string{"toxic", "severe_toxic", "obscene", "threat", "insult", "identity_hate"}

// threshold above which any single category marks the message toxic.
// A single category crossing the line is sufficient, biasing toward
// over-blocking rather than under-blocking.
const threshold = 0.5

// Score is the per-message category→probability map. Ephemeral: consumed
// by the moderation gate and rendered into a log record, never persisted.
type Score map[string]float64

// Toxic reports whether any category exceeds the block threshold.
func (s Score) Toxic() bool {
	for _, v := range s {
		if v > threshold {
			return true
		}
	}
	return false
}

// Render formats the score map in label order for log records.
func (s Score) Render() string {
	var b strings.Builder
	for i, l := range Labels {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %.2f", l, s[l])
	}
	return b.String()
}

// Scorer classifies text. Implementations must be safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, text string) (Score, error)
}

// Client calls the HTTP scoring sidecar.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:  strings.TrimRight(baseURL, "/") + "/classify",
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Score(ctx context.Context, text string) (Score, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("toxicity: classify failed: http=%d", resp.StatusCode)
	}
	var out Score
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("toxicity: bad classify response: %w", err)
	}
	return out, nil
}
