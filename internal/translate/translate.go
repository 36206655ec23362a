package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	logx "github.com/Shirozy/Globot/pkg/logx"
)

// Translator wraps a LibreTranslate-style endpoint. Translation failure is
// never fatal: any transport error, non-200 status or malformed body falls
// back to the original text. Calls are never retried.
type Translator struct {
	log logx.Logger

	mu      sync.Mutex
	enabled bool
	url     string
	http    *http.Client
}

type Config struct {
	Enabled bool
	URL     string
	Timeout time.Duration
}

func New(cfg Config, log logx.Logger) *Translator {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Translator{log: log}
	t.Apply(cfg)
	return t
}

// Apply updates the runtime-togglable knobs (config hot reload). A
// changed timeout swaps in a fresh HTTP client; in-flight calls finish
// on the old one.
func (t *Translator) Apply(cfg Config) {
	url := cfg.URL
	if url == "" {
		url = "http://localhost:5000/translate"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	t.mu.Lock()
	t.enabled = cfg.Enabled
	t.url = url
	if t.http == nil || t.http.Timeout != timeout {
		t.http = &http.Client{Timeout: timeout}
	}
	t.mu.Unlock()
}

func (t *Translator) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

type request struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type response struct {
	TranslatedText string `json:"translatedText"`
}

// Translate returns text in targetLang, or the input unchanged when
// translation is disabled or fails.
func (t *Translator) Translate(ctx context.Context, text, targetLang string) string {
	t.mu.Lock()
	enabled := t.enabled
	url := t.url
	client := t.http
	t.mu.Unlock()

	if !enabled || text == "" || targetLang == "" {
		return text
	}

	body, err := json.Marshal(request{Q: text, Source: "auto", Target: targetLang})
	if err != nil {
		return text
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return text
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.log.Debug("translation call failed; using original text",
			logx.String("lang", targetLang), logx.Err(err))
		return text
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.log.Debug("translation rejected; using original text",
			logx.String("lang", targetLang), logx.Int("status", resp.StatusCode))
		return text
	}
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.TranslatedText == "" {
		return text
	}
	return out.TranslatedText
}
