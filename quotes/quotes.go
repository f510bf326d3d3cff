// Package quotes wraps an OpenAI-compatible chat-completions backend behind a
// small bounded FIFO cache with retry, backoff, and static fallback content.
// Get never fails: when the cache is empty and live generation exhausts its
// retries, a fallback quote is returned and tagged as such.
package quotes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/onnwee/shiftwatch/telemetry"
)

// Quote is one motivational remark. Fallback reports provenance; the text
// itself never reveals it.
type Quote struct {
	Text        string
	GeneratedAt time.Time
	Fallback    bool
}

// fallbackQuotes is served when the backend is unreachable. Kept bland on
// purpose; these can repeat across sessions, generated quotes cannot.
var fallbackQuotes = []string{
	"Rest is part of the work.",
	"Done is better than perfect.",
	"Small steps still move you forward.",
	"You showed up, and that counts.",
	"Every shift ends; every effort compounds.",
	"Good work today. Tomorrow builds on it.",
	"Progress over perfection, always.",
	"The grind respects those who respect the break.",
}

// Config wires a Provider. Zero values get defaults.
type Config struct {
	APIURL string
	APIKey string
	Model  string

	// Capacity bounds the pre-fetched quote buffer (default 10).
	Capacity int

	// Backoff policy for live generation: RetryMax attempts, exponential
	// wait between RetryWaitMin and RetryWaitMax.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// RequestTimeout caps a single backend call (default 10s).
	RequestTimeout time.Duration

	// HTTPClient overrides the underlying client, for tests.
	HTTPClient *http.Client

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Provider serves quotes first-in-first-out from a bounded buffer. Each
// cached quote is consumed at most once.
type Provider struct {
	cfg    Config
	client *retryablehttp.Client
	now    func() time.Time

	mu  sync.Mutex
	buf []Quote
}

func New(cfg Config) *Provider {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = 500 * time.Millisecond
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.Logger = nil
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}
	client.HTTPClient.Timeout = cfg.RequestTimeout

	return &Provider{cfg: cfg, client: client, now: now}
}

// Get returns one quote, preferring the cache, then one synchronous live
// generation, then the static fallback list. It never returns an error.
func (p *Provider) Get(ctx context.Context) Quote {
	p.mu.Lock()
	if len(p.buf) > 0 {
		q := p.buf[0]
		p.buf = p.buf[1:]
		telemetry.SetQuoteCacheDepth(len(p.buf))
		p.mu.Unlock()
		return q
	}
	p.mu.Unlock()

	q, err := p.generate(ctx)
	if err != nil {
		slog.Warn("quote generation failed; serving fallback", slog.Any("err", err))
		telemetry.QuotesFallback.Inc()
		return Quote{
			Text:        fallbackQuotes[rand.IntN(len(fallbackQuotes))],
			GeneratedAt: p.now(),
			Fallback:    true,
		}
	}
	return q
}

// Preload opportunistically fills the buffer with up to n live quotes, never
// exceeding capacity. Individual failures are logged and do not abort the
// batch; fallback content is never cached.
func (p *Provider) Preload(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		p.mu.Lock()
		full := len(p.buf) >= p.cfg.Capacity
		p.mu.Unlock()
		if full || ctx.Err() != nil {
			return
		}
		q, err := p.generate(ctx)
		if err != nil {
			slog.Debug("quote preload attempt failed", slog.Int("attempt", i+1), slog.Any("err", err))
			continue
		}
		p.mu.Lock()
		if len(p.buf) < p.cfg.Capacity {
			p.buf = append(p.buf, q)
		}
		telemetry.SetQuoteCacheDepth(len(p.buf))
		p.mu.Unlock()
	}
}

// CacheDepth returns the current buffered quote count.
func (p *Provider) CacheDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

const systemPrompt = "You write one short, original motivational remark for someone who just finished a work shift. One sentence, no quotation marks, no emoji, no attribution."

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// generate performs one live backend call (retries and backoff handled by the
// underlying client).
func (p *Provider) generate(ctx context.Context) (Quote, error) {
	payload, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Write the remark now."},
		},
		MaxTokens: 60,
	})
	if err != nil {
		return Quote{}, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("quote backend returned %s: %s", resp.Status, string(b))
	}

	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, err
	}
	if len(body.Choices) == 0 {
		return Quote{}, fmt.Errorf("quote backend returned no choices")
	}
	text := strings.Trim(strings.TrimSpace(body.Choices[0].Message.Content), `"`)
	if text == "" {
		return Quote{}, fmt.Errorf("quote backend returned empty content")
	}

	telemetry.QuotesGenerated.Inc()
	return Quote{Text: text, GeneratedAt: p.now()}, nil
}
