package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/shiftwatch/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	m.Run()
}

// quoteServer serves OpenAI-style chat completion responses, numbering each
// generated quote so tests can assert ordering.
func quoteServer(t *testing.T, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	var n atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail != nil && fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization header = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"content":"quote %d"}}]}`, n.Add(1))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testProvider(srv *httptest.Server) *Provider {
	return New(Config{
		APIURL:       srv.URL,
		APIKey:       "test-key",
		Model:        "test-model",
		Capacity:     3,
		RetryMax:     1,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
	})
}

func TestGetGeneratesLiveQuote(t *testing.T) {
	srv := quoteServer(t, nil)
	p := testProvider(srv)

	q := p.Get(context.Background())
	if q.Fallback {
		t.Error("live quote tagged as fallback")
	}
	if q.Text != "quote 1" {
		t.Errorf("Text = %q, want %q", q.Text, "quote 1")
	}
	if q.GeneratedAt.IsZero() {
		t.Error("GeneratedAt not set")
	}
}

func TestGetServesFallbackWhenBackendDown(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := quoteServer(t, &fail)
	p := testProvider(srv)

	q := p.Get(context.Background())
	if !q.Fallback {
		t.Fatal("expected fallback quote when backend is down")
	}
	if q.Text == "" {
		t.Error("fallback quote has empty text")
	}
}

func TestPreloadFillsCacheAndGetConsumesFIFO(t *testing.T) {
	srv := quoteServer(t, nil)
	p := testProvider(srv)

	p.Preload(context.Background(), 3)
	if depth := p.CacheDepth(); depth != 3 {
		t.Fatalf("CacheDepth = %d after preload, want 3", depth)
	}

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		q := p.Get(ctx)
		if q.Fallback {
			t.Fatalf("cached quote %d tagged as fallback", i)
		}
		if want := fmt.Sprintf("quote %d", i); q.Text != want {
			t.Errorf("Get #%d = %q, want %q (consume-once FIFO order)", i, q.Text, want)
		}
	}
	if depth := p.CacheDepth(); depth != 0 {
		t.Errorf("CacheDepth = %d after draining, want 0", depth)
	}
}

func TestPreloadNeverExceedsCapacity(t *testing.T) {
	srv := quoteServer(t, nil)
	p := testProvider(srv)

	p.Preload(context.Background(), 10)
	if depth := p.CacheDepth(); depth != 3 {
		t.Errorf("CacheDepth = %d, want capacity 3", depth)
	}
}

func TestPreloadToleratesFailuresAndNeverCachesFallback(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := quoteServer(t, &fail)
	p := testProvider(srv)

	p.Preload(context.Background(), 2)
	if depth := p.CacheDepth(); depth != 0 {
		t.Fatalf("CacheDepth = %d after failed preload, want 0 (fallbacks are never cached)", depth)
	}

	// Backend recovers; later preloads succeed.
	fail.Store(false)
	p.Preload(context.Background(), 2)
	if depth := p.CacheDepth(); depth != 2 {
		t.Errorf("CacheDepth = %d after recovery, want 2", depth)
	}
}

func TestGenerateStripsWrappingQuotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"  \"Keep going.\"  "}}]}`)
	}))
	t.Cleanup(srv.Close)
	p := testProvider(srv)

	q := p.Get(context.Background())
	if q.Text != "Keep going." {
		t.Errorf("Text = %q, want %q", q.Text, "Keep going.")
	}
}

func TestGenerateRejectsEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":""}}]}`)
	}))
	t.Cleanup(srv.Close)
	p := testProvider(srv)

	q := p.Get(context.Background())
	if !q.Fallback {
		t.Error("empty backend content should fall back")
	}
}
