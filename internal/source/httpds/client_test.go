// These tests exercise the retry/backoff behavior of the HTTP layer:
//   - Default configuration.
//   - Retry on transient statuses, immediate return on success.
//   - StatusError for final non-2xx responses.
//   - Context-aware sleep behavior.
package httpds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewClient_Defaults verifies that NewClient applies sensible defaults.
func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{})
	if c.httpClient.Timeout <= 0 {
		t.Fatalf("expected non-zero timeout, got %v", c.httpClient.Timeout)
	}
	if c.maxRetries != 3 {
		t.Fatalf("expected default maxRetries=3, got %d", c.maxRetries)
	}
	if c.initialBackoff <= 0 || c.maxBackoff <= 0 {
		t.Fatalf("expected positive backoff defaults, got %v/%v", c.initialBackoff, c.maxBackoff)
	}
}

// TestFetch_Success_NoRetry verifies that a 200 response returns the body
// immediately without retries, even when MaxRetries > 0.
func TestFetch_Success_NoRetry(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{
		MaxRetries:     3,
		Timeout:        2 * time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	c.sleep = func(time.Duration) {}

	body, err := c.Fetch(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if string(body) != `{"data":[]}` {
		t.Fatalf("unexpected body: %s", body)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected exactly 1 request, got %d", got)
	}
}

// TestFetch_RetryOn5xxThenSuccess verifies retry on 500 and recovery.
// The sequence is two 500 responses followed by a 200.
func TestFetch_RetryOn5xxThenSuccess(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(Config{
		MaxRetries:     3,
		Timeout:        2 * time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	c.sleep = func(time.Duration) {}

	body, err := c.Fetch(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("unexpected body: %s", body)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("expected 3 requests, got %d", got)
	}
}

// TestFetch_RetriesExhausted verifies that a server stuck on 429 eventually
// fails after the configured number of attempts.
func TestFetch_RetriesExhausted(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{
		MaxRetries:     2,
		Timeout:        2 * time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	c.sleep = func(time.Duration) {}

	if _, err := c.Fetch(context.Background(), srv.URL, nil); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

// TestFetch_StatusErrorCarriesBody verifies that a final 400 becomes a
// StatusError holding the error envelope, with no retries.
func TestFetch_StatusErrorCarriesBody(t *testing.T) {
	t.Parallel()

	var hits int32
	envelope := `{"error":{"message":"Invalid OAuth access token","type":"OAuthException","code":190}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(envelope))
	}))
	defer srv.Close()

	c := NewClient(Config{MaxRetries: 3, Timeout: 2 * time.Second})
	c.sleep = func(time.Duration) {}

	_, err := c.Fetch(context.Background(), srv.URL, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", se.Code)
	}
	if string(se.Body) != envelope {
		t.Fatalf("body = %s", se.Body)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("400 must not be retried, got %d attempts", got)
	}
}

// TestGet_HeadersApplied verifies base headers are sent and per-request
// headers override them.
func TestGet_HeadersApplied(t *testing.T) {
	t.Parallel()

	var gotAgent, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	base := http.Header{}
	base.Set("User-Agent", "adsync")
	base.Set("Accept", "text/plain")
	c := NewClient(Config{BaseHeaders: base, Timeout: 2 * time.Second})

	override := http.Header{}
	override.Set("Accept", "application/json")
	resp, err := c.Get(context.Background(), srv.URL, override)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	resp.Body.Close()

	if gotAgent != "adsync" {
		t.Errorf("User-Agent = %q", gotAgent)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q, want override applied", gotAccept)
	}
}

// TestGet_ContextCanceled verifies that cancellation aborts before the
// next attempt rather than sleeping out the backoff.
func TestGet_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{
		MaxRetries:     5,
		Timeout:        2 * time.Second,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Get(ctx, srv.URL, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffDuration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second}, // clamped
	}
	for _, tc := range cases {
		got := backoffDuration(100*time.Millisecond, tc.attempt, time.Second)
		if got != tc.want {
			t.Errorf("attempt %d: got %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
