package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newAuthServer(t *testing.T, host string, failures int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/host":
			if int(calls.Add(1)) <= failures {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(host + "\n"))
		case "/token":
			var in struct {
				Credential string `json:"credential"`
			}
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Credential == "" {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-" + in.Credential})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestResolveSuccess(t *testing.T) {
	srv, _ := newAuthServer(t, "chat.example.com", 0)
	g := NewGateway(srv.URL, "secret", nil)

	sess, err := g.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sess.Host != "chat.example.com" {
		t.Fatalf("host = %q, want chat.example.com", sess.Host)
	}
	if sess.Token != "tok-secret" {
		t.Fatalf("token = %q, want tok-secret", sess.Token)
	}
}

func TestResolveRetriesUntilSuccess(t *testing.T) {
	srv, calls := newAuthServer(t, "chat.example.com", 2)
	g := NewGateway(srv.URL, "secret", nil)
	// Zero jitter keeps each retry at the 1s floor.
	g.random = func() float64 { return 0 }

	done := make(chan Session, 1)
	go func() {
		sess, err := g.Resolve(context.Background())
		if err != nil {
			t.Errorf("Resolve: %v", err)
		}
		done <- sess
	}()

	select {
	case sess := <-done:
		if sess.Host != "chat.example.com" {
			t.Fatalf("host = %q", sess.Host)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Resolve did not complete after transient failures")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("host endpoint called %d times, want 3", got)
	}
}

func TestResolveHonorsContextCancellation(t *testing.T) {
	srv, _ := newAuthServer(t, "chat.example.com", 1000)
	g := NewGateway(srv.URL, "secret", nil)
	g.random = func() float64 { return 1 }

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := g.Resolve(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Resolve did not return after cancellation")
	}
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	cases := []struct {
		random  float64
		attempt int
		want    time.Duration
	}{
		{1, 1, 2 * time.Second},
		{1, 5, 6 * time.Second},
		{1, 29, 30 * time.Second},
		{1, 100, 30 * time.Second},
		// Jitter is fractional, never rounded to whole seconds.
		{0.5, 1, 1500 * time.Millisecond},
		{0.5, 3, 2500 * time.Millisecond},
		{0.25, 2, 1500 * time.Millisecond},
	}
	for _, tc := range cases {
		g := NewGateway("http://unused", "secret", nil)
		g.random = func() float64 { return tc.random }
		if got := g.retryDelay(tc.attempt); got != tc.want {
			t.Errorf("retryDelay(%d) with random=%v = %s, want %s", tc.attempt, tc.random, got, tc.want)
		}
	}
}

func TestRetryDelayFloor(t *testing.T) {
	g := NewGateway("http://unused", "secret", nil)
	g.random = func() float64 { return 0 }

	if got := g.retryDelay(10); got != time.Second {
		t.Fatalf("retryDelay with zero jitter = %s, want 1s", got)
	}
}
