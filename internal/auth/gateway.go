// Package auth resolves the connection host and one-time session token the
// socket layer needs. Resolution retries indefinitely with randomized,
// capped backoff so callers never see transient network failures.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

const (
	// requestTimeout bounds each individual auth call.
	requestTimeout = 3 * time.Second

	// maxRetryDelay caps the randomized backoff between attempts.
	maxRetryDelay = 30 * time.Second
)

// Session is a resolved connection target.
type Session struct {
	Host  string
	Token string
}

// Gateway performs the host and token exchange against the auth service.
type Gateway struct {
	baseURL    string
	credential string
	client     *http.Client
	logger     *slog.Logger

	// random is swappable for deterministic backoff in tests.
	random func() float64
}

// NewGateway creates a gateway for the given auth base URL and session
// credential.
func NewGateway(baseURL, credential string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		client:     &http.Client{Timeout: requestTimeout},
		logger:     logger.With("component", "auth"),
		random:     rand.Float64, // #nosec G404 -- backoff jitter does not need crypto randomness
	}
}

// Resolve performs the two-call exchange and returns only on success or
// context cancellation. Failures are logged and retried after a randomized
// delay that grows with the number of consecutive failures:
//
//	delay = min(30s, random(0,1) * attempt * 1s + 1s)
//
// This is the sole pre-connect retry path; callers treat Resolve as a
// blocking operation with unbounded retry.
func (g *Gateway) Resolve(ctx context.Context) (Session, error) {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return Session{}, err
		}

		sess, err := g.resolveOnce(ctx)
		if err == nil {
			if attempt > 0 {
				g.logger.Info("auth resolved after retries", "attempts", attempt+1)
			}
			return sess, nil
		}

		attempt++
		delay := g.retryDelay(attempt)
		g.logger.Warn("auth exchange failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return Session{}, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (g *Gateway) retryDelay(attempt int) time.Duration {
	d := time.Duration((g.random()*float64(attempt) + 1) * float64(time.Second))
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

func (g *Gateway) resolveOnce(ctx context.Context) (Session, error) {
	host, err := g.fetchHost(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("fetch host: %w", err)
	}
	token, err := g.fetchToken(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("fetch token: %w", err)
	}
	return Session{Host: host, Token: token}, nil
}

func (g *Gateway) fetchHost(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/host", nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	host := strings.TrimSpace(strings.Trim(strings.TrimSpace(string(body)), `"`))
	if host == "" {
		return "", fmt.Errorf("empty host response")
	}
	return host, nil
}

func (g *Gateway) fetchToken(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{"credential": g.credential})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/token", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("empty token response")
	}
	return out.Token, nil
}
