// Package registrar posts client push subscriptions to the registration endpoint.
package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/engagepush/backend/internal/client/reconcile"
)

const (
	SubscriptionsPath  = "/api/v1/push/subscriptions"
	AutoRecoveryHeader = "X-Auto-Recovery"
)

// TokenSource returns the bearer token identifying the current user.
type TokenSource func(ctx context.Context) (string, error)

// Client registers subscriptions over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      TokenSource
}

func New(baseURL string, token TokenSource) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		token:      token,
	}
}

// Register implements reconcile.Registrar.
func (c *Client) Register(ctx context.Context, r reconcile.RegisterRequest) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+SubscriptionsPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.AutoRecovered {
		req.Header.Set(AutoRecoveryHeader, "true")
	}
	if c.token != nil {
		tok, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("get identity token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send registration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("registration rejected: status=%d, body=%s", resp.StatusCode, respBody)
	}
	return nil
}
