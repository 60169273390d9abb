// Package bellbank implements the BellBank MFB banking-as-a-service
// adapter: virtual accounts, interbank transfers, name enquiry and
// transfer webhooks.
package bellbank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/DesignerDev23/MiiMii-sub000/internal/config"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/DesignerDev23/MiiMii-sub000/internal/retry"
)

type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg config.ProviderConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth/token", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.apiKey, c.apiSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &retry.HTTPStatusError{Status: resp.StatusCode,
			Err: fmt.Errorf("bellbank token: %s: %w", string(body), xerrors.ErrProviderError)}
	}

	var res struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("bellbank token decode: %w", err)
	}

	c.token = res.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(res.ExpiresIn-60) * time.Second)
	return c.token, nil
}

// postJSON sends an authenticated POST and decodes the envelope into out.
// Upstream HTTP failures come back as HTTPStatusError so the retry layer
// can classify them without seeing the raw payload.
func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	token, err := c.getToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bellbank marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return mapTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bellbank read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &retry.HTTPStatusError{Status: resp.StatusCode,
			Err: fmt.Errorf("bellbank %s: %w", path, xerrors.ErrProviderError)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("bellbank decode %s: %w", path, err)
	}
	return nil
}

func mapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("bellbank request: %w", xerrors.ErrProviderTimeout)
	}
	var ue interface{ Timeout() bool }
	if errors.As(err, &ue) && ue.Timeout() {
		return fmt.Errorf("bellbank request: %w", xerrors.ErrProviderTimeout)
	}
	return fmt.Errorf("bellbank request: %w", err)
}
