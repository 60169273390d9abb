// Package dojah implements the Dojah identity adapter, used for BVN
// lookups during KYC tier upgrades.
package dojah

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/DesignerDev23/MiiMii-sub000/internal/config"
	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/DesignerDev23/MiiMii-sub000/internal/retry"
)

const Name = "dojah"

type Adapter struct {
	baseURL    string
	appID      string
	apiKey     string
	httpClient *http.Client
}

func New(cfg config.ProviderConfig) *Adapter {
	return &Adapter{
		baseURL:    cfg.BaseURL,
		appID:      cfg.APISecret,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *Adapter) Name() string { return Name }
func (a *Adapter) Kind() string { return domain.ProviderKindIdentity }

func (a *Adapter) VerifyBvn(ctx context.Context, payload domain.BvnPayload) (*domain.BvnResult, error) {
	if len(payload.Bvn) != 11 {
		return nil, xerrors.ErrInvalidBvn
	}

	url := fmt.Sprintf("%s/api/v1/kyc/bvn/full?bvn=%s", a.baseURL, payload.Bvn)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("AppId", a.appID)
	req.Header.Set("Authorization", a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("dojah request: %w", xerrors.ErrProviderTimeout)
		}
		return nil, fmt.Errorf("dojah request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dojah read body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, xerrors.ErrInvalidBvn
	}
	if resp.StatusCode >= 400 {
		return nil, &retry.HTTPStatusError{Status: resp.StatusCode,
			Err: fmt.Errorf("dojah bvn lookup: %w", xerrors.ErrProviderError)}
	}

	var res struct {
		Entity struct {
			FirstName   string `json:"first_name"`
			LastName    string `json:"last_name"`
			DateOfBirth string `json:"date_of_birth"`
			PhoneNumber string `json:"phone_number1"`
		} `json:"entity"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("dojah decode: %w", err)
	}

	out := &domain.BvnResult{
		FirstName:   res.Entity.FirstName,
		LastName:    res.Entity.LastName,
		DateOfBirth: res.Entity.DateOfBirth,
		Phone:       res.Entity.PhoneNumber,
	}
	// Name mismatch is reported, not decided. The KYC flow owns policy.
	if payload.FirstName != "" &&
		!strings.EqualFold(strings.TrimSpace(payload.FirstName), strings.TrimSpace(out.FirstName)) {
		out.Mismatch = true
	}
	if payload.LastName != "" &&
		!strings.EqualFold(strings.TrimSpace(payload.LastName), strings.TrimSpace(out.LastName)) {
		out.Mismatch = true
	}
	return out, nil
}
