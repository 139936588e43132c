// Package payment defines the payment-gateway collaborator. The core only
// needs the confirmed/not-confirmed fact plus amount and currency; order
// creation and signature verification happen elsewhere.
package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Confirmation is the gateway's answer for one payment reference.
type Confirmation struct {
	Confirmed bool    `json:"confirmed"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

type Verifier interface {
	Verify(ctx context.Context, paymentRef string) (*Confirmation, error)
}

// HTTPGateway fetches payment state from the gateway's REST API.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Verify(ctx context.Context, paymentRef string) (*Confirmation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/payments/"+paymentRef, nil)
	if err != nil {
		return nil, errors.Wrap(err, "payment: build request")
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "payment: fetch payment state")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Confirmation{Confirmed: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("payment: gateway returned %d", resp.StatusCode)
	}

	var conf Confirmation
	if err := json.NewDecoder(resp.Body).Decode(&conf); err != nil {
		return nil, errors.Wrap(err, "payment: decode confirmation")
	}
	return &conf, nil
}
