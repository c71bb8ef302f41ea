// Package fx fetches currency exchange rates over HTTP.
package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

const maxResponseSize = 1 << 20

// ErrRateNotFound indicates the source has no rate for the pair
var ErrRateNotFound = errors.New("fx: rate not found")

// Config holds the rate source settings
type Config struct {
	// BaseURL serves GET {BaseURL}/{FROM} -> {"base":"FROM","rates":{"TO":1.23}}
	BaseURL string
	Timeout time.Duration
}

type ratesResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// Client implements domain.ExchangeRateSource against a JSON rates API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new rate client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Rate returns how many units of to one unit of from buys. Transport
// failures and 5xx responses wrap ErrDownstreamUnavailable.
func (c *Client) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(from), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fx: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: fx: %v", domain.ErrDownstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return decimal.Zero, fmt.Errorf("%w: %s", ErrRateNotFound, from)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return decimal.Zero, fmt.Errorf("%w: fx: HTTP %d", domain.ErrDownstreamUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return decimal.Zero, fmt.Errorf("fx: HTTP %d", resp.StatusCode)
	}

	var body ratesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("fx: failed to decode rates: %w", err)
	}
	rate, ok := body.Rates[to]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s->%s", ErrRateNotFound, from, to)
	}
	return rate, nil
}

var _ domain.ExchangeRateSource = (*Client)(nil)
