// Package market reads current prices for paper settlement and episode
// settlement: a REST quote endpoint plus a websocket price stream.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

type Client struct {
	host       string
	httpClient *http.Client
}

func NewClient(httpClient *http.Client, host string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{host: strings.TrimRight(strings.TrimSpace(host), "/"), httpClient: httpClient}
}

type priceResponse struct {
	Asset string          `json:"asset"`
	Price decimal.Decimal `json:"price"`
}

// GetPrice returns the last traded price of asset.
func (c *Client) GetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	if c == nil || c.host == "" {
		return decimal.Zero, fmt.Errorf("price endpoint not configured")
	}
	asset = strings.TrimSpace(asset)
	if asset == "" {
		return decimal.Zero, fmt.Errorf("asset is required")
	}
	query := url.Values{}
	query.Set("asset", asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/price?"+query.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	var out priceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Zero, fmt.Errorf("decode price: %w", err)
	}
	if !out.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price for %s", asset)
	}
	return out.Price, nil
}
