// Package generator calls the external signal generator.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AssetRequest struct {
	Asset        string `json:"asset"`
	ModelVersion int    `json:"model_version"`
	Location     string `json:"location,omitempty"`
	Shadow       bool   `json:"shadow,omitempty"`
}

type Request struct {
	UserID string         `json:"user_id"`
	Assets []AssetRequest `json:"assets"`
}

// Signal is one proposed order returned by the generator.
type Signal struct {
	Asset        string           `json:"asset"`
	Side         string           `json:"side"`
	OrderType    string           `json:"order_type"`
	Qty          decimal.Decimal  `json:"qty"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty"`
	SL           *decimal.Decimal `json:"sl,omitempty"`
	TP           *decimal.Decimal `json:"tp,omitempty"`
	Confidence   float64          `json:"confidence"`
	ModelVersion int              `json:"model_version"`
	Shadow       bool             `json:"shadow,omitempty"`
}

type response struct {
	Signals []Signal `json:"signals"`
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("generator error (%d): %s", e.Status, e.Body)
}

type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{url: strings.TrimRight(strings.TrimSpace(url), "/"), httpClient: &http.Client{Timeout: timeout}}
}

func (c *Client) Generate(ctx context.Context, req Request) ([]Signal, error) {
	if c == nil || c.url == "" {
		return nil, fmt.Errorf("generator url is empty")
	}
	if len(req.Assets) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/signals", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode signals: %w", err)
	}
	return out.Signals, nil
}
