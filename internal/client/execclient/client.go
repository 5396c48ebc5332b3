// Package execclient is the HTTP client for the generic execution endpoint.
package execclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/execution"
)

type Client struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func New(cfg config.ExecutionConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewClient(&http.Client{Timeout: timeout}, cfg.EndpointURL, cfg.RateLimitRPS, cfg.RateBurst)
}

func NewClient(httpClient *http.Client, endpoint string, rps float64, burst int) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	var limiter *rate.Limiter
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &Client{
		url:        strings.TrimSpace(endpoint),
		httpClient: httpClient,
		limiter:    limiter,
	}
}

// Submit posts one signed attempt. Any HTTP response, including non-2xx, is
// returned with a nil error so the caller can classify the status; a non-nil
// error means the request never completed.
func (c *Client) Submit(ctx context.Context, req execution.SignedRequest) (execution.Response, error) {
	if c == nil || c.httpClient == nil {
		return execution.Response{}, fmt.Errorf("client is nil")
	}
	if c.url == "" {
		return execution.Response{}, fmt.Errorf("execution endpoint url is empty")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return execution.Response{}, err
		}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(req.Body))
	if err != nil {
		return execution.Response{}, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(execution.SignatureHeader, req.Signature)
	httpReq.Header.Set(execution.TimestampHeader, strconv.FormatInt(req.Timestamp, 10))

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return execution.Response{Latency: time.Since(start)}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	latency := time.Since(start)
	if err != nil {
		return execution.Response{Latency: latency}, fmt.Errorf("read response: %w", err)
	}
	out := execution.Response{Status: resp.StatusCode, Body: body, Latency: latency}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && len(body) > 0 {
		var r execution.Result
		if err := json.Unmarshal(body, &r); err == nil {
			out.Result = &r
		}
	}
	return out, nil
}
