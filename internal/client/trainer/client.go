// Package trainer calls the external model trainer. The trainer is opaque:
// it receives a model and experiences and returns new weights with the
// statistics the update gate needs.
package trainer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Experience struct {
	SignalID    uint64  `json:"signal_id"`
	Side        string  `json:"side"`
	Reward      float64 `json:"reward"`
	PnL         float64 `json:"pnl"`
	Confidence  float64 `json:"confidence"`
	Transitions int     `json:"transitions"`
}

type Hyperparams struct {
	ClipRange       float64 `json:"clip_range"`
	TargetKL        float64 `json:"target_kl"`
	LearningRate    float64 `json:"learning_rate"`
	CurriculumStage int     `json:"curriculum_stage"`
}

type Request struct {
	Asset       string          `json:"asset"`
	Version     int             `json:"version"`
	Weights     json.RawMessage `json:"weights,omitempty"`
	Experiences []Experience    `json:"experiences"`
	Hyperparams Hyperparams     `json:"hyperparams"`
}

type Result struct {
	Weights      json.RawMessage `json:"weights"`
	KLDivergence float64         `json:"kl_divergence"`
	Entropy      float64         `json:"entropy"`
	AvgReward    float64         `json:"avg_reward"`
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trainer error (%d): %s", e.Status, e.Body)
}

type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{url: strings.TrimRight(strings.TrimSpace(url), "/"), httpClient: &http.Client{Timeout: timeout}}
}

func (c *Client) Train(ctx context.Context, req Request) (Result, error) {
	if c == nil || c.url == "" {
		return Result{}, fmt.Errorf("trainer url is empty")
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/train", bytes.NewReader(raw))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	var out Result
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{}, fmt.Errorf("decode train result: %w", err)
	}
	if len(out.Weights) == 0 {
		return Result{}, fmt.Errorf("trainer returned no weights")
	}
	return out, nil
}
