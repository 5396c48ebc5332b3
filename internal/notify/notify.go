// Package notify pushes alert text to Telegram and a generic webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
)

const telegramAPI = "https://api.telegram.org"

type Message struct {
	Event    string `json:"event"`
	Asset    string `json:"asset"`
	Severity string `json:"severity"`
	Text     string `json:"message"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

type TelegramSender struct {
	HTTP     *http.Client
	BaseURL  string
	BotToken string
	ChatID   string
}

type telegramSendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (s TelegramSender) Notify(ctx context.Context, msg Message) error {
	if s.BotToken == "" || s.ChatID == "" {
		return fmt.Errorf("missing bot_token/chat_id")
	}
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = telegramAPI
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", base, url.PathEscape(s.BotToken))
	text := fmt.Sprintf("[%s] %s %s: %s", strings.ToUpper(msg.Severity), msg.Event, msg.Asset, msg.Text)
	b, err := json.Marshal(telegramSendMessageRequest{ChatID: s.ChatID, Text: text})
	if err != nil {
		return err
	}
	return postJSON(ctx, s.HTTP, endpoint, b, "telegram")
}

type WebhookSender struct {
	HTTP *http.Client
	URL  string
}

func (s WebhookSender) Notify(ctx context.Context, msg Message) error {
	if s.URL == "" {
		return fmt.Errorf("missing webhook url")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return postJSON(ctx, s.HTTP, s.URL, b, "webhook")
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, body []byte, name string) error {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s http %d", name, resp.StatusCode)
	}
	return nil
}

// Fanout sends to every configured channel at or above MinSeverity.
type Fanout struct {
	Senders     []Notifier
	MinSeverity string
}

func NewFanout(cfg config.NotifyConfig) *Fanout {
	f := &Fanout{MinSeverity: strings.TrimSpace(cfg.MinSeverity)}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		f.Senders = append(f.Senders, TelegramSender{BotToken: cfg.TelegramBotToken, ChatID: cfg.TelegramChatID})
	}
	if cfg.WebhookURL != "" {
		f.Senders = append(f.Senders, WebhookSender{URL: cfg.WebhookURL})
	}
	return f
}

func (f *Fanout) Notify(ctx context.Context, msg Message) error {
	if f == nil || len(f.Senders) == 0 {
		return nil
	}
	if !severityAtLeast(msg.Severity, f.MinSeverity) {
		return nil
	}
	var errs []error
	for _, s := range f.Senders {
		if err := s.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func severityAtLeast(severity, min string) bool {
	rank := func(s string) int {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "critical":
			return 2
		case "warning":
			return 1
		default:
			return 0
		}
	}
	if strings.TrimSpace(min) == "" {
		return true
	}
	return rank(severity) >= rank(min)
}
