package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type subscribeRequest struct {
	Type   string   `json:"type"`
	Assets []string `json:"assets"`
}

type priceMessage struct {
	Type  string          `json:"type"`
	Asset string          `json:"asset"`
	Price decimal.Decimal `json:"price"`
	TS    int64           `json:"ts"`
}

type AssetProvider func(context.Context) ([]string, error)

type StreamOptions struct {
	URL               string
	Assets            []string
	AssetProvider     AssetProvider
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	Logger            *zap.Logger
}

// Stream keeps a websocket subscription alive and feeds a PriceBook.
type Stream struct {
	opts StreamOptions
	book *PriceBook
}

func NewStream(opts StreamOptions, book *PriceBook) *Stream {
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.PingTimeout == 0 {
		opts.PingTimeout = 5 * time.Second
	}
	if opts.BackoffMin == 0 {
		opts.BackoffMin = time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if book == nil {
		book = NewPriceBook()
	}
	return &Stream{opts: opts, book: book}
}

func (s *Stream) Book() *PriceBook { return s.book }

// Run reconnects with jittered backoff until ctx is done.
func (s *Stream) Run(ctx context.Context) error {
	if s == nil || strings.TrimSpace(s.opts.URL) == "" {
		return fmt.Errorf("price stream url is empty")
	}
	backoff := s.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.session(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Warn("price stream session ended", zap.Error(err))
		}
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

func (s *Stream) session(ctx context.Context) error {
	assets := s.opts.Assets
	if s.opts.AssetProvider != nil {
		if ids, err := s.opts.AssetProvider(ctx); err == nil {
			assets = ids
		}
	}
	if len(assets) == 0 {
		return fmt.Errorf("no assets to subscribe")
	}
	sort.Strings(assets)

	conn, _, err := websocket.Dial(ctx, s.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "reconnect")
	conn.SetReadLimit(1 << 20)

	payload, err := json.Marshal(subscribeRequest{Type: "subscribe", Assets: assets})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if s.opts.Logger != nil {
		s.opts.Logger.Info("price stream subscribed", zap.Int("assets", len(assets)))
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	heartbeatErr := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				return
			case <-ticker.C:
				pingCtx, cancelPing := context.WithTimeout(sessionCtx, s.opts.PingTimeout)
				err := conn.Ping(pingCtx)
				cancelPing()
				if err != nil {
					heartbeatErr <- err
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.Read(sessionCtx)
		if err != nil {
			select {
			case hbErr := <-heartbeatErr:
				return fmt.Errorf("heartbeat: %w", hbErr)
			default:
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		if q, ok := parseQuote(data); ok {
			s.book.Set(q)
		}
	}
}

func parseQuote(data []byte) (Quote, bool) {
	var msg priceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Quote{}, false
	}
	if msg.Type != "" && msg.Type != "price" {
		return Quote{}, false
	}
	if msg.Asset == "" || !msg.Price.IsPositive() {
		return Quote{}, false
	}
	at := time.Now().UTC()
	if msg.TS > 0 {
		at = time.UnixMilli(msg.TS).UTC()
	}
	return Quote{Asset: msg.Asset, Price: msg.Price, At: at}, true
}

func sleepWithJitter(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	t := time.NewTimer(d + jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
