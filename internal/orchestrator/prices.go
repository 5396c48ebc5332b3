package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/client/market"
)

const (
	PriceSourceStream = "stream"
	PriceSourceREST   = "rest"
	PriceSourceLimit  = "limit"
)

var ErrNoPrice = errors.New("no market price")

type QuoteClient interface {
	GetPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// Prices resolves a mark price from the streamed book first, then REST.
type Prices struct {
	Book     *market.PriceBook
	Quotes   QuoteClient
	MaxStale time.Duration
	Now      func() time.Time
}

func (p *Prices) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Prices) Price(ctx context.Context, asset string) (decimal.Decimal, string, error) {
	if p == nil {
		return decimal.Zero, "", ErrNoPrice
	}
	if q, ok := p.Book.Get(asset, p.MaxStale, p.now()); ok {
		return q.Price, PriceSourceStream, nil
	}
	if p.Quotes != nil {
		price, err := p.Quotes.GetPrice(ctx, asset)
		if err != nil {
			return decimal.Zero, "", err
		}
		if price.IsPositive() {
			return price, PriceSourceREST, nil
		}
	}
	return decimal.Zero, "", ErrNoPrice
}

// Mark returns a best-effort price for exposure accounting, zero when unknown.
func (p *Prices) Mark(ctx context.Context, asset string) decimal.Decimal {
	price, _, err := p.Price(ctx, asset)
	if err != nil {
		return decimal.Zero
	}
	return price
}
