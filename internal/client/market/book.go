package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type Quote struct {
	Asset string
	Price decimal.Decimal
	At    time.Time
}

// PriceBook caches the latest streamed quote per asset.
type PriceBook struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewPriceBook() *PriceBook {
	return &PriceBook{quotes: map[string]Quote{}}
}

func (b *PriceBook) Set(q Quote) {
	if b == nil || q.Asset == "" || !q.Price.IsPositive() {
		return
	}
	if q.At.IsZero() {
		q.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.quotes[q.Asset]; ok && prev.At.After(q.At) {
		return
	}
	b.quotes[q.Asset] = q
}

// Get returns the quote if it is no older than maxStale. A zero maxStale
// accepts any age.
func (b *PriceBook) Get(asset string, maxStale time.Duration, now time.Time) (Quote, bool) {
	if b == nil {
		return Quote{}, false
	}
	b.mu.RLock()
	q, ok := b.quotes[asset]
	b.mu.RUnlock()
	if !ok {
		return Quote{}, false
	}
	if maxStale > 0 && now.Sub(q.At) > maxStale {
		return Quote{}, false
	}
	return q, true
}
