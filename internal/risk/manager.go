// Package risk enforces per-user, per-asset exposure limits while a user's
// signals are processed.
package risk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/apperr"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

type Manager struct {
	Config config.RiskConfig
	Repo   repository.ExecutionRepository
	Logger *zap.Logger
}

// Budget is one user's exposure ledger for a single cycle. It is owned by
// the goroutine processing that user and is not safe for concurrent use.
type Budget struct {
	UserID string
	limits map[string]decimal.Decimal
	used   map[string]decimal.Decimal
}

// NewBudget seeds the ledger with notional executed inside the exposure
// window for each of the user's assets.
func (m *Manager) NewBudget(ctx context.Context, userID string, prefs []models.UserAssetPreference, now time.Time) (*Budget, error) {
	b := &Budget{
		UserID: userID,
		limits: map[string]decimal.Decimal{},
		used:   map[string]decimal.Decimal{},
	}
	if m == nil {
		return b, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	window := m.Config.ExposureWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	for _, p := range prefs {
		asset := strings.TrimSpace(p.Asset)
		if asset == "" {
			continue
		}
		b.limits[asset] = m.limitFor(p)
		if m.Repo == nil {
			continue
		}
		sum, err := m.Repo.SumExecutedNotional(ctx, userID, asset, now.Add(-window))
		if err != nil {
			return nil, fmt.Errorf("exposure for %s/%s: %w", userID, asset, err)
		}
		b.used[asset] = sum
	}
	return b, nil
}

func (m *Manager) limitFor(p models.UserAssetPreference) decimal.Decimal {
	if p.MaxExposureUSD.IsPositive() {
		return p.MaxExposureUSD
	}
	if m.Config.DefaultMaxExposureUSD > 0 {
		return decimal.NewFromFloat(m.Config.DefaultMaxExposureUSD)
	}
	return decimal.Zero
}

// Reserve books notional against the asset limit. A zero limit is unlimited.
func (b *Budget) Reserve(asset string, notional decimal.Decimal) error {
	if b == nil || !notional.IsPositive() {
		return nil
	}
	limit := b.limits[asset]
	next := b.used[asset].Add(notional)
	if limit.IsPositive() && next.GreaterThan(limit) {
		return &apperr.ValidationError{
			Field: "exposure",
			Reason: fmt.Sprintf("exposure limit: %s would reach %s of %s",
				asset, next.StringFixed(2), limit.StringFixed(2)),
		}
	}
	b.used[asset] = next
	return nil
}

// Release returns a reservation that did not turn into a fill.
func (b *Budget) Release(asset string, notional decimal.Decimal) {
	if b == nil || !notional.IsPositive() {
		return
	}
	next := b.used[asset].Sub(notional)
	if next.IsNegative() {
		next = decimal.Zero
	}
	b.used[asset] = next
}

func (b *Budget) Used(asset string) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	return b.used[asset]
}

// Notional values a signal at its limit price, falling back to mark.
func Notional(qty decimal.Decimal, limit *decimal.Decimal, mark decimal.Decimal) decimal.Decimal {
	price := mark
	if limit != nil && limit.IsPositive() {
		price = *limit
	}
	if !price.IsPositive() {
		return decimal.Zero
	}
	return qty.Abs().Mul(price)
}
