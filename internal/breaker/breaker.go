// Package breaker implements the persisted per-service circuit breaker that
// guards the execution endpoint.
package breaker

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/alerts"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/apperr"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/metrics"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

const (
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 60 * time.Second
)

// Status is the result of Check.
type Status struct {
	State      string
	Allowed    bool
	RetryAfter time.Duration
}

type Breaker struct {
	Repo    repository.BreakerRepository
	Alerts  alerts.Raiser
	Metrics *metrics.Recorder
	Logger  *zap.Logger

	FailureThreshold int
	OpenTimeout      time.Duration

	// Now is overridable in tests.
	Now func() time.Time

	mu sync.Mutex
}

func New(cfg config.BreakerConfig, repo repository.BreakerRepository, raiser alerts.Raiser, rec *metrics.Recorder, logger *zap.Logger) *Breaker {
	return &Breaker{
		Repo:             repo,
		Alerts:           raiser,
		Metrics:          rec,
		Logger:           logger,
		FailureThreshold: cfg.FailureThreshold,
		OpenTimeout:      cfg.OpenTimeout,
	}
}

func (b *Breaker) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

func (b *Breaker) threshold() int {
	if b.FailureThreshold <= 0 {
		return defaultFailureThreshold
	}
	return b.FailureThreshold
}

func (b *Breaker) timeout() time.Duration {
	if b.OpenTimeout <= 0 {
		return defaultOpenTimeout
	}
	return b.OpenTimeout
}

func (b *Breaker) load(ctx context.Context, service string) (*models.CircuitBreakerState, error) {
	st, err := b.Repo.GetBreakerState(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("load breaker %s: %w", service, err)
	}
	if st == nil {
		st = &models.CircuitBreakerState{ServiceName: service, Status: models.BreakerClosed}
	}
	return st, nil
}

func (b *Breaker) save(ctx context.Context, st *models.CircuitBreakerState) error {
	st.UpdatedAt = b.now()
	if err := b.Repo.UpsertBreakerState(ctx, st); err != nil {
		return fmt.Errorf("save breaker %s: %w", st.ServiceName, err)
	}
	b.Metrics.SetBreakerState(st.ServiceName, st.Status)
	return nil
}

// Check reports whether a call to service may proceed. An open breaker whose
// timeout has elapsed moves to half_open and lets the call through.
func (b *Breaker) Check(ctx context.Context, service string) (Status, error) {
	if b == nil || b.Repo == nil {
		return Status{State: models.BreakerClosed, Allowed: true}, nil
	}
	service = strings.TrimSpace(service)
	b.mu.Lock()
	defer b.mu.Unlock()

	st, err := b.load(ctx, service)
	if err != nil {
		return Status{}, err
	}
	if st.Status != models.BreakerOpen {
		return Status{State: st.Status, Allowed: true}, nil
	}
	now := b.now()
	var elapsed time.Duration
	if st.OpenedAt != nil {
		elapsed = now.Sub(*st.OpenedAt)
	}
	if st.OpenedAt == nil || elapsed > b.timeout() {
		st.Status = models.BreakerHalfOpen
		if err := b.save(ctx, st); err != nil {
			return Status{}, err
		}
		if b.Logger != nil {
			b.Logger.Info("breaker half-open", zap.String("service", service))
		}
		return Status{State: models.BreakerHalfOpen, Allowed: true}, nil
	}
	return Status{
		State:      models.BreakerOpen,
		Allowed:    false,
		RetryAfter: ceilSeconds(b.timeout() - elapsed),
	}, nil
}

// Guard is Check folded into an error: CircuitOpenError when the call must
// not be made.
func (b *Breaker) Guard(ctx context.Context, service string) error {
	st, err := b.Check(ctx, service)
	if err != nil {
		return err
	}
	if !st.Allowed {
		return &apperr.CircuitOpenError{Service: service, RetryAfter: st.RetryAfter}
	}
	return nil
}

// ReportSuccess resets the failure count and forces the breaker closed.
func (b *Breaker) ReportSuccess(ctx context.Context, service string) error {
	return b.close(ctx, service, "recovered")
}

// Reset is the operator override. It behaves like a success.
func (b *Breaker) Reset(ctx context.Context, service string) error {
	return b.close(ctx, service, "reset")
}

func (b *Breaker) close(ctx context.Context, service, reason string) error {
	if b == nil || b.Repo == nil {
		return nil
	}
	service = strings.TrimSpace(service)
	b.mu.Lock()
	defer b.mu.Unlock()

	st, err := b.load(ctx, service)
	if err != nil {
		return err
	}
	prior := st.Status
	if prior == models.BreakerClosed && st.FailureCount == 0 && reason == "recovered" {
		now := b.now()
		st.LastSuccessAt = &now
		return b.save(ctx, st)
	}
	now := b.now()
	st.Status = models.BreakerClosed
	st.FailureCount = 0
	st.OpenedAt = nil
	st.LastSuccessAt = &now
	if err := b.save(ctx, st); err != nil {
		return err
	}
	if prior != models.BreakerClosed && b.Logger != nil {
		b.Logger.Info("breaker closed",
			zap.String("service", service),
			zap.String("from", prior),
			zap.String("reason", reason),
		)
	}
	return nil
}

// ReportFailure counts a failure. Crossing the threshold from closed, or any
// failure while half_open, opens the breaker and raises exactly one alert.
func (b *Breaker) ReportFailure(ctx context.Context, service string) error {
	if b == nil || b.Repo == nil {
		return nil
	}
	service = strings.TrimSpace(service)
	b.mu.Lock()
	defer b.mu.Unlock()

	st, err := b.load(ctx, service)
	if err != nil {
		return err
	}
	now := b.now()
	st.FailureCount++
	st.LastFailureAt = &now

	opened := false
	switch st.Status {
	case models.BreakerHalfOpen:
		opened = true
	case models.BreakerClosed, "":
		opened = st.FailureCount >= b.threshold()
	}
	if opened {
		st.Status = models.BreakerOpen
		st.OpenedAt = &now
	}
	if err := b.save(ctx, st); err != nil {
		return err
	}
	if !opened {
		return nil
	}
	if b.Logger != nil {
		b.Logger.Warn("breaker opened",
			zap.String("service", service),
			zap.Int("failure_count", st.FailureCount),
		)
	}
	if b.Alerts == nil {
		return nil
	}
	alert := &models.SafetyAlert{
		Asset:     service,
		Type:      models.AlertCircuitOpen,
		Severity:  models.SeverityCritical,
		Message:   fmt.Sprintf("circuit breaker for %s opened after %d failures", service, st.FailureCount),
		Value:     float64(st.FailureCount),
		Threshold: float64(b.threshold()),
		CreatedAt: now,
	}
	if err := b.Alerts.Raise(ctx, alert); err != nil && b.Logger != nil {
		b.Logger.Error("breaker alert failed", zap.String("service", service), zap.Error(err))
	}
	return nil
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}
