package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/apperr"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
)

type stubBreakerRepo struct {
	states map[string]models.CircuitBreakerState
}

func newStubRepo() *stubBreakerRepo {
	return &stubBreakerRepo{states: map[string]models.CircuitBreakerState{}}
}

func (s *stubBreakerRepo) GetBreakerState(_ context.Context, service string) (*models.CircuitBreakerState, error) {
	st, ok := s.states[service]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *stubBreakerRepo) UpsertBreakerState(_ context.Context, item *models.CircuitBreakerState) error {
	s.states[item.ServiceName] = *item
	return nil
}

func (s *stubBreakerRepo) ListBreakerStates(context.Context) ([]models.CircuitBreakerState, error) {
	out := make([]models.CircuitBreakerState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	return out, nil
}

type countingRaiser struct {
	alerts []models.SafetyAlert
}

func (c *countingRaiser) Raise(_ context.Context, a *models.SafetyAlert) error {
	c.alerts = append(c.alerts, *a)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newTestBreaker() (*Breaker, *stubBreakerRepo, *countingRaiser, *clock) {
	repo := newStubRepo()
	raiser := &countingRaiser{}
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := &Breaker{Repo: repo, Alerts: raiser, FailureThreshold: 5, OpenTimeout: time.Minute, Now: c.Now}
	return b, repo, raiser, c
}

func TestFiveFailuresOpenWithExactlyOneAlert(t *testing.T) {
	b, repo, raiser, _ := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := b.ReportFailure(ctx, "exec"); err != nil {
			t.Fatalf("report failure: %v", err)
		}
	}
	if repo.states["exec"].Status != models.BreakerClosed {
		t.Fatalf("expected closed after 4 failures, got %s", repo.states["exec"].Status)
	}
	for i := 0; i < 3; i++ {
		if err := b.ReportFailure(ctx, "exec"); err != nil {
			t.Fatalf("report failure: %v", err)
		}
	}
	st := repo.states["exec"]
	if st.Status != models.BreakerOpen || st.OpenedAt == nil {
		t.Fatalf("expected open with opened_at, got %+v", st)
	}
	if len(raiser.alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(raiser.alerts))
	}
	a := raiser.alerts[0]
	if a.Type != models.AlertCircuitOpen || a.Severity != models.SeverityCritical || a.Asset != "exec" {
		t.Fatalf("unexpected alert %+v", a)
	}
}

func TestOpenBreakerBlocksWithRetryAfter(t *testing.T) {
	b, _, _, c := newTestBreaker()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = b.ReportFailure(ctx, "exec")
	}

	c.t = c.t.Add(20 * time.Second)
	st, err := b.Check(ctx, "exec")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if st.Allowed || st.State != models.BreakerOpen {
		t.Fatalf("expected blocked, got %+v", st)
	}
	if st.RetryAfter != 40*time.Second {
		t.Fatalf("expected retry after 40s, got %s", st.RetryAfter)
	}

	err = b.Guard(ctx, "exec")
	var co *apperr.CircuitOpenError
	if !errors.As(err, &co) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	b, repo, _, c := newTestBreaker()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = b.ReportFailure(ctx, "exec")
	}

	c.t = c.t.Add(61 * time.Second)
	st, err := b.Check(ctx, "exec")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !st.Allowed || st.State != models.BreakerHalfOpen {
		t.Fatalf("expected half_open, got %+v", st)
	}

	if err := b.ReportSuccess(ctx, "exec"); err != nil {
		t.Fatalf("success: %v", err)
	}
	got := repo.states["exec"]
	if got.Status != models.BreakerClosed || got.FailureCount != 0 {
		t.Fatalf("expected closed with 0 failures, got %+v", got)
	}
	if got.LastSuccessAt == nil {
		t.Fatalf("last_success_at should be set")
	}
}

func TestHalfOpenFailureReopensWithNewAlert(t *testing.T) {
	b, repo, raiser, c := newTestBreaker()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = b.ReportFailure(ctx, "exec")
	}
	c.t = c.t.Add(61 * time.Second)
	if _, err := b.Check(ctx, "exec"); err != nil {
		t.Fatalf("check: %v", err)
	}

	if err := b.ReportFailure(ctx, "exec"); err != nil {
		t.Fatalf("failure: %v", err)
	}
	st := repo.states["exec"]
	if st.Status != models.BreakerOpen {
		t.Fatalf("expected reopened, got %s", st.Status)
	}
	if !st.OpenedAt.Equal(c.t) {
		t.Fatalf("opened_at should be refreshed")
	}
	if len(raiser.alerts) != 2 {
		t.Fatalf("expected one alert per open transition (2), got %d", len(raiser.alerts))
	}
}

func TestResetClosesOpenBreaker(t *testing.T) {
	b, repo, _, _ := newTestBreaker()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = b.ReportFailure(ctx, "exec")
	}
	if err := b.Reset(ctx, "exec"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if st := repo.states["exec"]; st.Status != models.BreakerClosed || st.OpenedAt != nil {
		t.Fatalf("expected closed after reset, got %+v", st)
	}
	st, _ := b.Check(ctx, "exec")
	if !st.Allowed {
		t.Fatalf("reset breaker must allow calls")
	}
}

func TestUnknownServiceIsClosed(t *testing.T) {
	b, _, _, _ := newTestBreaker()
	st, err := b.Check(context.Background(), "never-seen")
	if err != nil || !st.Allowed || st.State != models.BreakerClosed {
		t.Fatalf("unexpected %+v %v", st, err)
	}
}
