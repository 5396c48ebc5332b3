package execution

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/apperr"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

type memStore struct {
	mu         sync.Mutex
	signals    map[uint64]*models.Signal
	history    map[uint64][]string
	executions []models.Execution
	episodes   []models.Episode
}

func newMemStore(sigs ...models.Signal) *memStore {
	s := &memStore{signals: map[uint64]*models.Signal{}, history: map[uint64][]string{}}
	for i := range sigs {
		sig := sigs[i]
		s.signals[sig.ID] = &sig
		s.history[sig.ID] = []string{sig.Status}
	}
	return s
}

func (s *memStore) InsertSignal(_ context.Context, item *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[item.ID] = item
	return nil
}
func (s *memStore) GetSignal(_ context.Context, id uint64) (*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.signals[id]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}
func (s *memStore) ListSignals(context.Context, repository.ListSignalsParams) ([]models.Signal, error) {
	return nil, nil
}
func (s *memStore) CountSignals(context.Context, repository.ListSignalsParams) (int64, error) {
	return 0, nil
}
func (s *memStore) ListQueuedSignals(context.Context, int) ([]models.Signal, error) { return nil, nil }
func (s *memStore) ListSentSignalsBefore(context.Context, time.Time, int) ([]models.Signal, error) {
	return nil, nil
}
func (s *memStore) TransitionSignal(_ context.Context, id uint64, next string, u repository.SignalUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, p := range models.SignalPriorStatuses(next) {
		if p == sig.Status {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	sig.Status = next
	if u.Attempts != nil {
		sig.Attempts = *u.Attempts
	}
	if u.Annotation != nil {
		sig.Annotation = u.Annotation
	}
	if u.ErrorMessage != nil {
		sig.ErrorMessage = u.ErrorMessage
	}
	s.history[id] = append(s.history[id], next)
	return true, nil
}
func (s *memStore) InsertExecution(_ context.Context, item *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, *item)
	return nil
}
func (s *memStore) ListExecutions(context.Context, repository.ListExecutionsParams) ([]models.Execution, error) {
	return s.executions, nil
}
func (s *memStore) CountExecutions(context.Context, repository.ListExecutionsParams) (int64, error) {
	return int64(len(s.executions)), nil
}
func (s *memStore) ListRecentExecutionStatuses(context.Context, string, int) ([]string, error) {
	return nil, nil
}
func (s *memStore) AverageExecutionLatency(context.Context, string, time.Time) (float64, int64, error) {
	return 0, 0, nil
}
func (s *memStore) SumExecutedNotional(context.Context, string, string, time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (s *memStore) InsertPaperFill(context.Context, *models.PaperFill) error { return nil }
func (s *memStore) InsertEpisode(_ context.Context, item *models.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes = append(s.episodes, *item)
	return nil
}
func (s *memStore) ListOpenEpisodes(context.Context, int) ([]models.Episode, error) { return nil, nil }
func (s *memStore) CloseEpisode(context.Context, uint64, repository.EpisodeClose) (bool, error) {
	return false, nil
}
func (s *memStore) ListClosedEpisodes(context.Context, string, int, *time.Time, int) ([]models.Episode, error) {
	return nil, nil
}
func (s *memStore) ListEpisodeVersions(context.Context) ([]repository.AssetVersion, error) {
	return nil, nil
}

type scriptedEndpoint struct {
	statuses []int
	bodies   [][]byte
	requests []SignedRequest
}

func (e *scriptedEndpoint) Submit(_ context.Context, req SignedRequest) (Response, error) {
	i := len(e.requests)
	e.requests = append(e.requests, req)
	if i >= len(e.statuses) {
		return Response{}, errors.New("unexpected call")
	}
	resp := Response{Status: e.statuses[i], Latency: 20 * time.Millisecond}
	if i < len(e.bodies) {
		resp.Body = e.bodies[i]
	}
	if resp.Status == 0 {
		return resp, errors.New("connection reset")
	}
	if resp.Status >= 200 && resp.Status < 300 && len(resp.Body) > 0 {
		var r Result
		if err := json.Unmarshal(resp.Body, &r); err == nil {
			resp.Result = &r
		}
	}
	return resp, nil
}

type stubGuard struct {
	open      error
	openFrom  int // when set, open applies from this Guard call on
	calls     int
	successes int
	failures  int
}

func (g *stubGuard) Guard(context.Context, string) error {
	g.calls++
	if g.openFrom > 0 && g.calls < g.openFrom {
		return nil
	}
	return g.open
}
func (g *stubGuard) ReportSuccess(context.Context, string) error { g.successes++; return nil }
func (g *stubGuard) ReportFailure(context.Context, string) error { g.failures++; return nil }

type tickingClock struct{ t time.Time }

func (c *tickingClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func testSignal() models.Signal {
	return models.Signal{
		ID:           1,
		UserID:       "u1",
		Asset:        "BTC",
		Side:         models.SideBuy,
		OrderType:    "limit",
		Qty:          d("0.0123"),
		LimitPrice:   dp("50000.004"),
		Status:       models.SignalStatusQueued,
		BrokerID:     7,
		ModelVersion: 3,
		Confidence:   0.7,
	}
}

func testBroker() models.BrokerConnection {
	return models.BrokerConnection{
		ID:        7,
		UserID:    "u1",
		IsActive:  true,
		SymbolMap: []byte(`{"BTC":"BTCUSDT"}`),
		StepSize:  d("0.001"),
		TickSize:  d("0.01"),
		MinQty:    d("0.001"),
	}
}

func newTestEngine(store *memStore, ep Endpoint, g *stubGuard) (*Engine, *[]time.Duration) {
	var slept []time.Duration
	clk := &tickingClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	e := &Engine{
		Store:       store,
		Endpoint:    ep,
		Breaker:     g,
		Signer:      Signer{Secret: []byte("s3cret"), Now: clk.Now},
		Policy:      DefaultPolicy,
		ServiceName: "exec",
		Now:         clk.Now,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	return e, &slept
}

func TestExecuteSuccessRecordsExecutionAndEpisode(t *testing.T) {
	store := newMemStore(testSignal())
	ep := &scriptedEndpoint{
		statuses: []int{200},
		bodies:   [][]byte{[]byte(`{"executed_price":"50001.5","executed_qty":"0.012","order_id":"o-1","status":"filled"}`)},
	}
	g := &stubGuard{}
	e, _ := newTestEngine(store, ep, g)

	out, err := e.Execute(context.Background(), testSignal(), testBroker())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.Executed() || out.Attempts != 1 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(store.executions) != 1 || store.executions[0].OrderID != "o-1" {
		t.Fatalf("execution not recorded: %+v", store.executions)
	}
	if len(store.episodes) != 1 || !store.episodes[0].EntryPrice.Equal(d("50001.5")) || store.episodes[0].Version != 3 {
		t.Fatalf("episode not recorded: %+v", store.episodes)
	}
	if g.successes != 1 {
		t.Fatalf("breaker should see one success")
	}
	var body map[string]any
	_ = json.Unmarshal(ep.requests[0].Body, &body)
	if body["symbol"] != "BTCUSDT" || body["qty"] != "0.012" || body["limit_price"] != "50000" {
		t.Fatalf("unexpected payload %v", body)
	}
	assertForwardOnly(t, store.history[1])
}

func TestExecuteDuplicateIsSuccessOnAnyAttempt(t *testing.T) {
	for _, statuses := range [][]int{{429}, {503, 429}, {401, 400, 429}} {
		store := newMemStore(testSignal())
		ep := &scriptedEndpoint{statuses: statuses}
		e, _ := newTestEngine(store, ep, &stubGuard{})

		out, err := e.Execute(context.Background(), testSignal(), testBroker())
		if err != nil {
			t.Fatalf("execute %v: %v", statuses, err)
		}
		sig := store.signals[1]
		if sig.Status != models.SignalStatusExecuted {
			t.Fatalf("%v: expected executed, got %s", statuses, sig.Status)
		}
		if sig.Annotation == nil || *sig.Annotation != models.AnnotationDuplicate || out.Annotation != models.AnnotationDuplicate {
			t.Fatalf("%v: missing duplicate annotation", statuses)
		}
		if store.executions[0].Status != models.ExecutionStatusDuplicate {
			t.Fatalf("%v: execution status %s", statuses, store.executions[0].Status)
		}
	}
}

func TestExecuteResignsAfter401WithNewTimestamp(t *testing.T) {
	store := newMemStore(testSignal())
	ep := &scriptedEndpoint{statuses: []int{401, 200}}
	e, slept := newTestEngine(store, ep, &stubGuard{})

	out, err := e.Execute(context.Background(), testSignal(), testBroker())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.Executed() || out.Attempts != 2 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(ep.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(ep.requests))
	}
	first, second := ep.requests[0], ep.requests[1]
	if second.Timestamp <= first.Timestamp {
		t.Fatalf("retry must carry a newer timestamp: %d then %d", first.Timestamp, second.Timestamp)
	}
	if first.Signature == second.Signature {
		t.Fatalf("retry must be re-signed")
	}
	if len(*slept) != 1 || (*slept)[0] != 500*time.Millisecond {
		t.Fatalf("expected one short re-sign delay, got %v", *slept)
	}
}

func TestExecuteBackoffThenFailRecordsRejection(t *testing.T) {
	store := newMemStore(testSignal())
	ep := &scriptedEndpoint{statuses: []int{500, 0, 502}, bodies: [][]byte{nil, nil, []byte(`{"error":"down"}`)}}
	g := &stubGuard{}
	e, slept := newTestEngine(store, ep, g)

	out, err := e.Execute(context.Background(), testSignal(), testBroker())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Status != models.SignalStatusFailed || out.Attempts != 3 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	var te *apperr.TransientError
	if !errors.As(out.Err, &te) {
		t.Fatalf("expected transient cause, got %v", out.Err)
	}
	if len(*slept) != 2 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Fatalf("unexpected backoff %v", *slept)
	}
	if len(store.executions) != 1 || store.executions[0].Status != models.ExecutionStatusRejected {
		t.Fatalf("expected rejected execution, got %+v", store.executions)
	}
	if string(store.executions[0].RawResponse) != `{"error":"down"}` {
		t.Fatalf("last payload not kept: %s", store.executions[0].RawResponse)
	}
	if g.failures != 3 {
		t.Fatalf("expected 3 breaker failures, got %d", g.failures)
	}
	if len(store.episodes) != 0 {
		t.Fatalf("failed signal must not emit an episode")
	}
	assertForwardOnly(t, store.history[1])
}

func TestExecuteOtherStatusFailsImmediately(t *testing.T) {
	store := newMemStore(testSignal())
	ep := &scriptedEndpoint{statuses: []int{403}}
	g := &stubGuard{}
	e, _ := newTestEngine(store, ep, g)

	out, err := e.Execute(context.Background(), testSignal(), testBroker())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Status != models.SignalStatusFailed || len(ep.requests) != 1 {
		t.Fatalf("expected single-attempt failure, got %+v", out)
	}
	if g.failures != 0 {
		t.Fatalf("business rejection should not trip the breaker")
	}
}

func TestExecuteCircuitOpenLeavesSignalQueued(t *testing.T) {
	store := newMemStore(testSignal())
	ep := &scriptedEndpoint{statuses: []int{200}}
	g := &stubGuard{open: &apperr.CircuitOpenError{Service: "exec", RetryAfter: 30 * time.Second}}
	e, _ := newTestEngine(store, ep, g)

	_, err := e.Execute(context.Background(), testSignal(), testBroker())
	if wait, ok := apperr.RetryAfter(err); !ok || wait != 30*time.Second {
		t.Fatalf("expected circuit open with wait hint, got %v", err)
	}
	if len(ep.requests) != 0 {
		t.Fatalf("no call may be made while open")
	}
	if store.signals[1].Status != models.SignalStatusQueued || store.signals[1].Attempts != 0 {
		t.Fatalf("signal should stay queued with no attempt consumed: %+v", store.signals[1])
	}
}

func TestExecuteCircuitOpeningBetweenAttemptsLeavesSignalSent(t *testing.T) {
	store := newMemStore(testSignal())
	ep := &scriptedEndpoint{statuses: []int{503, 200}}
	g := &stubGuard{openFrom: 2, open: &apperr.CircuitOpenError{Service: "exec", RetryAfter: 60 * time.Second}}
	e, _ := newTestEngine(store, ep, g)

	out, err := e.Execute(context.Background(), testSignal(), testBroker())
	if wait, ok := apperr.RetryAfter(err); !ok || wait != 60*time.Second {
		t.Fatalf("expected circuit open with wait hint, got %v", err)
	}
	if len(ep.requests) != 1 {
		t.Fatalf("no call may be made once open, got %d", len(ep.requests))
	}
	if len(store.executions) != 0 {
		t.Fatalf("no execution row may be written: %+v", store.executions)
	}
	if store.signals[1].Status != models.SignalStatusSent || out.Status != models.SignalStatusSent {
		t.Fatalf("signal should stay sent: %+v / %+v", store.signals[1], out)
	}
	if out.Attempts != 1 {
		t.Fatalf("expected one attempt, got %d", out.Attempts)
	}
	assertForwardOnly(t, store.history[1])
}

// cancellingEndpoint cancels the caller after the first call and fails any
// call whose context is done.
type cancellingEndpoint struct {
	scriptedEndpoint
	cancel context.CancelFunc
}

func (e *cancellingEndpoint) Submit(ctx context.Context, req SignedRequest) (Response, error) {
	if err := ctx.Err(); err != nil {
		e.requests = append(e.requests, req)
		return Response{}, err
	}
	resp, err := e.scriptedEndpoint.Submit(ctx, req)
	e.cancel()
	return resp, err
}

func TestExecuteInFlightSignalSurvivesCallerCancel(t *testing.T) {
	store := newMemStore(testSignal())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ep := &cancellingEndpoint{scriptedEndpoint: scriptedEndpoint{statuses: []int{503, 200}}, cancel: cancel}
	g := &stubGuard{}
	e, _ := newTestEngine(store, ep, g)
	e.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	out, err := e.Execute(ctx, testSignal(), testBroker())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.Executed() || out.Attempts != 2 {
		t.Fatalf("expected the retry to complete after cancel, got %+v", out)
	}
	if store.signals[1].Status != models.SignalStatusExecuted {
		t.Fatalf("signal should be executed, got %s", store.signals[1].Status)
	}
	if g.failures != 1 || g.successes != 1 {
		t.Fatalf("breaker should see the 503 and the success only: failures=%d successes=%d", g.failures, g.successes)
	}
}

func TestReportIgnoresCancelledCall(t *testing.T) {
	g := &stubGuard{}
	e := &Engine{Breaker: g}
	e.report(context.Background(), "exec", 0, Decision{Action: RetryBackoff}, context.Canceled)
	e.report(context.Background(), "exec", 0, Decision{Action: RetryBackoff}, errors.New("connection reset"))
	if g.failures != 1 {
		t.Fatalf("only the transport failure should count, got %d", g.failures)
	}
}

func TestExecuteValidationFailsWithoutCall(t *testing.T) {
	sig := testSignal()
	sig.Qty = d("0.0004")
	store := newMemStore(sig)
	ep := &scriptedEndpoint{}
	e, _ := newTestEngine(store, ep, &stubGuard{})

	out, err := e.Execute(context.Background(), sig, testBroker())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !apperr.IsValidation(out.Err) || out.Status != models.SignalStatusFailed {
		t.Fatalf("expected validation failure, got %+v", out)
	}
	if len(ep.requests) != 0 {
		t.Fatalf("validation failure must not call the endpoint")
	}
	if store.signals[1].Status != models.SignalStatusFailed {
		t.Fatalf("signal should be failed")
	}
}

func assertForwardOnly(t *testing.T, history []string) {
	t.Helper()
	prev := -1
	terminal := 0
	for _, st := range history {
		r := models.SignalStatusRank(st)
		if r < prev {
			t.Fatalf("status regressed: %v", history)
		}
		if models.IsTerminalSignalStatus(st) {
			terminal++
		}
		prev = r
	}
	if terminal > 1 {
		t.Fatalf("more than one terminal status: %v", history)
	}
}
