package cronrunner

import (
	"context"
	"errors"
	"testing"
)

type fixedSwitches map[string]bool

func (f fixedSwitches) IsEnabled(_ context.Context, key string, fallback bool) bool {
	if v, ok := f[key]; ok {
		return v
	}
	return fallback
}

func TestRunHonoursSwitch(t *testing.T) {
	r := New(nil, context.Background(), fixedSwitches{"feature.safety_monitor": false})
	calls := 0
	job := func(context.Context) error { calls++; return nil }

	r.run("safety", "feature.safety_monitor", job)
	if calls != 0 {
		t.Fatalf("disabled job ran")
	}
	r.run("rollup", "feature.metrics_rollup", job)
	r.run("adhoc", "", job)
	if calls != 2 {
		t.Fatalf("expected 2 runs, got %d", calls)
	}
}

func TestRunSkipsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(nil, ctx, nil)
	ran := false
	r.run("job", "", func(context.Context) error { ran = true; return errors.New("x") })
	if ran {
		t.Fatalf("job ran after shutdown")
	}
}

func TestAddRejectsBadSpec(t *testing.T) {
	r := New(nil, context.Background(), nil)
	if _, err := r.Add("bad", "not a spec", "", func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := r.Add("ok", "@every 1m", "", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
}
