package execution

import (
	"testing"
	"time"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		name         string
		status       int
		attemptsLeft int
		want         Decision
	}{
		{"ok", 200, 2, Decision{Action: Succeed}},
		{"created on last attempt", 201, 0, Decision{Action: Succeed}},
		{"duplicate first attempt", 429, 2, Decision{Action: DuplicateSucceed}},
		{"duplicate last attempt", 429, 0, Decision{Action: DuplicateSucceed}},
		{"bad signature", 401, 2, Decision{Action: RetryResign, Delay: 500 * time.Millisecond}},
		{"bad signature exhausted", 401, 0, Decision{Action: Fail}},
		{"stale", 400, 1, Decision{Action: RetryImmediate}},
		{"stale exhausted", 400, 0, Decision{Action: Fail}},
		{"server error first", 503, 2, Decision{Action: RetryBackoff, Delay: time.Second}},
		{"server error second", 500, 1, Decision{Action: RetryBackoff, Delay: 2 * time.Second}},
		{"network error", 0, 2, Decision{Action: RetryBackoff, Delay: time.Second}},
		{"server error exhausted", 502, 0, Decision{Action: Fail}},
		{"forbidden", 403, 2, Decision{Action: Fail}},
		{"unprocessable", 422, 2, Decision{Action: Fail}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(tc.status, tc.attemptsLeft)
			if got != tc.want {
				t.Fatalf("Decide(%d, %d) = %+v, want %+v", tc.status, tc.attemptsLeft, got, tc.want)
			}
		})
	}
}

func TestDuplicateNeverFails(t *testing.T) {
	for left := 0; left <= 5; left++ {
		if got := Decide(429, left); got.Action != DuplicateSucceed {
			t.Fatalf("429 with %d left: %v", left, got.Action)
		}
	}
}

func TestPolicyOverridesDelays(t *testing.T) {
	p := Policy{MaxAttempts: 5, ResignDelay: time.Millisecond, BackoffUnit: 10 * time.Millisecond}
	if got := p.Decide(401, 3); got.Delay != time.Millisecond {
		t.Fatalf("resign delay: %s", got.Delay)
	}
	if got := p.Decide(500, 2); got.Delay != 30*time.Millisecond {
		t.Fatalf("backoff delay: %s", got.Delay)
	}
}
