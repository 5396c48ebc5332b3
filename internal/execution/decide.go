package execution

import (
	"net/http"
	"time"
)

type Action int

const (
	Fail Action = iota
	Succeed
	DuplicateSucceed
	RetryResign
	RetryImmediate
	RetryBackoff
)

func (a Action) String() string {
	switch a {
	case Succeed:
		return "succeed"
	case DuplicateSucceed:
		return "duplicate_succeed"
	case RetryResign:
		return "retry_resign"
	case RetryImmediate:
		return "retry_immediate"
	case RetryBackoff:
		return "retry_backoff"
	default:
		return "fail"
	}
}

func (a Action) Retry() bool {
	return a == RetryResign || a == RetryImmediate || a == RetryBackoff
}

type Decision struct {
	Action Action
	Delay  time.Duration
}

// Policy parameterizes Decide. Zero values fall back to the defaults.
type Policy struct {
	MaxAttempts int
	ResignDelay time.Duration
	BackoffUnit time.Duration
}

var DefaultPolicy = Policy{MaxAttempts: 3, ResignDelay: 500 * time.Millisecond, BackoffUnit: time.Second}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.ResignDelay <= 0 {
		p.ResignDelay = DefaultPolicy.ResignDelay
	}
	if p.BackoffUnit <= 0 {
		p.BackoffUnit = DefaultPolicy.BackoffUnit
	}
	return p
}

// Decide maps the status of the attempt just made to the next step.
// attemptsLeft counts attempts still available after this one. Status 0
// stands for a network error.
func Decide(status, attemptsLeft int) Decision {
	return DefaultPolicy.Decide(status, attemptsLeft)
}

func (p Policy) Decide(status, attemptsLeft int) Decision {
	p = p.normalized()
	switch {
	case status >= 200 && status < 300:
		return Decision{Action: Succeed}
	case status == http.StatusTooManyRequests:
		return Decision{Action: DuplicateSucceed}
	}
	if attemptsLeft <= 0 {
		return Decision{Action: Fail}
	}
	switch {
	case status == http.StatusUnauthorized:
		return Decision{Action: RetryResign, Delay: p.ResignDelay}
	case status == http.StatusBadRequest:
		return Decision{Action: RetryImmediate}
	case status == 0 || status >= 500:
		attempt := p.MaxAttempts - attemptsLeft
		if attempt < 1 {
			attempt = 1
		}
		return Decision{Action: RetryBackoff, Delay: time.Duration(attempt) * p.BackoffUnit}
	default:
		return Decision{Action: Fail}
	}
}
