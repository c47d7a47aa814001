// Package backoff provides retry delay strategies for failed jobs.
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// None retries immediately.
var None Strategy = Func(func(int) time.Duration { return 0 })

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c Constant) Delay(int) time.Duration { return c.Interval }

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear grows the delay by Initial per attempt, capped at Max.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial * attempt, capped at Max.
func (l Linear) Delay(attempt int) time.Duration {
	return capAt(l.Initial*time.Duration(max(attempt, 1)), l.Max)
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt, capped at Max. With Jitter
// set the delay is drawn uniformly from [0, cap] (full jitter), which
// spreads out retries of jobs that failed together.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// Delay returns Initial * 2^(attempt-1), capped at Max, with optional jitter.
func (e Exponential) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(max(attempt, 1)-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	if e.Jitter {
		base *= rand.Float64() //nolint:gosec // jitter does not need crypto rand
	}
	return time.Duration(base)
}

func capAt(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// ──────────────────────────────────────────────────
// Selection
// ──────────────────────────────────────────────────

// Strategy names accepted by Parse.
const (
	NameNone        = "none"
	NameConstant    = "constant"
	NameLinear      = "linear"
	NameExponential = "exponential"
	NameJitter      = "jitter"
)

// Parse builds a strategy from its configuration name.
func Parse(name string, initial, maxDelay time.Duration) (Strategy, error) {
	switch name {
	case NameNone:
		return None, nil
	case NameConstant:
		return Constant{Interval: initial}, nil
	case NameLinear:
		return Linear{Initial: initial, Max: maxDelay}, nil
	case NameExponential:
		return Exponential{Initial: initial, Max: maxDelay}, nil
	case "", NameJitter:
		return Exponential{Initial: initial, Max: maxDelay, Jitter: true}, nil
	default:
		return nil, fmt.Errorf("backoff: unknown strategy %q", name)
	}
}

// DefaultStrategy returns the strategy used when none is configured:
// exponential with full jitter, 1s initial and 1m max.
func DefaultStrategy() Strategy {
	return Exponential{Initial: time.Second, Max: time.Minute, Jitter: true}
}
