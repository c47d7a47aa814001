package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/backlog/backoff"
)

func TestDeterministicStrategies(t *testing.T) {
	tests := []struct {
		name     string
		strategy backoff.Strategy
		want     []time.Duration // attempts 1..n
	}{
		{"none", backoff.None, []time.Duration{0, 0, 0}},
		{"constant", backoff.Constant{Interval: 5 * time.Second}, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}},
		{"linear", backoff.Linear{Initial: time.Second, Max: 3 * time.Second}, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}},
		{"exponential", backoff.Exponential{Initial: time.Second, Max: 5 * time.Second}, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}},
		{"exponential uncapped", backoff.Exponential{Initial: 100 * time.Millisecond}, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, want := range tt.want {
				if got := tt.strategy.Delay(i + 1); got != want {
					t.Errorf("Delay(%d) = %v, want %v", i+1, got, want)
				}
			}
		})
	}
}

func TestLinear_ZeroAttemptTreatedAsFirst(t *testing.T) {
	l := backoff.Linear{Initial: time.Second}
	if got := l.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want 1s", got)
	}
}

func TestExponentialJitter_WithinBounds(t *testing.T) {
	e := backoff.Exponential{Initial: time.Second, Max: 10 * time.Second, Jitter: true}
	for attempt := 1; attempt <= 8; attempt++ {
		ceiling := min(time.Second<<(attempt-1), 10*time.Second)
		for range 50 {
			got := e.Delay(attempt)
			if got < 0 || got > ceiling {
				t.Fatalf("Delay(%d) = %v, want within [0, %v]", attempt, got, ceiling)
			}
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"", false},
		{"none", false},
		{"constant", false},
		{"linear", false},
		{"exponential", false},
		{"jitter", false},
		{"fibonacci", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := backoff.Parse(tt.name, time.Second, time.Minute)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d := s.Delay(1); d < 0 || d > time.Minute {
				t.Errorf("Delay(1) = %v out of range", d)
			}
		})
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := backoff.DefaultStrategy()
	if d := s.Delay(20); d > time.Minute {
		t.Errorf("default strategy exceeded its cap: %v", d)
	}
}
