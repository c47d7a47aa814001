package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines per-queue behaviour such as rate limiting and concurrency.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string `koanf:"name" validate:"required"`

	// MaxConcurrency limits how many jobs from this queue may run
	// simultaneously across the local worker pool. Zero means no
	// queue-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int `koanf:"max_concurrency" validate:"gte=0"`

	// RateLimit is the maximum sustained jobs per second that may be
	// claimed from this queue. Zero disables rate limiting.
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int `koanf:"rate_burst" validate:"gte=0"`
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

func (qs *queueState) ready(now time.Time) bool {
	if qs.limiter != nil && qs.limiter.TokensAt(now) < 1 {
		return false
	}
	return qs.config.MaxConcurrency <= 0 || qs.active < qs.config.MaxConcurrency
}

// Manager controls per-queue rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues: make(map[string]*queueState, len(configs)),
	}
	for _, cfg := range configs {
		m.queues[Normalize(cfg.Name)] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

// Reserve takes a concurrency slot in every queue that has rate and
// concurrency headroom and returns those queues, preserving order. The
// caller claims from the returned queues and MUST then call Settle.
func (m *Manager) Reserve(queues []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]string, 0, len(queues))
	for _, q := range queues {
		qs := m.queues[q]
		if qs != nil {
			if !qs.ready(now) {
				continue
			}
			qs.active++
		}
		out = append(out, q)
	}
	return out
}

// Settle returns the slots reserved for every queue except claimed and
// takes a rate token for claimed (going into debt if none is left). The
// claimed slot stays held until Release. Pass "" when nothing was claimed.
func (m *Manager) Settle(reserved []string, claimed string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, q := range reserved {
		qs := m.queues[q]
		if qs == nil {
			continue
		}
		if q == claimed {
			if qs.limiter != nil {
				qs.limiter.Reserve()
			}
			continue
		}
		if qs.active > 0 {
			qs.active--
		}
	}
}

// Release decrements the active job count for the queue.
func (m *Manager) Release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// SetQueueConfig dynamically updates (or creates) a queue configuration.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := Normalize(cfg.Name)
	existing := m.queues[name]
	qs := newQueueState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		qs.active = existing.active
	}
	m.queues[name] = qs
}

// ActiveCount returns the current number of active jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
