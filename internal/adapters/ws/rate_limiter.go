package ws

import (
	"sync"
	"time"

	"github.com/dkeye/Mingle/internal/domain"
)

// RateLimiter bounds inbound relay events per handle over a sliding
// window. A zero or negative limit disables it.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[domain.Handle][]time.Time
	limit    int
	interval time.Duration
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[domain.Handle][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *RateLimiter) Allow(h domain.Handle) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[h]

	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[h] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[h] = fresh

	return true
}

// Forget drops a handle's history once its connection is gone.
func (rl *RateLimiter) Forget(h domain.Handle) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, h)
}
