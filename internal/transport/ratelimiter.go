// Grounded on dkeye-Voice's internal/adapters/signal/rate_limiter.go
// (RoomRateLimiter: sliding-window slice of timestamps per key),
// generalized from a room-join limiter to a per-connection inbound
// frame-rate limiter keyed by user_id.
package transport

import (
	"sync"
	"time"

	"github.com/dkeye/Voice/internal/domain"
)

type RateLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

// Allow reports whether uid may send another frame now, recording the
// attempt if so.
func (rl *RateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[uid]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[uid] = fresh
	return true
}
