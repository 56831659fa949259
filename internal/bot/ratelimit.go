package bot

import (
	"sync"
	"time"
)

// RateLimiter — лимитер per-user per-command в памяти процесса.
type RateLimiter struct {
	mu       sync.Mutex
	lastCall map[int64]map[string]time.Time
	limits   map[string]time.Duration
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		lastCall: make(map[int64]map[string]time.Time),
		limits: map[string]time.Duration{
			"/tariffs": 5 * time.Second,
			"/mykeys":  5 * time.Second,
		},
	}
}

// IsLimited возвращает true, если команду пользователя нужно отбросить.
func (r *RateLimiter) IsLimited(userID int64, cmd string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if r.lastCall[userID] == nil {
		r.lastCall[userID] = make(map[string]time.Time)
	}
	limit, ok := r.limits[cmd]
	if !ok {
		limit = 2 * time.Second
	}
	last := r.lastCall[userID][cmd]
	if now.Sub(last) < limit {
		return true
	}
	r.lastCall[userID][cmd] = now
	return false
}
