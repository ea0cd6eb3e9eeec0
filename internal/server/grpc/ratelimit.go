package grpc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxLimiterKeys bounds the registry; beyond it buckets that have refilled
// are dropped before a new one is added.
const maxLimiterKeys = 10000

// limiterRegistry keeps one token bucket per key.
type limiterRegistry struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func newLimiterRegistry(perMinute int) *limiterRegistry {
	return &limiterRegistry{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// Allow takes one token from key's bucket.
func (r *limiterRegistry) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	l, ok := r.limiters[key]
	if !ok {
		if len(r.limiters) >= maxLimiterKeys {
			r.prune(now)
		}
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = l
	}
	return l.AllowN(now, 1)
}

// prune drops buckets that are full again; they behave like fresh ones.
func (r *limiterRegistry) prune(now time.Time) {
	for k, l := range r.limiters {
		if l.TokensAt(now) >= float64(r.burst) {
			delete(r.limiters, k)
		}
	}
}
