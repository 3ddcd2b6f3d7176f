package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idle buckets are dropped after this long
const limiterIdle = 30 * time.Minute

// Limiter is a per-user token bucket refilled at perMinute tokens per minute,
// with a burst of perMinute. A zero or negative rate disables limiting.
type Limiter struct {
	perMinute int

	mu      sync.Mutex
	buckets map[int64]*bucket
	sweep   time.Time
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewLimiter(perMinute int) *Limiter {
	return &Limiter{
		perMinute: perMinute,
		buckets:   map[int64]*bucket{},
		now:       time.Now,
	}
}

func (l *Limiter) Allow(userID int64) bool {
	if l == nil || l.perMinute <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.sweep) > limiterIdle {
		for id, b := range l.buckets {
			if now.Sub(b.seen) > limiterIdle {
				delete(l.buckets, id)
			}
		}
		l.sweep = now
	}

	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)}
		l.buckets[userID] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}
