package memory

import (
	"context"
	"sync"
	"time"
)

// Limiter is a sliding-window storage.RateLimiter for runs without Redis.
type Limiter struct {
	mu    sync.Mutex
	times map[string][]time.Time
	now   func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{times: make(map[string][]time.Time), now: time.Now}
}

func (l *Limiter) Close() error { return nil }

func (l *Limiter) Allow(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	if max <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cut := now.Add(-window)
	slice := l.times[key]
	i := 0
	for _, t := range slice {
		if t.After(cut) {
			slice[i] = t
			i++
		}
	}
	slice = slice[:i]
	if len(slice) >= max {
		l.times[key] = slice
		return false, nil
	}
	l.times[key] = append(slice, now)
	return true, nil
}
