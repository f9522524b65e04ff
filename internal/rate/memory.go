package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter: misma ventana fija que RedisLimiter pero in-process,
// sobre go-cache. Sirve para una sola instancia (dev, tests).
type MemoryLimiter struct {
	cache  *gocache.Cache
	Max    int64
	Window time.Duration
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		cache:  gocache.New(window, 2*window),
		Max:    int64(max),
		Window: window,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	winStart := now.Truncate(l.Window)
	winTTL := l.Window - now.Sub(winStart)
	k := fmt.Sprintf("%s:%d", strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	var hits int64
	if err := l.cache.Add(k, int64(1), winTTL); err == nil {
		hits = 1
	} else {
		n, err := l.cache.IncrementInt64(k, 1)
		if err != nil {
			// la key expiró entre Add e Increment: ventana nueva
			l.cache.Set(k, int64(1), winTTL)
			n = 1
		}
		hits = n
	}

	allowed := hits <= l.Max
	remaining := l.Max - hits
	if remaining < 0 {
		remaining = 0
	}

	res := Result{
		Allowed:     allowed,
		Remaining:   remaining,
		CurrentHits: hits,
		WindowTTL:   winTTL,
	}
	if !allowed {
		res.RetryAfter = winTTL
	}
	return res, nil
}

// Checks de interfaz en compile-time.
var (
	_ Limiter = (*RedisLimiter)(nil)
	_ Limiter = (*MemoryLimiter)(nil)
)
