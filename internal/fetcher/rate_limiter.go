package fetcher

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// RateLimiter ограничивает запросы к одному хосту: не больше maxConcurrent одновременно
// и не чаще rpm в минуту. Трекеры банят за частые запросы, поэтому лимит общий для всех сессий.
type RateLimiter struct {
	maxConcurrent int
	rpm           int
	hosts         map[string]*hostLimiter
	mu            sync.Mutex
}

type hostLimiter struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

func NewRateLimiter(maxConcurrent, rpm int) *RateLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &RateLimiter{
		maxConcurrent: maxConcurrent,
		rpm:           rpm,
		hosts:         make(map[string]*hostLimiter),
	}
}

func (rl *RateLimiter) host(host string) *hostLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.hosts[host]
	if !exists {
		limit := rate.Inf
		if rl.rpm > 0 {
			limit = rate.Limit(float64(rl.rpm) / 60)
		}
		limiter = &hostLimiter{
			sem:     semaphore.NewWeighted(int64(rl.maxConcurrent)),
			limiter: rate.NewLimiter(limit, rl.maxConcurrent),
		}
		rl.hosts[host] = limiter
	}
	return limiter
}

// Acquire ждёт слот и токен для хоста. release обязателен после завершения запроса.
func (rl *RateLimiter) Acquire(ctx context.Context, host string) (release func(), err error) {
	limiter := rl.host(host)

	// Acquire semaphore (concurrency control)
	if err := limiter.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	// Apply RPM throttle
	if err := limiter.limiter.Wait(ctx); err != nil {
		limiter.sem.Release(1)
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(func() { limiter.sem.Release(1) }) }, nil
}
