// Package notify delivers outbound notifications: per-provider reservoir
// rate limiting, an ordered delivery-error taxonomy, and an idempotent
// sender driven by the email queue.
package notify

import (
	"context"
	"sync"
	"time"
)

// Reservoir is a token bucket refilled on a fixed schedule, decoupled from
// request timing. Refilling on the clock instead of per request keeps
// throughput smooth rather than clumped at interval boundaries.
type Reservoir struct {
	tokens chan struct{}

	refillAmount int
	ticker       *time.Ticker
	done         chan struct{}
	closeOnce    sync.Once
}

// NewReservoir starts a full reservoir of capacity tokens that gains
// refillAmount tokens every refillEvery (capped at capacity).
func NewReservoir(capacity, refillAmount int, refillEvery time.Duration) *Reservoir {
	if capacity <= 0 {
		capacity = 1
	}
	if refillAmount <= 0 {
		refillAmount = 1
	}
	if refillEvery <= 0 {
		refillEvery = time.Second
	}
	r := &Reservoir{
		tokens:       make(chan struct{}, capacity),
		refillAmount: refillAmount,
		ticker:       time.NewTicker(refillEvery),
		done:         make(chan struct{}),
	}
	for i := 0; i < capacity; i++ {
		r.tokens <- struct{}{}
	}
	go r.refillLoop()
	return r
}

func (r *Reservoir) refillLoop() {
	for {
		select {
		case <-r.done:
			return
		case <-r.ticker.C:
			for i := 0; i < r.refillAmount; i++ {
				select {
				case r.tokens <- struct{}{}:
				default: // at capacity
				}
			}
		}
	}
}

// Acquire blocks until a token is available or ctx is cancelled.
func (r *Reservoir) Acquire(ctx context.Context) error {
	select {
	case <-r.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Available reports the current token count. Advisory only.
func (r *Reservoir) Available() int { return len(r.tokens) }

func (r *Reservoir) Close() {
	r.closeOnce.Do(func() {
		r.ticker.Stop()
		close(r.done)
	})
}

// Limiter keys one reservoir per delivery provider.
type Limiter struct {
	mu         sync.Mutex
	reservoirs map[string]*Reservoir

	capacity    int
	refill      int
	refillEvery time.Duration
}

func NewLimiter(capacity, refill int, refillEvery time.Duration) *Limiter {
	return &Limiter{
		reservoirs:  make(map[string]*Reservoir),
		capacity:    capacity,
		refill:      refill,
		refillEvery: refillEvery,
	}
}

// Acquire blocks on the named provider's reservoir, creating it on first
// use.
func (l *Limiter) Acquire(ctx context.Context, provider string) error {
	l.mu.Lock()
	r, ok := l.reservoirs[provider]
	if !ok {
		r = NewReservoir(l.capacity, l.refill, l.refillEvery)
		l.reservoirs[provider] = r
	}
	l.mu.Unlock()
	return r.Acquire(ctx)
}

func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.reservoirs {
		r.Close()
	}
}
