package grpcnode

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// nodeLimiter applies a token bucket per node address and evicts idle
// entries. A nil limiter never waits.
type nodeLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu     sync.Mutex
	byAddr map[string]*limiterEntry
	hits   uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newNodeLimiter(rps float64, burst int, idleTTL time.Duration) *nodeLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &nodeLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byAddr:  make(map[string]*limiterEntry),
	}
}

// Wait blocks until addr has a token or ctx ends.
func (l *nodeLimiter) Wait(ctx context.Context, addr string) error {
	if l == nil {
		return nil
	}
	return l.get(addr, time.Now()).Wait(ctx)
}

func (l *nodeLimiter) get(addr string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byAddr[addr]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byAddr[addr] = e
	}
	e.lastSeen = now

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byAddr {
			if v.lastSeen.Before(cutoff) {
				delete(l.byAddr, k)
			}
		}
	}
	return e.limiter
}
