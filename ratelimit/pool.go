// Package ratelimit implements the adaptive in-memory token pool layered
// over a central store (§4.H): pre-borrow, threshold replenishment, P99
// borrow sizing, and graceful shutdown return.
//
// The pool's field shape is ported from tensorzero-core's pool.rs
// (available/borrowed_from_db/used_from_pool atomics, a mutex-guarded
// usage_history deque, single-flight replenish) per SPEC_FULL.md's
// SUPPLEMENTED FEATURES section. The teacher's own rate limiter
// (features/model/middleware/ratelimit.go) uses golang.org/x/time/rate as a
// process-local smoothing layer in front of a similar backoff/probe shape;
// Pool holds a rate.Limiter built in NewPool, but Consume never consults it;
// admission is decided by the borrow/replenish state machine alone.
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tzgateway/gateway/tzerr"
)

// Key identifies one rate-limited resource.
type Key struct {
	Scope    string
	Resource string
}

// usageSample is one historical consumption event, kept for 5 minutes to
// drive P99 borrow sizing.
type usageSample struct {
	at              time.Time
	tokens          int64
	modelInferences int64
}

// Store is the central database backing the pool: it owns the authoritative
// token balance per key and is consulted only on replenish/return, never on
// the hot consume path (§4.H "serve requests without hitting the central
// store on every call").
type Store interface {
	// Borrow requests n tokens from the central balance for key. granted may
	// be less than n, or zero, without an error when the balance is short.
	Borrow(ctx context.Context, key Key, n int64) (granted int64, err error)
	// Return gives back unused tokens at shutdown.
	Return(ctx context.Context, key Key, n int64) error
}

// Pool is one process's in-memory token bucket for a single key, backed by
// Store for replenishment (§4.H).
type Pool struct {
	key      Key
	store    Store
	capacity int64
	minFloor int64

	available       atomic.Int64
	borrowedFromDB  atomic.Int64
	usedFromPool    atomic.Int64
	replenishing    atomic.Bool

	mu      sync.Mutex
	history *list.List // of usageSample, oldest first

	limiter *rate.Limiter

	notifyMu sync.Mutex
	waiters  []chan struct{}
}

// NewPool constructs a Pool for key with the given capacity and
// minBorrowFloor (§4.H "Borrow amount" floor). capacity is also the rate and
// burst of the pool's rate.Limiter, which Consume does not consult.
func NewPool(key Key, store Store, capacity, minBorrowFloor int64) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool{
		key:      key,
		store:    store,
		capacity: capacity,
		minFloor: minBorrowFloor,
		history:  list.New(),
		limiter:  rate.NewLimiter(rate.Limit(capacity), int(capacity)),
	}
}

// FailedLimit describes one limit that refused a requested amount, used to
// build RateLimitExceeded's failed_rate_limits detail (§4.H, §7).
type FailedLimit struct {
	Key       Key
	Requested int64
	Available int64
}

// Consume attempts to atomically decrement available by n across every pool
// in limits (§4.H "per-request-atomic" / §5 ordering guarantee): either
// every decrement sticks or all are rolled back before the call proceeds.
// tokens/modelInferences are recorded into each pool's usage history only on
// success.
func Consume(ctx context.Context, limits []*Pool, n int64, modelInferences int64) error {
	applied := make([]*Pool, 0, len(limits))
	var failed []FailedLimit

	for _, p := range limits {
		newAvail := p.available.Add(-n)
		if newAvail < 0 {
			failed = append(failed, FailedLimit{Key: p.key, Requested: n, Available: newAvail + n})
			applied = append(applied, p)
			break
		}
		applied = append(applied, p)
	}

	if len(failed) > 0 {
		for _, p := range applied {
			p.available.Add(n)
		}
		fields := make([]any, 0, len(failed))
		for _, f := range failed {
			fields = append(fields, map[string]any{
				"scope_key": f.Key.Scope, "resource": f.Key.Resource,
				"requested": f.Requested, "available": f.Available,
			})
		}
		return tzerr.New(tzerr.KindRateLimitExceeded, "rate limit exceeded", nil, map[string]any{"failed_rate_limits": fields})
	}

	now := time.Now()
	for _, p := range applied {
		p.recordUsage(now, n, modelInferences)
		if p.needsReplenish() {
			go p.replenish(context.Background())
		}
	}
	return nil
}

func (p *Pool) recordUsage(at time.Time, tokens, modelInferences int64) {
	p.mu.Lock()
	p.history.PushBack(usageSample{at: at, tokens: tokens, modelInferences: modelInferences})
	cutoff := at.Add(-5 * time.Minute)
	for e := p.history.Front(); e != nil; {
		next := e.Next()
		if e.Value.(usageSample).at.Before(cutoff) {
			p.history.Remove(e)
		}
		e = next
	}
	p.mu.Unlock()
	p.usedFromPool.Add(tokens)
}

// needsReplenish reports the replenish trigger (§4.H): available < 20% of
// borrowed_from_db, or borrowed_from_db == 0 (cold start).
func (p *Pool) needsReplenish() bool {
	borrowed := p.borrowedFromDB.Load()
	if borrowed == 0 {
		return true
	}
	return p.available.Load() < borrowed/5
}

// borrowAmount computes how many tokens to request from the central store
// next (§4.H "Borrow amount"): P99 of the last 5 minutes of usage, capped at
// 25% of capacity (fairness), floored at minFloor; cold start uses 2.5% of
// capacity instead of P99.
func (p *Pool) borrowAmount() int64 {
	cap25 := p.capacity / 4
	if cap25 < p.minFloor {
		cap25 = p.minFloor
	}

	p.mu.Lock()
	n := p.history.Len()
	if n == 0 {
		p.mu.Unlock()
		amt := int64(float64(p.capacity) * 0.025)
		if amt < p.minFloor {
			amt = p.minFloor
		}
		if amt > cap25 {
			amt = cap25
		}
		return amt
	}
	samples := make([]int64, 0, n)
	for e := p.history.Front(); e != nil; e = e.Next() {
		samples = append(samples, e.Value.(usageSample).tokens)
	}
	p.mu.Unlock()

	p99 := percentile99(samples)
	if p99 < p.minFloor {
		p99 = p.minFloor
	}
	if p99 > cap25 {
		p99 = cap25
	}
	return p99
}

func percentile99(samples []int64) int64 {
	sorted := append([]int64(nil), samples...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	idx := int(float64(len(sorted)-1) * 0.99)
	return sorted[idx]
}

// replenish performs a single-flight borrow from Store, waking any waiters
// once complete (§4.H "Concurrent replenish").
func (p *Pool) replenish(ctx context.Context) {
	if !p.replenishing.CompareAndSwap(false, true) {
		p.await(ctx)
		return
	}
	defer func() {
		p.replenishing.Store(false)
		p.broadcast()
	}()

	amount := p.borrowAmount()
	granted, err := p.store.Borrow(ctx, p.key, amount)
	if err != nil || granted <= 0 {
		return
	}
	p.available.Add(granted)
	p.borrowedFromDB.Add(granted)
}

func (p *Pool) await(ctx context.Context) {
	ch := make(chan struct{})
	p.notifyMu.Lock()
	p.waiters = append(p.waiters, ch)
	p.notifyMu.Unlock()
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

func (p *Pool) broadcast() {
	p.notifyMu.Lock()
	waiters := p.waiters
	p.waiters = nil
	p.notifyMu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// Shutdown returns unused tokens (borrowed_from_db - used_from_pool) to the
// central store, bounded by timeout. A timeout logs via the returned error
// but callers should treat it as a warning, not a shutdown failure (§4.H).
func (p *Pool) Shutdown(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	unused := p.borrowedFromDB.Load() - p.usedFromPool.Load()
	if unused <= 0 {
		return nil
	}
	return p.store.Return(ctx, p.key, unused)
}

// Replenish synchronously runs one replenish attempt against Store. Consume
// triggers this same logic asynchronously in a goroutine on the hot path;
// tests call it directly for determinism.
func (p *Pool) Replenish(ctx context.Context) { p.replenish(ctx) }

// NeedsReplenish reports whether the pool's available balance has crossed
// the replenish trigger (§4.H), for tests/metrics.
func (p *Pool) NeedsReplenish() bool { return p.needsReplenish() }

// Available reports the current in-memory balance, for tests/metrics.
func (p *Pool) Available() int64 { return p.available.Load() }

// BorrowedFromDB reports total tokens pre-borrowed and not yet returned.
func (p *Pool) BorrowedFromDB() int64 { return p.borrowedFromDB.Load() }

// UsedFromPool reports total tokens consumed from the pool.
func (p *Pool) UsedFromPool() int64 { return p.usedFromPool.Load() }
