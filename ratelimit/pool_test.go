package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPoolColdStartBorrow exercises the §8 seed scenario: capacity=1000,
// min_borrow_floor=1, no history. Cold start borrows 0.025 * capacity = 25.
func TestPoolColdStartBorrow(t *testing.T) {
	key := Key{Scope: "global", Resource: "tokens"}
	store := NewMemoryStore()
	store.Seed(key, 100000)
	pool := NewPool(key, store, 1000, 1)

	require.True(t, pool.NeedsReplenish())
	pool.Replenish(context.Background())
	require.EqualValues(t, 25, pool.Available())
	require.EqualValues(t, 25, pool.BorrowedFromDB())
}

// TestPoolReplenishTrigger exercises the rest of the §8 seed scenario: after
// 21 consumes of the initial 25-token borrow, available=4 < 0.2*25=5,
// tripping the replenish trigger.
func TestPoolReplenishTrigger(t *testing.T) {
	key := Key{Scope: "global", Resource: "tokens"}
	store := NewMemoryStore()
	store.Seed(key, 100000)
	pool := NewPool(key, store, 1000, 1)
	pool.Replenish(context.Background())
	require.EqualValues(t, 25, pool.Available())

	ctx := context.Background()
	for i := 0; i < 21; i++ {
		require.NoError(t, Consume(ctx, []*Pool{pool}, 1, 1))
	}
	require.EqualValues(t, 4, pool.Available())
	require.True(t, pool.NeedsReplenish())
}

// TestConsumeFailsWhenPoolExhausted: with an empty central store the pool
// holds no tokens, so Consume returns an error (§8 seed scenario, §7).
func TestConsumeFailsWhenPoolExhausted(t *testing.T) {
	key := Key{Scope: "global", Resource: "tokens"}
	store := NewMemoryStore() // zero balance, nothing to borrow
	pool := NewPool(key, store, 1000, 1)

	err := Consume(context.Background(), []*Pool{pool}, 1, 1)
	require.Error(t, err)
}

// TestConsumeAtomicAcrossMultipleLimits verifies §5's ordering guarantee:
// either every decrement in a multi-limit Consume call sticks, or all are
// rolled back.
func TestConsumeAtomicAcrossMultipleLimits(t *testing.T) {
	keyA := Key{Scope: "global", Resource: "a"}
	keyB := Key{Scope: "global", Resource: "b"}
	store := NewMemoryStore()
	store.Seed(keyA, 1000)
	store.Seed(keyB, 1000)

	poolA := NewPool(keyA, store, 1000, 1)
	poolB := NewPool(keyB, store, 1000, 1)
	poolA.Replenish(context.Background())
	// poolB stays at 0 available, so the combined consume must fail and
	// leave poolA's balance untouched.

	beforeA := poolA.Available()
	err := Consume(context.Background(), []*Pool{poolA, poolB}, 1, 1)
	require.Error(t, err)
	require.Equal(t, beforeA, poolA.Available())
}

func TestPoolShutdownReturnsUnused(t *testing.T) {
	key := Key{Scope: "global", Resource: "tokens"}
	store := NewMemoryStore()
	store.Seed(key, 1000)
	pool := NewPool(key, store, 1000, 1)
	pool.Replenish(context.Background())
	require.NoError(t, Consume(context.Background(), []*Pool{pool}, 10, 1))

	require.NoError(t, pool.Shutdown(context.Background(), 0))
	// unused = borrowed(25) - used(10) = 15 returned to the store.
	require.EqualValues(t, 1000-25+15, store.Balance(key))
}
