package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *InMemoryIdempotencyStore {
	t.Helper()
	store := NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestInMemoryIdempotencyStore_FirstClaimWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	claimed, err := store.MarkProcessed(ctx, "evt-ride-completed-001", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed, "first delivery should claim the event")

	claimed, err = store.MarkProcessed(ctx, "evt-ride-completed-001", time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed, "redelivery of the same event must be rejected")

	// a different ride settles independently
	claimed, err = store.MarkProcessed(ctx, "evt-ride-completed-002", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestInMemoryIdempotencyStore_ExpiredClaimIsReusable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	claimed, err := store.MarkProcessed(ctx, "evt-invoice-issued-9", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, claimed)

	time.Sleep(20 * time.Millisecond)

	claimed, err = store.MarkProcessed(ctx, "evt-invoice-issued-9", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed, "a lapsed claim no longer blocks reprocessing")
}

func TestInMemoryIdempotencyStore_IsProcessed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		eventID string
		ttl     time.Duration
		wait    time.Duration
		want    bool
	}{
		{name: "never seen", eventID: "", want: false},
		{name: "live claim", eventID: "evt-charge-applied-4", ttl: time.Hour, want: true},
		{name: "expired claim", eventID: "evt-charge-applied-5", ttl: 10 * time.Millisecond, wait: 20 * time.Millisecond, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eventID := tt.eventID
			if eventID == "" {
				eventID = "evt-unknown"
			} else {
				_, err := store.MarkProcessed(ctx, eventID, tt.ttl)
				require.NoError(t, err)
			}
			time.Sleep(tt.wait)

			processed, err := store.IsProcessed(ctx, eventID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, processed)
		})
	}
}

func TestInMemoryIdempotencyStore_SweepDropsOnlyExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.MarkProcessed(ctx, "evt-settled-today", time.Hour)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := store.MarkProcessed(ctx, fmt.Sprintf("evt-settled-stale-%d", i), 5*time.Millisecond)
		require.NoError(t, err)
	}
	require.Equal(t, 5, store.Size())

	time.Sleep(15 * time.Millisecond)
	store.sweep()

	assert.Equal(t, 1, store.Size())
	processed, err := store.IsProcessed(ctx, "evt-settled-today")
	require.NoError(t, err)
	assert.True(t, processed, "sweep must not evict live claims")
}

func TestInMemoryIdempotencyStore_SizeIgnoresDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.Zero(t, store.Size())

	_, _ = store.MarkProcessed(ctx, "evt-adjustment-1", time.Hour)
	_, _ = store.MarkProcessed(ctx, "evt-adjustment-2", time.Hour)
	_, _ = store.MarkProcessed(ctx, "evt-adjustment-1", time.Hour)

	assert.Equal(t, 2, store.Size())
}

func TestInMemoryIdempotencyStore_ConcurrentRedelivery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Simulate the broker redelivering one ride-completed event to every
	// worker at once. Exactly one claim may succeed.
	const workers = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	claims := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.MarkProcessed(ctx, "evt-ride-completed-burst", time.Hour)
			if err == nil && claimed {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, claims, "concurrent redeliveries must yield a single claim")
}

func TestInMemoryIdempotencyStore_CloseIsIdempotent(t *testing.T) {
	store := NewInMemoryIdempotencyStore()

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
