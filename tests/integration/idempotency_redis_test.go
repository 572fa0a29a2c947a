package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fleetbill/backend/internal/infrastructure/cache"
)

// startRedis runs a throwaway Redis container and returns a connected client.
func startRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

// TestRedisIdempotencyStore verifies that dedup claims hold across store
// instances sharing one Redis, which is what suppresses duplicate charge
// processing when several consumers receive the same outbox event.
func TestRedisIdempotencyStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	client := startRedis(t)
	ctx := context.Background()

	storeA := cache.NewRedisIdempotencyStoreWithClient(client, "")
	storeB := cache.NewRedisIdempotencyStoreWithClient(client, "")

	t.Run("claim is visible to sibling instances", func(t *testing.T) {
		claimed, err := storeA.MarkProcessed(ctx, "evt-ride-completed-shared", time.Hour)
		require.NoError(t, err)
		assert.True(t, claimed)

		claimed, err = storeB.MarkProcessed(ctx, "evt-ride-completed-shared", time.Hour)
		require.NoError(t, err)
		assert.False(t, claimed, "second instance must see the existing claim")

		processed, err := storeB.IsProcessed(ctx, "evt-ride-completed-shared")
		require.NoError(t, err)
		assert.True(t, processed)
	})

	t.Run("claim expires with its TTL", func(t *testing.T) {
		claimed, err := storeA.MarkProcessed(ctx, "evt-invoice-issued-ttl", 200*time.Millisecond)
		require.NoError(t, err)
		require.True(t, claimed)

		time.Sleep(300 * time.Millisecond)

		claimed, err = storeB.MarkProcessed(ctx, "evt-invoice-issued-ttl", time.Hour)
		require.NoError(t, err)
		assert.True(t, claimed, "expired claim should be reusable")
	})

	t.Run("prefixes isolate namespaces", func(t *testing.T) {
		prefixed := cache.NewRedisIdempotencyStoreWithClient(client, "billing:staging:dedup:")

		claimed, err := storeA.MarkProcessed(ctx, "evt-adjustment-77", time.Hour)
		require.NoError(t, err)
		require.True(t, claimed)

		processed, err := prefixed.IsProcessed(ctx, "evt-adjustment-77")
		require.NoError(t, err)
		assert.False(t, processed, "claims must not leak across key prefixes")
	})
}
