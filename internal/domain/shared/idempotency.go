package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers which event IDs a consumer already handled.
// The outbox delivers at-least-once, so handlers wrap themselves with this
// store to keep a replayed charge from posting twice.
type IdempotencyStore interface {
	// MarkProcessed claims the event ID for the given TTL, reporting true
	// when this caller claimed it first.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	IsProcessed(ctx context.Context, eventID string) (bool, error)

	Close() error
}

// IdempotencyConfig tunes the dedup guard on a consumer.
type IdempotencyConfig struct {
	// TTL bounds how long a claim suppresses replays. It only needs to
	// outlive the broker's redelivery horizon.
	TTL time.Duration

	Enabled bool
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
