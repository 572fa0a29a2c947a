package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testEvent stands in for a billing domain event across the package tests.
type testEvent struct {
	shared.BaseDomainEvent
	RideID string `json:"ride_id"`
}

func newTestEvent(eventType string, tenantID uuid.UUID) *testEvent {
	return &testEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "BillingAccount", uuid.New(), tenantID, time.Now()),
		RideID:          "ride-100",
	}
}

// testHandler records what it received and can be told to fail or panic.
type testHandler struct {
	eventTypes []string

	mu       sync.Mutex
	handled  []shared.DomainEvent
	failWith error
	panicMsg string
}

func newTestHandler(eventTypes ...string) *testHandler {
	return &testHandler{eventTypes: eventTypes}
}

func (h *testHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panicMsg != "" {
		panic(h.panicMsg)
	}
	h.handled = append(h.handled, event)
	return h.failWith
}

func (h *testHandler) EventTypes() []string {
	return h.eventTypes
}

func (h *testHandler) setError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failWith = err
}

func (h *testHandler) getHandled() []shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]shared.DomainEvent(nil), h.handled...)
}

func newTestBus() *InMemoryEventBus {
	return NewInMemoryEventBus(zap.NewNop())
}

func TestInMemoryEventBus_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to the subscribed handler", func(t *testing.T) {
		bus := newTestBus()
		handler := newTestHandler("ChargeRecorded")
		bus.Subscribe(handler, "ChargeRecorded")

		event := newTestEvent("ChargeRecorded", uuid.New())
		require.NoError(t, bus.Publish(ctx, event))

		handled := handler.getHandled()
		require.Len(t, handled, 1)
		assert.Equal(t, event, handled[0])
	})

	t.Run("fans out to every subscriber of the type", func(t *testing.T) {
		bus := newTestBus()
		kafka := newTestHandler("ChargeRecorded")
		projector := newTestHandler("ChargeRecorded")
		bus.Subscribe(kafka, "ChargeRecorded")
		bus.Subscribe(projector, "ChargeRecorded")

		require.NoError(t, bus.Publish(ctx, newTestEvent("ChargeRecorded", uuid.New())))

		assert.Len(t, kafka.getHandled(), 1)
		assert.Len(t, projector.getHandled(), 1)
	})

	t.Run("publishes a batch in order", func(t *testing.T) {
		bus := newTestBus()
		handler := newTestHandler("ChargeRecorded")
		bus.Subscribe(handler, "ChargeRecorded")

		first := newTestEvent("ChargeRecorded", uuid.New())
		second := newTestEvent("ChargeRecorded", uuid.New())
		require.NoError(t, bus.Publish(ctx, first, second))

		handled := handler.getHandled()
		require.Len(t, handled, 2)
		assert.Equal(t, first.EventID(), handled[0].EventID())
		assert.Equal(t, second.EventID(), handled[1].EventID())
	})

	t.Run("skips handlers subscribed to other types", func(t *testing.T) {
		bus := newTestBus()
		handler := newTestHandler("InvoiceGenerated")
		bus.Subscribe(handler, "InvoiceGenerated")

		require.NoError(t, bus.Publish(ctx, newTestEvent("ChargeRecorded", uuid.New())))

		assert.Empty(t, handler.getHandled())
	})

	t.Run("catch-all subscription receives everything", func(t *testing.T) {
		bus := newTestBus()
		auditLog := newTestHandler()
		bus.Subscribe(auditLog)

		require.NoError(t, bus.Publish(ctx,
			newTestEvent("ChargeRecorded", uuid.New()),
			newTestEvent("PaymentReceived", uuid.New()),
		))

		assert.Len(t, auditLog.getHandled(), 2)
	})
}

func TestInMemoryEventBus_FaultIsolation(t *testing.T) {
	ctx := context.Background()

	t.Run("failing handler does not block the fan-out", func(t *testing.T) {
		bus := newTestBus()
		broken := newTestHandler("ChargeRecorded")
		broken.setError(errors.New("projection out of date"))
		healthy := newTestHandler("ChargeRecorded")
		bus.Subscribe(broken, "ChargeRecorded")
		bus.Subscribe(healthy, "ChargeRecorded")

		require.NoError(t, bus.Publish(ctx, newTestEvent("ChargeRecorded", uuid.New())))

		assert.Len(t, broken.getHandled(), 1)
		assert.Len(t, healthy.getHandled(), 1)
	})

	t.Run("panicking handler is contained", func(t *testing.T) {
		bus := newTestBus()
		panicking := newTestHandler("ChargeRecorded")
		panicking.panicMsg = "nil invoice line"
		healthy := newTestHandler("ChargeRecorded")
		bus.Subscribe(panicking, "ChargeRecorded")
		bus.Subscribe(healthy, "ChargeRecorded")

		require.NotPanics(t, func() {
			require.NoError(t, bus.Publish(ctx, newTestEvent("ChargeRecorded", uuid.New())))
		})
		assert.Len(t, healthy.getHandled(), 1)
	})
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus()

	handler := newTestHandler("ChargeRecorded")
	bus.Subscribe(handler, "ChargeRecorded")

	require.NoError(t, bus.Publish(ctx, newTestEvent("ChargeRecorded", uuid.New())))
	require.Len(t, handler.getHandled(), 1)

	bus.Unsubscribe(handler)

	require.NoError(t, bus.Publish(ctx, newTestEvent("ChargeRecorded", uuid.New())))
	assert.Len(t, handler.getHandled(), 1, "unsubscribed handler must not receive further events")
}

func TestInMemoryEventBus_Lifecycle(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus()

	require.NoError(t, bus.Start(ctx))

	handler := newTestHandler("ChargeRecorded")
	bus.Subscribe(handler, "ChargeRecorded")
	require.NoError(t, bus.Publish(ctx, newTestEvent("ChargeRecorded", uuid.New())))
	assert.Len(t, handler.getHandled(), 1)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Stop(stopCtx))
}
