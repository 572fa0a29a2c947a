package event

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newChargePublisher() *OutboxPublisher {
	serializer := NewEventSerializer()
	serializer.Register("ChargeRecorded", &testEvent{})
	return NewOutboxPublisher(serializer)
}

func expectOutboxInsert(mock sqlmock.Sqlmock, events ...shared.DomainEvent) {
	rows := sqlmock.NewRows([]string{"created_at", "updated_at"})
	for _, e := range events {
		rows.AddRow(e.OccurredAt(), e.OccurredAt())
	}
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "outbox_events"`)).WillReturnRows(rows)
}

func TestOutboxPublisher_PublishWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("stores one pending row per event", func(t *testing.T) {
		db, mock := newOutboxMockDB(t)
		publisher := newChargePublisher()

		tenantID := uuid.New()
		events := []shared.DomainEvent{
			newTestEvent("ChargeRecorded", tenantID),
			newTestEvent("ChargeRecorded", tenantID),
			newTestEvent("ChargeRecorded", tenantID),
		}

		mock.ExpectBegin()
		expectOutboxInsert(mock, events...)
		mock.ExpectCommit()

		err := db.Transaction(func(tx *gorm.DB) error {
			return publisher.PublishWithTx(ctx, tx, events...)
		})

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no events touches nothing", func(t *testing.T) {
		db, mock := newOutboxMockDB(t)
		publisher := newChargePublisher()

		mock.ExpectBegin()
		mock.ExpectCommit()

		err := db.Transaction(func(tx *gorm.DB) error {
			return publisher.PublishWithTx(ctx, tx)
		})

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rows roll back with the business transaction", func(t *testing.T) {
		db, mock := newOutboxMockDB(t)
		publisher := newChargePublisher()

		event := newTestEvent("ChargeRecorded", uuid.New())

		mock.ExpectBegin()
		expectOutboxInsert(mock, event)
		mock.ExpectRollback()

		ledgerErr := errors.New("posting imbalance")
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := publisher.PublishWithTx(ctx, tx, event); err != nil {
				return err
			}
			return ledgerErr
		})

		require.ErrorIs(t, err, ledgerErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOutboxPublisher_SaveEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts a gorm transaction", func(t *testing.T) {
		db, mock := newOutboxMockDB(t)
		publisher := newChargePublisher()

		event := newTestEvent("ChargeRecorded", uuid.New())

		mock.ExpectBegin()
		expectOutboxInsert(mock, event)
		mock.ExpectCommit()

		err := db.Transaction(func(tx *gorm.DB) error {
			return publisher.SaveEvents(ctx, tx, event)
		})

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects anything that is not a gorm transaction", func(t *testing.T) {
		publisher := newChargePublisher()

		err := publisher.SaveEvents(ctx, "not a tx", newTestEvent("ChargeRecorded", uuid.New()))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "*gorm.DB")
	})

	t.Run("no events skips the type check", func(t *testing.T) {
		publisher := newChargePublisher()

		require.NoError(t, publisher.SaveEvents(ctx, nil))
	})
}
