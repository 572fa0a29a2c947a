package ledger

import (
	"testing"
	"time"

	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func createTestDebitPosting(t *testing.T) *Posting {
	p, err := NewDebitPosting(
		uuid.New(), uuid.New(),
		LedgerAccountReceivable,
		valueobject.MustAmount("45.50", valueobject.USD),
		SourceKindRide,
		"ride-001",
		testNow,
		map[string]string{MetadataKeyFleetID: uuid.New().String()},
		uuid.New(),
		testNow,
	)
	require.NoError(t, err)
	return p
}

// ============================================
// LedgerAccount Tests
// ============================================

func TestLedgerAccount_IsValid(t *testing.T) {
	tests := []struct {
		account LedgerAccount
		isValid bool
	}{
		{LedgerAccountReceivable, true},
		{LedgerAccountRevenue, true},
		{LedgerAccountCash, true},
		{LedgerAccount("EQUITY"), false},
		{LedgerAccount(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.account), func(t *testing.T) {
			assert.Equal(t, tt.isValid, tt.account.IsValid())
		})
	}
}

// ============================================
// Posting Factory Tests
// ============================================

func TestNewDebitPosting(t *testing.T) {
	t.Run("creates valid debit posting", func(t *testing.T) {
		p := createTestDebitPosting(t)

		assert.NotEqual(t, uuid.Nil, p.ID())
		assert.True(t, p.IsDebit())
		assert.False(t, p.IsCredit())
		assert.Equal(t, EntrySideDebit, p.Side())
		assert.Equal(t, LedgerAccountReceivable, p.LedgerAccount())
		assert.Equal(t, SourceKindRide, p.SourceKind())
		assert.Equal(t, "ride-001", p.SourceRef())
		assert.True(t, p.Amount().Equals(valueobject.MustAmount("45.50", valueobject.USD)))
	})

	t.Run("stores transaction date in UTC", func(t *testing.T) {
		loc := time.FixedZone("UTC+8", 8*3600)
		local := time.Date(2026, 3, 15, 1, 0, 0, 0, loc)

		p, err := NewDebitPosting(uuid.New(), uuid.New(), LedgerAccountReceivable,
			valueobject.MustAmount("10.00", valueobject.USD),
			SourceKindRide, "ride-utc", local, nil, uuid.New(), testNow)
		require.NoError(t, err)

		assert.Equal(t, time.UTC, p.TransactionDate().Location())
		assert.True(t, p.TransactionDate().Equal(local))
	})

	t.Run("fails with zero amount", func(t *testing.T) {
		_, err := NewDebitPosting(uuid.New(), uuid.New(), LedgerAccountReceivable,
			valueobject.ZeroAmount(valueobject.USD),
			SourceKindRide, "ride-002", testNow, nil, uuid.New(), testNow)

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, valueobject.ErrCodeInvalidAmount, domainErr.Code)
	})

	t.Run("fails with empty source ref", func(t *testing.T) {
		_, err := NewDebitPosting(uuid.New(), uuid.New(), LedgerAccountReceivable,
			valueobject.MustAmount("10.00", valueobject.USD),
			SourceKindRide, "", testNow, nil, uuid.New(), testNow)

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_SOURCE_REF", domainErr.Code)
	})

	t.Run("fails with invalid ledger account", func(t *testing.T) {
		_, err := NewDebitPosting(uuid.New(), uuid.New(), LedgerAccount("EQUITY"),
			valueobject.MustAmount("10.00", valueobject.USD),
			SourceKindRide, "ride-003", testNow, nil, uuid.New(), testNow)

		require.Error(t, err)
	})

	t.Run("fails with zero transaction date", func(t *testing.T) {
		_, err := NewDebitPosting(uuid.New(), uuid.New(), LedgerAccountReceivable,
			valueobject.MustAmount("10.00", valueobject.USD),
			SourceKindRide, "ride-004", time.Time{}, nil, uuid.New(), testNow)

		require.Error(t, err)
	})
}

func TestNewCreditPosting(t *testing.T) {
	p, err := NewCreditPosting(uuid.New(), uuid.New(), LedgerAccountRevenue,
		valueobject.MustAmount("45.50", valueobject.USD),
		SourceKindRide, "ride-001", testNow, nil, uuid.New(), testNow)
	require.NoError(t, err)

	assert.True(t, p.IsCredit())
	assert.False(t, p.IsDebit())
	assert.Equal(t, EntrySideCredit, p.Side())
}

// ============================================
// Immutability Tests
// ============================================

func TestPosting_MetadataIsCopied(t *testing.T) {
	source := map[string]string{MetadataKeyFleetID: "fleet-1"}
	p, err := NewDebitPosting(uuid.New(), uuid.New(), LedgerAccountReceivable,
		valueobject.MustAmount("10.00", valueobject.USD),
		SourceKindRide, "ride-005", testNow, source, uuid.New(), testNow)
	require.NoError(t, err)

	// Mutating the input map or a returned copy must not affect the posting
	source[MetadataKeyFleetID] = "fleet-2"
	got := p.Metadata()
	got["injected"] = "value"

	assert.Equal(t, "fleet-1", p.Metadata()[MetadataKeyFleetID])
	assert.NotContains(t, p.Metadata(), "injected")
}

// ============================================
// Snapshot / Reconstitution Tests
// ============================================

func TestReconstitutePosting(t *testing.T) {
	t.Run("round trips through snapshot", func(t *testing.T) {
		original := createTestDebitPosting(t)

		rebuilt, err := ReconstitutePosting(original.Snapshot())
		require.NoError(t, err)

		assert.Equal(t, original.ID(), rebuilt.ID())
		assert.Equal(t, original.AccountID(), rebuilt.AccountID())
		assert.Equal(t, original.Side(), rebuilt.Side())
		assert.True(t, original.Amount().Equals(rebuilt.Amount()))
		assert.Equal(t, original.SourceRef(), rebuilt.SourceRef())
		assert.Equal(t, original.Metadata(), rebuilt.Metadata())
	})

	t.Run("rejects snapshot with both sides set", func(t *testing.T) {
		s := createTestDebitPosting(t).Snapshot()
		amt := valueobject.MustAmount("1.00", valueobject.USD)
		s.Credit = &amt

		_, err := ReconstitutePosting(s)

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "CORRUPT_POSTING", domainErr.Code)
	})

	t.Run("rejects snapshot with neither side set", func(t *testing.T) {
		s := createTestDebitPosting(t).Snapshot()
		s.Debit = nil
		s.Credit = nil

		_, err := ReconstitutePosting(s)
		require.Error(t, err)
	})

	t.Run("rejects snapshot with invalid source kind", func(t *testing.T) {
		s := createTestDebitPosting(t).Snapshot()
		s.SourceKind = SourceKind("REFUND")

		_, err := ReconstitutePosting(s)
		require.Error(t, err)
	})
}
