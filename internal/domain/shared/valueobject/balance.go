package valueobject

import (
	"encoding/json"
	"fmt"

	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Balance is a signed monetary quantity derived by subtraction of Amounts.
// A negative balance means the party is in credit (overpayment). Balances are
// never stored on postings; they only exist as query results.
type Balance struct {
	amount   decimal.Decimal
	currency Currency
}

// ZeroBalance returns a zero balance in the given currency
func ZeroBalance(currency Currency) Balance {
	return Balance{amount: decimal.Zero, currency: currency}
}

// NewBalance creates a Balance from a signed decimal. Used by read models
// when reconstructing query results.
func NewBalance(amount decimal.Decimal, currency Currency) Balance {
	return Balance{amount: amount, currency: currency}
}

// Amount returns the signed decimal amount
func (b Balance) Amount() decimal.Decimal {
	return b.amount
}

// Currency returns the currency code
func (b Balance) Currency() Currency {
	return b.currency
}

// IsZero returns true if the balance is zero
func (b Balance) IsZero() bool {
	return b.amount.IsZero()
}

// IsNegative returns true if the party is in credit
func (b Balance) IsNegative() bool {
	return b.amount.IsNegative()
}

// AddAmount returns a new Balance increased by the given Amount
func (b Balance) AddAmount(a Amount) (Balance, error) {
	if b.currency != a.currency {
		return Balance{}, shared.NewDomainError(ErrCodeInvalidAmount,
			fmt.Sprintf("Cannot add %s amount to %s balance", a.currency, b.currency))
	}
	return Balance{amount: b.amount.Add(a.magnitude), currency: b.currency}, nil
}

// SubAmount returns a new Balance decreased by the given Amount.
// The result may be negative.
func (b Balance) SubAmount(a Amount) (Balance, error) {
	if b.currency != a.currency {
		return Balance{}, shared.NewDomainError(ErrCodeInvalidAmount,
			fmt.Sprintf("Cannot subtract %s amount from %s balance", a.currency, b.currency))
	}
	return Balance{amount: b.amount.Sub(a.magnitude), currency: b.currency}, nil
}

// Equals returns true if both balances have the same amount and currency
func (b Balance) Equals(other Balance) bool {
	return b.currency == other.currency && b.amount.Equal(other.amount)
}

// String returns a string representation of the Balance
func (b Balance) String() string {
	return fmt.Sprintf("%s %s", b.amount.StringFixed(AmountScale), b.currency)
}

// MarshalJSON implements json.Marshaler
func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   string   `json:"amount"`
		Currency Currency `json:"currency"`
	}{
		Amount:   b.amount.String(),
		Currency: b.currency,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (b *Balance) UnmarshalJSON(data []byte) error {
	var v struct {
		Amount   string   `json:"amount"`
		Currency Currency `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(v.Amount)
	if err != nil {
		return fmt.Errorf("invalid balance amount: %w", err)
	}
	b.amount = amount
	b.currency = v.Currency
	return nil
}
