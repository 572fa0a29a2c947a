package valueobject

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Currency represents a currency code (ISO 4217)
type Currency string

const (
	USD Currency = "USD" // US Dollar (default)
	EUR Currency = "EUR" // Euro
	GBP Currency = "GBP" // British Pound
	CAD Currency = "CAD" // Canadian Dollar
	AUD Currency = "AUD" // Australian Dollar
)

// DefaultCurrency is the default currency for the system
const DefaultCurrency = USD

// IsValid reports whether the currency is one the ledger can post in
func (c Currency) IsValid() bool {
	switch c {
	case USD, EUR, GBP, CAD, AUD:
		return true
	}
	return false
}

// AmountScale is the number of fractional digits every Amount carries.
const AmountScale = 4

// MaxAmountMagnitude is the ceiling for a single monetary magnitude.
// Construction rejects anything above it.
var MaxAmountMagnitude = decimal.New(1, 12) // 10^12

// ErrCodeInvalidAmount is the error code for rejected magnitudes.
const ErrCodeInvalidAmount = "INVALID_AMOUNT"

// Amount is an immutable, non-negative monetary magnitude with a fixed scale
// of four fractional digits. Whether it is owed or paid is a property of the
// posting that carries it, never of the value itself; signed quantities are
// expressed as Balance.
type Amount struct {
	magnitude decimal.Decimal
	currency  Currency
}

// NewAmount creates an Amount from a decimal magnitude. Negative magnitudes
// and magnitudes above MaxAmountMagnitude are rejected. The magnitude is
// rounded to AmountScale digits using round-half-to-even.
func NewAmount(magnitude decimal.Decimal, currency Currency) (Amount, error) {
	if currency == "" {
		return Amount{}, shared.NewDomainError(ErrCodeInvalidAmount, "Currency cannot be empty")
	}
	if magnitude.IsNegative() {
		return Amount{}, shared.NewDomainError(ErrCodeInvalidAmount, "Amount magnitude cannot be negative")
	}
	rounded := magnitude.RoundBank(AmountScale)
	if rounded.GreaterThan(MaxAmountMagnitude) {
		return Amount{}, shared.NewDomainError(ErrCodeInvalidAmount,
			fmt.Sprintf("Amount magnitude exceeds maximum of %s", MaxAmountMagnitude.String()))
	}
	return Amount{magnitude: rounded, currency: currency}, nil
}

// NewAmountFromString creates an Amount from a string representation
func NewAmountFromString(magnitude string, currency Currency) (Amount, error) {
	d, err := decimal.NewFromString(magnitude)
	if err != nil {
		return Amount{}, shared.NewDomainError(ErrCodeInvalidAmount,
			fmt.Sprintf("Invalid amount string: %s", magnitude))
	}
	return NewAmount(d, currency)
}

// NewAmountFromFloat creates an Amount from a float64 value
func NewAmountFromFloat(magnitude float64, currency Currency) (Amount, error) {
	return NewAmount(decimal.NewFromFloat(magnitude), currency)
}

// MustAmount creates an Amount and panics on invalid input. Test helper and
// constant initialization only.
func MustAmount(magnitude string, currency Currency) Amount {
	a, err := NewAmountFromString(magnitude, currency)
	if err != nil {
		panic(err)
	}
	return a
}

// ZeroAmount returns a zero-value Amount in the specified currency
func ZeroAmount(currency Currency) Amount {
	return Amount{magnitude: decimal.Zero, currency: currency}
}

// Magnitude returns the decimal magnitude
func (a Amount) Magnitude() decimal.Decimal {
	return a.magnitude
}

// Currency returns the currency code
func (a Amount) Currency() Currency {
	return a.currency
}

// IsZero returns true if the magnitude is zero
func (a Amount) IsZero() bool {
	return a.magnitude.IsZero()
}

// IsPositive returns true if the magnitude is strictly greater than zero
func (a Amount) IsPositive() bool {
	return a.magnitude.IsPositive()
}

// Add returns a new Amount with the sum of both magnitudes.
// Returns an error if currencies don't match or the sum exceeds the ceiling.
func (a Amount) Add(other Amount) (Amount, error) {
	if a.currency != other.currency {
		return Amount{}, shared.NewDomainError(ErrCodeInvalidAmount,
			fmt.Sprintf("Cannot add amounts with different currencies: %s and %s", a.currency, other.currency))
	}
	return NewAmount(a.magnitude.Add(other.magnitude), a.currency)
}

// Sub returns a new Amount with the difference of the magnitudes.
// Returns an error if currencies don't match or the result would be negative;
// use Diff for a signed result.
func (a Amount) Sub(other Amount) (Amount, error) {
	if a.currency != other.currency {
		return Amount{}, shared.NewDomainError(ErrCodeInvalidAmount,
			fmt.Sprintf("Cannot subtract amounts with different currencies: %s and %s", a.currency, other.currency))
	}
	diff := a.magnitude.Sub(other.magnitude)
	if diff.IsNegative() {
		return Amount{}, shared.NewDomainError(ErrCodeInvalidAmount, "Subtraction would produce a negative amount")
	}
	return Amount{magnitude: diff, currency: a.currency}, nil
}

// Diff returns the signed difference (a minus other) as a Balance. This is the only
// way a negative monetary quantity enters the system.
func (a Amount) Diff(other Amount) (Balance, error) {
	if a.currency != other.currency {
		return Balance{}, shared.NewDomainError(ErrCodeInvalidAmount,
			fmt.Sprintf("Cannot compare amounts with different currencies: %s and %s", a.currency, other.currency))
	}
	return Balance{amount: a.magnitude.Sub(other.magnitude), currency: a.currency}, nil
}

// Equals returns true if both Amounts have the same magnitude and currency
func (a Amount) Equals(other Amount) bool {
	return a.currency == other.currency && a.magnitude.Equal(other.magnitude)
}

// LessThan returns true if this Amount is less than the other
func (a Amount) LessThan(other Amount) (bool, error) {
	if a.currency != other.currency {
		return false, shared.NewDomainError(ErrCodeInvalidAmount,
			fmt.Sprintf("Cannot compare amounts with different currencies: %s and %s", a.currency, other.currency))
	}
	return a.magnitude.LessThan(other.magnitude), nil
}

// GreaterThan returns true if this Amount is greater than the other
func (a Amount) GreaterThan(other Amount) (bool, error) {
	if a.currency != other.currency {
		return false, shared.NewDomainError(ErrCodeInvalidAmount,
			fmt.Sprintf("Cannot compare amounts with different currencies: %s and %s", a.currency, other.currency))
	}
	return a.magnitude.GreaterThan(other.magnitude), nil
}

// String returns a string representation of the Amount
func (a Amount) String() string {
	return fmt.Sprintf("%s %s", a.magnitude.StringFixed(AmountScale), a.currency)
}

// StringFixed returns the magnitude as a string with AmountScale decimal places
func (a Amount) StringFixed() string {
	return a.magnitude.StringFixed(AmountScale)
}

// MarshalJSON implements json.Marshaler
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Magnitude string   `json:"magnitude"`
		Currency  Currency `json:"currency"`
	}{
		Magnitude: a.magnitude.String(),
		Currency:  a.currency,
	})
}

// UnmarshalJSON implements json.Unmarshaler. It goes through NewAmount so
// that deserialized values satisfy the same constraints as constructed ones.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var v struct {
		Magnitude string   `json:"magnitude"`
		Currency  Currency `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := NewAmountFromString(v.Magnitude, v.Currency)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer for database storage.
// Stores the magnitude only; currency lives in its own column.
func (a Amount) Value() (driver.Value, error) {
	return a.magnitude.String(), nil
}

// Scan implements sql.Scanner for database retrieval. Currency defaults to
// DefaultCurrency when not already set; repositories overwrite it from the
// currency column.
func (a *Amount) Scan(value any) error {
	if value == nil {
		a.magnitude = decimal.Zero
		if a.currency == "" {
			a.currency = DefaultCurrency
		}
		return nil
	}

	var strVal string
	switch v := value.(type) {
	case string:
		strVal = v
	case []byte:
		strVal = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Amount", value)
	}

	magnitude, err := decimal.NewFromString(strVal)
	if err != nil {
		return fmt.Errorf("invalid decimal value: %w", err)
	}
	a.magnitude = magnitude
	if a.currency == "" {
		a.currency = DefaultCurrency
	}
	return nil
}
