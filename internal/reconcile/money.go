package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"kasirshift/backend/internal/store"
)

// ParseCountedCash accepts a JSON number or numeric string in minor units.
// Negative, fractional and non-numeric values are rejected.
func ParseCountedCash(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: counted_cash is required", store.ErrInvalidCountedCash)
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("%w: %v", store.ErrInvalidCountedCash, err)
		}
	}

	amount, err := decimal.NewFromString(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", store.ErrInvalidCountedCash, text)
	}
	return CountedCashFromDecimal(amount)
}

func CountedCashFromDecimal(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: must not be negative", store.ErrInvalidCountedCash)
	}
	if !amount.Equal(amount.Truncate(0)) {
		return 0, fmt.Errorf("%w: must be whole minor units", store.ErrInvalidCountedCash)
	}
	if amount.GreaterThan(decimal.NewFromInt(maxMinorUnits)) {
		return 0, fmt.Errorf("%w: out of range", store.ErrInvalidCountedCash)
	}
	return amount.IntPart(), nil
}

const maxMinorUnits = 1 << 53

// FormatMoney renders minor units with the currency's decimal places.
func FormatMoney(amount int64, scale int32) string {
	if scale <= 0 {
		return decimal.NewFromInt(amount).String()
	}
	return decimal.New(amount, -scale).StringFixed(scale)
}
