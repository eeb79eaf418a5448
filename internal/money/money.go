package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is the only currency wallets hold. KRW has no minor unit.
const Currency = "KRW"

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrFractionalAmount = errors.New("amount must be a whole number of won")
)

// Parse reads a KRW amount such as "5000", "5,000" or "5000.00".
// Fractional won are rejected rather than rounded.
func Parse(input string) (decimal.Decimal, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(input), ",", "")
	if trimmed == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !IsWhole(amount) {
		return decimal.Zero, ErrFractionalAmount
	}
	return amount.Truncate(0), nil
}

// ParsePositive is Parse restricted to amounts greater than zero.
func ParsePositive(input string) (decimal.Decimal, error) {
	amount, err := Parse(input)
	if err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

func IsWhole(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(0))
}

// Format renders an amount without fractional digits.
func Format(amount decimal.Decimal) string {
	return amount.StringFixedBank(0)
}

// Display renders an amount with thousands separators and the won sign, for
// notification text.
func Display(amount decimal.Decimal) string {
	raw := Format(amount.Abs())
	var b strings.Builder
	for i, r := range raw {
		if i > 0 && (len(raw)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if amount.IsNegative() {
		return fmt.Sprintf("-₩%s", b.String())
	}
	return "₩" + b.String()
}
