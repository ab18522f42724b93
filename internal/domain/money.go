package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places every stored amount carries.
// It matches the NUMERIC(20,4) money columns.
const MoneyScale = 4

// ValidateAmount rejects non-positive amounts and amounts finer than
// MoneyScale, which storage would otherwise round row by row.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(MoneyScale)) {
		return fmt.Errorf("more than %d decimal places: %w", MoneyScale, ErrInvalidAmount)
	}
	return nil
}
