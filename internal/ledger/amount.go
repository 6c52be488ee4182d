package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ParseAmount converts user input into a positive fixed-point amount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, raw)
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ValidateAmount rejects zero, negative and amounts finer than AmountScale.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, AmountScale)
	}
	return nil
}

// MaxReferenceLength bounds caller-supplied reference tokens.
const MaxReferenceLength = 64

// ValidateReference accepts printable tokens without whitespace of at most
// MaxReferenceLength bytes.
func ValidateReference(ref string) error {
	if ref == "" || len(ref) > MaxReferenceLength {
		return fmt.Errorf("%w: length must be 1-%d", ErrInvalidReference, MaxReferenceLength)
	}
	for _, r := range ref {
		if r <= ' ' || r == 0x7f {
			return fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalidReference, ref)
		}
	}
	return nil
}

// NewReference returns a fresh globally unique reference token.
func NewReference() string {
	return uuid.NewString()
}
