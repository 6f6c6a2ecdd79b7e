package payment

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/zkgate-io/zkgate/internal/apperrors"
)

// amountDecimals is the fixed-point precision payment amounts are settled
// at (USDC-style 6 decimals), per spec.md §4.8.
const amountDecimals = 6

// ParseAmountUnits parses a display amount string like "$0.10" or "0.10"
// into integer atomic units at amountDecimals precision.
func ParseAmountUnits(display string) (*big.Int, error) {
	s := strings.TrimSpace(display)
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return nil, apperrors.NewInvalidParamsError("amount", "amount is empty")
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > amountDecimals {
		return nil, apperrors.NewInvalidParamsError("amount", fmt.Sprintf("amount has more than %d decimal places", amountDecimals))
	}
	if hasFrac {
		frac = frac + strings.Repeat("0", amountDecimals-len(frac))
	} else {
		frac = strings.Repeat("0", amountDecimals)
	}

	units, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, apperrors.NewInvalidParamsError("amount", fmt.Sprintf("invalid amount: %q", display))
	}
	if units.Sign() <= 0 {
		return nil, apperrors.NewInvalidParamsError("amount", "amount must be positive")
	}
	return units, nil
}

// FormatAmountUnits is the inverse of ParseAmountUnits, rendering integer
// atomic units back to a "$X.YYYYYY"-style display string.
func FormatAmountUnits(units *big.Int) string {
	s := units.String()
	for len(s) <= amountDecimals {
		s = "0" + s
	}
	whole := s[:len(s)-amountDecimals]
	frac := s[len(s)-amountDecimals:]
	whole = strings.TrimLeft(whole, "0")
	if whole == "" {
		whole = "0"
	}
	return "$" + whole + "." + frac
}
