package wei

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// MaxUint256 is the unlimited-allowance sentinel (2^256 - 1).
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// IsUnlimited reports whether value equals the unlimited sentinel exactly.
func IsUnlimited(value *big.Int) bool {
	return value != nil && value.Cmp(MaxUint256) == 0
}

// ToBaseUnits converts a decimal amount into base units by shifting it by
// decimals places. Fractional digits beyond decimals are truncated toward
// zero, never rounded up.
func ToBaseUnits(amount string, decimals uint8) (*big.Int, error) {
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if parsed.IsNegative() {
		return nil, fmt.Errorf("negative amount: %s", amount)
	}
	return parsed.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// FromBaseUnits converts a base-unit integer into a decimals-adjusted amount.
func FromBaseUnits(value *big.Int, decimals uint8) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -int32(decimals))
}
