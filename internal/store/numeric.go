// numeric.go holds the exact-arithmetic conversions shared by both Store
// implementations.
package store

import (
	"math/big"

	"github.com/shopspring/decimal"
)

func intToDec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func bigToDec(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).Set(v), 0)
}

// ScaleBig divides a raw integer amount by 10^decimals exactly.
func ScaleBig(v *big.Int, decimals int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(new(big.Int).Set(v), -int32(decimals))
}
