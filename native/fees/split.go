package fees

import (
	"errors"
	"fmt"
	"math/big"
)

const (
	// BasisPoints is the denominator used for fee rates.
	BasisPoints = 10_000
	// MaxFeeRateBps caps the marketplace fee at 10%.
	MaxFeeRateBps = 1_000
)

// ErrInvalidFeeRate is returned when a configured rate is outside [0, MaxFeeRateBps].
var ErrInvalidFeeRate = errors.New("fees: fee rate out of range")

var basisPoints = big.NewInt(BasisPoints)

// ValidateRate ensures the supplied rate is within the configurable bounds.
// The check happens when the rate is configured, never at split time.
func ValidateRate(bps uint32) error {
	if bps > MaxFeeRateBps {
		return fmt.Errorf("%w: %d bps exceeds %d", ErrInvalidFeeRate, bps, MaxFeeRateBps)
	}
	return nil
}

// Result captures the split of a sale price into the marketplace fee and the
// seller's proceeds. Fee + Proceeds always equals the gross price.
type Result struct {
	Gross    *big.Int
	Fee      *big.Int
	Proceeds *big.Int
}

// Split computes fee = price*bps/10000 rounded down and proceeds = price - fee.
// Nil or non-positive prices yield a zero split.
func Split(price *big.Int, bps uint32) Result {
	result := Result{Gross: big.NewInt(0), Fee: big.NewInt(0), Proceeds: big.NewInt(0)}
	if price == nil || price.Sign() <= 0 {
		return result
	}
	result.Gross = new(big.Int).Set(price)
	if bps == 0 {
		result.Proceeds = new(big.Int).Set(price)
		return result
	}
	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(uint64(bps)))
	fee.Quo(fee, basisPoints)
	if fee.Cmp(price) > 0 {
		fee.Set(price)
	}
	result.Fee = fee
	result.Proceeds = new(big.Int).Sub(price, fee)
	return result
}
