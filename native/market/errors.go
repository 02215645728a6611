package market

import (
	"errors"
	"fmt"
	"math/big"

	"nhbmarket/native/common"
)

var (
	errNilState   = errors.New("market engine: state not configured")
	errNilCustody = errors.New("market engine: custody adapter not configured")
	errNilVault   = errors.New("market engine: vault not configured")
	errNoParams   = errors.New("market engine: params not initialised")
)

// Error categories returned by the engine. Callers match them with errors.Is.
var (
	ErrNotFound           = errors.New("market: not found")
	ErrNotActive          = errors.New("market: not active")
	ErrUnauthorized       = errors.New("market: unauthorized")
	ErrInvalidInput       = errors.New("market: invalid input")
	ErrAssetAlreadyInSale = errors.New("market: asset already in sale")
	ErrBidTooLow          = errors.New("market: bid too low")
	ErrAuctionEnded       = errors.New("market: auction ended")
	ErrAuctionNotEnded    = errors.New("market: auction not ended")
	ErrAlreadyFinalized   = errors.New("market: auction already finalized")
	ErrNothingToWithdraw  = errors.New("market: nothing to withdraw")
	ErrReentrantCall      = common.ErrReentrantCall
	ErrEnforcedPause      = fmt.Errorf("market: enforced pause: %w", common.ErrModulePaused)
	ErrTransferFailed     = errors.New("market: transfer failed")

	ErrInvalidPrice    = fmt.Errorf("%w: price", ErrInvalidInput)
	ErrInvalidDuration = fmt.Errorf("%w: duration", ErrInvalidInput)
	ErrInvalidFeeRate  = fmt.Errorf("%w: fee rate", ErrInvalidInput)
)

// BidTooLowError reports the minimum acceptable bid alongside ErrBidTooLow.
type BidTooLowError struct {
	Minimum *big.Int
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("%s: minimum is %s", ErrBidTooLow, cloneBigInt(e.Minimum))
}

// Is allows errors.Is(err, ErrBidTooLow).
func (e *BidTooLowError) Is(target error) bool {
	return target == ErrBidTooLow
}
