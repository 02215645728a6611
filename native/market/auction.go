package market

import (
	"fmt"
	"math/big"
	"time"
)

// CreateAuction takes custody of the asset and opens an ascending auction
// ending duration from now.
func (e *Engine) CreateAuction(seller [20]byte, asset AssetRef, startingBid *big.Int, duration time.Duration) (*Auction, error) {
	var created *Auction
	err := e.execute("create_auction", true, func() error {
		if err := e.requireCollaborators(true, false); err != nil {
			return err
		}
		if isZeroAddress(seller) {
			return fmt.Errorf("%w: seller required", ErrInvalidInput)
		}
		if !validPositive(startingBid) {
			return ErrInvalidPrice
		}
		params, err := e.params()
		if err != nil {
			return err
		}
		if duration < params.MinDuration || duration > params.MaxDuration {
			return fmt.Errorf("%w: %s outside [%s, %s]", ErrInvalidDuration, duration, params.MinDuration, params.MaxDuration)
		}
		normalized, err := NewAssetRef(asset.Collection, asset.ItemID)
		if err != nil {
			return err
		}
		if err := e.ensureAssetFree(normalized); err != nil {
			return err
		}
		now := e.now()
		id, err := e.nextSaleID(normalized, seller, now)
		if err != nil {
			return err
		}
		if _, exists, err := e.state.MarketAuctionGet(id); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: auction id collision", ErrInvalidInput)
		}
		auction := &Auction{
			ID:          id,
			Asset:       normalized,
			Seller:      seller,
			StartingBid: new(big.Int).Set(startingBid),
			HighestBid:  big.NewInt(0),
			EndTime:     now + int64(duration/time.Second),
			Active:      true,
			CreatedAt:   now,
		}
		if err := e.state.MarketAuctionPut(auction); err != nil {
			return err
		}
		if err := e.state.MarketAssetSalePut(normalized, id); err != nil {
			return err
		}
		if err := e.state.MarketIndexAdd(SaleAuction, id); err != nil {
			return err
		}
		if err := e.custody.TakeCustody(normalized.Clone(), seller); err != nil {
			return fmt.Errorf("%w: take custody: %v", ErrTransferFailed, err)
		}
		e.emit(NewAuctionCreatedEvent(auction))
		created = auction.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// PlaceBid records a new highest bid. The bid amount is collected into the
// vault and the displaced bid is credited to its bidder's ledger balance.
// Bids landing inside the grace window push the end time back.
func (e *Engine) PlaceBid(id [32]byte, bidder [20]byte, amount *big.Int) (*Auction, error) {
	var updated *Auction
	err := e.execute("place_bid", true, func() error {
		if err := e.requireCollaborators(false, true); err != nil {
			return err
		}
		if isZeroAddress(bidder) {
			return fmt.Errorf("%w: bidder required", ErrInvalidInput)
		}
		auction, ok, err := e.state.MarketAuctionGet(id)
		if err != nil {
			return err
		}
		if !ok || auction == nil {
			return ErrNotFound
		}
		if !auction.Active || auction.Finalized {
			return ErrNotActive
		}
		now := e.now()
		if now >= auction.EndTime {
			return ErrAuctionEnded
		}
		if bidder == auction.Seller {
			return fmt.Errorf("%w: seller cannot bid on own auction", ErrUnauthorized)
		}
		minimum := auction.MinimumBid()
		if amount == nil || amount.Cmp(minimum) < 0 {
			return &BidTooLowError{Minimum: minimum}
		}
		params, err := e.params()
		if err != nil {
			return err
		}

		previousBidder := auction.HighestBidder
		previousBid := cloneBigInt(auction.HighestBid)
		hadBid := auction.HasBids()

		auction.HighestBid = new(big.Int).Set(amount)
		auction.HighestBidder = bidder
		auction.BidCount++
		extended := false
		grace := int64(params.GraceWindow / time.Second)
		if grace > 0 && auction.EndTime-now < grace {
			auction.EndTime = now + grace
			extended = true
		}
		if err := e.state.MarketAuctionPut(auction); err != nil {
			return err
		}
		if hadBid {
			if err := e.credit(previousBidder, previousBid); err != nil {
				return err
			}
		} else {
			previousBidder = [20]byte{}
			previousBid = big.NewInt(0)
		}
		if err := e.vault.Collect(bidder, new(big.Int).Set(amount)); err != nil {
			return fmt.Errorf("%w: collect bid: %v", ErrTransferFailed, err)
		}
		e.emit(NewAuctionBidEvent(auction, previousBidder, previousBid, extended))
		updated = auction.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// EndAuction finalizes an auction whose end time has passed. Anyone may call
// it. With a winner the sale settles and the asset moves to the winner;
// without bids the asset returns to the seller.
func (e *Engine) EndAuction(id [32]byte, caller [20]byte) (*Auction, *Settlement, error) {
	var (
		finalized  *Auction
		settlement *Settlement
	)
	err := e.execute("end_auction", true, func() error {
		if err := e.requireCollaborators(true, false); err != nil {
			return err
		}
		auction, ok, err := e.state.MarketAuctionGet(id)
		if err != nil {
			return err
		}
		if !ok || auction == nil {
			return ErrNotFound
		}
		if auction.Finalized {
			return ErrAlreadyFinalized
		}
		if e.now() < auction.EndTime {
			return ErrAuctionNotEnded
		}
		params, err := e.params()
		if err != nil {
			return err
		}
		auction.Finalized = true
		auction.Active = false
		if err := e.state.MarketAuctionPut(auction); err != nil {
			return err
		}
		if err := e.state.MarketIndexRemove(SaleAuction, auction.ID); err != nil {
			return err
		}
		if err := e.state.MarketAssetSaleDelete(auction.Asset); err != nil {
			return err
		}
		recipient := auction.Seller
		if auction.HasBids() {
			s, err := e.settle(params, auction.ID, SaleAuction, auction.Asset, auction.Seller, auction.HighestBidder, auction.HighestBid)
			if err != nil {
				return err
			}
			settlement = s
			recipient = auction.HighestBidder
		}
		if err := e.custody.ReleaseCustody(auction.Asset.Clone(), recipient); err != nil {
			return fmt.Errorf("%w: release custody: %v", ErrTransferFailed, err)
		}
		if settlement != nil {
			e.afterCommit(func() {
				e.metrics.RecordSettlement(SaleAuction.String(), settlement.Price, settlement.Fee)
			})
		}
		e.emit(NewAuctionFinalizedEvent(auction, settlement, caller))
		finalized = auction.Clone()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return finalized, settlement, nil
}
