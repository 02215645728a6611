package market

import (
	"fmt"
	"math/big"

	"nhbmarket/native/fees"
)

// CreateListing takes custody of the asset and opens a fixed-price sale.
func (e *Engine) CreateListing(seller [20]byte, asset AssetRef, price *big.Int) (*Listing, error) {
	var created *Listing
	err := e.execute("create_listing", true, func() error {
		if err := e.requireCollaborators(true, false); err != nil {
			return err
		}
		if isZeroAddress(seller) {
			return fmt.Errorf("%w: seller required", ErrInvalidInput)
		}
		if !validPositive(price) {
			return ErrInvalidPrice
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
		if _, exists, err := e.state.MarketListingGet(id); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: listing id collision", ErrInvalidInput)
		}
		listing := &Listing{
			ID:        id,
			Asset:     normalized,
			Seller:    seller,
			Price:     new(big.Int).Set(price),
			Active:    true,
			CreatedAt: now,
		}
		if err := e.state.MarketListingPut(listing); err != nil {
			return err
		}
		if err := e.state.MarketAssetSalePut(normalized, id); err != nil {
			return err
		}
		if err := e.state.MarketIndexAdd(SaleListing, id); err != nil {
			return err
		}
		if err := e.custody.TakeCustody(normalized.Clone(), seller); err != nil {
			return fmt.Errorf("%w: take custody: %v", ErrTransferFailed, err)
		}
		e.emit(NewListingCreatedEvent(listing))
		created = listing.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CancelListing withdraws an active listing and returns the asset to the
// seller. Only the seller or the administrator may cancel.
func (e *Engine) CancelListing(id [32]byte, caller [20]byte) (*Listing, error) {
	var cancelled *Listing
	err := e.execute("cancel_listing", true, func() error {
		if err := e.requireCollaborators(true, false); err != nil {
			return err
		}
		listing, err := e.activeListing(id)
		if err != nil {
			return err
		}
		params, err := e.params()
		if err != nil {
			return err
		}
		if caller != listing.Seller && caller != params.Admin {
			return ErrUnauthorized
		}
		listing.Active = false
		listing.ClosedAt = e.now()
		if err := e.closeListing(listing); err != nil {
			return err
		}
		if err := e.custody.ReleaseCustody(listing.Asset.Clone(), listing.Seller); err != nil {
			return fmt.Errorf("%w: release custody: %v", ErrTransferFailed, err)
		}
		e.emit(NewListingCancelledEvent(listing, caller))
		cancelled = listing.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// BuyListing settles a listing at exactly its price. The tendered value is
// collected into the vault, the fee split is credited to the ledger and the
// asset moves to the buyer.
func (e *Engine) BuyListing(id [32]byte, buyer [20]byte, tendered *big.Int) (*Settlement, error) {
	var settled *Settlement
	err := e.execute("buy_listing", true, func() error {
		if err := e.requireCollaborators(true, true); err != nil {
			return err
		}
		if isZeroAddress(buyer) {
			return fmt.Errorf("%w: buyer required", ErrInvalidInput)
		}
		listing, err := e.activeListing(id)
		if err != nil {
			return err
		}
		if tendered == nil || tendered.Cmp(listing.Price) != 0 {
			return fmt.Errorf("%w: tendered %s, price %s", ErrInvalidPrice, formatAmount(tendered), listing.Price)
		}
		params, err := e.params()
		if err != nil {
			return err
		}
		listing.Active = false
		listing.Buyer = buyer
		listing.ClosedAt = e.now()
		if err := e.closeListing(listing); err != nil {
			return err
		}
		settlement, err := e.settle(params, listing.ID, SaleListing, listing.Asset, listing.Seller, buyer, listing.Price)
		if err != nil {
			return err
		}
		if err := e.vault.Collect(buyer, new(big.Int).Set(tendered)); err != nil {
			return fmt.Errorf("%w: collect payment: %v", ErrTransferFailed, err)
		}
		if err := e.custody.ReleaseCustody(listing.Asset.Clone(), buyer); err != nil {
			return fmt.Errorf("%w: release custody: %v", ErrTransferFailed, err)
		}
		e.afterCommit(func() {
			e.metrics.RecordSettlement(SaleListing.String(), settlement.Price, settlement.Fee)
		})
		e.emit(NewListingSoldEvent(settlement))
		settled = settlement
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

func (e *Engine) activeListing(id [32]byte) (*Listing, error) {
	listing, ok, err := e.state.MarketListingGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || listing == nil {
		return nil, ErrNotFound
	}
	if !listing.Active {
		return nil, ErrNotActive
	}
	return listing, nil
}

// closeListing persists a deactivated listing and drops it from the index and
// the asset lock.
func (e *Engine) closeListing(listing *Listing) error {
	if err := e.state.MarketListingPut(listing); err != nil {
		return err
	}
	if err := e.state.MarketIndexRemove(SaleListing, listing.ID); err != nil {
		return err
	}
	return e.state.MarketAssetSaleDelete(listing.Asset)
}

// settle computes the fee split for a completed sale and credits the seller
// and the fee recipient.
func (e *Engine) settle(params Params, saleID [32]byte, kind SaleKind, asset AssetRef, seller, buyer [20]byte, price *big.Int) (*Settlement, error) {
	split := fees.Split(price, params.FeeRateBps)
	if err := e.credit(seller, split.Proceeds); err != nil {
		return nil, err
	}
	if err := e.credit(params.feeRecipient(), split.Fee); err != nil {
		return nil, err
	}
	return &Settlement{
		SaleID:   saleID,
		Kind:     kind,
		Asset:    asset.Clone(),
		Seller:   seller,
		Buyer:    buyer,
		Price:    split.Gross,
		Fee:      split.Fee,
		Proceeds: split.Proceeds,
	}, nil
}
