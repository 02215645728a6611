package market

// Queries take no execution lock. They observe committed state only because
// every mutating call commits atomically.

// Listing returns a copy of the listing, active or not.
func (e *Engine) Listing(id [32]byte) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, ok, err := e.state.MarketListingGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || listing == nil {
		return nil, ErrNotFound
	}
	return listing.Clone(), nil
}

// Auction returns a copy of the auction, active or not.
func (e *Engine) Auction(id [32]byte) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	auction, ok, err := e.state.MarketAuctionGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || auction == nil {
		return nil, ErrNotFound
	}
	return auction.Clone(), nil
}

// ActiveListings returns the active listings in index order, which carries no
// meaning.
func (e *Engine) ActiveListings() ([]*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.MarketIndexList(SaleListing)
	if err != nil {
		return nil, err
	}
	out := make([]*Listing, 0, len(ids))
	for _, id := range ids {
		listing, ok, err := e.state.MarketListingGet(id)
		if err != nil {
			return nil, err
		}
		if ok && listing != nil {
			out = append(out, listing)
		}
	}
	return out, nil
}

// ActiveAuctions returns auctions that have not been finalized, including
// ones past their end time that still await EndAuction.
func (e *Engine) ActiveAuctions() ([]*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.MarketIndexList(SaleAuction)
	if err != nil {
		return nil, err
	}
	out := make([]*Auction, 0, len(ids))
	for _, id := range ids {
		auction, ok, err := e.state.MarketAuctionGet(id)
		if err != nil {
			return nil, err
		}
		if ok && auction != nil {
			out = append(out, auction)
		}
	}
	return out, nil
}

// Params returns the effective engine parameters.
func (e *Engine) Params() (Params, error) {
	if e == nil || e.state == nil {
		return Params{}, errNilState
	}
	return e.params()
}

// Paused reports whether mutating operations are currently rejected.
func (e *Engine) Paused() bool {
	return e.IsPaused(moduleName)
}

// Now exposes the engine clock so callers can derive auction status.
func (e *Engine) Now() int64 {
	return e.now()
}
