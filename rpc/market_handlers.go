package rpc

import (
	"fmt"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"nhbmarket/core/types"
	"nhbmarket/crypto"
	"nhbmarket/native/market"
)

// mutate runs fn under the write lock.
func (s *Server) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *Server) saleID(w http.ResponseWriter, r *http.Request) ([32]byte, bool) {
	id, err := parseSaleID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, r, err)
		return id, false
	}
	return id, true
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	params, err := s.engine.Params()
	paused := s.engine.Paused()
	s.mu.RUnlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paramsFrom(params, paused))
}

func (s *Server) handleActiveListings(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	listings, err := s.engine.ActiveListings()
	s.mu.RUnlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	out := make([]listingJSON, 0, len(listings))
	for _, l := range listings {
		out = append(out, listingFrom(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := s.saleID(w, r)
	if !ok {
		return
	}
	s.mu.RLock()
	listing, err := s.engine.Listing(id)
	s.mu.RUnlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listingFrom(listing))
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var params createListingParams
	seller, ok := s.withCaller(w, r, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	asset, err := parseAsset(params.Collection, params.ItemID)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeBadRequest(w, r, fmt.Errorf("price: %w", err))
		return
	}
	var listing *market.Listing
	err = s.mutate(func() error {
		var opErr error
		listing, opErr = s.engine.CreateListing(seller, asset, price)
		return opErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, listingFrom(listing))
}

func (s *Server) handleCancelListing(w http.ResponseWriter, r *http.Request) {
	id, ok := s.saleID(w, r)
	if !ok {
		return
	}
	var params callerParams
	caller, ok := s.withCaller(w, r, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	var listing *market.Listing
	err := s.mutate(func() error {
		var opErr error
		listing, opErr = s.engine.CancelListing(id, caller)
		return opErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listingFrom(listing))
}

func (s *Server) handleBuyListing(w http.ResponseWriter, r *http.Request) {
	id, ok := s.saleID(w, r)
	if !ok {
		return
	}
	var params amountParams
	buyer, ok := s.withCaller(w, r, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	var settlement *market.Settlement
	err = s.mutate(func() error {
		var opErr error
		settlement, opErr = s.engine.BuyListing(id, buyer, amount)
		return opErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settlementFrom(settlement))
}

func (s *Server) handleActiveAuctions(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	auctions, err := s.engine.ActiveAuctions()
	now := s.engine.Now()
	s.mu.RUnlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	out := make([]auctionJSON, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, auctionFrom(a, now))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := s.saleID(w, r)
	if !ok {
		return
	}
	s.mu.RLock()
	auction, err := s.engine.Auction(id)
	now := s.engine.Now()
	s.mu.RUnlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auctionFrom(auction, now))
}

func (s *Server) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	var params createAuctionParams
	seller, ok := s.withCaller(w, r, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	asset, err := parseAsset(params.Collection, params.ItemID)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	startingBid, err := parseAmount(params.StartingBid)
	if err != nil {
		writeBadRequest(w, r, fmt.Errorf("startingBid: %w", err))
		return
	}
	if params.DurationSeconds > math.MaxInt64/int64(time.Second) {
		writeError(w, r, http.StatusBadRequest, "invalid_duration", "duration out of range", nil)
		return
	}
	duration := time.Duration(params.DurationSeconds) * time.Second
	var auction *market.Auction
	err = s.mutate(func() error {
		var opErr error
		auction, opErr = s.engine.CreateAuction(seller, asset, startingBid, duration)
		return opErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, auctionFrom(auction, s.engine.Now()))
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	id, ok := s.saleID(w, r)
	if !ok {
		return
	}
	var params amountParams
	bidder, ok := s.withCaller(w, r, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	var auction *market.Auction
	err = s.mutate(func() error {
		var opErr error
		auction, opErr = s.engine.PlaceBid(id, bidder, amount)
		return opErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auctionFrom(auction, s.engine.Now()))
}

func (s *Server) handleEndAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := s.saleID(w, r)
	if !ok {
		return
	}
	var params callerParams
	caller, ok := s.withCaller(w, r, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	var (
		auction    *market.Auction
		settlement *market.Settlement
	)
	err := s.mutate(func() error {
		var opErr error
		auction, settlement, opErr = s.engine.EndAuction(id, caller)
		return opErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, endAuctionJSON{
		Auction:    auctionFrom(auction, s.engine.Now()),
		Settlement: settlementFrom(settlement),
	})
}

func (s *Server) handleProceedsOf(w http.ResponseWriter, r *http.Request) {
	account, err := crypto.ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	s.mu.RLock()
	owed, err := s.engine.ProceedsOf(account)
	s.mu.RUnlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountJSON{Account: crypto.FormatAccount(account), Amount: owed.String()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var params callerParams
	caller, ok := s.withCaller(w, r, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	var paid *big.Int
	err := s.mutate(func() error {
		var opErr error
		paid, opErr = s.engine.WithdrawProceeds(caller)
		return opErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountJSON{Account: crypto.FormatAccount(caller), Amount: paid.String()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "event recorder not configured", nil)
		return
	}
	since, err := parseOffset(r.URL.Query().Get("since"))
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	batch, next := s.recorder.Since(since)
	if batch == nil {
		batch = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, eventsJSON{Events: batch, Next: next})
}
