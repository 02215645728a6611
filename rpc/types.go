package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"nhbmarket/core/types"
	"nhbmarket/crypto"
	"nhbmarket/native/market"
)

type listingJSON struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	ItemID     string `json:"itemId"`
	Seller     string `json:"seller"`
	Price      string `json:"price"`
	Active     bool   `json:"active"`
	CreatedAt  int64  `json:"createdAt"`
	Buyer      string `json:"buyer,omitempty"`
	ClosedAt   int64  `json:"closedAt,omitempty"`
}

type auctionJSON struct {
	ID            string `json:"id"`
	Collection    string `json:"collection"`
	ItemID        string `json:"itemId"`
	Seller        string `json:"seller"`
	StartingBid   string `json:"startingBid"`
	HighestBid    string `json:"highestBid"`
	HighestBidder string `json:"highestBidder,omitempty"`
	MinimumBid    string `json:"minimumBid"`
	EndTime       int64  `json:"endTime"`
	Status        string `json:"status"`
	BidCount      uint64 `json:"bidCount"`
	CreatedAt     int64  `json:"createdAt"`
}

type settlementJSON struct {
	SaleID     string `json:"saleId"`
	Kind       string `json:"kind"`
	Collection string `json:"collection"`
	ItemID     string `json:"itemId"`
	Seller     string `json:"seller"`
	Buyer      string `json:"buyer"`
	Price      string `json:"price"`
	Fee        string `json:"fee"`
	Proceeds   string `json:"proceeds"`
}

type paramsJSON struct {
	FeeRateBps         uint32 `json:"feeRateBps"`
	MinDurationSeconds int64  `json:"minDurationSeconds"`
	MaxDurationSeconds int64  `json:"maxDurationSeconds"`
	GraceWindowSeconds int64  `json:"graceWindowSeconds"`
	Admin              string `json:"admin"`
	FeeRecipient       string `json:"feeRecipient"`
	Paused             bool   `json:"paused"`
}

type endAuctionJSON struct {
	Auction    auctionJSON     `json:"auction"`
	Settlement *settlementJSON `json:"settlement,omitempty"`
}

type amountJSON struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type ownerJSON struct {
	Collection string `json:"collection"`
	ItemID     string `json:"itemId"`
	Owner      string `json:"owner"`
}

type eventsJSON struct {
	Events []*types.Event `json:"events"`
	Next   int            `json:"next"`
}

// Request bodies. Caller is only honoured when bearer auth is disabled; with
// auth enabled it must be empty or match the token subject.
type createListingParams struct {
	Caller     string `json:"caller,omitempty"`
	Collection string `json:"collection"`
	ItemID     string `json:"itemId"`
	Price      string `json:"price"`
}

type createAuctionParams struct {
	Caller          string `json:"caller,omitempty"`
	Collection      string `json:"collection"`
	ItemID          string `json:"itemId"`
	StartingBid     string `json:"startingBid"`
	DurationSeconds int64  `json:"durationSeconds"`
}

type amountParams struct {
	Caller string `json:"caller,omitempty"`
	Amount string `json:"amount"`
}

type callerParams struct {
	Caller string `json:"caller,omitempty"`
}

type feeRateParams struct {
	Caller string `json:"caller,omitempty"`
	Bps    uint32 `json:"bps"`
}

type addressParams struct {
	Caller  string `json:"caller,omitempty"`
	Address string `json:"address"`
}

type faucetParams struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type mintParams struct {
	Collection string `json:"collection"`
	ItemID     string `json:"itemId"`
	Owner      string `json:"owner"`
}

type assetTransferParams struct {
	Caller     string `json:"caller,omitempty"`
	Collection string `json:"collection"`
	ItemID     string `json:"itemId"`
	To         string `json:"to"`
}

func formatSaleID(id [32]byte) string {
	return hex.EncodeToString(id[:])
}

func parseSaleID(value string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("invalid id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("id must be 32 bytes, got %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func formatOptionalAddr(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.FormatAccount(addr)
}

func formatCollection(collection [20]byte) string {
	return "0x" + hex.EncodeToString(collection[:])
}

// parseAmount accepts a base-10 integer. Sign checks are left to the engine so
// the error category matches the operation.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func parseAsset(collection, itemID string) (market.AssetRef, error) {
	addr, err := crypto.ParseAccount(collection)
	if err != nil {
		return market.AssetRef{}, fmt.Errorf("collection: %w", err)
	}
	item, err := parseAmount(itemID)
	if err != nil {
		return market.AssetRef{}, fmt.Errorf("itemId: %w", err)
	}
	return market.NewAssetRef(addr, item)
}

func listingFrom(l *market.Listing) listingJSON {
	return listingJSON{
		ID:         formatSaleID(l.ID),
		Collection: formatCollection(l.Asset.Collection),
		ItemID:     l.Asset.ItemID.String(),
		Seller:     crypto.FormatAccount(l.Seller),
		Price:      l.Price.String(),
		Active:     l.Active,
		CreatedAt:  l.CreatedAt,
		Buyer:      formatOptionalAddr(l.Buyer),
		ClosedAt:   l.ClosedAt,
	}
}

func auctionFrom(a *market.Auction, now int64) auctionJSON {
	return auctionJSON{
		ID:            formatSaleID(a.ID),
		Collection:    formatCollection(a.Asset.Collection),
		ItemID:        a.Asset.ItemID.String(),
		Seller:        crypto.FormatAccount(a.Seller),
		StartingBid:   a.StartingBid.String(),
		HighestBid:    a.HighestBid.String(),
		HighestBidder: formatOptionalAddr(a.HighestBidder),
		MinimumBid:    a.MinimumBid().String(),
		EndTime:       a.EndTime,
		Status:        a.Status(now).String(),
		BidCount:      a.BidCount,
		CreatedAt:     a.CreatedAt,
	}
}

func settlementFrom(s *market.Settlement) *settlementJSON {
	if s == nil {
		return nil
	}
	return &settlementJSON{
		SaleID:     formatSaleID(s.SaleID),
		Kind:       s.Kind.String(),
		Collection: formatCollection(s.Asset.Collection),
		ItemID:     s.Asset.ItemID.String(),
		Seller:     crypto.FormatAccount(s.Seller),
		Buyer:      crypto.FormatAccount(s.Buyer),
		Price:      s.Price.String(),
		Fee:        s.Fee.String(),
		Proceeds:   s.Proceeds.String(),
	}
}

func paramsFrom(p market.Params, paused bool) paramsJSON {
	recipient := p.FeeRecipient
	if recipient == ([20]byte{}) {
		recipient = p.Admin
	}
	return paramsJSON{
		FeeRateBps:         p.FeeRateBps,
		MinDurationSeconds: int64(p.MinDuration.Seconds()),
		MaxDurationSeconds: int64(p.MaxDuration.Seconds()),
		GraceWindowSeconds: int64(p.GraceWindow.Seconds()),
		Admin:              crypto.FormatAccount(p.Admin),
		FeeRecipient:       crypto.FormatAccount(recipient),
		Paused:             paused,
	}
}

func parseOffset(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(trimmed)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid offset %q", value)
	}
	return offset, nil
}
