package market

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"nhbmarket/core/events"
	"nhbmarket/core/types"
	"nhbmarket/crypto"
)

const (
	EventTypeListingCreated      = "market.listing.created"
	EventTypeListingCancelled    = "market.listing.cancelled"
	EventTypeListingSold         = "market.listing.sold"
	EventTypeAuctionCreated      = "market.auction.created"
	EventTypeAuctionBid          = "market.auction.bid"
	EventTypeAuctionFinalized    = "market.auction.finalized"
	EventTypeProceedsWithdrawn   = "market.proceeds.withdrawn"
	EventTypeFeeRateUpdated      = "market.fee_rate.updated"
	EventTypeFeeRecipientUpdated = "market.fee_recipient.updated"
	EventTypeAdminTransferred    = "market.admin.transferred"
	EventTypePaused              = "market.paused"
	EventTypeUnpaused            = "market.unpaused"
)

const noneAddress = "none"

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return marketEvent{evt: evt} }

func formatID(id [32]byte) string {
	return hex.EncodeToString(id[:])
}

func formatAddr(addr [20]byte) string {
	if isZeroAddress(addr) {
		return noneAddress
	}
	return crypto.FormatAccount(addr)
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func assetAttrs(attrs map[string]string, asset AssetRef) {
	attrs["collection"] = "0x" + hex.EncodeToString(asset.Collection[:])
	attrs["itemId"] = formatAmount(asset.ItemID)
}

// NewListingCreatedEvent returns the canonical payload for a new listing.
func NewListingCreatedEvent(l *Listing) *types.Event {
	attrs := map[string]string{
		"id":        formatID(l.ID),
		"seller":    formatAddr(l.Seller),
		"price":     formatAmount(l.Price),
		"createdAt": strconv.FormatInt(l.CreatedAt, 10),
	}
	assetAttrs(attrs, l.Asset)
	return &types.Event{Type: EventTypeListingCreated, Attributes: attrs}
}

// NewListingCancelledEvent returns the payload emitted when the seller or an
// administrator withdraws a listing.
func NewListingCancelledEvent(l *Listing, caller [20]byte) *types.Event {
	attrs := map[string]string{
		"id":          formatID(l.ID),
		"seller":      formatAddr(l.Seller),
		"cancelledBy": formatAddr(caller),
	}
	assetAttrs(attrs, l.Asset)
	return &types.Event{Type: EventTypeListingCancelled, Attributes: attrs}
}

// NewListingSoldEvent returns the settlement payload for a fixed-price sale.
func NewListingSoldEvent(s *Settlement) *types.Event {
	attrs := settlementAttrs(s)
	attrs["buyer"] = formatAddr(s.Buyer)
	return &types.Event{Type: EventTypeListingSold, Attributes: attrs}
}

// NewAuctionCreatedEvent returns the canonical payload for a new auction.
func NewAuctionCreatedEvent(a *Auction) *types.Event {
	attrs := map[string]string{
		"id":          formatID(a.ID),
		"seller":      formatAddr(a.Seller),
		"startingBid": formatAmount(a.StartingBid),
		"endTime":     strconv.FormatInt(a.EndTime, 10),
		"createdAt":   strconv.FormatInt(a.CreatedAt, 10),
	}
	assetAttrs(attrs, a.Asset)
	return &types.Event{Type: EventTypeAuctionCreated, Attributes: attrs}
}

// NewAuctionBidEvent returns the payload for an accepted bid. The refunded
// bidder and amount are present when a previous highest bid was displaced.
func NewAuctionBidEvent(a *Auction, previousBidder [20]byte, previousBid *big.Int, extended bool) *types.Event {
	attrs := map[string]string{
		"id":          formatID(a.ID),
		"seller":      formatAddr(a.Seller),
		"bidder":      formatAddr(a.HighestBidder),
		"amount":      formatAmount(a.HighestBid),
		"endTime":     strconv.FormatInt(a.EndTime, 10),
		"extended":    strconv.FormatBool(extended),
		"refundedTo":  formatAddr(previousBidder),
		"refundedBid": formatAmount(previousBid),
	}
	assetAttrs(attrs, a.Asset)
	return &types.Event{Type: EventTypeAuctionBid, Attributes: attrs}
}

// NewAuctionFinalizedEvent returns the payload for a finalized auction. The
// winner is "none" and the amount zero when no bids were placed.
func NewAuctionFinalizedEvent(a *Auction, s *Settlement, caller [20]byte) *types.Event {
	attrs := map[string]string{
		"id":          formatID(a.ID),
		"seller":      formatAddr(a.Seller),
		"winner":      noneAddress,
		"amount":      "0",
		"fee":         "0",
		"proceeds":    "0",
		"finalizedBy": formatAddr(caller),
	}
	if s != nil {
		attrs["winner"] = formatAddr(s.Buyer)
		attrs["amount"] = formatAmount(s.Price)
		attrs["fee"] = formatAmount(s.Fee)
		attrs["proceeds"] = formatAmount(s.Proceeds)
	}
	assetAttrs(attrs, a.Asset)
	return &types.Event{Type: EventTypeAuctionFinalized, Attributes: attrs}
}

// NewProceedsWithdrawnEvent returns the payload for a ledger payout.
func NewProceedsWithdrawnEvent(account [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeProceedsWithdrawn,
		Attributes: map[string]string{
			"account": formatAddr(account),
			"amount":  formatAmount(amount),
		},
	}
}

// NewFeeRateUpdatedEvent records an administrator fee change.
func NewFeeRateUpdatedEvent(previous, next uint32) *types.Event {
	return &types.Event{
		Type: EventTypeFeeRateUpdated,
		Attributes: map[string]string{
			"previousBps": strconv.FormatUint(uint64(previous), 10),
			"feeRateBps":  strconv.FormatUint(uint64(next), 10),
		},
	}
}

// NewFeeRecipientUpdatedEvent records a change of the fee destination.
func NewFeeRecipientUpdatedEvent(previous, next [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeFeeRecipientUpdated,
		Attributes: map[string]string{
			"previous":  formatAddr(previous),
			"recipient": formatAddr(next),
		},
	}
}

// NewAdminTransferredEvent records a hand-over of administrator rights.
func NewAdminTransferredEvent(previous, next [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeAdminTransferred,
		Attributes: map[string]string{
			"previous": formatAddr(previous),
			"admin":    formatAddr(next),
		},
	}
}

// NewPauseEvent records a pause toggle.
func NewPauseEvent(paused bool, caller [20]byte) *types.Event {
	eventType := EventTypeUnpaused
	if paused {
		eventType = EventTypePaused
	}
	return &types.Event{
		Type:       eventType,
		Attributes: map[string]string{"account": formatAddr(caller)},
	}
}

func settlementAttrs(s *Settlement) map[string]string {
	attrs := map[string]string{
		"id":       formatID(s.SaleID),
		"seller":   formatAddr(s.Seller),
		"price":    formatAmount(s.Price),
		"fee":      formatAmount(s.Fee),
		"proceeds": formatAmount(s.Proceeds),
	}
	assetAttrs(attrs, s.Asset)
	return attrs
}
