package market

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"nhbmarket/native/fees"
)

// SaleKind distinguishes the two sale registries sharing the asset lock.
type SaleKind uint8

const (
	SaleListing SaleKind = iota + 1
	SaleAuction
)

func (k SaleKind) Valid() bool {
	return k == SaleListing || k == SaleAuction
}

func (k SaleKind) String() string {
	switch k {
	case SaleListing:
		return "listing"
	case SaleAuction:
		return "auction"
	default:
		return "unknown"
	}
}

// AssetRef identifies a transferable item by collection and item id.
type AssetRef struct {
	Collection [20]byte
	ItemID     *big.Int
}

// NewAssetRef validates that the item id is a non-negative 256-bit integer.
func NewAssetRef(collection [20]byte, itemID *big.Int) (AssetRef, error) {
	if itemID == nil || itemID.Sign() < 0 {
		return AssetRef{}, fmt.Errorf("%w: item id must be non-negative", ErrInvalidInput)
	}
	if _, overflow := uint256.FromBig(itemID); overflow {
		return AssetRef{}, fmt.Errorf("%w: item id exceeds 256 bits", ErrInvalidInput)
	}
	return AssetRef{Collection: collection, ItemID: new(big.Int).Set(itemID)}, nil
}

// Key returns keccak256(collection || itemID as 32-byte big endian).
func (a AssetRef) Key() [32]byte {
	var item [32]byte
	if a.ItemID != nil && a.ItemID.Sign() > 0 {
		a.ItemID.FillBytes(item[:])
	}
	return ethcrypto.Keccak256Hash(a.Collection[:], item[:])
}

// Clone returns a copy with an independent item id.
func (a AssetRef) Clone() AssetRef {
	out := AssetRef{Collection: a.Collection, ItemID: big.NewInt(0)}
	if a.ItemID != nil {
		out.ItemID = new(big.Int).Set(a.ItemID)
	}
	return out
}

// Equal reports whether both references point at the same item.
func (a AssetRef) Equal(other AssetRef) bool {
	return a.Key() == other.Key()
}

func (a AssetRef) String() string {
	item := "0"
	if a.ItemID != nil {
		item = a.ItemID.String()
	}
	return "0x" + hex.EncodeToString(a.Collection[:]) + "/" + item
}

// Listing is a fixed-price sale of a single asset held in engine custody.
type Listing struct {
	ID        [32]byte
	Asset     AssetRef
	Seller    [20]byte
	Price     *big.Int
	Active    bool
	CreatedAt int64
	// Buyer is set once the listing settles.
	Buyer    [20]byte
	ClosedAt int64
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Asset = l.Asset.Clone()
	clone.Price = cloneBigInt(l.Price)
	return &clone
}

// AuctionStatus is the derived position of an auction in its lifecycle.
type AuctionStatus uint8

const (
	AuctionActive AuctionStatus = iota + 1
	AuctionEnded
	AuctionFinalized
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionActive:
		return "active"
	case AuctionEnded:
		return "ended"
	case AuctionFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Auction is an ascending-bid sale with a hard end time that may be pushed
// back by late bids.
type Auction struct {
	ID            [32]byte
	Asset         AssetRef
	Seller        [20]byte
	StartingBid   *big.Int
	HighestBid    *big.Int
	HighestBidder [20]byte
	EndTime       int64
	Active        bool
	Finalized     bool
	CreatedAt     int64
	BidCount      uint64
}

// Clone returns a deep copy of the auction.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Asset = a.Asset.Clone()
	clone.StartingBid = cloneBigInt(a.StartingBid)
	clone.HighestBid = cloneBigInt(a.HighestBid)
	return &clone
}

// HasBids reports whether a highest bidder is recorded.
func (a *Auction) HasBids() bool {
	return a != nil && !isZeroAddress(a.HighestBidder)
}

// Status derives the lifecycle position at the supplied time.
func (a *Auction) Status(now int64) AuctionStatus {
	switch {
	case a.Finalized:
		return AuctionFinalized
	case now >= a.EndTime:
		return AuctionEnded
	default:
		return AuctionActive
	}
}

// MinimumBid returns the smallest amount PlaceBid would accept.
func (a *Auction) MinimumBid() *big.Int {
	if !a.HasBids() {
		return cloneBigInt(a.StartingBid)
	}
	return new(big.Int).Add(a.HighestBid, big.NewInt(1))
}

// Settlement summarises a completed sale.
type Settlement struct {
	SaleID   [32]byte
	Kind     SaleKind
	Asset    AssetRef
	Seller   [20]byte
	Buyer    [20]byte
	Price    *big.Int
	Fee      *big.Int
	Proceeds *big.Int
}

// Params is the administrator-controlled engine configuration.
type Params struct {
	FeeRateBps   uint32
	MinDuration  time.Duration
	MaxDuration  time.Duration
	GraceWindow  time.Duration
	Admin        [20]byte
	FeeRecipient [20]byte
}

// DefaultParams mirrors the reference marketplace deployment: 2.5% fee,
// auctions between one hour and thirty days, five minute anti-sniping window.
func DefaultParams(admin [20]byte) Params {
	return Params{
		FeeRateBps:   250,
		MinDuration:  time.Hour,
		MaxDuration:  30 * 24 * time.Hour,
		GraceWindow:  5 * time.Minute,
		Admin:        admin,
		FeeRecipient: admin,
	}
}

// Validate checks the parameter bounds.
func (p Params) Validate() error {
	if err := fees.ValidateRate(p.FeeRateBps); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFeeRate, err)
	}
	if isZeroAddress(p.Admin) {
		return fmt.Errorf("%w: admin address required", ErrInvalidInput)
	}
	if p.MinDuration <= 0 || p.MinDuration%time.Second != 0 || p.MaxDuration%time.Second != 0 {
		return fmt.Errorf("%w: durations must be positive whole seconds", ErrInvalidDuration)
	}
	if p.MinDuration > p.MaxDuration {
		return fmt.Errorf("%w: min duration %s exceeds max %s", ErrInvalidDuration, p.MinDuration, p.MaxDuration)
	}
	if p.GraceWindow < 0 || p.GraceWindow%time.Second != 0 {
		return fmt.Errorf("%w: grace window must be non-negative whole seconds", ErrInvalidDuration)
	}
	return nil
}

// feeRecipient falls back to the administrator when no recipient is set.
func (p Params) feeRecipient() [20]byte {
	if isZeroAddress(p.FeeRecipient) {
		return p.Admin
	}
	return p.FeeRecipient
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func isZeroAddress(addr [20]byte) bool {
	var zero [20]byte
	return addr == zero
}
