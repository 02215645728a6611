package state

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"nhbmarket/native/market"
)

var (
	marketListingPrefix = []byte("market/listing/")
	marketAuctionPrefix = []byte("market/auction/")
	marketBalancePrefix = []byte("market/balance/")
	marketAssetPrefix   = []byte("market/asset/")
	marketIndexPrefix   = []byte("market/index/")
	marketParamsKey     = kvKey([]byte("market/params"))
	marketNonceKey      = kvKey([]byte("market/nonce"))
	marketPausedKey     = kvKey([]byte("market/paused"))
)

func marketListingKey(id [32]byte) []byte { return prefixedKey(marketListingPrefix, id[:]) }

func marketAuctionKey(id [32]byte) []byte { return prefixedKey(marketAuctionPrefix, id[:]) }

func marketBalanceKey(addr [20]byte) []byte { return prefixedKey(marketBalancePrefix, addr[:]) }

func marketAssetKey(asset market.AssetRef) []byte {
	key := asset.Key()
	return prefixedKey(marketAssetPrefix, key[:])
}

func marketIndexLenKey(kind market.SaleKind) []byte {
	return prefixedKey(marketIndexPrefix, []byte(kind.String()), []byte("/len"))
}

func marketIndexAtKey(kind market.SaleKind, pos uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], pos)
	return prefixedKey(marketIndexPrefix, []byte(kind.String()), []byte("/at/"), buf[:])
}

func marketIndexPosKey(kind market.SaleKind, id [32]byte) []byte {
	return prefixedKey(marketIndexPrefix, []byte(kind.String()), []byte("/pos/"), id[:])
}

type storedListing struct {
	ID         [32]byte
	Collection [20]byte
	ItemID     *big.Int
	Seller     [20]byte
	Price      *big.Int
	Active     bool
	CreatedAt  uint64
	Buyer      [20]byte
	ClosedAt   uint64
}

func newStoredListing(l *market.Listing) *storedListing {
	return &storedListing{
		ID:         l.ID,
		Collection: l.Asset.Collection,
		ItemID:     nonNil(l.Asset.ItemID),
		Seller:     l.Seller,
		Price:      nonNil(l.Price),
		Active:     l.Active,
		CreatedAt:  uint64(l.CreatedAt),
		Buyer:      l.Buyer,
		ClosedAt:   uint64(l.ClosedAt),
	}
}

func (s *storedListing) toListing() (*market.Listing, error) {
	if s == nil {
		return nil, fmt.Errorf("market: nil listing record")
	}
	asset, err := market.NewAssetRef(s.Collection, nonNil(s.ItemID))
	if err != nil {
		return nil, err
	}
	if s.Price == nil || s.Price.Sign() <= 0 {
		return nil, fmt.Errorf("market: stored listing has invalid price")
	}
	return &market.Listing{
		ID:        s.ID,
		Asset:     asset,
		Seller:    s.Seller,
		Price:     new(big.Int).Set(s.Price),
		Active:    s.Active,
		CreatedAt: int64(s.CreatedAt),
		Buyer:     s.Buyer,
		ClosedAt:  int64(s.ClosedAt),
	}, nil
}

type storedAuction struct {
	ID            [32]byte
	Collection    [20]byte
	ItemID        *big.Int
	Seller        [20]byte
	StartingBid   *big.Int
	HighestBid    *big.Int
	HighestBidder [20]byte
	EndTime       uint64
	Active        bool
	Finalized     bool
	CreatedAt     uint64
	BidCount      uint64
}

func newStoredAuction(a *market.Auction) *storedAuction {
	return &storedAuction{
		ID:            a.ID,
		Collection:    a.Asset.Collection,
		ItemID:        nonNil(a.Asset.ItemID),
		Seller:        a.Seller,
		StartingBid:   nonNil(a.StartingBid),
		HighestBid:    nonNil(a.HighestBid),
		HighestBidder: a.HighestBidder,
		EndTime:       uint64(a.EndTime),
		Active:        a.Active,
		Finalized:     a.Finalized,
		CreatedAt:     uint64(a.CreatedAt),
		BidCount:      a.BidCount,
	}
}

func (s *storedAuction) toAuction() (*market.Auction, error) {
	if s == nil {
		return nil, fmt.Errorf("market: nil auction record")
	}
	asset, err := market.NewAssetRef(s.Collection, nonNil(s.ItemID))
	if err != nil {
		return nil, err
	}
	if s.StartingBid == nil || s.StartingBid.Sign() <= 0 {
		return nil, fmt.Errorf("market: stored auction has invalid starting bid")
	}
	if s.Finalized && s.Active {
		return nil, fmt.Errorf("market: stored auction is both active and finalized")
	}
	return &market.Auction{
		ID:            s.ID,
		Asset:         asset,
		Seller:        s.Seller,
		StartingBid:   new(big.Int).Set(s.StartingBid),
		HighestBid:    nonNil(s.HighestBid),
		HighestBidder: s.HighestBidder,
		EndTime:       int64(s.EndTime),
		Active:        s.Active,
		Finalized:     s.Finalized,
		CreatedAt:     int64(s.CreatedAt),
		BidCount:      s.BidCount,
	}, nil
}

type storedParams struct {
	FeeRateBps   uint32
	MinDuration  uint64
	MaxDuration  uint64
	GraceWindow  uint64
	Admin        [20]byte
	FeeRecipient [20]byte
}

// MarketListingPut stores the listing record.
func (m *Manager) MarketListingPut(listing *market.Listing) error {
	if listing == nil {
		return fmt.Errorf("market: nil listing")
	}
	return m.encode(marketListingKey(listing.ID), newStoredListing(listing))
}

// MarketListingGet loads a listing record.
func (m *Manager) MarketListingGet(id [32]byte) (*market.Listing, bool, error) {
	stored := new(storedListing)
	ok, err := m.decode(marketListingKey(id), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	listing, err := stored.toListing()
	if err != nil {
		return nil, false, err
	}
	return listing, true, nil
}

// MarketAuctionPut stores the auction record.
func (m *Manager) MarketAuctionPut(auction *market.Auction) error {
	if auction == nil {
		return fmt.Errorf("market: nil auction")
	}
	return m.encode(marketAuctionKey(auction.ID), newStoredAuction(auction))
}

// MarketAuctionGet loads an auction record.
func (m *Manager) MarketAuctionGet(id [32]byte) (*market.Auction, bool, error) {
	stored := new(storedAuction)
	ok, err := m.decode(marketAuctionKey(id), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	auction, err := stored.toAuction()
	if err != nil {
		return nil, false, err
	}
	return auction, true, nil
}

// MarketAssetSaleGet returns the sale currently holding the asset.
func (m *Manager) MarketAssetSaleGet(asset market.AssetRef) ([32]byte, bool, error) {
	var id [32]byte
	ok, err := m.decode(marketAssetKey(asset), &id)
	if err != nil || !ok {
		return [32]byte{}, false, err
	}
	return id, true, nil
}

// MarketAssetSalePut records the sale holding the asset.
func (m *Manager) MarketAssetSalePut(asset market.AssetRef, id [32]byte) error {
	return m.encode(marketAssetKey(asset), id)
}

// MarketAssetSaleDelete releases the asset lock.
func (m *Manager) MarketAssetSaleDelete(asset market.AssetRef) error {
	m.remove(marketAssetKey(asset))
	return nil
}

// MarketIndexAdd appends the identifier to the kind's active index. Adding an
// identifier twice is a no-op.
func (m *Manager) MarketIndexAdd(kind market.SaleKind, id [32]byte) error {
	if !kind.Valid() {
		return fmt.Errorf("market: invalid sale kind %d", kind)
	}
	pos, err := m.loadUint64(marketIndexPosKey(kind, id))
	if err != nil {
		return err
	}
	if pos != 0 {
		return nil
	}
	length, err := m.loadUint64(marketIndexLenKey(kind))
	if err != nil {
		return err
	}
	if err := m.encode(marketIndexAtKey(kind, length), id); err != nil {
		return err
	}
	// Positions are stored one-based so the zero value means absent.
	if err := m.encode(marketIndexPosKey(kind, id), length+1); err != nil {
		return err
	}
	return m.encode(marketIndexLenKey(kind), length+1)
}

// MarketIndexRemove drops the identifier by moving the last element into its
// slot. Removing an absent identifier is a no-op.
func (m *Manager) MarketIndexRemove(kind market.SaleKind, id [32]byte) error {
	if !kind.Valid() {
		return fmt.Errorf("market: invalid sale kind %d", kind)
	}
	pos, err := m.loadUint64(marketIndexPosKey(kind, id))
	if err != nil {
		return err
	}
	if pos == 0 {
		return nil
	}
	length, err := m.loadUint64(marketIndexLenKey(kind))
	if err != nil {
		return err
	}
	if length == 0 || pos > length {
		return fmt.Errorf("market: %s index corrupted", kind)
	}
	slot := pos - 1
	last := length - 1
	if slot != last {
		var moved [32]byte
		ok, err := m.decode(marketIndexAtKey(kind, last), &moved)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("market: %s index corrupted", kind)
		}
		if err := m.encode(marketIndexAtKey(kind, slot), moved); err != nil {
			return err
		}
		if err := m.encode(marketIndexPosKey(kind, moved), slot+1); err != nil {
			return err
		}
	}
	m.remove(marketIndexAtKey(kind, last))
	m.remove(marketIndexPosKey(kind, id))
	return m.encode(marketIndexLenKey(kind), last)
}

// MarketIndexList returns the identifiers in the kind's active index.
func (m *Manager) MarketIndexList(kind market.SaleKind) ([][32]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("market: invalid sale kind %d", kind)
	}
	length, err := m.loadUint64(marketIndexLenKey(kind))
	if err != nil {
		return nil, err
	}
	out := make([][32]byte, 0, length)
	for i := uint64(0); i < length; i++ {
		var id [32]byte
		ok, err := m.decode(marketIndexAtKey(kind, i), &id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("market: %s index corrupted at %d", kind, i)
		}
		out = append(out, id)
	}
	return out, nil
}

// MarketBalanceGet returns the account's withdrawable balance.
func (m *Manager) MarketBalanceGet(addr [20]byte) (*big.Int, error) {
	return m.loadBigInt(marketBalanceKey(addr))
}

// MarketBalancePut stores the account's withdrawable balance. Zero balances
// are deleted.
func (m *Manager) MarketBalancePut(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		m.remove(marketBalanceKey(addr))
		return nil
	}
	return m.writeBigInt(marketBalanceKey(addr), amount)
}

// MarketParamsGet loads the engine parameters.
func (m *Manager) MarketParamsGet() (*market.Params, bool, error) {
	stored := new(storedParams)
	ok, err := m.decode(marketParamsKey, stored)
	if err != nil || !ok {
		return nil, false, err
	}
	params := &market.Params{
		FeeRateBps:   stored.FeeRateBps,
		MinDuration:  time.Duration(stored.MinDuration) * time.Second,
		MaxDuration:  time.Duration(stored.MaxDuration) * time.Second,
		GraceWindow:  time.Duration(stored.GraceWindow) * time.Second,
		Admin:        stored.Admin,
		FeeRecipient: stored.FeeRecipient,
	}
	return params, true, nil
}

// MarketParamsPut stores the engine parameters. Durations are kept at second
// resolution.
func (m *Manager) MarketParamsPut(params *market.Params) error {
	if params == nil {
		return fmt.Errorf("market: nil params")
	}
	return m.encode(marketParamsKey, &storedParams{
		FeeRateBps:   params.FeeRateBps,
		MinDuration:  uint64(params.MinDuration / time.Second),
		MaxDuration:  uint64(params.MaxDuration / time.Second),
		GraceWindow:  uint64(params.GraceWindow / time.Second),
		Admin:        params.Admin,
		FeeRecipient: params.FeeRecipient,
	})
}

// MarketPausedGet reports the administrator pause flag.
func (m *Manager) MarketPausedGet() (bool, error) {
	var paused bool
	if _, err := m.decode(marketPausedKey, &paused); err != nil {
		return false, err
	}
	return paused, nil
}

// MarketPausedPut stores the administrator pause flag.
func (m *Manager) MarketPausedPut(paused bool) error {
	return m.encode(marketPausedKey, paused)
}

// MarketNextNonce returns the current identifier nonce and advances it.
func (m *Manager) MarketNextNonce() (uint64, error) {
	current, err := m.loadUint64(marketNonceKey)
	if err != nil {
		return 0, err
	}
	if err := m.encode(marketNonceKey, current+1); err != nil {
		return 0, err
	}
	return current, nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
