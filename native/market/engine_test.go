package market

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nhbmarket/core/events"
	"nhbmarket/core/types"
	"nhbmarket/native/common"
	"nhbmarket/observability"
)

type mockState struct {
	listings   map[[32]byte]*Listing
	auctions   map[[32]byte]*Auction
	assetSales map[[32]byte][32]byte
	index      map[SaleKind][][32]byte
	balances   map[[20]byte]*big.Int
	params     *Params
	paused     bool
	nonce      uint64

	// owners and funds back the mock custody and vault so that their effects
	// are rewound together with the engine's own writes.
	owners map[[32]byte][20]byte
	funds  map[[20]byte]*big.Int

	snapshots  []*mockState
	calls      int
	commits    int
	failCommit error
}

func newMockState() *mockState {
	return &mockState{
		listings:   make(map[[32]byte]*Listing),
		auctions:   make(map[[32]byte]*Auction),
		assetSales: make(map[[32]byte][32]byte),
		index:      make(map[SaleKind][][32]byte),
		balances:   make(map[[20]byte]*big.Int),
		owners:     make(map[[32]byte][20]byte),
		funds:      make(map[[20]byte]*big.Int),
	}
}

func (m *mockState) clone() *mockState {
	out := newMockState()
	for id, l := range m.listings {
		out.listings[id] = l.Clone()
	}
	for id, a := range m.auctions {
		out.auctions[id] = a.Clone()
	}
	for k, v := range m.assetSales {
		out.assetSales[k] = v
	}
	for kind, ids := range m.index {
		out.index[kind] = append([][32]byte(nil), ids...)
	}
	for addr, bal := range m.balances {
		out.balances[addr] = new(big.Int).Set(bal)
	}
	if m.params != nil {
		p := *m.params
		out.params = &p
	}
	out.paused = m.paused
	out.nonce = m.nonce
	for k, v := range m.owners {
		out.owners[k] = v
	}
	for addr, bal := range m.funds {
		out.funds[addr] = new(big.Int).Set(bal)
	}
	return out
}

func (m *mockState) restore(src *mockState) {
	m.listings = src.listings
	m.auctions = src.auctions
	m.assetSales = src.assetSales
	m.index = src.index
	m.balances = src.balances
	m.params = src.params
	m.paused = src.paused
	m.nonce = src.nonce
	m.owners = src.owners
	m.funds = src.funds
}

func (m *mockState) Snapshot() int {
	m.snapshots = append(m.snapshots, m.clone())
	return len(m.snapshots) - 1
}

func (m *mockState) BeginCall() int {
	m.calls++
	return m.Snapshot()
}

func (m *mockState) EndCall() {
	if m.calls > 0 {
		m.calls--
	}
}

func (m *mockState) RevertToSnapshot(id int) {
	if id < 0 || id >= len(m.snapshots) {
		return
	}
	m.restore(m.snapshots[id])
	m.snapshots = m.snapshots[:id]
}

func (m *mockState) Commit() error {
	if m.calls > 0 {
		return errors.New("commit inside an open call")
	}
	if m.failCommit != nil {
		return m.failCommit
	}
	m.snapshots = nil
	m.commits++
	return nil
}

func (m *mockState) MarketListingGet(id [32]byte) (*Listing, bool, error) {
	l, ok := m.listings[id]
	if !ok {
		return nil, false, nil
	}
	return l.Clone(), true, nil
}

func (m *mockState) MarketListingPut(listing *Listing) error {
	m.listings[listing.ID] = listing.Clone()
	return nil
}

func (m *mockState) MarketAuctionGet(id [32]byte) (*Auction, bool, error) {
	a, ok := m.auctions[id]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

func (m *mockState) MarketAuctionPut(auction *Auction) error {
	m.auctions[auction.ID] = auction.Clone()
	return nil
}

func (m *mockState) MarketAssetSaleGet(asset AssetRef) ([32]byte, bool, error) {
	id, ok := m.assetSales[asset.Key()]
	return id, ok, nil
}

func (m *mockState) MarketAssetSalePut(asset AssetRef, id [32]byte) error {
	m.assetSales[asset.Key()] = id
	return nil
}

func (m *mockState) MarketAssetSaleDelete(asset AssetRef) error {
	delete(m.assetSales, asset.Key())
	return nil
}

func (m *mockState) MarketIndexAdd(kind SaleKind, id [32]byte) error {
	for _, existing := range m.index[kind] {
		if existing == id {
			return nil
		}
	}
	m.index[kind] = append(m.index[kind], id)
	return nil
}

func (m *mockState) MarketIndexRemove(kind SaleKind, id [32]byte) error {
	ids := m.index[kind]
	for i, existing := range ids {
		if existing == id {
			last := len(ids) - 1
			ids[i] = ids[last]
			m.index[kind] = ids[:last]
			return nil
		}
	}
	return nil
}

func (m *mockState) MarketIndexList(kind SaleKind) ([][32]byte, error) {
	return append([][32]byte(nil), m.index[kind]...), nil
}

func (m *mockState) MarketBalanceGet(addr [20]byte) (*big.Int, error) {
	if bal, ok := m.balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) MarketBalancePut(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		delete(m.balances, addr)
		return nil
	}
	m.balances[addr] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) MarketParamsGet() (*Params, bool, error) {
	if m.params == nil {
		return nil, false, nil
	}
	p := *m.params
	return &p, true, nil
}

func (m *mockState) MarketParamsPut(params *Params) error {
	p := *params
	m.params = &p
	return nil
}

func (m *mockState) MarketPausedGet() (bool, error) { return m.paused, nil }

func (m *mockState) MarketPausedPut(paused bool) error {
	m.paused = paused
	return nil
}

func (m *mockState) MarketNextNonce() (uint64, error) {
	n := m.nonce
	m.nonce++
	return n, nil
}

type mockCustody struct {
	state       *mockState
	escrow      [20]byte
	failTake    error
	failRelease error
	onTake      func()
	onRelease   func()
}

func (c *mockCustody) TakeCustody(asset AssetRef, from [20]byte) error {
	if c.failTake != nil {
		return c.failTake
	}
	key := asset.Key()
	if owner := c.state.owners[key]; owner != from {
		return fmt.Errorf("custody: %x does not own %s", from, asset)
	}
	c.state.owners[key] = c.escrow
	if c.onTake != nil {
		c.onTake()
	}
	return nil
}

func (c *mockCustody) ReleaseCustody(asset AssetRef, to [20]byte) error {
	if c.failRelease != nil {
		return c.failRelease
	}
	key := asset.Key()
	if owner := c.state.owners[key]; owner != c.escrow {
		return fmt.Errorf("custody: %s not in escrow", asset)
	}
	c.state.owners[key] = to
	if c.onRelease != nil {
		c.onRelease()
	}
	return nil
}

type mockVault struct {
	state       *mockState
	addr        [20]byte
	failCollect error
	failPayout  error
	onCollect   func()
	onPayout    func()
}

func (v *mockVault) move(from, to [20]byte, amount *big.Int) error {
	bal := v.state.funds[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("vault: insufficient funds for %x", from)
	}
	v.state.funds[from] = new(big.Int).Sub(bal, amount)
	dst := v.state.funds[to]
	if dst == nil {
		dst = big.NewInt(0)
	}
	v.state.funds[to] = new(big.Int).Add(dst, amount)
	return nil
}

func (v *mockVault) Collect(from [20]byte, amount *big.Int) error {
	if v.failCollect != nil {
		return v.failCollect
	}
	if err := v.move(from, v.addr, amount); err != nil {
		return err
	}
	if v.onCollect != nil {
		v.onCollect()
	}
	return nil
}

func (v *mockVault) Payout(to [20]byte, amount *big.Int) error {
	if v.failPayout != nil {
		return v.failPayout
	}
	if err := v.move(v.addr, to, amount); err != nil {
		return err
	}
	if v.onPayout != nil {
		v.onPayout()
	}
	return nil
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	adminAddr    = newTestAddress(0xA1)
	sellerAddr   = newTestAddress(0x51)
	buyerAddr    = newTestAddress(0xB1)
	bidderAddr   = newTestAddress(0xB2)
	vaultAddr    = newTestAddress(0xFE)
	escrowAddr   = newTestAddress(0xEE)
	strangerAddr = newTestAddress(0x99)
)

const startTime int64 = 1_700_000_000

type fixture struct {
	engine   *Engine
	state    *mockState
	custody  *mockCustody
	vault    *mockVault
	recorder *events.Recorder
	now      int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newMockState()
	f := &fixture{
		state:    st,
		custody:  &mockCustody{state: st, escrow: escrowAddr},
		vault:    &mockVault{state: st, addr: vaultAddr},
		recorder: events.NewRecorder(),
		now:      startTime,
	}
	f.engine = NewEngine()
	f.engine.SetState(st)
	f.engine.SetCustody(f.custody)
	f.engine.SetVault(f.vault)
	f.engine.SetEmitter(f.recorder)
	f.engine.SetNowFunc(func() int64 { return f.now })
	if _, err := f.engine.InitParams(DefaultParams(adminAddr)); err != nil {
		t.Fatalf("init params: %v", err)
	}
	for _, addr := range [][20]byte{buyerAddr, bidderAddr, strangerAddr} {
		f.fund(addr, 1_000_000)
	}
	return f
}

func (f *fixture) fund(addr [20]byte, amount int64) {
	f.state.funds[addr] = big.NewInt(amount)
}

func (f *fixture) mint(t *testing.T, item int64, owner [20]byte) AssetRef {
	t.Helper()
	asset, err := NewAssetRef(newTestAddress(0xC0), big.NewInt(item))
	if err != nil {
		t.Fatalf("asset: %v", err)
	}
	f.state.owners[asset.Key()] = owner
	return asset
}

func (f *fixture) owner(asset AssetRef) [20]byte {
	return f.state.owners[asset.Key()]
}

func (f *fixture) ledger(t *testing.T, addr [20]byte) int64 {
	t.Helper()
	bal, err := f.engine.ProceedsOf(addr)
	if err != nil {
		t.Fatalf("proceeds: %v", err)
	}
	return bal.Int64()
}

func (f *fixture) lastEvent(t *testing.T) *types.Event {
	t.Helper()
	evts := f.recorder.Events()
	if len(evts) == 0 {
		t.Fatalf("expected at least one event")
	}
	return evts[len(evts)-1]
}

// assertConservation checks that the vault holds exactly the ledger balances
// plus the highest bids of every unfinalized auction.
func (f *fixture) assertConservation(t *testing.T) {
	t.Helper()
	expected := big.NewInt(0)
	for _, bal := range f.state.balances {
		expected.Add(expected, bal)
	}
	for _, a := range f.state.auctions {
		if !a.Finalized && a.HasBids() {
			expected.Add(expected, a.HighestBid)
		}
	}
	held := f.state.funds[vaultAddr]
	if held == nil {
		held = big.NewInt(0)
	}
	if held.Cmp(expected) != 0 {
		t.Fatalf("conservation violated: vault holds %s, owed %s", held, expected)
	}
}

func TestScenarioListingBuy(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 1, sellerAddr)

	listing, err := f.engine.CreateListing(sellerAddr, asset, big.NewInt(100))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if f.owner(asset) != escrowAddr {
		t.Fatalf("expected engine custody after listing")
	}
	settlement, err := f.engine.BuyListing(listing.ID, buyerAddr, big.NewInt(100))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if settlement.Fee.Int64() != 2 || settlement.Proceeds.Int64() != 98 {
		t.Fatalf("unexpected split fee=%s proceeds=%s", settlement.Fee, settlement.Proceeds)
	}
	if got := f.ledger(t, sellerAddr); got != 98 {
		t.Fatalf("seller ledger = %d, want 98", got)
	}
	if got := f.ledger(t, adminAddr); got != 2 {
		t.Fatalf("fee ledger = %d, want 2", got)
	}
	if f.owner(asset) != buyerAddr {
		t.Fatalf("buyer should own the asset")
	}
	stored, err := f.engine.Listing(listing.ID)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if stored.Active || stored.Buyer != buyerAddr || stored.ClosedAt != startTime {
		t.Fatalf("listing not closed correctly: %+v", stored)
	}
	active, err := f.engine.ActiveListings()
	if err != nil {
		t.Fatalf("active listings: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active listings, got %d", len(active))
	}
	evt := f.lastEvent(t)
	if evt.Type != EventTypeListingSold {
		t.Fatalf("unexpected event %s", evt.Type)
	}
	if evt.Attributes["price"] != "100" || evt.Attributes["fee"] != "2" || evt.Attributes["proceeds"] != "98" {
		t.Fatalf("unexpected sale attributes %v", evt.Attributes)
	}
	f.assertConservation(t)
}

func TestScenarioAuctionWithBids(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 2, sellerAddr)

	auction, err := f.engine.CreateAuction(sellerAddr, asset, big.NewInt(50), time.Hour)
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
	if auction.EndTime != startTime+3600 {
		t.Fatalf("unexpected end time %d", auction.EndTime)
	}
	f.now += 10
	if _, err := f.engine.PlaceBid(auction.ID, buyerAddr, big.NewInt(60)); err != nil {
		t.Fatalf("bid 60: %v", err)
	}
	_, err = f.engine.PlaceBid(auction.ID, bidderAddr, big.NewInt(55))
	if !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("expected ErrBidTooLow, got %v", err)
	}
	var tooLow *BidTooLowError
	if !errors.As(err, &tooLow) || tooLow.Minimum.Int64() != 61 {
		t.Fatalf("expected minimum bid 61, got %v", err)
	}
	if _, err := f.engine.PlaceBid(auction.ID, bidderAddr, big.NewInt(70)); err != nil {
		t.Fatalf("bid 70: %v", err)
	}
	if got := f.ledger(t, buyerAddr); got != 60 {
		t.Fatalf("outbid refund = %d, want 60", got)
	}
	evt := f.lastEvent(t)
	if evt.Attributes["refundedTo"] != formatAddr(buyerAddr) || evt.Attributes["refundedBid"] != "60" {
		t.Fatalf("unexpected bid attributes %v", evt.Attributes)
	}
	f.assertConservation(t)

	f.now = auction.EndTime
	ended, settlement, err := f.engine.EndAuction(auction.ID, strangerAddr)
	if err != nil {
		t.Fatalf("end auction: %v", err)
	}
	if !ended.Finalized || ended.Active {
		t.Fatalf("auction should be finalized and inactive")
	}
	if settlement == nil || settlement.Buyer != bidderAddr {
		t.Fatalf("expected settlement to winner, got %+v", settlement)
	}
	if f.owner(asset) != bidderAddr {
		t.Fatalf("winner should own the asset")
	}
	// 70 * 250 / 10000 = 1.75, rounded down to 1
	if got := f.ledger(t, sellerAddr); got != 69 {
		t.Fatalf("seller ledger = %d, want 69", got)
	}
	if got := f.ledger(t, adminAddr); got != 1 {
		t.Fatalf("fee ledger = %d, want 1", got)
	}
	evt = f.lastEvent(t)
	if evt.Type != EventTypeAuctionFinalized || evt.Attributes["winner"] != formatAddr(bidderAddr) || evt.Attributes["amount"] != "70" {
		t.Fatalf("unexpected finalize event %+v", evt)
	}
	f.assertConservation(t)
}

func TestScenarioAuctionWithoutBids(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 3, sellerAddr)
	auction, err := f.engine.CreateAuction(sellerAddr, asset, big.NewInt(50), time.Hour)
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
	f.now = auction.EndTime + 1
	_, settlement, err := f.engine.EndAuction(auction.ID, strangerAddr)
	if err != nil {
		t.Fatalf("end auction: %v", err)
	}
	if settlement != nil {
		t.Fatalf("expected no settlement without bids")
	}
	if f.owner(asset) != sellerAddr {
		t.Fatalf("asset should return to seller")
	}
	if len(f.state.balances) != 0 {
		t.Fatalf("no ledger balance should change, got %v", f.state.balances)
	}
	evt := f.lastEvent(t)
	if evt.Attributes["winner"] != noneAddress || evt.Attributes["amount"] != "0" || evt.Attributes["fee"] != "0" {
		t.Fatalf("unexpected finalize attributes %v", evt.Attributes)
	}
}

func TestScenarioWithdrawProceeds(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.WithdrawProceeds(sellerAddr); !errors.Is(err, ErrNothingToWithdraw) {
		t.Fatalf("expected ErrNothingToWithdraw, got %v", err)
	}
	asset := f.mint(t, 4, sellerAddr)
	listing, err := f.engine.CreateListing(sellerAddr, asset, big.NewInt(1000))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if _, err := f.engine.BuyListing(listing.ID, buyerAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	paid, err := f.engine.WithdrawProceeds(sellerAddr)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if paid.Int64() != 975 {
		t.Fatalf("paid %s, want 975", paid)
	}
	if got := f.state.funds[sellerAddr].Int64(); got != 975 {
		t.Fatalf("seller funds = %d, want 975", got)
	}
	if got := f.ledger(t, sellerAddr); got != 0 {
		t.Fatalf("ledger not zeroed: %d", got)
	}
	if _, err := f.engine.WithdrawProceeds(sellerAddr); !errors.Is(err, ErrNothingToWithdraw) {
		t.Fatalf("second withdraw should fail, got %v", err)
	}
	f.assertConservation(t)
}

func TestExclusivityAcrossRegistries(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 5, sellerAddr)
	listing, err := f.engine.CreateListing(sellerAddr, asset, big.NewInt(10))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if _, err := f.engine.CreateListing(sellerAddr, asset, big.NewInt(10)); !errors.Is(err, ErrAssetAlreadyInSale) {
		t.Fatalf("expected ErrAssetAlreadyInSale for listing, got %v", err)
	}
	if _, err := f.engine.CreateAuction(sellerAddr, asset, big.NewInt(10), time.Hour); !errors.Is(err, ErrAssetAlreadyInSale) {
		t.Fatalf("expected ErrAssetAlreadyInSale for auction, got %v", err)
	}
	if _, err := f.engine.CancelListing(listing.ID, sellerAddr); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	auction, err := f.engine.CreateAuction(sellerAddr, asset, big.NewInt(10), time.Hour)
	if err != nil {
		t.Fatalf("auction after cancel: %v", err)
	}
	if auction.ID == listing.ID {
		t.Fatalf("relisting in the same second must yield a fresh identifier")
	}
}

func TestCancelListingExactlyOnce(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 6, sellerAddr)
	listing, err := f.engine.CreateListing(sellerAddr, asset, big.NewInt(10))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if _, err := f.engine.CancelListing(listing.ID, strangerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.engine.CancelListing(listing.ID, sellerAddr); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.owner(asset) != sellerAddr {
		t.Fatalf("asset should return to seller")
	}
	if _, err := f.engine.CancelListing(listing.ID, sellerAddr); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if _, err := f.engine.BuyListing(listing.ID, buyerAddr, big.NewInt(10)); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive on buy, got %v", err)
	}
	if _, err := f.engine.CancelListing([32]byte{0x01}, sellerAddr); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdminMayCancelListing(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 7, sellerAddr)
	listing, err := f.engine.CreateListing(sellerAddr, asset, big.NewInt(10))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if _, err := f.engine.CancelListing(listing.ID, adminAddr); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	evt := f.lastEvent(t)
	if evt.Type != EventTypeListingCancelled || evt.Attributes["cancelledBy"] != formatAddr(adminAddr) {
		t.Fatalf("unexpected cancel event %+v", evt)
	}
}

func TestEndAuctionExactlyOnce(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 8, sellerAddr)
	auction, err := f.engine.CreateAuction(sellerAddr, asset, big.NewInt(5), time.Hour)
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
	if _, _, err := f.engine.EndAuction(auction.ID, strangerAddr); !errors.Is(err, ErrAuctionNotEnded) {
		t.Fatalf("expected ErrAuctionNotEnded, got %v", err)
	}
	f.now = auction.EndTime
	if _, err := f.engine.PlaceBid(auction.ID, buyerAddr, big.NewInt(5)); !errors.Is(err, ErrAuctionEnded) {
		t.Fatalf("expected ErrAuctionEnded, got %v", err)
	}
	if _, _, err := f.engine.EndAuction(auction.ID, strangerAddr); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, _, err := f.engine.EndAuction(auction.ID, strangerAddr); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	if _, err := f.engine.PlaceBid(auction.ID, buyerAddr, big.NewInt(50)); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive after finalize, got %v", err)
	}
	if _, _, err := f.engine.EndAuction([32]byte{0x02}, strangerAddr); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMonotonicBidding(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 9, sellerAddr)
	auction, err := f.engine.CreateAuction(sellerAddr, asset, big.NewInt(10), 2*time.Hour)
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
	bidders := [][20]byte{buyerAddr, bidderAddr, strangerAddr}
	amounts := []int64{9, 10, 10, 15, 12, 15, 16, 40, 39, 41, 41, 100}
	var accepted []int64
	for i, amount := range amounts {
		f.now++
		updated, err := f.engine.PlaceBid(auction.ID, bidders[i%len(bidders)], big.NewInt(amount))
		if err != nil {
			if !errors.Is(err, ErrBidTooLow) {
				t.Fatalf("bid %d: unexpected error %v", amount, err)
			}
			continue
		}
		accepted = append(accepted, updated.HighestBid.Int64())
		f.assertConservation(t)
	}
	want := []int64{10, 15, 16, 40, 41, 100}
	if len(accepted) != len(want) {
		t.Fatalf("accepted %v, want %v", accepted, want)
	}
	for i := range want {
		if accepted[i] != want[i] {
			t.Fatalf("accepted %v, want %v", accepted, want)
		}
		if i > 0 && accepted[i] <= accepted[i-1] {
			t.Fatalf("bids not strictly increasing: %v", accepted)
		}
	}
	stored, err := f.engine.Auction(auction.ID)
	if err != nil {
		t.Fatalf("auction: %v", err)
	}
	if stored.BidCount != uint64(len(want)) {
		t.Fatalf("bid count = %d, want %d", stored.BidCount, len(want))
	}
}

func TestAntiSnipingExtension(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 10, sellerAddr)
	auction, err := f.engine.CreateAuction(sellerAddr, asset, big.NewInt(10), time.Hour)
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
	f.now = auction.EndTime - 600
	updated, err := f.engine.PlaceBid(auction.ID, buyerAddr, big.NewInt(10))
	if err != nil {
		t.Fatalf("early bid: %v", err)
	}
	if updated.EndTime != auction.EndTime {
		t.Fatalf("bid outside the grace window must not extend")
	}
	if f.lastEvent(t).Attributes["extended"] != "false" {
		t.Fatalf("expected extended=false")
	}
	f.now = auction.EndTime - 60
	updated, err = f.engine.PlaceBid(auction.ID, bidderAddr, big.NewInt(11))
	if err != nil {
		t.Fatalf("late bid: %v", err)
	}
	if updated.EndTime != f.now+300 {
		t.Fatalf("end time = %d, want %d", updated.EndTime, f.now+300)
	}
	if f.lastEvent(t).Attributes["extended"] != "true" {
		t.Fatalf("expected extended=true")
	}
	f.now = auction.EndTime + 1
	if _, err := f.engine.PlaceBid(auction.ID, buyerAddr, big.NewInt(12)); err != nil {
		t.Fatalf("bid inside extension should be accepted: %v", err)
	}
}

func TestPlaceBidValidation(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 11, sellerAddr)
	auction, err := f.engine.CreateAuction(sellerAddr, asset, big.NewInt(50), time.Hour)
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
	if _, err := f.engine.PlaceBid(auction.ID, sellerAddr, big.NewInt(60)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for seller bid, got %v", err)
	}
	if _, err := f.engine.PlaceBid(auction.ID, buyerAddr, big.NewInt(49)); !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("expected ErrBidTooLow below starting bid, got %v", err)
	}
	if _, err := f.engine.PlaceBid(auction.ID, buyerAddr, nil); !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("expected ErrBidTooLow for nil amount, got %v", err)
	}
	if _, err := f.engine.PlaceBid([32]byte{0x03}, buyerAddr, big.NewInt(60)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	f.fund(buyerAddr, 10)
	if _, err := f.engine.PlaceBid(auction.ID, buyerAddr, big.NewInt(60)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed for unfunded bidder, got %v", err)
	}
	stored, _ := f.engine.Auction(auction.ID)
	if stored.HasBids() {
		t.Fatalf("failed bid must not be recorded")
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 12, sellerAddr)
	for _, price := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		if _, err := f.engine.CreateListing(sellerAddr, asset, price); !errors.Is(err, ErrInvalidPrice) {
			t.Fatalf("expected ErrInvalidPrice for %v, got %v", price, err)
		}
		if _, err := f.engine.CreateAuction(sellerAddr, asset, price, time.Hour); !errors.Is(err, ErrInvalidPrice) {
			t.Fatalf("expected ErrInvalidPrice for auction %v, got %v", price, err)
		}
	}
	for _, d := range []time.Duration{time.Minute, 31 * 24 * time.Hour} {
		_, err := f.engine.CreateAuction(sellerAddr, asset, big.NewInt(1), d)
		if !errors.Is(err, ErrInvalidDuration) || !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidDuration for %s, got %v", d, err)
		}
	}
	if _, err := f.engine.CreateListing(strangerAddr, asset, big.NewInt(1)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed when seller does not own asset, got %v", err)
	}
	if len(f.state.listings) != 0 || len(f.state.assetSales) != 0 {
		t.Fatalf("failed create must leave no trace")
	}
	bad := AssetRef{Collection: asset.Collection, ItemID: new(big.Int).Lsh(big.NewInt(1), 256)}
	if _, err := f.engine.CreateListing(sellerAddr, bad, big.NewInt(1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for oversized item id, got %v", err)
	}
}

func TestBuyListingRequiresExactTender(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 13, sellerAddr)
	listing, err := f.engine.CreateListing(sellerAddr, asset, big.NewInt(100))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	for _, tendered := range []*big.Int{nil, big.NewInt(99), big.NewInt(101)} {
		if _, err := f.engine.BuyListing(listing.ID, buyerAddr, tendered); !errors.Is(err, ErrInvalidPrice) {
			t.Fatalf("expected ErrInvalidPrice for %v, got %v", tendered, err)
		}
	}
	if _, err := f.engine.BuyListing([32]byte{0x04}, buyerAddr, big.NewInt(100)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFailedCustodyRollsBackSettlement(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 14, sellerAddr)
	listing, err := f.engine.CreateListing(sellerAddr, asset, big.NewInt(100))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	emitted := f.recorder.Len()
	buyerFunds := f.state.funds[buyerAddr].Int64()
	f.custody.failRelease = errors.New("registry offline")

	if _, err := f.engine.BuyListing(listing.ID, buyerAddr, big.NewInt(100)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	stored, _ := f.engine.Listing(listing.ID)
	if !stored.Active {
		t.Fatalf("listing must remain active after failed settlement")
	}
	if len(f.state.balances) != 0 {
		t.Fatalf("ledger must be untouched, got %v", f.state.balances)
	}
	if got := f.state.funds[buyerAddr].Int64(); got != buyerFunds {
		t.Fatalf("buyer funds changed: %d -> %d", buyerFunds, got)
	}
	if _, held, _ := f.state.MarketAssetSaleGet(asset); !held {
		t.Fatalf("asset lock must survive the rollback")
	}
	if f.recorder.Len() != emitted {
		t.Fatalf("failed call must not emit events")
	}
	f.assertConservation(t)

	f.custody.failRelease = nil
	if _, err := f.engine.BuyListing(listing.ID, buyerAddr, big.NewInt(100)); err != nil {
		t.Fatalf("retry buy: %v", err)
	}
}

func TestFailedPayoutKeepsBalance(t *testing.T) {
	f := newFixture(t)
	f.state.balances[sellerAddr] = big.NewInt(40)
	f.state.funds[vaultAddr] = big.NewInt(40)
	f.vault.failPayout = errors.New("rail down")
	if _, err := f.engine.WithdrawProceeds(sellerAddr); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if got := f.ledger(t, sellerAddr); got != 40 {
		t.Fatalf("balance must be restored, got %d", got)
	}
	f.vault.failPayout = nil
	if _, err := f.engine.WithdrawProceeds(sellerAddr); err != nil {
		t.Fatalf("retry withdraw: %v", err)
	}
	f.assertConservation(t)
}

func TestCommitFailureDropsEvents(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 15, sellerAddr)
	emitted := f.recorder.Len()
	f.state.failCommit = errors.New("disk full")
	if _, err := f.engine.CreateListing(sellerAddr, asset, big.NewInt(5)); err == nil {
		t.Fatalf("expected commit failure")
	}
	if f.recorder.Len() != emitted {
		t.Fatalf("events emitted for an uncommitted call")
	}
	if f.owner(asset) != sellerAddr || len(f.state.listings) != 0 {
		t.Fatalf("state not rolled back after commit failure")
	}
}

// gathered sums every series of a registered metric family.
func gathered(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	return total
}

func TestMetricsFollowCommittedCallsOnly(t *testing.T) {
	f := newFixture(t)
	f.engine.SetMetrics(observability.Market())
	asset := f.mint(t, 40, sellerAddr)
	listing, err := f.engine.CreateListing(sellerAddr, asset, big.NewInt(1000))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}

	volume := gathered(t, "nhb_market_settled_volume_total")
	f.state.failCommit = errors.New("disk full")
	if _, err := f.engine.BuyListing(listing.ID, buyerAddr, big.NewInt(1000)); err == nil {
		t.Fatalf("expected commit failure")
	}
	if got := gathered(t, "nhb_market_settled_volume_total"); got != volume {
		t.Fatalf("settlement recorded for an uncommitted buy: %v -> %v", volume, got)
	}
	f.state.failCommit = nil
	if _, err := f.engine.BuyListing(listing.ID, buyerAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if got := gathered(t, "nhb_market_settled_volume_total"); got != volume+1000 {
		t.Fatalf("settled volume = %v, want %v", got, volume+1000)
	}

	withdrawn := gathered(t, "nhb_market_withdrawn_total")
	f.state.failCommit = errors.New("disk full")
	if _, err := f.engine.WithdrawProceeds(sellerAddr); err == nil {
		t.Fatalf("expected commit failure")
	}
	if got := gathered(t, "nhb_market_withdrawn_total"); got != withdrawn {
		t.Fatalf("withdrawal recorded for an uncommitted call")
	}

	rate := gathered(t, "nhb_market_fee_rate_bps")
	next := uint32(rate) + 1
	if err := f.engine.SetFeeRate(adminAddr, next); err == nil {
		t.Fatalf("expected commit failure")
	}
	if got := gathered(t, "nhb_market_fee_rate_bps"); got != rate {
		t.Fatalf("fee rate gauge moved for an uncommitted update: %v", got)
	}
	paused := gathered(t, "nhb_market_pause_engaged")
	if err := f.engine.Pause(adminAddr); err == nil {
		t.Fatalf("expected commit failure")
	}
	if got := gathered(t, "nhb_market_pause_engaged"); got != paused {
		t.Fatalf("pause gauge moved for an uncommitted pause")
	}

	f.state.failCommit = nil
	if _, err := f.engine.WithdrawProceeds(sellerAddr); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := gathered(t, "nhb_market_withdrawn_total"); got != withdrawn+975 {
		t.Fatalf("withdrawn = %v, want %v", got, withdrawn+975)
	}
}

func TestReentrantCustodyCallbackRejected(t *testing.T) {
	f := newFixture(t)
	first := f.mint(t, 16, sellerAddr)
	listing, err := f.engine.CreateListing(sellerAddr, first, big.NewInt(100))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	var nested error
	f.custody.onRelease = func() {
		_, nested = f.engine.BuyListing(listing.ID, bidderAddr, big.NewInt(100))
	}
	if _, err := f.engine.BuyListing(listing.ID, buyerAddr, big.NewInt(100)); err != nil {
		t.Fatalf("outer buy: %v", err)
	}
	if !errors.Is(nested, ErrReentrantCall) {
		t.Fatalf("expected nested ErrReentrantCall, got %v", nested)
	}
	if f.owner(first) != buyerAddr {
		t.Fatalf("outer buyer should own the asset")
	}
	if got := f.ledger(t, sellerAddr); got != 98 {
		t.Fatalf("seller credited %d, want 98", got)
	}

	second := f.mint(t, 17, sellerAddr)
	f.custody.onRelease = nil
	f.custody.onTake = func() {
		_, nested = f.engine.CreateListing(sellerAddr, second, big.NewInt(1))
	}
	if _, err := f.engine.CreateAuction(sellerAddr, second, big.NewInt(1), time.Hour); err != nil {
		t.Fatalf("outer create auction: %v", err)
	}
	if !errors.Is(nested, ErrReentrantCall) {
		t.Fatalf("expected nested ErrReentrantCall from take custody, got %v", nested)
	}
	f.assertConservation(t)
}

func TestReentrantVaultCallbackRejected(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 18, sellerAddr)
	auction, err := f.engine.CreateAuction(sellerAddr, asset, big.NewInt(10), time.Hour)
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
	var nested error
	f.vault.onCollect = func() {
		_, nested = f.engine.PlaceBid(auction.ID, bidderAddr, big.NewInt(1000))
	}
	if _, err := f.engine.PlaceBid(auction.ID, buyerAddr, big.NewInt(20)); err != nil {
		t.Fatalf("outer bid: %v", err)
	}
	if !errors.Is(nested, ErrReentrantCall) {
		t.Fatalf("expected nested ErrReentrantCall, got %v", nested)
	}
	stored, _ := f.engine.Auction(auction.ID)
	if stored.HighestBidder != buyerAddr || stored.HighestBid.Int64() != 20 {
		t.Fatalf("nested bid must not land: %+v", stored)
	}

	f.vault.onCollect = nil
	f.state.balances[sellerAddr] = big.NewInt(30)
	f.state.funds[vaultAddr].Add(f.state.funds[vaultAddr], big.NewInt(30))
	payouts := 0
	f.vault.onPayout = func() {
		payouts++
		_, nested = f.engine.WithdrawProceeds(sellerAddr)
	}
	if _, err := f.engine.WithdrawProceeds(sellerAddr); err != nil {
		t.Fatalf("outer withdraw: %v", err)
	}
	if !errors.Is(nested, ErrReentrantCall) {
		t.Fatalf("expected nested ErrReentrantCall on withdraw, got %v", nested)
	}
	if payouts != 1 {
		t.Fatalf("expected exactly one payout, got %d", payouts)
	}
	f.assertConservation(t)
}

func TestHeldLockRejectsCalls(t *testing.T) {
	f := newFixture(t)
	release, err := f.engine.lock.Enter()
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	defer release()
	if _, err := f.engine.WithdrawProceeds(sellerAddr); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	if err := f.engine.Unpause(adminAddr); !errors.Is(err, common.ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
}

func TestPauseBlocksMutations(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 19, sellerAddr)
	if err := f.engine.Pause(sellerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.Unpause(adminAddr); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput when not paused, got %v", err)
	}
	if err := f.engine.Pause(adminAddr); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !f.engine.Paused() {
		t.Fatalf("engine should report paused")
	}
	if f.lastEvent(t).Type != EventTypePaused {
		t.Fatalf("expected pause event")
	}
	_, err := f.engine.CreateListing(sellerAddr, asset, big.NewInt(5))
	if !errors.Is(err, ErrEnforcedPause) || !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrEnforcedPause, got %v", err)
	}
	if err := f.engine.Pause(adminAddr); !errors.Is(err, ErrEnforcedPause) {
		t.Fatalf("expected ErrEnforcedPause on repeated pause, got %v", err)
	}
	if err := f.engine.SetFeeRate(adminAddr, 100); !errors.Is(err, ErrEnforcedPause) {
		t.Fatalf("expected ErrEnforcedPause for admin op, got %v", err)
	}
	if _, err := f.engine.ActiveListings(); err != nil {
		t.Fatalf("queries must keep working while paused: %v", err)
	}
	if err := f.engine.Unpause(strangerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.Unpause(adminAddr); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := f.engine.CreateListing(sellerAddr, asset, big.NewInt(5)); err != nil {
		t.Fatalf("create after unpause: %v", err)
	}
}

func TestExternalPauseView(t *testing.T) {
	f := newFixture(t)
	f.engine.SetPauses(common.PauseFunc(func(module string) bool { return module == "market" }))
	asset := f.mint(t, 20, sellerAddr)
	if _, err := f.engine.CreateListing(sellerAddr, asset, big.NewInt(5)); !errors.Is(err, ErrEnforcedPause) {
		t.Fatalf("expected ErrEnforcedPause, got %v", err)
	}
	if err := f.engine.Unpause(adminAddr); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("operator pause is not an administrator pause, got %v", err)
	}
	if !f.engine.Paused() {
		t.Fatalf("operator pause should still apply")
	}
}

func TestAdminParameterUpdates(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.SetFeeRate(sellerAddr, 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	err := f.engine.SetFeeRate(adminAddr, 1001)
	if !errors.Is(err, ErrInvalidFeeRate) || !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidFeeRate, got %v", err)
	}
	if err := f.engine.SetFeeRate(adminAddr, 1000); err != nil {
		t.Fatalf("set fee rate: %v", err)
	}
	evt := f.lastEvent(t)
	if evt.Type != EventTypeFeeRateUpdated || evt.Attributes["previousBps"] != "250" || evt.Attributes["feeRateBps"] != "1000" {
		t.Fatalf("unexpected fee event %+v", evt)
	}
	treasury := newTestAddress(0x7E)
	if err := f.engine.SetFeeRecipient(adminAddr, treasury); err != nil {
		t.Fatalf("set recipient: %v", err)
	}

	asset := f.mint(t, 21, sellerAddr)
	listing, err := f.engine.CreateListing(sellerAddr, asset, big.NewInt(100))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if _, err := f.engine.BuyListing(listing.ID, buyerAddr, big.NewInt(100)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if got := f.ledger(t, treasury); got != 10 {
		t.Fatalf("treasury credited %d, want 10", got)
	}
	if got := f.ledger(t, sellerAddr); got != 90 {
		t.Fatalf("seller credited %d, want 90", got)
	}

	next := newTestAddress(0xA2)
	if err := f.engine.TransferAdmin(adminAddr, [20]byte{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero admin, got %v", err)
	}
	if err := f.engine.TransferAdmin(adminAddr, next); err != nil {
		t.Fatalf("transfer admin: %v", err)
	}
	if err := f.engine.SetFeeRate(adminAddr, 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("previous admin must lose rights, got %v", err)
	}
	if err := f.engine.SetFeeRate(next, 0); err != nil {
		t.Fatalf("new admin set fee: %v", err)
	}
	params, err := f.engine.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.Admin != next || params.FeeRateBps != 0 || params.FeeRecipient != treasury {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestInitParamsKeepsStoredValues(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.SetFeeRate(adminAddr, 500); err != nil {
		t.Fatalf("set fee rate: %v", err)
	}
	effective, err := f.engine.InitParams(DefaultParams(newTestAddress(0x01)))
	if err != nil {
		t.Fatalf("init params: %v", err)
	}
	if effective.FeeRateBps != 500 || effective.Admin != adminAddr {
		t.Fatalf("stored params must win, got %+v", effective)
	}

	fresh := NewEngine()
	fresh.SetState(newMockState())
	bad := DefaultParams(adminAddr)
	bad.FeeRateBps = 5000
	if _, err := fresh.InitParams(bad); !errors.Is(err, ErrInvalidFeeRate) {
		t.Fatalf("expected ErrInvalidFeeRate, got %v", err)
	}
}

func TestFailedCallsEmitNothing(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, 22, sellerAddr)
	if _, err := f.engine.CreateListing(sellerAddr, asset, big.NewInt(10)); err != nil {
		t.Fatalf("create listing: %v", err)
	}
	emitted := f.recorder.Len()
	_, _ = f.engine.CreateListing(sellerAddr, asset, big.NewInt(10))
	_, _ = f.engine.BuyListing([32]byte{0x05}, buyerAddr, big.NewInt(10))
	_, _ = f.engine.WithdrawProceeds(buyerAddr)
	_ = f.engine.SetFeeRate(buyerAddr, 10)
	if f.recorder.Len() != emitted {
		t.Fatalf("failed calls emitted %d events", f.recorder.Len()-emitted)
	}
}

func TestCreditOverflowPanics(t *testing.T) {
	f := newFixture(t)
	ceiling := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	f.state.balances[sellerAddr] = ceiling
	defer func() {
		if recover() == nil {
			t.Fatalf("expected overflow panic")
		}
	}()
	_ = f.engine.credit(sellerAddr, big.NewInt(1))
}

func TestActiveQueries(t *testing.T) {
	f := newFixture(t)
	var listings, auctions [][32]byte
	for i := int64(0); i < 3; i++ {
		l, err := f.engine.CreateListing(sellerAddr, f.mint(t, 100+i, sellerAddr), big.NewInt(10+i))
		if err != nil {
			t.Fatalf("create listing: %v", err)
		}
		listings = append(listings, l.ID)
		a, err := f.engine.CreateAuction(sellerAddr, f.mint(t, 200+i, sellerAddr), big.NewInt(10+i), time.Hour)
		if err != nil {
			t.Fatalf("create auction: %v", err)
		}
		auctions = append(auctions, a.ID)
	}
	if _, err := f.engine.CancelListing(listings[0], sellerAddr); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	active, err := f.engine.ActiveListings()
	if err != nil {
		t.Fatalf("active listings: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active listings, got %d", len(active))
	}
	for _, l := range active {
		if l.ID == listings[0] || !l.Active {
			t.Fatalf("cancelled listing still indexed")
		}
	}
	open, err := f.engine.ActiveAuctions()
	if err != nil {
		t.Fatalf("active auctions: %v", err)
	}
	if len(open) != len(auctions) {
		t.Fatalf("expected %d auctions, got %d", len(auctions), len(open))
	}
	if _, err := f.engine.Listing([32]byte{0x06}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.engine.Auction([32]byte{0x06}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnconfiguredEngine(t *testing.T) {
	engine := NewEngine()
	if _, err := engine.WithdrawProceeds(sellerAddr); !errors.Is(err, errNilState) {
		t.Fatalf("expected errNilState, got %v", err)
	}
	engine.SetState(newMockState())
	if _, err := engine.CreateListing(sellerAddr, AssetRef{ItemID: big.NewInt(1)}, big.NewInt(1)); !errors.Is(err, errNilCustody) {
		t.Fatalf("expected errNilCustody, got %v", err)
	}
	if _, err := engine.Params(); !errors.Is(err, errNoParams) {
		t.Fatalf("expected errNoParams, got %v", err)
	}
}
