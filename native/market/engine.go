package market

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nhbmarket/core/events"
	"nhbmarket/core/types"
	"nhbmarket/native/common"
	"nhbmarket/observability"
)

const moduleName = "market"

type engineState interface {
	MarketListingGet(id [32]byte) (*Listing, bool, error)
	MarketListingPut(listing *Listing) error
	MarketAuctionGet(id [32]byte) (*Auction, bool, error)
	MarketAuctionPut(auction *Auction) error
	MarketAssetSaleGet(asset AssetRef) ([32]byte, bool, error)
	MarketAssetSalePut(asset AssetRef, id [32]byte) error
	MarketAssetSaleDelete(asset AssetRef) error
	MarketIndexAdd(kind SaleKind, id [32]byte) error
	MarketIndexRemove(kind SaleKind, id [32]byte) error
	MarketIndexList(kind SaleKind) ([][32]byte, error)
	MarketBalanceGet(addr [20]byte) (*big.Int, error)
	MarketBalancePut(addr [20]byte, amount *big.Int) error
	MarketParamsGet() (*Params, bool, error)
	MarketParamsPut(params *Params) error
	MarketPausedGet() (bool, error)
	MarketPausedPut(paused bool) error
	MarketNextNonce() (uint64, error)

	// BeginCall and EndCall bracket a single engine call. Commit is refused
	// while a call is open, so nothing a collaborator does mid-call can
	// persist the call's writes. RevertToSnapshot discards them on failure.
	BeginCall() int
	EndCall()
	RevertToSnapshot(id int)
	Commit() error
}

// Custody moves asset title into and out of engine custody. Any error is
// treated as a hard failure of the surrounding call.
type Custody interface {
	TakeCustody(asset AssetRef, from [20]byte) error
	ReleaseCustody(asset AssetRef, to [20]byte) error
}

// Vault moves value between participants and the engine. Both operations are
// all-or-nothing.
type Vault interface {
	Collect(from [20]byte, amount *big.Int) error
	Payout(to [20]byte, amount *big.Int) error
}

// Engine is the listing/auction escrow engine. Every exported mutating method
// runs to completion under an execution lock: a nested call made from a
// custody or vault callback, or an overlapping call from another goroutine,
// fails with ErrReentrantCall. Callers that serve concurrent clients must
// serialise mutating calls themselves.
type Engine struct {
	state   engineState
	custody Custody
	vault   Vault
	emitter events.Emitter
	pauses  common.PauseView
	metrics *observability.MarketMetrics
	nowFn   func() int64

	lock      common.ExecutionLock
	pending   []*types.Event
	committed []func()
}

// NewEngine creates a market engine with a no-op emitter. Callers wire state,
// custody and vault before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody configures the asset custody adapter.
func (e *Engine) SetCustody(custody Custody) { e.custody = custody }

// SetVault configures the value transfer primitive.
func (e *Engine) SetVault(vault Vault) { e.vault = vault }

// SetPauses wires an external pause view, typically the operator config. The
// engine is paused when either this view or the administrator flag says so.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetMetrics enables prometheus instrumentation.
func (e *Engine) SetMetrics(m *observability.MarketMetrics) { e.metrics = m }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// InitParams stores the supplied parameters unless parameters were already
// persisted, in which case the stored values win. It returns the effective
// parameters.
func (e *Engine) InitParams(params Params) (Params, error) {
	if e == nil || e.state == nil {
		return Params{}, errNilState
	}
	release, err := e.lock.Enter()
	if err != nil {
		return Params{}, err
	}
	defer release()
	stored, ok, err := e.state.MarketParamsGet()
	if err != nil {
		return Params{}, err
	}
	if ok && stored != nil {
		return *stored, nil
	}
	if err := params.Validate(); err != nil {
		return Params{}, err
	}
	snapshot := e.state.BeginCall()
	if err := e.state.MarketParamsPut(&params); err != nil {
		e.state.RevertToSnapshot(snapshot)
		e.state.EndCall()
		return Params{}, err
	}
	e.state.EndCall()
	if err := e.state.Commit(); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return Params{}, err
	}
	return params, nil
}

// IsPaused implements common.PauseView over the administrator flag and the
// optional external view.
func (e *Engine) IsPaused(module string) bool {
	if e == nil {
		return false
	}
	if e.pauses != nil && e.pauses.IsPaused(module) {
		return true
	}
	if e.state == nil {
		return false
	}
	paused, err := e.state.MarketPausedGet()
	return err == nil && paused
}

// execute runs fn as one indivisible call: execution lock, pause guard, state
// snapshot, and buffered events that are only emitted once the writes commit.
func (e *Engine) execute(op string, guarded bool, fn func() error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.lock.Enter()
	if err != nil {
		e.metrics.RecordOperation(op, "reentrant")
		return fmt.Errorf("%s: %w", op, ErrReentrantCall)
	}
	defer release()
	if guarded {
		if err := common.Guard(e, moduleName); err != nil {
			e.metrics.RecordOperation(op, "paused")
			return ErrEnforcedPause
		}
	}
	start := time.Now()
	e.discard()
	snapshot := e.state.BeginCall()
	err = func() error {
		defer e.state.EndCall()
		if err := fn(); err != nil {
			e.state.RevertToSnapshot(snapshot)
			return err
		}
		return nil
	}()
	if err != nil {
		e.discard()
		e.metrics.RecordOperation(op, outcomeOf(err))
		return err
	}
	if err := e.state.Commit(); err != nil {
		e.state.RevertToSnapshot(snapshot)
		e.discard()
		e.metrics.RecordOperation(op, "commit_error")
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	buffered, hooks := e.pending, e.committed
	e.pending, e.committed = nil, nil
	for _, evt := range buffered {
		e.emitter.Emit(WrapEvent(evt))
	}
	for _, hook := range hooks {
		hook()
	}
	e.metrics.RecordOperation(op, "ok")
	e.metrics.ObserveLatency(op, time.Since(start))
	return nil
}

func (e *Engine) discard() {
	e.pending = e.pending[:0]
	e.committed = e.committed[:0]
}

// afterCommit defers fn until the surrounding call commits. Metric updates go
// through here so a rolled back call leaves no trace.
func (e *Engine) afterCommit(fn func()) {
	e.committed = append(e.committed, fn)
}

// emit buffers an event until the surrounding call commits.
func (e *Engine) emit(evt *types.Event) {
	if evt == nil {
		return
	}
	e.pending = append(e.pending, evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) params() (Params, error) {
	stored, ok, err := e.state.MarketParamsGet()
	if err != nil {
		return Params{}, err
	}
	if !ok || stored == nil {
		return Params{}, errNoParams
	}
	return *stored, nil
}

func (e *Engine) requireCollaborators(needCustody, needVault bool) error {
	if needCustody && e.custody == nil {
		return errNilCustody
	}
	if needVault && e.vault == nil {
		return errNilVault
	}
	return nil
}

// ensureAssetFree enforces that no listing or auction currently holds the asset.
func (e *Engine) ensureAssetFree(asset AssetRef) error {
	if _, held, err := e.state.MarketAssetSaleGet(asset); err != nil {
		return err
	} else if held {
		return fmt.Errorf("%w: %s", ErrAssetAlreadyInSale, asset)
	}
	return nil
}

// nextSaleID derives a collision-resistant identifier from the asset, the
// seller, the creation time and a persisted engine nonce.
func (e *Engine) nextSaleID(asset AssetRef, seller [20]byte, createdAt int64) ([32]byte, error) {
	nonce, err := e.state.MarketNextNonce()
	if err != nil {
		return [32]byte{}, err
	}
	key := asset.Key()
	var ts, n [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(createdAt))
	binary.BigEndian.PutUint64(n[:], nonce)
	return ethcrypto.Keccak256Hash(key[:], seller[:], ts[:], n[:]), nil
}

func validPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotActive):
		return "not_active"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrAssetAlreadyInSale):
		return "asset_in_sale"
	case errors.Is(err, ErrBidTooLow):
		return "bid_too_low"
	case errors.Is(err, ErrAuctionEnded):
		return "auction_ended"
	case errors.Is(err, ErrAuctionNotEnded):
		return "auction_not_ended"
	case errors.Is(err, ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, ErrNothingToWithdraw):
		return "nothing_to_withdraw"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	default:
		return "error"
	}
}
