package assets

import (
	"errors"
	"fmt"

	"nhbmarket/native/market"
)

var (
	ErrUnknownAsset  = errors.New("assets: unknown asset")
	ErrNotOwner      = errors.New("assets: caller does not own asset")
	ErrAlreadyMinted = errors.New("assets: asset already minted")
	ErrInvalidOwner  = errors.New("assets: owner required")
)

type registryState interface {
	AssetOwnerGet(asset market.AssetRef) ([20]byte, bool, error)
	AssetOwnerPut(asset market.AssetRef, owner [20]byte) error
	Snapshot() int
	RevertToSnapshot(id int)
	Commit() error
}

// TransferHook observes every title change. It runs after the owner record is
// written and may fail the transfer.
type TransferHook func(asset market.AssetRef, from, to [20]byte) error

// Registry is a state-backed ownership table. It implements market.Custody by
// moving title to and from a dedicated escrow address.
type Registry struct {
	state  registryState
	escrow [20]byte
	onMove TransferHook
}

// NewRegistry returns a registry whose custody address is escrow.
func NewRegistry(state registryState, escrow [20]byte) *Registry {
	return &Registry{state: state, escrow: escrow}
}

// SetTransferHook installs a hook invoked on every title change.
func (r *Registry) SetTransferHook(hook TransferHook) { r.onMove = hook }

// EscrowAddress returns the address that holds assets in custody.
func (r *Registry) EscrowAddress() [20]byte { return r.escrow }

// Mint records a new asset owned by owner and commits immediately.
func (r *Registry) Mint(asset market.AssetRef, owner [20]byte) error {
	if owner == ([20]byte{}) {
		return ErrInvalidOwner
	}
	normalized, err := market.NewAssetRef(asset.Collection, asset.ItemID)
	if err != nil {
		return err
	}
	if _, exists, err := r.state.AssetOwnerGet(normalized); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyMinted, normalized)
	}
	snapshot := r.state.Snapshot()
	if err := r.state.AssetOwnerPut(normalized, owner); err != nil {
		r.state.RevertToSnapshot(snapshot)
		return err
	}
	if err := r.state.Commit(); err != nil {
		r.state.RevertToSnapshot(snapshot)
		return err
	}
	return nil
}

// OwnerOf returns the current title holder.
func (r *Registry) OwnerOf(asset market.AssetRef) ([20]byte, error) {
	owner, ok, err := r.state.AssetOwnerGet(asset)
	if err != nil {
		return [20]byte{}, err
	}
	if !ok {
		return [20]byte{}, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return owner, nil
}

// Transfer moves title from one holder to another and commits immediately.
// Assets in custody can only be moved by the engine. Called while an engine
// operation is running, the commit is refused and the move is undone.
func (r *Registry) Transfer(asset market.AssetRef, from, to [20]byte) error {
	if from == r.escrow {
		return ErrNotOwner
	}
	snapshot := r.state.Snapshot()
	if err := r.move(asset, from, to); err != nil {
		r.state.RevertToSnapshot(snapshot)
		return err
	}
	if err := r.state.Commit(); err != nil {
		r.state.RevertToSnapshot(snapshot)
		return err
	}
	return nil
}

// TakeCustody moves title from the seller into escrow. The write is staged and
// committed by the calling engine operation.
func (r *Registry) TakeCustody(asset market.AssetRef, from [20]byte) error {
	return r.move(asset, from, r.escrow)
}

// ReleaseCustody moves title out of escrow to the recipient.
func (r *Registry) ReleaseCustody(asset market.AssetRef, to [20]byte) error {
	return r.move(asset, r.escrow, to)
}

func (r *Registry) move(asset market.AssetRef, from, to [20]byte) error {
	if to == ([20]byte{}) {
		return ErrInvalidOwner
	}
	owner, err := r.OwnerOf(asset)
	if err != nil {
		return err
	}
	if owner != from {
		return ErrNotOwner
	}
	if err := r.state.AssetOwnerPut(asset, to); err != nil {
		return err
	}
	if r.onMove != nil {
		return r.onMove(asset.Clone(), from, to)
	}
	return nil
}
