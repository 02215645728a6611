package bank

import (
	"errors"
	"fmt"
	"math/big"

	"nhbmarket/core/types"
)

var (
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAccount      = errors.New("bank: account required")
)

type accountState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	Snapshot() int
	RevertToSnapshot(id int)
	Commit() error
}

// Vault holds marketplace value in a dedicated account. Collect and Payout
// stage their writes in the state journal and leave committing to the caller,
// so they roll back together with the surrounding engine call.
type Vault struct {
	state   accountState
	account [20]byte
}

// NewVault returns a vault backed by the given account.
func NewVault(state accountState, account [20]byte) *Vault {
	return &Vault{state: state, account: account}
}

// Account returns the vault's own address.
func (v *Vault) Account() [20]byte { return v.account }

// Collect moves amount from the payer into the vault.
func (v *Vault) Collect(from [20]byte, amount *big.Int) error {
	if v == nil || v.state == nil {
		return fmt.Errorf("bank: vault not configured")
	}
	return Transfer(v.state, from, v.account, amount)
}

// Payout moves amount from the vault to the recipient.
func (v *Vault) Payout(to [20]byte, amount *big.Int) error {
	if v == nil || v.state == nil {
		return fmt.Errorf("bank: vault not configured")
	}
	return Transfer(v.state, v.account, to, amount)
}

// Holdings returns the vault's balance.
func (v *Vault) Holdings() (*big.Int, error) {
	return v.BalanceOf(v.account)
}

// BalanceOf returns the spendable balance of any account.
func (v *Vault) BalanceOf(addr [20]byte) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, fmt.Errorf("bank: vault not configured")
	}
	account, err := v.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(account.Balance), nil
}

// Deposit credits new funds to an account and commits immediately. It backs
// the development faucet and genesis allocations. Inside an engine operation
// the commit is refused and the credit is undone.
func (v *Vault) Deposit(to [20]byte, amount *big.Int) error {
	if v == nil || v.state == nil {
		return fmt.Errorf("bank: vault not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if to == ([20]byte{}) {
		return ErrInvalidAccount
	}
	snapshot := v.state.Snapshot()
	account, err := v.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	if err := v.state.PutAccount(to[:], account); err != nil {
		v.state.RevertToSnapshot(snapshot)
		return err
	}
	if err := v.state.Commit(); err != nil {
		v.state.RevertToSnapshot(snapshot)
		return err
	}
	return nil
}

// Transfer debits from and credits to. Both writes are staged in the state
// journal; a failure leaves neither applied.
func Transfer(state accountState, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from == ([20]byte{}) || to == ([20]byte{}) {
		return ErrInvalidAccount
	}
	if from == to {
		return nil
	}
	sender, err := state.GetAccount(from[:])
	if err != nil {
		return err
	}
	if sender.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, sender.Balance, amount)
	}
	recipient, err := state.GetAccount(to[:])
	if err != nil {
		return err
	}
	snapshot := state.Snapshot()
	sender.Balance = new(big.Int).Sub(sender.Balance, amount)
	recipient.Balance = new(big.Int).Add(recipient.Balance, amount)
	if err := state.PutAccount(from[:], sender); err != nil {
		state.RevertToSnapshot(snapshot)
		return err
	}
	if err := state.PutAccount(to[:], recipient); err != nil {
		state.RevertToSnapshot(snapshot)
		return err
	}
	return nil
}
