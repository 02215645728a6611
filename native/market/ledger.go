package market

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// credit adds amount to the account's withdrawable balance. Balances are
// bounded to 256 bits; exceeding that indicates broken accounting upstream.
func (e *Engine) credit(account [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		panic(fmt.Sprintf("market: negative credit %s", amount))
	}
	current, err := e.state.MarketBalanceGet(account)
	if err != nil {
		return err
	}
	total := new(big.Int).Add(cloneBigInt(current), amount)
	if _, overflow := uint256.FromBig(total); overflow {
		panic(fmt.Sprintf("market: escrow balance overflow for %s", formatAddr(account)))
	}
	return e.state.MarketBalancePut(account, total)
}

// WithdrawProceeds pays the caller's entire ledger balance out of the vault.
// The balance is zeroed before the payout; a failed payout restores it.
func (e *Engine) WithdrawProceeds(caller [20]byte) (*big.Int, error) {
	var paid *big.Int
	err := e.execute("withdraw_proceeds", true, func() error {
		if err := e.requireCollaborators(false, true); err != nil {
			return err
		}
		balance, err := e.state.MarketBalanceGet(caller)
		if err != nil {
			return err
		}
		if balance == nil || balance.Sign() <= 0 {
			return ErrNothingToWithdraw
		}
		amount := new(big.Int).Set(balance)
		if err := e.state.MarketBalancePut(caller, big.NewInt(0)); err != nil {
			return err
		}
		if err := e.vault.Payout(caller, new(big.Int).Set(amount)); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		e.afterCommit(func() { e.metrics.RecordWithdrawal(amount) })
		e.emit(NewProceedsWithdrawnEvent(caller, amount))
		paid = amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// ProceedsOf returns the withdrawable balance of the account.
func (e *Engine) ProceedsOf(account [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	balance, err := e.state.MarketBalanceGet(account)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(balance), nil
}
