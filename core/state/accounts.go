package state

import (
	"fmt"
	"math/big"

	"nhbmarket/core/types"
)

var accountPrefix = []byte("account/")

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

func accountStateKey(addr []byte) []byte {
	return prefixedKey(accountPrefix, addr)
}

// GetAccount returns the account stored under the address. Unknown accounts
// are returned with a zero balance.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	stored := new(storedAccount)
	ok, err := m.decode(accountStateKey(addr), stored)
	if err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	account := &types.Account{Balance: big.NewInt(0)}
	if !ok {
		return account, nil
	}
	account.Nonce = stored.Nonce
	if stored.Balance != nil {
		account.Balance = new(big.Int).Set(stored.Balance)
	}
	return account, nil
}

// PutAccount stores the account under the address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	balance := big.NewInt(0)
	if account.Balance != nil {
		if account.Balance.Sign() < 0 {
			return fmt.Errorf("state: negative balance")
		}
		balance = new(big.Int).Set(account.Balance)
	}
	return m.encode(accountStateKey(addr), &storedAccount{Nonce: account.Nonce, Balance: balance})
}
