package rpc

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"nhbmarket/crypto"
)

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, err := crypto.ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	s.mu.RLock()
	balance, err := s.vault.BalanceOf(account)
	s.mu.RUnlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountJSON{Account: crypto.FormatAccount(account), Amount: balance.String()})
}

func (s *Server) handleAssetOwner(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAsset(chi.URLParam(r, "collection"), chi.URLParam(r, "itemID"))
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	s.mu.RLock()
	owner, err := s.registry.OwnerOf(asset)
	s.mu.RUnlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ownerJSON{
		Collection: formatCollection(asset.Collection),
		ItemID:     asset.ItemID.String(),
		Owner:      crypto.FormatAccount(owner),
	})
}

func (s *Server) handleAssetTransfer(w http.ResponseWriter, r *http.Request) {
	var params assetTransferParams
	from, ok := s.withCaller(w, r, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	asset, err := parseAsset(params.Collection, params.ItemID)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	to, err := crypto.ParseAccount(params.To)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := s.mutate(func() error { return s.registry.Transfer(asset, from, to) }); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ownerJSON{
		Collection: formatCollection(asset.Collection),
		ItemID:     asset.ItemID.String(),
		Owner:      crypto.FormatAccount(to),
	})
}

// handleFaucet credits spendable funds. Only routed when the dev faucet is on.
func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var params faucetParams
	if err := decodeBody(w, r, &params); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	account, err := crypto.ParseAccount(params.Account)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := s.mutate(func() error { return s.vault.Deposit(account, amount) }); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.mu.RLock()
	balance, err := s.vault.BalanceOf(account)
	s.mu.RUnlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.logger.Info("dev faucet credit", "account", crypto.FormatAccount(account), "amount", amount.String())
	writeJSON(w, http.StatusOK, amountJSON{Account: crypto.FormatAccount(account), Amount: balance.String()})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var params mintParams
	if err := decodeBody(w, r, &params); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	asset, err := parseAsset(params.Collection, params.ItemID)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	owner, err := crypto.ParseAccount(params.Owner)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := s.mutate(func() error { return s.registry.Mint(asset, owner) }); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ownerJSON{
		Collection: formatCollection(asset.Collection),
		ItemID:     asset.ItemID.String(),
		Owner:      crypto.FormatAccount(owner),
	})
}
