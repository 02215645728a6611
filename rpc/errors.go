package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"nhbmarket/native/assets"
	"nhbmarket/native/bank"
	"nhbmarket/native/market"
)

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type errorResponse struct {
	Error     apiError `json:"error"`
	RequestID string   `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorResponse{
		Error:     apiError{Code: code, Message: message, Data: data},
		RequestID: requestIDFrom(r),
	})
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusBadRequest, "invalid_params", err.Error(), nil)
}

// errorMapping pairs an error category with its HTTP status and stable code.
// Order matters: specific categories precede their parents.
var errorMapping = []struct {
	target error
	status int
	code   string
}{
	{market.ErrNotFound, http.StatusNotFound, "not_found"},
	{market.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{market.ErrInvalidPrice, http.StatusBadRequest, "invalid_price"},
	{market.ErrInvalidDuration, http.StatusBadRequest, "invalid_duration"},
	{market.ErrInvalidFeeRate, http.StatusBadRequest, "invalid_fee_rate"},
	{market.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{market.ErrNotActive, http.StatusConflict, "not_active"},
	{market.ErrAssetAlreadyInSale, http.StatusConflict, "asset_already_in_sale"},
	{market.ErrBidTooLow, http.StatusConflict, "bid_too_low"},
	{market.ErrAuctionEnded, http.StatusConflict, "auction_ended"},
	{market.ErrAuctionNotEnded, http.StatusConflict, "auction_not_ended"},
	{market.ErrAlreadyFinalized, http.StatusConflict, "already_finalized"},
	{market.ErrNothingToWithdraw, http.StatusConflict, "nothing_to_withdraw"},
	{market.ErrReentrantCall, http.StatusConflict, "reentrant_call"},
	{market.ErrEnforcedPause, http.StatusServiceUnavailable, "enforced_pause"},
	{market.ErrTransferFailed, http.StatusUnprocessableEntity, "transfer_failed"},
	{bank.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{bank.ErrInvalidAccount, http.StatusBadRequest, "invalid_account"},
	{bank.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{assets.ErrUnknownAsset, http.StatusNotFound, "not_found"},
	{assets.ErrNotOwner, http.StatusForbidden, "unauthorized"},
	{assets.ErrAlreadyMinted, http.StatusConflict, "already_minted"},
	{assets.ErrInvalidOwner, http.StatusBadRequest, "invalid_account"},
}

func classify(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	var data interface{}
	var low *market.BidTooLowError
	if errors.As(err, &low) && low.Minimum != nil {
		data = map[string]string{"minimum": low.Minimum.String()}
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("market request failed", "request_id", requestIDFrom(r), "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	writeError(w, r, status, code, message, data)
}
