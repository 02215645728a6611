package rpc

import (
	"net/http"

	"nhbmarket/crypto"
)

func (s *Server) handleSetFeeRate(w http.ResponseWriter, r *http.Request) {
	var params feeRateParams
	caller, ok := s.withCaller(w, r, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	s.adminUpdate(w, r, func() error { return s.engine.SetFeeRate(caller, params.Bps) })
}

func (s *Server) handleSetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	var params addressParams
	caller, ok := s.withCaller(w, r, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	recipient, err := crypto.ParseAccount(params.Address)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	s.adminUpdate(w, r, func() error { return s.engine.SetFeeRecipient(caller, recipient) })
}

func (s *Server) handleTransferAdmin(w http.ResponseWriter, r *http.Request) {
	var params addressParams
	caller, ok := s.withCaller(w, r, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	next, err := crypto.ParseAccount(params.Address)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	s.adminUpdate(w, r, func() error { return s.engine.TransferAdmin(caller, next) })
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var params callerParams
	caller, ok := s.withCaller(w, r, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	s.adminUpdate(w, r, func() error { return s.engine.Pause(caller) })
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	var params callerParams
	caller, ok := s.withCaller(w, r, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	s.adminUpdate(w, r, func() error { return s.engine.Unpause(caller) })
}

// adminUpdate applies fn and answers with the resulting parameters.
func (s *Server) adminUpdate(w http.ResponseWriter, r *http.Request, fn func() error) {
	s.mu.Lock()
	err := fn()
	if err != nil {
		s.mu.Unlock()
		s.writeEngineError(w, r, err)
		return
	}
	params, err := s.engine.Params()
	paused := s.engine.Paused()
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.logger.Info("market parameters updated", "request_id", requestIDFrom(r), "path", r.URL.Path)
	writeJSON(w, http.StatusOK, paramsFrom(params, paused))
}
