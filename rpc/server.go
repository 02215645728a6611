package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nhbmarket/core/events"
	"nhbmarket/crypto"
	"nhbmarket/native/assets"
	"nhbmarket/native/bank"
	"nhbmarket/native/market"
)

const (
	moduleName      = "market"
	maxRequestBytes = 1 << 20 // 1 MiB
)

// Config carries the HTTP facade options.
type Config struct {
	Auth      AuthConfig
	RateLimit RateLimit
	// DevFaucet exposes unauthenticated minting and funding endpoints.
	DevFaucet bool
	// StreamOrigins lists host patterns allowed to open the event stream from
	// a browser. Empty means same-origin only.
	StreamOrigins []string
	Logger        *slog.Logger
}

// Server exposes the market engine over JSON/HTTP. Mutating requests are
// serialised behind mu; queries share the read lock so they never observe a
// half-applied call.
type Server struct {
	engine   *market.Engine
	registry *assets.Registry
	vault    *bank.Vault
	recorder *events.Recorder

	mu        sync.RWMutex
	auth      *authenticator
	limiter   *rateLimiter
	logger    *slog.Logger
	devFaucet bool
	origins   []string
}

// NewServer wires the facade around an engine and its collaborators.
func NewServer(engine *market.Engine, registry *assets.Registry, vault *bank.Vault, recorder *events.Recorder, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		registry:  registry,
		vault:     vault,
		recorder:  recorder,
		auth:      newAuthenticator(cfg.Auth),
		limiter:   newRateLimiter(cfg.RateLimit),
		logger:    logger,
		devFaucet: cfg.DevFaucet,
		origins:   append([]string(nil), cfg.StreamOrigins...),
	}
}

// Handler returns the routed facade.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.auth.middleware)
		v1.Use(s.limiter.middleware)

		v1.Route("/market", func(mr chi.Router) {
			mr.Get("/params", instrument("params", s.handleParams))

			mr.Get("/listings", instrument("active_listings", s.handleActiveListings))
			mr.Post("/listings", instrument("create_listing", s.handleCreateListing))
			mr.Get("/listings/{id}", instrument("listing", s.handleGetListing))
			mr.Post("/listings/{id}/cancel", instrument("cancel_listing", s.handleCancelListing))
			mr.Post("/listings/{id}/buy", instrument("buy_listing", s.handleBuyListing))

			mr.Get("/auctions", instrument("active_auctions", s.handleActiveAuctions))
			mr.Post("/auctions", instrument("create_auction", s.handleCreateAuction))
			mr.Get("/auctions/{id}", instrument("auction", s.handleGetAuction))
			mr.Post("/auctions/{id}/bids", instrument("place_bid", s.handlePlaceBid))
			mr.Post("/auctions/{id}/end", instrument("end_auction", s.handleEndAuction))

			mr.Get("/proceeds/{account}", instrument("proceeds", s.handleProceedsOf))
			mr.Post("/proceeds/withdraw", instrument("withdraw", s.handleWithdraw))

			mr.Post("/admin/fee-rate", instrument("set_fee_rate", s.handleSetFeeRate))
			mr.Post("/admin/fee-recipient", instrument("set_fee_recipient", s.handleSetFeeRecipient))
			mr.Post("/admin/transfer", instrument("transfer_admin", s.handleTransferAdmin))
			mr.Post("/admin/pause", instrument("pause", s.handlePause))
			mr.Post("/admin/unpause", instrument("unpause", s.handleUnpause))

			mr.Get("/events", instrument("events", s.handleEvents))
			mr.Get("/events/stream", s.handleEventStream)
		})

		v1.Get("/accounts/{account}/balance", instrument("balance", s.handleBalance))
		v1.Get("/assets/{collection}/{itemID}/owner", instrument("asset_owner", s.handleAssetOwner))
		v1.Post("/assets/transfer", instrument("asset_transfer", s.handleAssetTransfer))

		if s.devFaucet {
			v1.Post("/dev/faucet", instrument("dev_faucet", s.handleFaucet))
			v1.Post("/dev/mint", instrument("dev_mint", s.handleMint))
		}
	})
	return r
}

// decodeBody reads a bounded JSON body into dst, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxRequestBytes)
		}
		if errors.Is(err, io.EOF) {
			// An empty body decodes as an empty object.
			return nil
		}
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

var errCallerRequired = errors.New("caller required")

// resolveCaller returns the acting account. With bearer auth enabled it is the
// token subject and a conflicting claimed caller is refused; without auth the
// claimed caller is trusted.
func (s *Server) resolveCaller(r *http.Request, claimed string) ([20]byte, int, error) {
	if caller, ok := callerFromContext(r.Context()); ok {
		if claimed != "" {
			parsed, err := crypto.ParseAccount(claimed)
			if err != nil || parsed != caller {
				return [20]byte{}, http.StatusForbidden, fmt.Errorf("caller does not match token subject")
			}
		}
		return caller, 0, nil
	}
	if s.auth.cfg.Enabled {
		return [20]byte{}, http.StatusUnauthorized, fmt.Errorf("missing bearer token")
	}
	if claimed == "" {
		return [20]byte{}, http.StatusBadRequest, errCallerRequired
	}
	caller, err := crypto.ParseAccount(claimed)
	if err != nil {
		return [20]byte{}, http.StatusBadRequest, fmt.Errorf("caller: %w", err)
	}
	return caller, 0, nil
}

// withCaller decodes the body, resolves the caller and writes the failure
// response when either step fails.
func (s *Server) withCaller(w http.ResponseWriter, r *http.Request, body interface{}, claimed func() string) ([20]byte, bool) {
	if err := decodeBody(w, r, body); err != nil {
		writeBadRequest(w, r, err)
		return [20]byte{}, false
	}
	caller, status, err := s.resolveCaller(r, claimed())
	if err != nil {
		code := "invalid_params"
		switch status {
		case http.StatusUnauthorized:
			code = "unauthenticated"
		case http.StatusForbidden:
			code = "unauthorized"
		}
		writeError(w, r, status, code, err.Error(), nil)
		return [20]byte{}, false
	}
	return caller, true
}
