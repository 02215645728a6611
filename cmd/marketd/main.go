package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nhbmarket/config"
	"nhbmarket/core/events"
	"nhbmarket/core/state"
	"nhbmarket/crypto"
	"nhbmarket/native/assets"
	"nhbmarket/native/bank"
	"nhbmarket/native/market"
	"nhbmarket/observability"
	"nhbmarket/observability/logging"
	telemetry "nhbmarket/observability/otel"
	"nhbmarket/rpc"
	"nhbmarket/storage"
)

const serviceName = "marketd"

func main() {
	configFile := flag.String("config", "./market.toml", "Path to the configuration file (.toml, .yaml or .yml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = strings.TrimSpace(os.Getenv("NHB_ENV"))
	}
	logger, logCloser := logging.SetupWithFile(serviceName, env, logging.FileSink{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("failed to start market", slog.Any("error", err))
		os.Exit(1)
	}
	defer app.Close()

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(app.handler, serviceName),
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Error("listen failed", slog.String("addr", cfg.ListenAddress), slog.Any("error", err))
		os.Exit(1)
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("market facade listening",
			slog.String("addr", listener.Addr().String()),
			slog.String("admin", cfg.Market.Admin),
			slog.String("backend", cfg.Backend),
			slog.Bool("auth", cfg.Auth.Enabled),
			logging.MaskField("jwt_secret", cfg.Auth.HMACSecret),
			slog.Bool("dev_faucet", cfg.DevFaucet))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("serve failed", slog.Any("error", err))
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
	logger.Info("market stopped")
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Backend), config.BackendBolt) {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "market.db"), nil)
	}
	return storage.NewLevelDB(cfg.DataDir)
}

type app struct {
	db       storage.Database
	engine   *market.Engine
	recorder *events.Recorder
	handler  http.Handler
}

// newApp opens the database and wires state, custody, vault, engine and the
// HTTP facade.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	params, err := cfg.MarketParams()
	if err != nil {
		return nil, err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	mgr := state.NewManager(db)
	registry := assets.NewRegistry(mgr, moduleAccount("market/escrow"))
	vault := bank.NewVault(mgr, moduleAccount("market/vault"))
	recorder := events.NewRecorder()

	engine := market.NewEngine()
	engine.SetState(mgr)
	engine.SetCustody(registry)
	engine.SetVault(vault)
	engine.SetEmitter(events.Fanout{recorder, eventCounter{}})
	engine.SetPauses(cfg.Pauses)
	engine.SetMetrics(observability.Market())

	effective, err := engine.InitParams(params)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init market params: %w", err)
	}
	if effective != params {
		logger.Warn("stored market parameters differ from config; stored values win",
			slog.String("admin", crypto.FormatAccount(effective.Admin)),
			slog.Uint64("fee_bps", uint64(effective.FeeRateBps)))
	}
	observability.Market().SetFeeRate(effective.FeeRateBps)
	observability.Market().SetPaused(engine.Paused())

	server := rpc.NewServer(engine, registry, vault, recorder, rpc.Config{
		Auth: rpc.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		DevFaucet:     cfg.DevFaucet,
		StreamOrigins: cfg.StreamOrigins,
		Logger:        logger,
	})
	return &app{db: db, engine: engine, recorder: recorder, handler: server.Handler()}, nil
}

func (a *app) Close() {
	if a != nil && a.db != nil {
		a.db.Close()
	}
}

// moduleAccount derives a keyless account from a label.
func moduleAccount(label string) [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256([]byte(label))[12:])
	return out
}

// eventCounter feeds the emitted-events counter.
type eventCounter struct{}

func (eventCounter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	observability.Events().RecordEvent(evt.EventType())
}
