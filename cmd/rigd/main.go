package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"rigchain/config"
	nativecommon "rigchain/native/common"
	"rigchain/native/mining"
	"rigchain/native/params"
	"rigchain/native/rig"
	"rigchain/native/sale"
	"rigchain/native/supply"
	"rigchain/native/token"
	"rigchain/observability"
	"rigchain/observability/logging"
	"rigchain/rpc"
	"rigchain/state"
	"rigchain/storage"
)

const envVar = "RIGCHAIN_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	rpcAddr := flag.String("rpc", "", "RPC listen address (overrides config)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if env == "" {
		env = cfg.Node.Environment
	}
	logger := logging.Setup("rigd", env, logging.Options{FilePath: cfg.Node.LogFile, MaxSizeMB: 64, MaxBackups: 4})

	if *rpcAddr != "" {
		cfg.Node.RPCAddress = *rpcAddr
	}

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("open storage", "backend", cfg.Node.Backend, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	manager, err := state.NewManager(db)
	if err != nil {
		logger.Error("init state manager", "err", err)
		os.Exit(1)
	}

	ledger, err := supply.NewLedger(cfg.Cap())
	if err != nil {
		logger.Error("init supply ledger", "err", err)
		os.Exit(1)
	}
	ledger.SetTelemetry(observability.Supply())
	if snap, ok, err := manager.SupplySnapshot(); err != nil {
		logger.Error("load supply snapshot", "err", err)
		os.Exit(1)
	} else if ok {
		if err := ledger.Restore(snap); err != nil {
			logger.Error("restore supply snapshot", "err", err)
			os.Exit(1)
		}
		logger.Info("supply snapshot restored", "circulating", ledger.Circulating().String())
	}

	schedule, err := cfg.Schedule()
	if err != nil {
		logger.Error("build emission schedule", "err", err)
		os.Exit(1)
	}

	pauses := nativecommon.NewPauseRegistry()
	bans := nativecommon.NewBanRegistry()

	miningEngine, err := mining.NewEngine(schedule, ledger)
	if err != nil {
		logger.Error("init mining engine", "err", err)
		os.Exit(1)
	}
	miningEngine.SetState(manager)
	miningEngine.SetPauses(pauses)
	miningEngine.SetBans(bans)
	miningEngine.SetQuota(cfg.ClaimQuota())
	miningEngine.SetTelemetry(observability.Mining())

	tokens := token.NewLedger(manager)
	miningEngine.SetTokenLedger(tokens)

	rigEngine := rig.NewEngine(miningEngine, rig.UniformDraw{Min: 1, Max: 1000})
	rigEngine.SetState(manager)
	rigEngine.SetPauses(pauses)

	saleCfg, err := cfg.SaleConfig()
	if err != nil {
		logger.Error("build sale config", "err", err)
		os.Exit(1)
	}
	saleEngine, err := sale.NewEngine(saleCfg, ledger)
	if err != nil {
		logger.Error("init sale engine", "err", err)
		os.Exit(1)
	}
	saleEngine.SetState(manager)
	saleEngine.SetTokenLedger(tokens)
	saleEngine.SetPauses(pauses)
	saleEngine.SetBans(bans)
	saleEngine.SetTelemetry(observability.Sale())

	timelock := params.NewTimelock(cfg.TimelockAuthority(), cfg.Timelock.DelaySeconds)
	timelock.SetState(manager)
	timelock.RegisterApplier(params.KindPauseSwitch, params.PauseApplier{Registry: pauses})
	timelock.RegisterApplier(params.KindBanSwitch, params.BanApplier{Registry: bans})
	timelock.RegisterApplier(params.KindSaleConfig, params.SaleConfigApplier{Engine: saleEngine})

	server := rpc.NewServer(rpc.Config{
		Logger:   logger,
		Mining:   miningEngine,
		Sale:     saleEngine,
		Rigs:     rigEngine,
		Tokens:   tokens,
		Supply:   ledger,
		Timelock: timelock,
	})
	limiter := rpc.NewRateLimiter(50, 100)

	httpServer := &http.Server{
		Addr:              cfg.Node.RPCAddress,
		Handler:           server.Handler(limiter),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("rpc listening", "address", cfg.Node.RPCAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc server", "err", err)
			stop()
		}
	}()

	// Persist the supply counters periodically so a crash loses at most one
	// interval of audit totals; engine records persist on every mutation.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := manager.PutSupplySnapshot(ledger.SnapshotNow()); err != nil {
					logger.Error("persist supply snapshot", "err", err)
				}
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("rpc shutdown", "err", err)
	}
	if err := manager.PutSupplySnapshot(ledger.SnapshotNow()); err != nil {
		logger.Error("persist supply snapshot", "err", err)
	}
	logger.Info("stopped")
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Node.Backend {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.Node.DataDir, "rigchain.db"))
	case "leveldb":
		return storage.NewLevelDB(filepath.Join(cfg.Node.DataDir, "chaindata"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Node.Backend)
	}
}
