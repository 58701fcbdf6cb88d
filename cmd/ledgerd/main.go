package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tokligence/tokligence-ledger/internal/account"
	"github.com/tokligence/tokligence-ledger/internal/config"
	"github.com/tokligence/tokligence-ledger/internal/httpserver"
	"github.com/tokligence/tokligence-ledger/internal/keys"
	"github.com/tokligence/tokligence-ledger/internal/kv"
	kvbolt "github.com/tokligence/tokligence-ledger/internal/kv/bolt"
	kvmemory "github.com/tokligence/tokligence-ledger/internal/kv/memory"
	kvpostgres "github.com/tokligence/tokligence-ledger/internal/kv/postgres"
	kvsqlite "github.com/tokligence/tokligence-ledger/internal/kv/sqlite"
	"github.com/tokligence/tokligence-ledger/internal/ledger"
	"github.com/tokligence/tokligence-ledger/internal/logging"
	"github.com/tokligence/tokligence-ledger/internal/metrics"
	"github.com/tokligence/tokligence-ledger/internal/pricing"
	"github.com/tokligence/tokligence-ledger/internal/query"
	"github.com/tokligence/tokligence-ledger/internal/usage"
	"github.com/tokligence/tokligence-ledger/internal/userlock"
	"github.com/tokligence/tokligence-ledger/internal/version"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Rotating file logging (default enabled when log_file provided)
	const maxLogBytes = int64(300 * 1024 * 1024) // 300MB
	if logTarget := strings.TrimSpace(cfg.LogFile); logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[ledgerd] ")

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("open %s store: %v", cfg.StoreBackend, err)
	}
	defer store.Close()
	log.Printf("storage backend %s ready", cfg.StoreBackend)

	prices := pricing.Default()
	if cfg.PricingFile != "" {
		prices, err = pricing.Load(cfg.PricingFile)
		if err != nil {
			log.Fatalf("load pricing file: %v", err)
		}
	}

	stats := metrics.NewCollector()
	ids := keys.NewIDSource()
	locks := userlock.NewRegistry(cfg.LockCacheSize)
	accounts := account.NewStore(store)

	coordinator := ledger.NewCoordinator(store, accounts, locks, ids,
		log.New(log.Writer(), "[deduct] ", log.LstdFlags|log.Lmicroseconds),
		stats,
		ledger.Config{
			CommitAttempts:     uint64(cfg.CommitAttempts),
			CompensateAttempts: uint64(cfg.CompensateAttempts),
			RetryBaseDelay:     cfg.RetryBaseDelay,
		})

	usageLogger := log.New(log.Writer(), "[usage] ", log.LstdFlags|log.Lmicroseconds)
	recorder := usage.NewRecorder(store, ids, prices, usageLogger, stats)
	aggregator := usage.NewAggregator(store, locks, usageLogger)
	usageSvc := usage.NewService(recorder, aggregator, usageLogger)

	queries := query.NewService(store, stats)

	server := httpserver.New(coordinator, accounts, usageSvc, queries, stats,
		log.New(log.Writer(), "[http] ", log.LstdFlags|log.Lmicroseconds))

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("starting %s listening on %s (env=%s)", version.FullInfo(), cfg.ListenAddr, cfg.Environment)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func openStore(cfg config.Config) (kv.Store, error) {
	switch cfg.StoreBackend {
	case "sqlite":
		return kvsqlite.New(cfg.StorePath)
	case "postgres":
		return kvpostgres.New(cfg.PostgresDSN, 10, 5, 60)
	case "memory":
		return kvmemory.New(), nil
	default:
		return kvbolt.New(cfg.StorePath)
	}
}
