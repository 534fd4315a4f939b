package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scanchain/scanchain/internal/api"
	"github.com/scanchain/scanchain/internal/auth"
	"github.com/scanchain/scanchain/internal/config"
	"github.com/scanchain/scanchain/internal/ledger"
	"github.com/scanchain/scanchain/internal/logging"
	"github.com/scanchain/scanchain/internal/metrics"
	"github.com/scanchain/scanchain/internal/migration"
	"github.com/scanchain/scanchain/internal/registry"
	"github.com/scanchain/scanchain/internal/storage"
	"github.com/scanchain/scanchain/internal/verification"
	"github.com/scanchain/scanchain/internal/wallet"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "Path to config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.host/port)")
	simulate := flag.Bool("simulate", false, "Use the in-memory ledger and object store")
	flag.Parse()

	if err := run(*configPath, *addr, *simulate); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr string, simulate bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if simulate {
		cfg.Simulation.Enabled = true
		if cfg.Storage.Backend == "s3" && cfg.Storage.Endpoint == "" {
			cfg.Storage.Backend = "memory"
		}
		if cfg.Registry.Backend == "badger" && cfg.Registry.Dir == "" {
			cfg.Registry.Backend = "memory"
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Setup(os.Stdout, cfg.Log.Format, cfg.Log.Level)
	api.Version = version

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	key, err := signingKey(cfg)
	if err != nil {
		return err
	}

	l, err := ledger.New(ctx, ledger.Options{
		Chain:           chainConfig(cfg),
		ContractAddress: cfg.Ledger.ContractAddress,
		PrivateKey:      key,
		Simulation:      cfg.Simulation.Enabled,
		SimulatedOwner:  cfg.Simulation.Owner,
	})
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if cl, ok := l.(*ledger.ContractLedger); ok {
		defer cl.Chain().Close()
	}

	store, err := storage.New(ctx, storage.Options{
		Backend: cfg.Storage.Backend,
		S3: storage.S3Config{
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			Endpoint:  cfg.Storage.Endpoint,
			PublicURL: cfg.Storage.PublicURL,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
		},
		IPFSAPI:       cfg.Storage.IPFSAPI,
		IPFSGateway:   cfg.Storage.IPFSGateway,
		Timeout:       seconds(cfg.Storage.TimeoutSecs),
		EnsureBucket:  cfg.Storage.EnsureBucket,
		Simulation:    cfg.Simulation.Enabled,
		MaxObjectSize: cfg.Verification.MaxFileSize,
	})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	kv, closeKV, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	defer closeKV()
	schema, err := migration.Apply(kv)
	if err != nil {
		return fmt.Errorf("registry migration: %w", err)
	}
	logging.Debug("registry schema current", "version", schema, logging.Component("registry"))
	reg := registry.New(kv)

	authSvc, err := auth.NewService(kv, authConfig(cfg))
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.Auth.DemoUsers {
		if err := authSvc.EnsureDemoUsers(ctx); err != nil {
			return err
		}
	}

	svc := verification.NewService(pipelineConfig(cfg), l, store)
	if cfg.Lock.Backend == "redis" {
		locker := verification.NewRedisLocker(verification.RedisLockerConfig{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
			Prefix:   cfg.Lock.Prefix,
			TTL:      seconds(cfg.Lock.TTLSecs),
		})
		defer locker.Close()
		svc.SetLocker(locker)
	}

	collector := metrics.NewPrometheusCollector(metrics.NewCollector())
	svc.SetRecorder(collector)

	server := api.NewServer(serverConfig(cfg, addr), svc, reg, authSvc)
	server.SetMetricsCollector(collector)
	svc.SetNotifier(verification.MultiNotifier{reg, authSvc, server.Hub()})

	watcher, err := eventWatcher(cfg, l, server.Hub())
	if err != nil {
		return err
	}
	if watcher != nil {
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	if err := server.Start(ctx); err != nil {
		return err
	}

	logging.Info("ScanChain API server started",
		"addr", server.Addr(),
		"version", version,
		"ledger", ledgerName(l),
		"storage", store.Name(),
		"simulated", svc.Simulated(),
		logging.Component("api"))

	<-ctx.Done()
	logging.Info("Shutting down...", logging.Component("api"))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logging.Error("Error during shutdown", logging.Err(err), logging.Component("api"))
	}
	svc.Wait()

	logging.Info("Shutdown complete", logging.Component("api"))
	return nil
}

// signingKey unlocks the ledger wallet. A missing wallet leaves the contract
// ledger read-only.
func signingKey(cfg *config.Config) (*ecdsa.PrivateKey, error) {
	if cfg.Ledger.ContractAddress == "" {
		return nil, nil
	}
	key, _, err := wallet.LoadKey(cfg.Ledger.KeystoreDir, cfg.Ledger.WalletPasswordFile)
	if errors.Is(err, wallet.ErrNoWallet) {
		logging.Warn("no wallet in keystore",
			"dir", cfg.Ledger.KeystoreDir,
			logging.Component("wallet"))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unlocking wallet: %w", err)
	}
	return key, nil
}

func chainConfig(cfg *config.Config) *ledger.ChainConfig {
	cc := ledger.DefaultChainConfig()
	cc.RPCURL = cfg.Ledger.RPCURL
	cc.ChainID = cfg.Ledger.ChainID
	cc.BlockConfirmations = cfg.Ledger.BlockConfirmations
	cc.ConfirmTimeout = seconds(cfg.Ledger.ConfirmTimeoutSecs)
	return cc
}

func openRegistry(cfg *config.Config) (registry.KV, func(), error) {
	if cfg.Registry.Backend == "memory" {
		logging.Warn("registry is in memory; batches and accounts are lost on restart",
			logging.Backend("memory"),
			logging.Component("registry"))
		return registry.NewMemoryKV(), func() {}, nil
	}
	db, err := registry.OpenBadger(cfg.Registry.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: %w", err)
	}
	return db, func() {
		if err := db.Close(); err != nil {
			logging.Error("failed to close registry", logging.Err(err), logging.Component("registry"))
		}
	}, nil
}

func authConfig(cfg *config.Config) auth.Config {
	ac := auth.DefaultConfig()
	ac.JWTSecret = cfg.Auth.JWTSecret
	if ac.JWTSecret == "" {
		// Only reachable in simulation; Validate rejects it otherwise.
		buf := make([]byte, 32)
		rand.Read(buf)
		ac.JWTSecret = hex.EncodeToString(buf)
		logging.Warn("no JWT secret configured, sessions will not survive a restart",
			logging.Component("auth"))
	}
	if cfg.Auth.TokenTTLHours > 0 {
		ac.TokenTTL = time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
	}
	if cfg.Auth.BcryptCost > 0 {
		ac.BcryptCost = cfg.Auth.BcryptCost
	}
	return ac
}

func pipelineConfig(cfg *config.Config) *verification.Config {
	vc := verification.DefaultConfig()
	v := cfg.Verification
	vc.MaxFileSize = v.MaxFileSize
	vc.AllowedContentTypes = v.AllowedContentTypes
	vc.LockTimeout = seconds(v.LockTimeoutSecs)
	vc.UploadTimeout = seconds(v.UploadTimeoutSecs)
	vc.DownloadTimeout = seconds(v.DownloadTimeoutSecs)
	vc.LedgerTimeout = seconds(v.LedgerTimeoutSecs)
	vc.RecordTimeout = seconds(v.RecordTimeoutSecs)
	vc.StoreTimeout = seconds(v.StoreTimeoutSecs)
	vc.VerifyTimeout = seconds(v.VerifyTimeoutSecs)
	return vc
}

func serverConfig(cfg *config.Config, addr string) *api.ServerConfig {
	sc := api.ServerConfigFrom(cfg)
	if addr != "" {
		sc.Addr = addr
	}
	return sc
}

// eventWatcher relays ProductStored logs to websocket clients. It returns
// nil when watching is off or the ledger is simulated.
func eventWatcher(cfg *config.Config, l ledger.Ledger, hub *api.EventHub) (*ledger.EventWatcher, error) {
	cl, ok := l.(*ledger.ContractLedger)
	if !ok || !cfg.Ledger.WatchEvents {
		return nil, nil
	}
	return ledger.NewEventWatcher(cl.Chain(), cl.Address(), seconds(cfg.Ledger.EventPollSecs),
		func(ev ledger.ProductStoredEvent) {
			hub.Broadcast(api.EventLedgerEvent, ev)
		})
}

func ledgerName(l ledger.Ledger) string {
	if l.Simulated() {
		return "simulated"
	}
	return "contract"
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
