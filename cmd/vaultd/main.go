package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"tradevault/audit"
	"tradevault/config"
	"tradevault/core"
	"tradevault/crypto"
	"tradevault/engine"
	"tradevault/engine/httpengine"
	"tradevault/native/vault"
	"tradevault/observability/logging"
	telemetry "tradevault/observability/otel"
	"tradevault/rpc"
	"tradevault/storage"
)

const (
	envPrefix     = "TRADEVAULT"
	envPassphrase = envPrefix + "_KEYSTORE_PASSPHRASE"
	envRPCSecret  = envPrefix + "_RPC_SECRET"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "vaultd.yaml", "path to vaultd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("vaultd: load config: %v", err)
	}

	var sink io.Writer
	if cfg.Log.File != "" {
		sink = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
	}
	logger := logging.Setup("vaultd", cfg.Environment, sink)

	switch flag.Arg(0) {
	case "init":
		if err := runInit(cfg); err != nil {
			logger.Error("init failed", "error", err)
			os.Exit(1)
		}
	case "", "run":
		if err := runDaemon(cfg, logger); err != nil {
			logger.Error("daemon exited", "error", err)
			os.Exit(1)
		}
	default:
		log.Fatalf("vaultd: unknown command %q (expected init or run)", flag.Arg(0))
	}
}

func loadOwnerKey(cfg config.Config) (*crypto.PrivateKey, error) {
	passphrase := os.Getenv(envPassphrase)
	if strings.TrimSpace(passphrase) == "" {
		return nil, fmt.Errorf("%s must be set", envPassphrase)
	}
	return crypto.EnsureKeystore(cfg.KeystorePath, passphrase)
}

func openNode(cfg config.Config, emitter *audit.Recorder) (*core.Node, func(), error) {
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "vault"))
	if err != nil {
		return nil, nil, fmt.Errorf("open state database: %w", err)
	}
	engines := make([]engine.Engine, 0, len(cfg.Engines))
	for _, engCfg := range cfg.Engines {
		client, err := httpengine.New(httpengine.Config{
			ID:        engCfg.ID,
			URL:       engCfg.URL,
			Timeout:   engCfg.Timeout.Duration,
			AuthToken: engCfg.AuthToken,
		})
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("build engine %s: %w", engCfg.ID, err)
		}
		engines = append(engines, client)
	}
	opts := []core.Option{core.WithEngines(engines...)}
	if emitter != nil {
		opts = append(opts, core.WithEmitter(emitter))
	}
	node := core.NewNode(db, opts...)
	return node, func() { db.Close() }, nil
}

// runInit creates the owner keystore if missing and establishes the genesis
// vault from the operator policy file. It is idempotent: rerunning against an
// existing vault reports its address and exits cleanly.
func runInit(cfg config.Config) error {
	key, err := loadOwnerKey(cfg)
	if err != nil {
		return err
	}
	owner := key.PubKey().Address()

	if cfg.PolicyFile == "" {
		return fmt.Errorf("policy_file required for init")
	}
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}
	perTrade, err := config.Amount(policy.Vault.PerTradeCap, "vault.per_trade_cap")
	if err != nil {
		return err
	}
	daily, err := config.Amount(policy.Vault.DailyCap, "vault.daily_cap")
	if err != nil {
		return err
	}
	maxEscrow, err := config.Amount(policy.Vault.MaxEscrow, "vault.max_escrow")
	if err != nil {
		return err
	}

	node, closeNode, err := openNode(cfg, nil)
	if err != nil {
		return err
	}
	defer closeNode()

	created, err := node.Initialize(owner, vault.VaultParams{
		SwapEngine:     policy.Vault.SwapEngine,
		PositionEngine: policy.Vault.PositionEngine,
		Cooldown:       policy.Vault.CooldownSeconds,
		PerTradeCap:    perTrade,
		DailyCap:       daily,
		MaxPositions:   policy.Vault.MaxPositions,
		MaxEscrow:      maxEscrow,
	})
	if errors.Is(err, vault.ErrVaultExists) {
		fmt.Printf("vault already initialised for owner %s\n", owner.String())
		return nil
	}
	if err != nil {
		return fmt.Errorf("initialise vault: %w", err)
	}
	for _, mint := range policy.Mints {
		if err := node.AddMint(created.ID, owner, mint.Asset); err != nil {
			return fmt.Errorf("whitelist %s: %w", mint.Asset, err)
		}
	}
	fmt.Printf("vault %s initialised (owner %s, authority %s)\n",
		created.ID.String(), owner.String(), created.Authority.String())
	return nil
}

func runDaemon(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "vaultd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Traces:      cfg.Telemetry.Endpoint != "",
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	store, err := audit.Open(cfg.AuditDSN)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	hub := rpc.NewHub()
	recorder := audit.NewRecorder(store, hub.Broadcast, logger)

	node, closeNode, err := openNode(cfg, recorder)
	if err != nil {
		return err
	}
	defer closeNode()

	secret := []byte(strings.TrimSpace(os.Getenv(envRPCSecret)))
	if len(secret) == 0 {
		logger.Warn("no RPC auth secret configured, mutating methods will be rejected", "env", envRPCSecret)
	}

	server := rpc.NewServer(rpc.Config{
		Node:   node,
		Audit:  store,
		Hub:    hub,
		Secret: secret,
		Logger: logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("json-rpc listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("serve rpc: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown rpc: %w", err)
	}
	return nil
}
