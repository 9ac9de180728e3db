package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/grateful-social/grateful/monitor/pkg/ledger"
	"github.com/grateful-social/grateful/monitor/pkg/metrics"
	"github.com/grateful-social/grateful/monitor/pkg/monitor"
	"github.com/grateful-social/grateful/monitor/pkg/server"
	chain "github.com/grateful-social/grateful/monitor/pkg/solana"
	"github.com/grateful-social/grateful/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultListenAddr = "0.0.0.0:8080"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Best-effort; production provides real environment variables.
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "address to listen on for HTTP (or set LISTEN_ADDR env var)")

	postgresDSNFlag := flag.String("postgres-dsn", "", "PostgreSQL connection string (or set DATABASE_URL env var)")
	migrateFlag := flag.Bool("migrate", true, "run database migrations on startup")

	solanaRPCFlag := flag.String("solana-rpc", "https://api.mainnet-beta.solana.com", "Solana RPC endpoint (or set SOLANA_RPC_URL env var)")
	treasuryFlag := flag.String("treasury", "", "treasury wallet address to scan (or set TREASURY_WALLET_ADDRESS env var)")
	rpcRequestsPerSecondFlag := flag.Float64("rpc-requests-per-second", 10, "Solana RPC request rate limit")

	refreshIntervalFlag := flag.Duration("refresh-interval", 5*time.Minute, "scheduled scan interval")
	signatureLimitFlag := flag.Int("signature-limit", 100, "recent treasury signatures inspected per scan")
	maxConcurrencyFlag := flag.Int("max-concurrency", 8, "maximum concurrent transaction fetches per scan")

	flag.Parse()

	log := logger.New(*verboseFlag)

	if envListenAddr := os.Getenv("LISTEN_ADDR"); envListenAddr != "" {
		*listenAddrFlag = envListenAddr
	}
	if envDSN := os.Getenv("DATABASE_URL"); envDSN != "" {
		*postgresDSNFlag = envDSN
	}
	if envRPC := os.Getenv("SOLANA_RPC_URL"); envRPC != "" {
		*solanaRPCFlag = envRPC
	}
	if envTreasury := os.Getenv("TREASURY_WALLET_ADDRESS"); envTreasury != "" {
		*treasuryFlag = envTreasury
	}
	if envInterval := os.Getenv("MONITOR_REFRESH_INTERVAL"); envInterval != "" {
		interval, err := time.ParseDuration(envInterval)
		if err != nil {
			return fmt.Errorf("invalid MONITOR_REFRESH_INTERVAL: %w", err)
		}
		*refreshIntervalFlag = interval
	}
	if envLimit := os.Getenv("MONITOR_SIGNATURE_LIMIT"); envLimit != "" {
		limit, err := strconv.Atoi(envLimit)
		if err != nil {
			return fmt.Errorf("invalid MONITOR_SIGNATURE_LIMIT: %w", err)
		}
		*signatureLimitFlag = limit
	}

	if *postgresDSNFlag == "" {
		return fmt.Errorf("--postgres-dsn or DATABASE_URL is required")
	}
	if *treasuryFlag == "" {
		return fmt.Errorf("--treasury or TREASURY_WALLET_ADDRESS is required")
	}
	treasury, err := solana.PublicKeyFromBase58(*treasuryFlag)
	if err != nil {
		return fmt.Errorf("invalid treasury address %q: %w", *treasuryFlag, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *migrateFlag {
		if err := ledger.RunMigrations(log, *postgresDSNFlag); err != nil {
			return err
		}
	}

	pool, err := ledger.NewPool(ctx, *postgresDSNFlag)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := ledger.NewStore(ledger.StoreConfig{
		Logger: log,
		Pool:   pool,
	})
	if err != nil {
		return err
	}

	chainClient, err := chain.NewClient(chain.ClientConfig{
		Logger:            log,
		Endpoint:          *solanaRPCFlag,
		RequestsPerSecond: *rpcRequestsPerSecondFlag,
	})
	if err != nil {
		return err
	}

	mon, err := monitor.New(monitor.Config{
		Logger:          log,
		Chain:           chainClient,
		Store:           store,
		Treasury:        treasury,
		RefreshInterval: *refreshIntervalFlag,
		SignatureLimit:  *signatureLimitFlag,
		MaxConcurrency:  *maxConcurrencyFlag,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Logger:     log,
		ListenAddr: *listenAddrFlag,
		Monitor:    mon,
		Ledger:     store,
		VersionInfo: server.VersionInfo{
			Version: version,
			Commit:  commit,
			Date:    date,
		},
	})
	if err != nil {
		return err
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	log.Info("monitor starting",
		"version", version,
		"treasury", treasury.String(),
		"rpc", *solanaRPCFlag,
		"interval", refreshIntervalFlag.String(),
	)

	mon.Start(ctx)
	return srv.Run(ctx)
}
