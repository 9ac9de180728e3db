package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for goose
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

var (
	// ErrWalletAlreadySet is returned when attaching a wallet to a user
	// that already has one. Wallets are set-once.
	ErrWalletAlreadySet = errors.New("wallet address already set")

	// ErrInvalidWalletAddress is returned for wallet addresses that do not
	// decode as Solana public keys.
	ErrInvalidWalletAddress = errors.New("invalid wallet address")

	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// Distribution is one recorded payout. Rows are immutable and keyed uniquely
// by transaction signature; they are only ever removed by an explicit
// administrative reset.
type Distribution struct {
	ID             uuid.UUID
	UserID         string
	WalletAddress  string
	AmountLamports int64
	Signature      string
	Reason         string
	CreatedAt      time.Time
}

// FeeTracking is the single-row running-total state. The total is a cache of
// the sum over distributions to registered wallets, recomputed every run; the
// last-checked signature is a scan diagnostic, never the source of the total.
type FeeTracking struct {
	TotalGivenOutLamports int64
	LastDistributionAt    *time.Time
	LastCheckedSignature  string
}

// NewPool creates a pgx connection pool with the service's standard tuning
// and verifies connectivity.
func NewPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(log *slog.Logger, connStr string) error {
	log.Info("ledger: running migrations")

	goose.SetBaseFS(embedMigrations)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("ledger: migrations completed")
	return nil
}

type StoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	return nil
}

// Store is the Postgres-backed ledger: users, distributions, and the
// fee-tracking singleton.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log:  cfg.Logger,
		pool: cfg.Pool,
	}, nil
}
