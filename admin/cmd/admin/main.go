package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/grateful-social/grateful/admin/internal/admin"
	"github.com/grateful-social/grateful/monitor/pkg/ledger"
	"github.com/grateful-social/grateful/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	postgresDSNFlag := flag.String("postgres-dsn", "", "PostgreSQL connection string (or set DATABASE_URL env var)")

	// Commands
	migrateFlag := flag.Bool("migrate", false, "run database migrations using goose")
	statusFlag := flag.Bool("status", false, "show fee-tracking state and registered wallets")
	resetBalanceFlag := flag.Bool("reset-balance", false, "reset the fee-tracking running total")
	clearDistributionsFlag := flag.Bool("clear-distributions", false, "also delete distribution history (use with --reset-balance)")
	dryRunFlag := flag.Bool("dry-run", false, "dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "skip confirmation prompt (use with caution)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	if envDSN := os.Getenv("DATABASE_URL"); envDSN != "" {
		*postgresDSNFlag = envDSN
	}
	if *postgresDSNFlag == "" {
		return fmt.Errorf("--postgres-dsn or DATABASE_URL is required")
	}

	if *migrateFlag {
		return ledger.RunMigrations(log, *postgresDSNFlag)
	}
	if *statusFlag {
		return admin.Status(log, *postgresDSNFlag)
	}
	if *resetBalanceFlag {
		return admin.ResetBalance(log, *postgresDSNFlag, *clearDistributionsFlag, *dryRunFlag, *yesFlag)
	}

	flag.Usage()
	return fmt.Errorf("no command specified")
}
