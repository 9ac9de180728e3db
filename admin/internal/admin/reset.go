package admin

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/grateful-social/grateful/monitor/pkg/ledger"
	chain "github.com/grateful-social/grateful/monitor/pkg/solana"
)

// ResetBalance zeroes the fee-tracking total, optionally deleting the
// distribution history as well.
func ResetBalance(log *slog.Logger, dsn string, clearDistributions, dryRun, skipConfirm bool) error {
	ctx := context.Background()

	pool, err := ledger.NewPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	store, err := ledger.NewStore(ledger.StoreConfig{Logger: log, Pool: pool})
	if err != nil {
		return err
	}

	ft, err := store.GetFeeTracking(ctx)
	if err != nil {
		return err
	}
	count, err := store.CountDistributions(ctx)
	if err != nil {
		return err
	}

	var total int64
	if ft != nil {
		total = ft.TotalGivenOutLamports
	}
	fmt.Printf("Current state: %.6f SOL given out, %d distribution(s) recorded\n",
		chain.LamportsToSOL(uint64(total)), count)

	if clearDistributions {
		fmt.Printf("\n⚠️  WARNING: This will reset the running total AND delete all %d distribution(s)\n", count)
	} else {
		fmt.Println("\nThis will reset the running total; distribution history is kept")
	}

	if dryRun {
		fmt.Println("\n[DRY RUN] Would reset the above state")
		return nil
	}

	if !skipConfirm {
		if !confirm() {
			fmt.Println("\nConfirmation failed. Operation cancelled.")
			return nil
		}
	}

	if clearDistributions {
		deleted, err := store.DeleteAllDistributions(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d distribution(s)\n", deleted)
	}

	if err := store.ResetFeeTracking(ctx, time.Now().UTC()); err != nil {
		return err
	}
	fmt.Println("Fee tracking reset")
	return nil
}

func confirm() bool {
	fmt.Printf("\n⚠️  This is a DESTRUCTIVE operation that cannot be undone!\n")
	fmt.Printf("Type 'yes' to confirm: ")

	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(strings.ToLower(response)) == "yes"
}
