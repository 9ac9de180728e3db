package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grateful-social/grateful/monitor/pkg/ledger"
	chain "github.com/grateful-social/grateful/monitor/pkg/solana"
)

// Status prints the current fee-tracking state and registered wallets.
func Status(log *slog.Logger, dsn string) error {
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
	users, err := store.ListUsersWithWallets(ctx)
	if err != nil {
		return err
	}

	if ft == nil {
		fmt.Println("Fee tracking: not initialized (no scan has run yet)")
	} else {
		fmt.Printf("Total given out:        %.6f SOL (%d lamports)\n",
			chain.LamportsToSOL(uint64(ft.TotalGivenOutLamports)), ft.TotalGivenOutLamports)
		if ft.LastDistributionAt != nil {
			fmt.Printf("Last distribution at:   %s\n", ft.LastDistributionAt.UTC().Format("2006-01-02 15:04:05 MST"))
		}
		if ft.LastCheckedSignature != "" {
			fmt.Printf("Last checked signature: %s\n", ft.LastCheckedSignature)
		}
	}
	fmt.Printf("Distributions recorded: %d\n", count)
	fmt.Printf("Registered wallets:     %d\n", len(users))
	for _, u := range users {
		fmt.Printf("  - @%s %s\n", u.TwitterHandle, u.WalletAddress)
	}
	return nil
}
