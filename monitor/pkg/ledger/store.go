package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/grateful-social/grateful/monitor/pkg/registry"
)

// UpsertUser creates or updates a user record. The wallet address is not
// touched here; SetWalletAddress owns that transition.
func (s *Store) UpsertUser(ctx context.Context, user registry.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (twitter_id, twitter_handle, wallet_address, created_at)
		VALUES ($1, $2, '', NOW())
		ON CONFLICT (twitter_id) DO UPDATE SET twitter_handle = EXCLUDED.twitter_handle
	`, user.TwitterID, user.TwitterHandle)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", user.TwitterID, err)
	}
	return nil
}

// SetWalletAddress attaches a wallet to a user. Once a wallet is non-empty
// it never changes; a second attempt returns ErrWalletAlreadySet.
func (s *Store) SetWalletAddress(ctx context.Context, twitterID, walletAddress string) error {
	if !registry.IsValidWalletAddress(walletAddress) {
		return ErrInvalidWalletAddress
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET wallet_address = $2
		WHERE twitter_id = $1 AND wallet_address = ''
	`, twitterID, walletAddress)
	if err != nil {
		return fmt.Errorf("failed to set wallet for user %s: %w", twitterID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE twitter_id = $1)
	`, twitterID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up user %s: %w", twitterID, err)
	}
	if !exists {
		return ErrUserNotFound
	}
	return ErrWalletAlreadySet
}

// ListUsersWithWallets returns every user with a non-empty wallet address.
func (s *Store) ListUsersWithWallets(ctx context.Context) ([]registry.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT twitter_id, twitter_handle, wallet_address, created_at
		FROM users
		WHERE wallet_address <> ''
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []registry.User
	for rows.Next() {
		var u registry.User
		if err := rows.Scan(&u.TwitterID, &u.TwitterHandle, &u.WalletAddress, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// InsertDistributionIfAbsent records a distribution unless one already exists
// for the same transaction signature. Returns true when a row was inserted.
// A conflicting concurrent insert is reported as "already recorded", not as
// an error.
func (s *Store) InsertDistributionIfAbsent(ctx context.Context, d Distribution) (bool, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO distributions (id, user_id, wallet_address, amount_lamports, signature, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (signature) DO NOTHING
	`, d.ID, d.UserID, d.WalletAddress, d.AmountLamports, d.Signature, d.Reason, d.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert distribution %s: %w", d.Signature, err)
	}
	return tag.RowsAffected() == 1, nil
}

// DistributionExists reports whether a distribution with the given
// transaction signature has been recorded.
func (s *Store) DistributionExists(ctx context.Context, signature string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM distributions WHERE signature = $1)
	`, signature).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check distribution %s: %w", signature, err)
	}
	return exists, nil
}

// GetDistributionBySignature returns the recorded distribution for a
// signature, or nil when none exists.
func (s *Store) GetDistributionBySignature(ctx context.Context, signature string) (*Distribution, error) {
	var d Distribution
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, wallet_address, amount_lamports, signature, reason, created_at
		FROM distributions
		WHERE signature = $1
	`, signature).Scan(&d.ID, &d.UserID, &d.WalletAddress, &d.AmountLamports, &d.Signature, &d.Reason, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution %s: %w", signature, err)
	}
	return &d, nil
}

// SumRegisteredDistributions recomputes the total given out, restricted to
// wallets currently registered to a user. This sum is the source of truth
// for the fee-tracking total.
func (s *Store) SumRegisteredDistributions(ctx context.Context) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(d.amount_lamports), 0)
		FROM distributions d
		JOIN users u ON LOWER(TRIM(u.wallet_address)) = d.wallet_address
	`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum distributions: %w", err)
	}
	return total, nil
}

// CountDistributions returns the total number of recorded distributions.
func (s *Store) CountDistributions(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM distributions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count distributions: %w", err)
	}
	return count, nil
}

// DeleteAllDistributions removes the full distribution history and returns
// how many rows were removed. Administrative reset only.
func (s *Store) DeleteAllDistributions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM distributions`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete distributions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetFeeTracking loads the fee-tracking singleton, or nil before the first
// monitor run.
func (s *Store) GetFeeTracking(ctx context.Context) (*FeeTracking, error) {
	var ft FeeTracking
	err := s.pool.QueryRow(ctx, `
		SELECT total_given_out_lamports, last_distribution_at, last_checked_signature
		FROM fee_tracking
		WHERE id = 1
	`).Scan(&ft.TotalGivenOutLamports, &ft.LastDistributionAt, &ft.LastCheckedSignature)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query fee tracking: %w", err)
	}
	return &ft, nil
}

// UpsertFeeTracking persists the fee-tracking singleton.
func (s *Store) UpsertFeeTracking(ctx context.Context, ft FeeTracking) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fee_tracking (id, total_given_out_lamports, last_distribution_at, last_checked_signature)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			total_given_out_lamports = EXCLUDED.total_given_out_lamports,
			last_distribution_at = EXCLUDED.last_distribution_at,
			last_checked_signature = EXCLUDED.last_checked_signature
	`, ft.TotalGivenOutLamports, ft.LastDistributionAt, ft.LastCheckedSignature)
	if err != nil {
		return fmt.Errorf("failed to upsert fee tracking: %w", err)
	}
	return nil
}

// ResetFeeTracking zeroes the running total and clears the scan watermark.
// Distribution history is untouched; DeleteAllDistributions removes it when
// explicitly requested.
func (s *Store) ResetFeeTracking(ctx context.Context, now time.Time) error {
	return s.UpsertFeeTracking(ctx, FeeTracking{
		TotalGivenOutLamports: 0,
		LastDistributionAt:    &now,
		LastCheckedSignature:  "",
	})
}
