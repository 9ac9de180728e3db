package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grateful-social/grateful/monitor/pkg/registry"
	"github.com/grateful-social/grateful/monitor/pkg/solana"
)

const (
	treasuryAddr = "TreasuryWallet11111111111111111111111111111"
	walletAddr   = "RegisteredWallet111111111111111111111111111"
	otherAddr    = "UnknownWallet111111111111111111111111111111"
)

func testRegistry() *registry.Registry {
	return registry.Build([]registry.User{
		{TwitterID: "42", TwitterHandle: "grateful_alice", WalletAddress: walletAddr},
	})
}

func TestGrateful_Classify_TreasuryOutgoing(t *testing.T) {
	t.Parallel()

	t.Run("treasury payout to registered wallet", func(t *testing.T) {
		t.Parallel()

		// 1.5 SOL sent, 5000 lamports fee.
		blockTime := time.Unix(1700000000, 0)
		tx := &solana.TransactionDetail{
			Signature:    "sig-a",
			AccountKeys:  []string{treasuryAddr, walletAddr},
			PreBalances:  []uint64{10_000_000_000, 0},
			PostBalances: []uint64{8_500_000_000, 1_499_995_000},
			Fee:          5_000,
			BlockTime:    &blockTime,
		}

		match, ok := Classify(tx, treasuryAddr, testRegistry(), PolicyTreasuryOutgoing)
		require.True(t, ok)
		require.Equal(t, uint64(1_499_995_000), match.AmountLamports)
		require.Equal(t, 1.499995, solana.LamportsToSOL(match.AmountLamports))
		require.Equal(t, registry.Normalize(walletAddr), match.WalletAddress)
		require.Equal(t, "grateful_alice", match.User.TwitterHandle)
		require.Equal(t, "sig-a", match.Signature)
		require.Equal(t, &blockTime, match.BlockTime)
	})

	t.Run("treasury absent from account list", func(t *testing.T) {
		t.Parallel()

		tx := &solana.TransactionDetail{
			Signature:    "sig-b",
			AccountKeys:  []string{otherAddr, walletAddr},
			PreBalances:  []uint64{5_000_000_000, 0},
			PostBalances: []uint64{4_000_000_000, 1_000_000_000},
			Fee:          5_000,
		}

		_, ok := Classify(tx, treasuryAddr, testRegistry(), PolicyTreasuryOutgoing)
		require.False(t, ok)
	})

	t.Run("recipient not registered", func(t *testing.T) {
		t.Parallel()

		tx := &solana.TransactionDetail{
			Signature:    "sig-c",
			AccountKeys:  []string{treasuryAddr, otherAddr},
			PreBalances:  []uint64{5_000_000_000, 0},
			PostBalances: []uint64{4_000_000_000, 999_995_000},
			Fee:          5_000,
		}

		_, ok := Classify(tx, treasuryAddr, testRegistry(), PolicyTreasuryOutgoing)
		require.False(t, ok)
	})

	t.Run("treasury received funds instead", func(t *testing.T) {
		t.Parallel()

		tx := &solana.TransactionDetail{
			Signature:    "sig-d",
			AccountKeys:  []string{treasuryAddr, walletAddr},
			PreBalances:  []uint64{5_000_000_000, 2_000_000_000},
			PostBalances: []uint64{6_000_000_000, 1_000_000_000},
			Fee:          5_000,
		}

		_, ok := Classify(tx, treasuryAddr, testRegistry(), PolicyTreasuryOutgoing)
		require.False(t, ok)
	})

	t.Run("fee swallows the delta", func(t *testing.T) {
		t.Parallel()

		tx := &solana.TransactionDetail{
			Signature:    "sig-e",
			AccountKeys:  []string{treasuryAddr, walletAddr},
			PreBalances:  []uint64{1_000_000, 0},
			PostBalances: []uint64{996_000, 1},
			Fee:          5_000,
		}

		_, ok := Classify(tx, treasuryAddr, testRegistry(), PolicyTreasuryOutgoing)
		require.False(t, ok)
	})

	t.Run("first gaining registered wallet wins ties", func(t *testing.T) {
		t.Parallel()

		secondWallet := "SecondWallet1111111111111111111111111111111"
		reg := registry.Build([]registry.User{
			{TwitterID: "42", TwitterHandle: "grateful_alice", WalletAddress: walletAddr},
			{TwitterID: "43", TwitterHandle: "grateful_bob", WalletAddress: secondWallet},
		})

		tx := &solana.TransactionDetail{
			Signature:    "sig-f",
			AccountKeys:  []string{treasuryAddr, secondWallet, walletAddr},
			PreBalances:  []uint64{5_000_000_000, 0, 0},
			PostBalances: []uint64{3_000_000_000, 999_997_500, 999_997_500},
			Fee:          5_000,
		}

		match, ok := Classify(tx, treasuryAddr, reg, PolicyTreasuryOutgoing)
		require.True(t, ok)
		require.Equal(t, "grateful_bob", match.User.TwitterHandle)
		require.Equal(t, uint64(1_999_995_000), match.AmountLamports)
	})

	t.Run("treasury address matching ignores case and whitespace", func(t *testing.T) {
		t.Parallel()

		tx := &solana.TransactionDetail{
			Signature:    "sig-g",
			AccountKeys:  []string{treasuryAddr, walletAddr},
			PreBalances:  []uint64{5_000_000_000, 0},
			PostBalances: []uint64{4_000_000_000, 999_995_000},
			Fee:          5_000,
		}

		match, ok := Classify(tx, "  "+treasuryAddr+"  ", testRegistry(), PolicyTreasuryOutgoing)
		require.True(t, ok)
		require.Equal(t, uint64(999_995_000), match.AmountLamports)
	})

	t.Run("malformed balance arrays", func(t *testing.T) {
		t.Parallel()

		tx := &solana.TransactionDetail{
			Signature:    "sig-h",
			AccountKeys:  []string{treasuryAddr, walletAddr},
			PreBalances:  []uint64{5_000_000_000},
			PostBalances: []uint64{4_000_000_000, 1_000_000_000},
			Fee:          5_000,
		}

		_, ok := Classify(tx, treasuryAddr, testRegistry(), PolicyTreasuryOutgoing)
		require.False(t, ok)
	})

	t.Run("nil transaction", func(t *testing.T) {
		t.Parallel()

		_, ok := Classify(nil, treasuryAddr, testRegistry(), PolicyTreasuryOutgoing)
		require.False(t, ok)
	})
}

func TestGrateful_Classify_AnyIncoming(t *testing.T) {
	t.Parallel()

	t.Run("third-party deposit to registered wallet", func(t *testing.T) {
		t.Parallel()

		// No treasury involved; no fee subtraction, the sender paid it.
		tx := &solana.TransactionDetail{
			Signature:    "sig-i",
			AccountKeys:  []string{otherAddr, walletAddr},
			PreBalances:  []uint64{5_000_000_000, 100},
			PostBalances: []uint64{4_499_995_000, 500_000_100},
			Fee:          5_000,
		}

		match, ok := Classify(tx, treasuryAddr, testRegistry(), PolicyAnyIncoming)
		require.True(t, ok)
		require.Equal(t, uint64(500_000_000), match.AmountLamports)
		require.Equal(t, "grateful_alice", match.User.TwitterHandle)
	})

	t.Run("no registered wallet gained", func(t *testing.T) {
		t.Parallel()

		tx := &solana.TransactionDetail{
			Signature:    "sig-j",
			AccountKeys:  []string{otherAddr, treasuryAddr},
			PreBalances:  []uint64{5_000_000_000, 0},
			PostBalances: []uint64{4_000_000_000, 999_995_000},
			Fee:          5_000,
		}

		_, ok := Classify(tx, treasuryAddr, testRegistry(), PolicyAnyIncoming)
		require.False(t, ok)
	})

	t.Run("registered wallet lost balance", func(t *testing.T) {
		t.Parallel()

		tx := &solana.TransactionDetail{
			Signature:    "sig-k",
			AccountKeys:  []string{walletAddr, otherAddr},
			PreBalances:  []uint64{5_000_000_000, 0},
			PostBalances: []uint64{4_000_000_000, 999_995_000},
			Fee:          5_000,
		}

		_, ok := Classify(tx, treasuryAddr, testRegistry(), PolicyAnyIncoming)
		require.False(t, ok)
	})
}
