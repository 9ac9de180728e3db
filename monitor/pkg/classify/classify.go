package classify

import (
	"time"

	"github.com/grateful-social/grateful/monitor/pkg/registry"
	"github.com/grateful-social/grateful/monitor/pkg/solana"
)

// Policy selects which side of a transfer makes a transaction relevant.
type Policy int

const (
	// PolicyTreasuryOutgoing accepts only transactions where the treasury
	// balance decreased and a registered wallet's balance increased. The
	// net amount is the treasury delta minus the transaction fee. This is
	// the policy of the scheduled monitor pass.
	PolicyTreasuryOutgoing Policy = iota

	// PolicyAnyIncoming accepts any transaction in which a registered
	// wallet's balance increased, regardless of treasury involvement. The
	// amount is the wallet's raw balance increase; the fee was paid by the
	// sender, so nothing is subtracted. Used by the manual transaction
	// check.
	PolicyAnyIncoming
)

// Match is a classified payout: the recipient, the normalized wallet that
// received it, and the net amount in lamports.
type Match struct {
	User           registry.User
	WalletAddress  string
	AmountLamports uint64
	Signature      string
	BlockTime      *time.Time
}

// Classify decides whether tx is a relevant payout under the given policy.
// Returns (nil, false) for transactions that are malformed, unrelated, or net
// out to a zero or negative amount.
func Classify(tx *solana.TransactionDetail, treasury string, reg *registry.Registry, policy Policy) (*Match, bool) {
	if tx == nil || reg == nil {
		return nil, false
	}
	if len(tx.PreBalances) != len(tx.AccountKeys) || len(tx.PostBalances) != len(tx.AccountKeys) {
		return nil, false
	}

	switch policy {
	case PolicyTreasuryOutgoing:
		return classifyTreasuryOutgoing(tx, treasury, reg)
	case PolicyAnyIncoming:
		return classifyAnyIncoming(tx, reg)
	default:
		return nil, false
	}
}

func classifyTreasuryOutgoing(tx *solana.TransactionDetail, treasury string, reg *registry.Registry) (*Match, bool) {
	treasuryIndex := -1
	normalizedTreasury := registry.Normalize(treasury)
	for i, key := range tx.AccountKeys {
		if registry.Normalize(key) == normalizedTreasury {
			treasuryIndex = i
			break
		}
	}
	if treasuryIndex == -1 {
		return nil, false
	}

	treasuryDelta := int64(tx.PreBalances[treasuryIndex]) - int64(tx.PostBalances[treasuryIndex])
	if treasuryDelta <= 0 {
		return nil, false
	}

	net := treasuryDelta - int64(tx.Fee)
	if net <= 0 {
		return nil, false
	}

	// First registered wallet whose balance increased wins; never split or
	// double-count a transaction across multiple recipients.
	for i, key := range tx.AccountKeys {
		if i == treasuryIndex {
			continue
		}
		if tx.PostBalances[i] <= tx.PreBalances[i] {
			continue
		}
		wallet := registry.Normalize(key)
		user, ok := reg.Lookup(wallet)
		if !ok {
			continue
		}
		return &Match{
			User:           user,
			WalletAddress:  wallet,
			AmountLamports: uint64(net),
			Signature:      tx.Signature,
			BlockTime:      tx.BlockTime,
		}, true
	}
	return nil, false
}

func classifyAnyIncoming(tx *solana.TransactionDetail, reg *registry.Registry) (*Match, bool) {
	for i, key := range tx.AccountKeys {
		if tx.PostBalances[i] <= tx.PreBalances[i] {
			continue
		}
		wallet := registry.Normalize(key)
		user, ok := reg.Lookup(wallet)
		if !ok {
			continue
		}
		return &Match{
			User:           user,
			WalletAddress:  wallet,
			AmountLamports: tx.PostBalances[i] - tx.PreBalances[i],
			Signature:      tx.Signature,
			BlockTime:      tx.BlockTime,
		}, true
	}
	return nil, false
}
