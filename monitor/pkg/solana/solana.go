package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}

// SignatureInfo is one entry of a treasury signature listing.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime *time.Time
	Failed    bool
}

// TransactionDetail is the flattened view of a confirmed transaction: the
// account list with matching pre/post balance arrays, the fee paid by the
// sender, and the block time when the chain reported one.
type TransactionDetail struct {
	Signature    string
	AccountKeys  []string
	PreBalances  []uint64
	PostBalances []uint64
	Fee          uint64
	BlockTime    *time.Time
}

// RPCClient is the subset of the solana-go rpc client the reader uses.
type RPCClient interface {
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *solanarpc.GetSignaturesForAddressOpts) ([]*solanarpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, signature solana.Signature, opts *solanarpc.GetTransactionOpts) (*solanarpc.GetTransactionResult, error)
}

type ClientConfig struct {
	Logger   *slog.Logger
	Endpoint string
	RPC      RPCClient // optional, built from Endpoint when nil

	// RequestsPerSecond bounds outgoing RPC calls; public endpoints
	// rate-limit aggressively.
	RequestsPerSecond float64
	Burst             int
}

func (cfg *ClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil && cfg.Endpoint == "" {
		return errors.New("rpc endpoint is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return nil
}

// Client reads treasury activity from a Solana RPC endpoint.
type Client struct {
	log     *slog.Logger
	rpc     RPCClient
	limiter *rate.Limiter
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rpcClient := cfg.RPC
	if rpcClient == nil {
		rpcClient = solanarpc.New(cfg.Endpoint)
	}
	return &Client{
		log:     cfg.Logger,
		rpc:     rpcClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}, nil
}

// ListRecentSignatures returns up to limit of the most recent signatures
// involving address, newest first.
func (c *Client) ListRecentSignatures(ctx context.Context, address solana.PublicKey, limit int) ([]SignatureInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	sigs, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, address, &solanarpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: solanarpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list signatures for %s: %w", address, err)
	}

	infos := make([]SignatureInfo, 0, len(sigs))
	for _, sig := range sigs {
		info := SignatureInfo{
			Signature: sig.Signature.String(),
			Slot:      sig.Slot,
			Failed:    sig.Err != nil,
		}
		if sig.BlockTime != nil {
			t := sig.BlockTime.Time()
			info.BlockTime = &t
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// GetTransactionDetail fetches one confirmed transaction and flattens it.
// Returns (nil, nil) when the transaction is unknown to the endpoint or
// cannot be decoded into an account/balance view.
func (c *Client) GetTransactionDetail(ctx context.Context, signature string) (*TransactionDetail, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := c.rpc.GetTransaction(ctx, sig, &solanarpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     solanarpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &solanarpc.MaxSupportedTransactionVersion0,
	})
	if err != nil {
		if errors.Is(err, solanarpc.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", signature, err)
	}
	if res == nil || res.Meta == nil || res.Transaction == nil {
		return nil, nil
	}

	tx, err := res.Transaction.GetTransaction()
	if err != nil || tx == nil {
		// Unparseable (e.g. unsupported version); treat as not relevant.
		c.log.Debug("solana: skipping undecodable transaction", "signature", signature, "error", err)
		return nil, nil
	}

	// Balance arrays cover static keys followed by address-table lookups,
	// writable first.
	keys := make([]string, 0, len(tx.Message.AccountKeys)+len(res.Meta.LoadedAddresses.Writable)+len(res.Meta.LoadedAddresses.ReadOnly))
	for _, k := range tx.Message.AccountKeys {
		keys = append(keys, k.String())
	}
	for _, k := range res.Meta.LoadedAddresses.Writable {
		keys = append(keys, k.String())
	}
	for _, k := range res.Meta.LoadedAddresses.ReadOnly {
		keys = append(keys, k.String())
	}

	detail := &TransactionDetail{
		Signature:    signature,
		AccountKeys:  keys,
		PreBalances:  res.Meta.PreBalances,
		PostBalances: res.Meta.PostBalances,
		Fee:          res.Meta.Fee,
	}
	if res.BlockTime != nil {
		t := res.BlockTime.Time()
		detail.BlockTime = &t
	}
	return detail, nil
}
