package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/grateful-social/grateful/monitor/pkg/classify"
	"github.com/grateful-social/grateful/monitor/pkg/ledger"
	"github.com/grateful-social/grateful/monitor/pkg/metrics"
	"github.com/grateful-social/grateful/monitor/pkg/registry"
	chain "github.com/grateful-social/grateful/monitor/pkg/solana"
	"github.com/grateful-social/grateful/utils/pkg/retry"
)

// DistributionReason tags every payout recorded by the monitor.
const DistributionReason = "Community reward"

// ErrRunInProgress is returned when a run is requested while another is
// still scanning. The caller should treat it as "try again later".
var ErrRunInProgress = errors.New("monitor run already in progress")

// ChainReader reads treasury activity from the chain.
type ChainReader interface {
	ListRecentSignatures(ctx context.Context, address solana.PublicKey, limit int) ([]chain.SignatureInfo, error)
	GetTransactionDetail(ctx context.Context, signature string) (*chain.TransactionDetail, error)
}

// Store is the ledger surface the monitor needs.
type Store interface {
	ListUsersWithWallets(ctx context.Context) ([]registry.User, error)
	InsertDistributionIfAbsent(ctx context.Context, d ledger.Distribution) (bool, error)
	DistributionExists(ctx context.Context, signature string) (bool, error)
	GetDistributionBySignature(ctx context.Context, signature string) (*ledger.Distribution, error)
	SumRegisteredDistributions(ctx context.Context) (int64, error)
	DeleteAllDistributions(ctx context.Context) (int64, error)
	GetFeeTracking(ctx context.Context) (*ledger.FeeTracking, error)
	UpsertFeeTracking(ctx context.Context, ft ledger.FeeTracking) error
	ResetFeeTracking(ctx context.Context, now time.Time) error
}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Chain    ChainReader
	Store    Store
	Treasury solana.PublicKey

	// RefreshInterval is the scheduled scan cadence.
	RefreshInterval time.Duration

	// SignatureLimit caps how many recent treasury signatures one run
	// inspects, newest first.
	SignatureLimit int

	// MaxConcurrency bounds concurrent transaction fetches within a run.
	MaxConcurrency int

	// Retry configures the signature-listing retry. Per-transaction fetch
	// failures are never retried; the next run covers them.
	Retry retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Chain == nil {
		return errors.New("chain reader is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Treasury.IsZero() {
		return errors.New("treasury address is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.SignatureLimit <= 0 {
		cfg.SignatureLimit = 100
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Summary reports the outcome of one scheduled scan.
type Summary struct {
	NewDistributions    int
	CheckedTransactions int
	SkippedTransactions int
	RegisteredWallets   int
	AmountAddedSOL      float64
	TotalGivenOutSOL    float64
	MostRecentSignature string
}

// CheckResult reports the outcome of a manual transaction check.
type CheckResult struct {
	Found            bool
	AlreadyRecorded  bool
	Recorded         bool
	TwitterHandle    string
	WalletAddress    string
	AmountSOL        float64
	TotalGivenOutSOL float64
}

// ResetResult reports the outcome of an administrative reset.
type ResetResult struct {
	DistributionsCleared int64
}

// Monitor periodically scans the treasury wallet for payouts to registered
// users and keeps the distribution ledger and running total up to date.
type Monitor struct {
	log   *slog.Logger
	cfg   Config
	runMu sync.Mutex

	readyOnce sync.Once
	readyCh   chan struct{}
}

func New(cfg Config) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{
		log:     cfg.Logger,
		cfg:     cfg,
		readyCh: make(chan struct{}),
	}, nil
}

func (m *Monitor) Ready() bool {
	select {
	case <-m.readyCh:
		return true
	default:
		return false
	}
}

func (m *Monitor) WaitReady(ctx context.Context) error {
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for monitor: %w", ctx.Err())
	}
}

// Start launches the scheduled scan loop. The first scan runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		m.log.Info("monitor: starting scan loop", "interval", m.cfg.RefreshInterval)

		m.safeRun(ctx)

		ticker := m.cfg.Clock.NewTicker(m.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				m.safeRun(ctx)
			}
		}
	}()
}

func (m *Monitor) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("monitor: run panicked", "panic", r)
			metrics.MonitorRunTotal.WithLabelValues("panic").Inc()
		}
	}()

	if _, err := m.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if errors.Is(err, ErrRunInProgress) {
			m.log.Warn("monitor: previous run still in progress, skipping")
			return
		}
		m.log.Error("monitor: run failed", "error", err)
	}
}

// Run performs one full scan: list recent treasury signatures, classify each
// transaction, record new distributions, and recompute the running total. A
// run that returns an error leaves the fee-tracking state untouched.
func (m *Monitor) Run(ctx context.Context) (*Summary, error) {
	if !m.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer m.runMu.Unlock()

	runStart := time.Now()
	m.log.Debug("monitor: run started")
	defer func() {
		duration := time.Since(runStart)
		m.log.Info("monitor: run completed", "duration", duration.String())
		metrics.MonitorRunDuration.Observe(duration.Seconds())
	}()

	reg, err := m.loadRegistry(ctx)
	if err != nil {
		metrics.MonitorRunTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	m.log.Debug("monitor: registered wallets", "count", reg.Size(), "wallets", reg.Wallets())

	var sigs []chain.SignatureInfo
	err = retry.Do(ctx, m.cfg.Retry, func() error {
		var listErr error
		sigs, listErr = m.cfg.Chain.ListRecentSignatures(ctx, m.cfg.Treasury, m.cfg.SignatureLimit)
		return listErr
	})
	if err != nil {
		metrics.MonitorRunTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to list treasury signatures: %w", err)
	}

	summary := &Summary{RegisteredWallets: reg.Size()}
	if len(sigs) > 0 {
		summary.MostRecentSignature = sigs[0].Signature
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.cfg.MaxConcurrency)

	for _, sig := range sigs {
		if sig.Failed {
			mu.Lock()
			summary.SkippedTransactions++
			mu.Unlock()
			metrics.TransactionsChecked.WithLabelValues("failed_tx").Inc()
			continue
		}
		group.Go(func() error {
			recorded, amount, err := m.processSignature(groupCtx, reg, sig.Signature)
			if err != nil {
				// One bad transaction must not sink the run; the next
				// scan sees it again.
				m.log.Warn("monitor: failed to process transaction", "signature", sig.Signature, "error", err)
				metrics.TransactionsChecked.WithLabelValues("error").Inc()
				return nil
			}
			mu.Lock()
			summary.CheckedTransactions++
			if recorded {
				summary.NewDistributions++
				summary.AmountAddedSOL += chain.LamportsToSOL(amount)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		metrics.MonitorRunTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		metrics.MonitorRunTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	total, err := m.updateFeeTracking(ctx, summary.NewDistributions > 0, summary.MostRecentSignature)
	if err != nil {
		metrics.MonitorRunTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	summary.TotalGivenOutSOL = chain.LamportsToSOL(uint64(total))

	metrics.MonitorRunTotal.WithLabelValues("success").Inc()
	metrics.RegisteredWallets.Set(float64(reg.Size()))
	m.readyOnce.Do(func() { close(m.readyCh) })

	m.log.Info("monitor: scan summary",
		"checked", summary.CheckedTransactions,
		"skipped", summary.SkippedTransactions,
		"new_distributions", summary.NewDistributions,
		"amount_added_sol", summary.AmountAddedSOL,
		"total_given_out_sol", summary.TotalGivenOutSOL,
		"registered_wallets", summary.RegisteredWallets,
	)
	return summary, nil
}

// processSignature inspects one treasury transaction and records it when it
// is a payout to a registered wallet. Returns whether a new distribution was
// recorded and its amount in lamports.
func (m *Monitor) processSignature(ctx context.Context, reg *registry.Registry, signature string) (bool, uint64, error) {
	exists, err := m.cfg.Store.DistributionExists(ctx, signature)
	if err != nil {
		return false, 0, err
	}
	if exists {
		metrics.TransactionsChecked.WithLabelValues("already_recorded").Inc()
		return false, 0, nil
	}

	tx, err := m.cfg.Chain.GetTransactionDetail(ctx, signature)
	if err != nil {
		return false, 0, err
	}
	if tx == nil {
		metrics.TransactionsChecked.WithLabelValues("not_found").Inc()
		return false, 0, nil
	}

	match, ok := classify.Classify(tx, m.cfg.Treasury.String(), reg, classify.PolicyTreasuryOutgoing)
	if !ok {
		metrics.TransactionsChecked.WithLabelValues("not_relevant").Inc()
		return false, 0, nil
	}

	inserted, err := m.recordMatch(ctx, match)
	if err != nil {
		return false, 0, err
	}
	metrics.TransactionsChecked.WithLabelValues("relevant").Inc()
	return inserted, match.AmountLamports, nil
}

func (m *Monitor) recordMatch(ctx context.Context, match *classify.Match) (bool, error) {
	createdAt := m.cfg.Clock.Now().UTC()
	if match.BlockTime != nil {
		createdAt = match.BlockTime.UTC()
	}
	inserted, err := m.cfg.Store.InsertDistributionIfAbsent(ctx, ledger.Distribution{
		UserID:         match.User.TwitterID,
		WalletAddress:  match.WalletAddress,
		AmountLamports: int64(match.AmountLamports),
		Signature:      match.Signature,
		Reason:         DistributionReason,
		CreatedAt:      createdAt,
	})
	if err != nil {
		return false, fmt.Errorf("failed to record distribution %s: %w", match.Signature, err)
	}
	if inserted {
		m.log.Info("monitor: recorded distribution",
			"user", match.User.TwitterHandle,
			"wallet", match.WalletAddress,
			"amount_sol", chain.LamportsToSOL(match.AmountLamports),
			"signature", match.Signature,
		)
		metrics.DistributionsRecorded.Inc()
	}
	return inserted, nil
}

// updateFeeTracking recomputes the running total from the ledger and persists
// the singleton. The stored total is always the recomputed sum, never an
// increment, so replays and reruns converge on the same value.
func (m *Monitor) updateFeeTracking(ctx context.Context, sawNew bool, mostRecentSignature string) (int64, error) {
	total, err := m.cfg.Store.SumRegisteredDistributions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to recompute total: %w", err)
	}

	lastDistributionAt, err := m.lastDistributionAt(ctx, sawNew)
	if err != nil {
		return 0, err
	}

	if err := m.cfg.Store.UpsertFeeTracking(ctx, ledger.FeeTracking{
		TotalGivenOutLamports: total,
		LastDistributionAt:    lastDistributionAt,
		LastCheckedSignature:  mostRecentSignature,
	}); err != nil {
		return 0, fmt.Errorf("failed to persist fee tracking: %w", err)
	}

	metrics.TotalGivenOutSOL.Set(chain.LamportsToSOL(uint64(total)))
	return total, nil
}

func (m *Monitor) lastDistributionAt(ctx context.Context, sawNew bool) (*time.Time, error) {
	if sawNew {
		now := m.cfg.Clock.Now().UTC()
		return &now, nil
	}
	existing, err := m.cfg.Store.GetFeeTracking(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load fee tracking: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	return existing.LastDistributionAt, nil
}

func (m *Monitor) loadRegistry(ctx context.Context) (*registry.Registry, error) {
	users, err := m.cfg.Store.ListUsersWithWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load registered users: %w", err)
	}
	return registry.Build(users), nil
}

// CheckTransaction inspects a single transaction by signature and records it
// as a distribution if any registered wallet's balance increased. Unlike the
// scheduled scan it does not require the treasury to be the sender, and the
// amount is the wallet's raw balance increase.
func (m *Monitor) CheckTransaction(ctx context.Context, signature string) (*CheckResult, error) {
	existing, err := m.cfg.Store.GetDistributionBySignature(ctx, signature)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		total, err := m.cfg.Store.SumRegisteredDistributions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to recompute total: %w", err)
		}
		return &CheckResult{
			Found:            true,
			AlreadyRecorded:  true,
			WalletAddress:    existing.WalletAddress,
			AmountSOL:        chain.LamportsToSOL(uint64(existing.AmountLamports)),
			TotalGivenOutSOL: chain.LamportsToSOL(uint64(total)),
		}, nil
	}

	reg, err := m.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := m.cfg.Chain.GetTransactionDetail(ctx, signature)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return &CheckResult{Found: false}, nil
	}

	match, ok := classify.Classify(tx, m.cfg.Treasury.String(), reg, classify.PolicyAnyIncoming)
	if !ok {
		return &CheckResult{Found: true}, nil
	}

	inserted, err := m.recordMatch(ctx, match)
	if err != nil {
		return nil, err
	}

	total, err := m.updateFeeTracking(ctx, inserted, signature)
	if err != nil {
		return nil, err
	}

	return &CheckResult{
		Found:            true,
		AlreadyRecorded:  !inserted,
		Recorded:         inserted,
		TwitterHandle:    match.User.TwitterHandle,
		WalletAddress:    match.WalletAddress,
		AmountSOL:        chain.LamportsToSOL(match.AmountLamports),
		TotalGivenOutSOL: chain.LamportsToSOL(uint64(total)),
	}, nil
}

// ResetBalance zeroes the running total and scan watermark. When
// clearDistributions is set the distribution history is deleted as well;
// otherwise the next scan re-derives the total from the surviving rows.
func (m *Monitor) ResetBalance(ctx context.Context, clearDistributions bool) (*ResetResult, error) {
	result := &ResetResult{}
	if clearDistributions {
		deleted, err := m.cfg.Store.DeleteAllDistributions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to clear distributions: %w", err)
		}
		result.DistributionsCleared = deleted
	}
	if err := m.cfg.Store.ResetFeeTracking(ctx, m.cfg.Clock.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to reset fee tracking: %w", err)
	}
	metrics.TotalGivenOutSOL.Set(0)
	m.log.Info("monitor: balance reset", "distributions_cleared", result.DistributionsCleared)
	return result, nil
}
