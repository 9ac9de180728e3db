package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grateful-social/grateful/monitor/pkg/ledger"
	"github.com/grateful-social/grateful/monitor/pkg/monitor"
	"github.com/grateful-social/grateful/monitor/pkg/registry"
	chain "github.com/grateful-social/grateful/monitor/pkg/solana"
)

// MonitorService is the monitor surface the HTTP API exposes.
type MonitorService interface {
	Ready() bool
	Run(ctx context.Context) (*monitor.Summary, error)
	CheckTransaction(ctx context.Context, signature string) (*monitor.CheckResult, error)
	ResetBalance(ctx context.Context, clearDistributions bool) (*monitor.ResetResult, error)
}

// LedgerReader is the read-only ledger surface the HTTP API exposes.
type LedgerReader interface {
	GetFeeTracking(ctx context.Context) (*ledger.FeeTracking, error)
	CountDistributions(ctx context.Context) (int, error)
	ListUsersWithWallets(ctx context.Context) ([]registry.User, error)
}

// VersionInfo is reported by the /version endpoint.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Config struct {
	Logger            *slog.Logger
	ListenAddr        string
	Monitor           MonitorService
	Ledger            LedgerReader
	VersionInfo       VersionInfo
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if cfg.Monitor == nil {
		return errors.New("monitor is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger reader is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return nil
}

// Server exposes the monitor over HTTP: health and metrics endpoints plus the
// small JSON API the web frontend consumes.
type Server struct {
	log     *slog.Logger
	cfg     Config
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log: cfg.Logger,
		cfg: cfg,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	router.Get("/healthz", s.handleHealthz)
	router.Get("/readyz", s.handleReadyz)
	router.Get("/version", s.handleVersion)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Get("/fee-tracking", s.handleFeeTracking)
		r.Get("/monitor-distributions", s.handleMonitorDistributions)
		r.Get("/check-transaction", s.handleCheckTransaction)
		r.Post("/reset-balance", s.handleResetBalance)
		r.Get("/debug/wallets", s.handleDebugWallets)
	})

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Handler returns the HTTP handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write healthz response", "error", err)
	}
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Monitor.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("monitor not ready\n")); err != nil {
			s.log.Error("failed to write readyz response", "error", err)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.VersionInfo)
}

type feeTrackingResponse struct {
	TotalGivenOut         float64    `json:"totalGivenOut"`
	TotalGivenOutLamports int64      `json:"totalGivenOutLamports"`
	LastDistributionAt    *time.Time `json:"lastDistributionAt"`
	LastCheckedSignature  string     `json:"lastCheckedSignature"`
	DistributionCount     int        `json:"distributionCount"`
	RegisteredWallets     int        `json:"registeredWallets"`
}

func (s *Server) handleFeeTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ft, err := s.cfg.Ledger.GetFeeTracking(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	count, err := s.cfg.Ledger.CountDistributions(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	users, err := s.cfg.Ledger.ListUsersWithWallets(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := feeTrackingResponse{
		DistributionCount: count,
		RegisteredWallets: len(users),
	}
	if ft != nil {
		resp.TotalGivenOut = chain.LamportsToSOL(uint64(ft.TotalGivenOutLamports))
		resp.TotalGivenOutLamports = ft.TotalGivenOutLamports
		resp.LastDistributionAt = ft.LastDistributionAt
		resp.LastCheckedSignature = ft.LastCheckedSignature
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type monitorResponse struct {
	NewDistributions    int     `json:"newDistributions"`
	CheckedTransactions int     `json:"checkedTransactions"`
	SkippedTransactions int     `json:"skippedTransactions"`
	RegisteredWallets   int     `json:"registeredWallets"`
	AmountAdded         float64 `json:"amountAdded"`
	TotalGivenOut       float64 `json:"totalGivenOut"`
	MostRecentSignature string  `json:"mostRecentSignature"`
}

func (s *Server) handleMonitorDistributions(w http.ResponseWriter, r *http.Request) {
	summary, err := s.cfg.Monitor.Run(r.Context())
	if err != nil {
		if errors.Is(err, monitor.ErrRunInProgress) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, monitorResponse{
		NewDistributions:    summary.NewDistributions,
		CheckedTransactions: summary.CheckedTransactions,
		SkippedTransactions: summary.SkippedTransactions,
		RegisteredWallets:   summary.RegisteredWallets,
		AmountAdded:         summary.AmountAddedSOL,
		TotalGivenOut:       summary.TotalGivenOutSOL,
		MostRecentSignature: summary.MostRecentSignature,
	})
}

type checkTransactionResponse struct {
	Found           bool    `json:"found"`
	AlreadyRecorded bool    `json:"alreadyRecorded"`
	Recorded        bool    `json:"recorded"`
	TwitterHandle   string  `json:"twitterHandle,omitempty"`
	WalletAddress   string  `json:"walletAddress,omitempty"`
	Amount          float64 `json:"amount"`
	TotalGivenOut   float64 `json:"totalGivenOut"`
}

func (s *Server) handleCheckTransaction(w http.ResponseWriter, r *http.Request) {
	signature := r.URL.Query().Get("signature")
	if signature == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("signature parameter is required"))
		return
	}

	result, err := s.cfg.Monitor.CheckTransaction(r.Context(), signature)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, checkTransactionResponse{
		Found:           result.Found,
		AlreadyRecorded: result.AlreadyRecorded,
		Recorded:        result.Recorded,
		TwitterHandle:   result.TwitterHandle,
		WalletAddress:   result.WalletAddress,
		Amount:          result.AmountSOL,
		TotalGivenOut:   result.TotalGivenOutSOL,
	})
}

type resetBalanceRequest struct {
	ClearDistributions bool `json:"clearDistributions"`
}

type resetBalanceResponse struct {
	Reset                bool  `json:"reset"`
	DistributionsCleared int64 `json:"distributionsCleared"`
}

func (s *Server) handleResetBalance(w http.ResponseWriter, r *http.Request) {
	var req resetBalanceRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	result, err := s.cfg.Monitor.ResetBalance(r.Context(), req.ClearDistributions)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resetBalanceResponse{
		Reset:                true,
		DistributionsCleared: result.DistributionsCleared,
	})
}

type debugWallet struct {
	TwitterHandle string `json:"twitterHandle"`
	WalletAddress string `json:"walletAddress"`
}

func (s *Server) handleDebugWallets(w http.ResponseWriter, r *http.Request) {
	users, err := s.cfg.Ledger.ListUsersWithWallets(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	wallets := make([]debugWallet, 0, len(users))
	for _, u := range users {
		wallets = append(wallets, debugWallet{
			TwitterHandle: u.TwitterHandle,
			WalletAddress: u.WalletAddress,
		})
	}
	s.writeJSON(w, http.StatusOK, wallets)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write json response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.log.Error("server: request failed", "status", status, "error", err)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
