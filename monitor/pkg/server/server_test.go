package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grateful-social/grateful/monitor/pkg/ledger"
	"github.com/grateful-social/grateful/monitor/pkg/monitor"
	"github.com/grateful-social/grateful/monitor/pkg/registry"
	"github.com/grateful-social/grateful/monitor/pkg/server"
	gratefultesting "github.com/grateful-social/grateful/utils/pkg/testing"
)

type mockMonitor struct {
	ReadyFunc            func() bool
	RunFunc              func(ctx context.Context) (*monitor.Summary, error)
	CheckTransactionFunc func(ctx context.Context, signature string) (*monitor.CheckResult, error)
	ResetBalanceFunc     func(ctx context.Context, clearDistributions bool) (*monitor.ResetResult, error)
}

func (m *mockMonitor) Ready() bool {
	if m.ReadyFunc == nil {
		return true
	}
	return m.ReadyFunc()
}

func (m *mockMonitor) Run(ctx context.Context) (*monitor.Summary, error) {
	return m.RunFunc(ctx)
}

func (m *mockMonitor) CheckTransaction(ctx context.Context, signature string) (*monitor.CheckResult, error) {
	return m.CheckTransactionFunc(ctx, signature)
}

func (m *mockMonitor) ResetBalance(ctx context.Context, clearDistributions bool) (*monitor.ResetResult, error) {
	return m.ResetBalanceFunc(ctx, clearDistributions)
}

type mockLedger struct {
	GetFeeTrackingFunc       func(ctx context.Context) (*ledger.FeeTracking, error)
	CountDistributionsFunc   func(ctx context.Context) (int, error)
	ListUsersWithWalletsFunc func(ctx context.Context) ([]registry.User, error)
}

func (m *mockLedger) GetFeeTracking(ctx context.Context) (*ledger.FeeTracking, error) {
	if m.GetFeeTrackingFunc == nil {
		return nil, nil
	}
	return m.GetFeeTrackingFunc(ctx)
}

func (m *mockLedger) CountDistributions(ctx context.Context) (int, error) {
	if m.CountDistributionsFunc == nil {
		return 0, nil
	}
	return m.CountDistributionsFunc(ctx)
}

func (m *mockLedger) ListUsersWithWallets(ctx context.Context) ([]registry.User, error) {
	if m.ListUsersWithWalletsFunc == nil {
		return nil, nil
	}
	return m.ListUsersWithWalletsFunc(ctx)
}

func newTestServer(t *testing.T, mon server.MonitorService, led server.LedgerReader) *server.Server {
	t.Helper()
	if mon == nil {
		mon = &mockMonitor{}
	}
	if led == nil {
		led = &mockLedger{}
	}
	srv, err := server.New(server.Config{
		Logger:      gratefultesting.NewLogger(),
		ListenAddr:  "127.0.0.1:0",
		Monitor:     mon,
		Ledger:      led,
		VersionInfo: server.VersionInfo{Version: "test", Commit: "abc", Date: "2024-03-01"},
	})
	require.NoError(t, err)
	return srv
}

func doRequest(t *testing.T, srv *server.Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGrateful_Server_New(t *testing.T) {
	t.Parallel()

	t.Run("missing listen address", func(t *testing.T) {
		t.Parallel()
		_, err := server.New(server.Config{
			Logger:  gratefultesting.NewLogger(),
			Monitor: &mockMonitor{},
			Ledger:  &mockLedger{},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "listen address is required")
	})

	t.Run("missing monitor", func(t *testing.T) {
		t.Parallel()
		_, err := server.New(server.Config{
			Logger:     gratefultesting.NewLogger(),
			ListenAddr: "127.0.0.1:0",
			Ledger:     &mockLedger{},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "monitor is required")
	})
}

func TestGrateful_Server_Health(t *testing.T) {
	t.Parallel()

	t.Run("healthz", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, nil, nil)
		rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("readyz reflects monitor readiness", func(t *testing.T) {
		t.Parallel()
		ready := false
		srv := newTestServer(t, &mockMonitor{ReadyFunc: func() bool { return ready }}, nil)

		rec := doRequest(t, srv, http.MethodGet, "/readyz", "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		ready = true
		rec = doRequest(t, srv, http.MethodGet, "/readyz", "")
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("version", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, nil, nil)
		rec := doRequest(t, srv, http.MethodGet, "/version", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var v server.VersionInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
		require.Equal(t, "test", v.Version)
	})

	t.Run("metrics", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, nil, nil)
		rec := doRequest(t, srv, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestGrateful_Server_FeeTracking(t *testing.T) {
	t.Parallel()

	t.Run("empty state", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, nil, nil)
		rec := doRequest(t, srv, http.MethodGet, "/api/fee-tracking", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, float64(0), resp["totalGivenOut"])
		require.Equal(t, float64(0), resp["distributionCount"])
	})

	t.Run("populated state", func(t *testing.T) {
		t.Parallel()
		at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		led := &mockLedger{
			GetFeeTrackingFunc: func(ctx context.Context) (*ledger.FeeTracking, error) {
				return &ledger.FeeTracking{
					TotalGivenOutLamports: 1_499_995_000,
					LastDistributionAt:    &at,
					LastCheckedSignature:  "sig-1",
				}, nil
			},
			CountDistributionsFunc: func(ctx context.Context) (int, error) { return 3, nil },
			ListUsersWithWalletsFunc: func(ctx context.Context) ([]registry.User, error) {
				return []registry.User{{TwitterID: "1"}, {TwitterID: "2"}}, nil
			},
		}
		srv := newTestServer(t, nil, led)
		rec := doRequest(t, srv, http.MethodGet, "/api/fee-tracking", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.InDelta(t, 1.499995, resp["totalGivenOut"], 1e-9)
		require.Equal(t, float64(1_499_995_000), resp["totalGivenOutLamports"])
		require.Equal(t, "sig-1", resp["lastCheckedSignature"])
		require.Equal(t, float64(3), resp["distributionCount"])
		require.Equal(t, float64(2), resp["registeredWallets"])
	})

	t.Run("store failure", func(t *testing.T) {
		t.Parallel()
		led := &mockLedger{
			GetFeeTrackingFunc: func(ctx context.Context) (*ledger.FeeTracking, error) {
				return nil, errors.New("db down")
			},
		}
		srv := newTestServer(t, nil, led)
		rec := doRequest(t, srv, http.MethodGet, "/api/fee-tracking", "")
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestGrateful_Server_MonitorDistributions(t *testing.T) {
	t.Parallel()

	t.Run("runs a scan", func(t *testing.T) {
		t.Parallel()
		mon := &mockMonitor{
			RunFunc: func(ctx context.Context) (*monitor.Summary, error) {
				return &monitor.Summary{
					NewDistributions:    2,
					CheckedTransactions: 50,
					RegisteredWallets:   7,
					AmountAddedSOL:      0.5,
					TotalGivenOutSOL:    12.5,
					MostRecentSignature: "sig-top",
				}, nil
			},
		}
		srv := newTestServer(t, mon, nil)
		rec := doRequest(t, srv, http.MethodGet, "/api/monitor-distributions", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, float64(2), resp["newDistributions"])
		require.Equal(t, float64(50), resp["checkedTransactions"])
		require.InDelta(t, 12.5, resp["totalGivenOut"], 1e-9)
		require.Equal(t, "sig-top", resp["mostRecentSignature"])
	})

	t.Run("busy scan returns conflict", func(t *testing.T) {
		t.Parallel()
		mon := &mockMonitor{
			RunFunc: func(ctx context.Context) (*monitor.Summary, error) {
				return nil, monitor.ErrRunInProgress
			},
		}
		srv := newTestServer(t, mon, nil)
		rec := doRequest(t, srv, http.MethodGet, "/api/monitor-distributions", "")
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("scan failure", func(t *testing.T) {
		t.Parallel()
		mon := &mockMonitor{
			RunFunc: func(ctx context.Context) (*monitor.Summary, error) {
				return nil, errors.New("rpc down")
			},
		}
		srv := newTestServer(t, mon, nil)
		rec := doRequest(t, srv, http.MethodGet, "/api/monitor-distributions", "")
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestGrateful_Server_CheckTransaction(t *testing.T) {
	t.Parallel()

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, nil, nil)
		rec := doRequest(t, srv, http.MethodGet, "/api/check-transaction", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("records a match", func(t *testing.T) {
		t.Parallel()
		mon := &mockMonitor{
			CheckTransactionFunc: func(ctx context.Context, signature string) (*monitor.CheckResult, error) {
				require.Equal(t, "sig-x", signature)
				return &monitor.CheckResult{
					Found:            true,
					Recorded:         true,
					TwitterHandle:    "alice",
					WalletAddress:    "wallet",
					AmountSOL:        0.25,
					TotalGivenOutSOL: 1.25,
				}, nil
			},
		}
		srv := newTestServer(t, mon, nil)
		rec := doRequest(t, srv, http.MethodGet, "/api/check-transaction?signature=sig-x", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, true, resp["recorded"])
		require.Equal(t, "alice", resp["twitterHandle"])
		require.InDelta(t, 0.25, resp["amount"], 1e-9)
	})
}

func TestGrateful_Server_ResetBalance(t *testing.T) {
	t.Parallel()

	t.Run("default keeps history", func(t *testing.T) {
		t.Parallel()
		var gotClear bool
		mon := &mockMonitor{
			ResetBalanceFunc: func(ctx context.Context, clearDistributions bool) (*monitor.ResetResult, error) {
				gotClear = clearDistributions
				return &monitor.ResetResult{}, nil
			},
		}
		srv := newTestServer(t, mon, nil)
		rec := doRequest(t, srv, http.MethodPost, "/api/reset-balance", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.False(t, gotClear)
	})

	t.Run("clear distributions", func(t *testing.T) {
		t.Parallel()
		mon := &mockMonitor{
			ResetBalanceFunc: func(ctx context.Context, clearDistributions bool) (*monitor.ResetResult, error) {
				require.True(t, clearDistributions)
				return &monitor.ResetResult{DistributionsCleared: 5}, nil
			},
		}
		srv := newTestServer(t, mon, nil)
		rec := doRequest(t, srv, http.MethodPost, "/api/reset-balance", `{"clearDistributions":true}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, true, resp["reset"])
		require.Equal(t, float64(5), resp["distributionsCleared"])
	})

	t.Run("invalid body", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, &mockMonitor{
			ResetBalanceFunc: func(ctx context.Context, clearDistributions bool) (*monitor.ResetResult, error) {
				t.Fatal("must not reset on invalid body")
				return nil, nil
			},
		}, nil)
		rec := doRequest(t, srv, http.MethodPost, "/api/reset-balance", `{bad json`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGrateful_Server_DebugWallets(t *testing.T) {
	t.Parallel()

	led := &mockLedger{
		ListUsersWithWalletsFunc: func(ctx context.Context) ([]registry.User, error) {
			return []registry.User{
				{TwitterHandle: "alice", WalletAddress: "wallet-a"},
				{TwitterHandle: "bob", WalletAddress: "wallet-b"},
			}, nil
		},
	}
	srv := newTestServer(t, nil, led)
	rec := doRequest(t, srv, http.MethodGet, "/api/debug/wallets", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	require.Equal(t, "alice", resp[0]["twitterHandle"])
	require.Equal(t, "wallet-b", resp[1]["walletAddress"])
}
