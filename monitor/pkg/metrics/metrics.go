package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grateful_monitor_build_info",
			Help: "Build information of the Grateful distribution monitor",
		},
		[]string{"version", "commit", "date"},
	)

	MonitorRunTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grateful_monitor_run_total",
			Help: "Total number of monitor runs",
		},
		[]string{"status"},
	)

	MonitorRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grateful_monitor_run_duration_seconds",
			Help:    "Duration of monitor runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~410s (~6.8 minutes)
		},
	)

	TransactionsChecked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grateful_monitor_transactions_checked_total",
			Help: "Total number of treasury transactions inspected",
		},
		[]string{"status"},
	)

	DistributionsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grateful_monitor_distributions_recorded_total",
			Help: "Total number of new distributions recorded",
		},
	)

	TotalGivenOutSOL = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grateful_monitor_total_given_out_sol",
			Help: "Running total of SOL distributed to registered wallets",
		},
	)

	RegisteredWallets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grateful_monitor_registered_wallets",
			Help: "Number of users with a registered wallet address",
		},
	)

	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grateful_monitor_rpc_requests_total",
			Help: "Total number of Solana RPC requests",
		},
		[]string{"method", "status"},
	)
)
