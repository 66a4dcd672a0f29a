package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xenblocks_airdrop_runs_total",
			Help: "Total number of distribution runs",
		},
		[]string{"status", "dry_run"},
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xenblocks_airdrop_batches_total",
			Help: "Total number of distribution batches by outcome",
		},
		[]string{"status", "reason"},
	)

	RecipientsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xenblocks_airdrop_recipients_total",
			Help: "Total number of recipients processed by outcome",
		},
		[]string{"status"},
	)

	DistributedBaseUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xenblocks_airdrop_distributed_base_units_total",
			Help: "Cumulative base units distributed per token",
		},
		[]string{"token"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xenblocks_airdrop_run_duration_seconds",
			Help:    "Duration of full distribution runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68m
		},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xenblocks_airdrop_batch_duration_seconds",
			Help:    "Duration of batch submission and confirmation",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s to ~2m
		},
	)
)
