package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScanLogsTotal counts raw Approval logs returned by the scanner.
	ScanLogsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "approvals_scan_logs_total",
			Help: "Total number of Approval logs fetched",
		},
	)

	// ScanFailuresTotal counts whole-scan failures (fail-closed runs).
	ScanFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "approvals_scan_failures_total",
			Help: "Total number of failed log scans",
		},
	)

	// ScanRetriesTotal counts retried chain reads during a scan, by operation.
	ScanRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvals_scan_retries_total",
			Help: "Total number of retried chain reads during log scans",
		},
		[]string{"op"},
	)

	// LogsDiscardedTotal counts logs discarded before decoding, by reason.
	LogsDiscardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvals_logs_discarded_total",
			Help: "Total number of logs discarded before decoding",
		},
		[]string{"reason"},
	)

	// DecodeDroppedTotal counts transactions whose calldata did not decode
	// as an approve or multiSend call.
	DecodeDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "approvals_decode_dropped_total",
			Help: "Total number of transactions dropped at calldata decoding",
		},
	)

	// ResolveSkippedTotal counts (token, spender) groups skipped during
	// resolution, by reason.
	ResolveSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvals_resolve_skipped_total",
			Help: "Total number of approval groups skipped at resolution",
		},
		[]string{"reason"},
	)

	// PairsResolvedTotal counts successfully resolved (token, spender) pairs.
	PairsResolvedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "approvals_pairs_resolved_total",
			Help: "Total number of resolved (token, spender) pairs",
		},
	)

	// TokenInfoFailuresTotal counts tokens whose metadata never resolved.
	TokenInfoFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "approvals_token_info_failures_total",
			Help: "Total number of failed token metadata lookups",
		},
	)

	// StaleRunsDiscardedTotal counts pipeline runs whose results were
	// discarded because a newer generation superseded them.
	StaleRunsDiscardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "approvals_stale_runs_discarded_total",
			Help: "Total number of superseded pipeline runs discarded",
		},
	)

	// PipelineRunsTotal counts pipeline runs by terminal status.
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvals_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"status"},
	)
)
