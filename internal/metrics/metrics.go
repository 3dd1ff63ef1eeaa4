package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QuotesTotal counts quote requests by venue and outcome
	QuotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_quotes_total",
			Help: "Total number of venue quote requests",
		},
		[]string{"venue", "status"},
	)

	// QuoteDuration tracks per-venue quote latency
	QuoteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swap_quote_duration_seconds",
			Help:    "Venue quote latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"venue"},
	)

	// RoutesTotal counts routed executions by winning venue
	RoutesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_routes_total",
			Help: "Total number of routed swap executions",
		},
		[]string{"venue", "status"},
	)

	// ApprovalsTotal counts allowance manager outcomes
	ApprovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_approvals_total",
			Help: "Total number of allowance checks",
		},
		[]string{"result"},
	)

	// CrossChainSwapsTotal counts cross-chain swaps by terminal state
	CrossChainSwapsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_cross_chain_total",
			Help: "Total number of cross-chain swaps by terminal state",
		},
		[]string{"state"},
	)

	// OpenSwaps tracks cross-chain swaps the settlement loop currently polls
	OpenSwaps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swap_cross_chain_open",
			Help: "Number of non-terminal cross-chain swaps being tracked",
		},
	)

	// SettlementActions counts redeem/refund submissions from the settlement loop
	SettlementActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_settlement_actions_total",
			Help: "Total number of settlement loop actions",
		},
		[]string{"action", "status"},
	)

	// ErrorsTotal counts errors by component and kind
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "kind"},
	)
)
