// FILE: metrics.go
// Package main – Prometheus metrics for observability.
//
// Exposed at /metrics (see main.go):
//   • vbo_orders_total{account,side,outcome}  – orders by outcome (filled|skipped|pending|error)
//   • vbo_iterations_total{account}           – completed loop cycles
//   • vbo_signal_computes_total{result}       – daily signal recomputes (ok|error)
//   • vbo_retries_total{category}             – retry attempts by call category
//   • vbo_pending_orders{account}             – currently unresolved orders
//   • vbo_equity_krw{account}                 – last computed equity snapshot
//   • vbo_account_state{account}              – loop state (0 starting … 3 stopped)
//   • vbo_alerts_total                        – error alerts actually delivered
//   • vbo_heartbeat_timestamp                 – unix time of the last heartbeat write

package main

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vbo_orders_total",
			Help: "Orders by account, side and outcome",
		},
		[]string{"account", "side", "outcome"},
	)

	mtxIterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vbo_iterations_total",
			Help: "Completed trading loop cycles",
		},
		[]string{"account"},
	)

	mtxSignalComputes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vbo_signal_computes_total",
			Help: "Daily signal recomputations by result",
		},
		[]string{"result"},
	)

	mtxRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vbo_retries_total",
			Help: "Retry attempts by rate-limit category",
		},
		[]string{"category"},
	)

	mtxPendingOrders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vbo_pending_orders",
			Help: "Unresolved submitted orders awaiting reconciliation",
		},
		[]string{"account"},
	)

	mtxEquity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vbo_equity_krw",
			Help: "Equity snapshot in KRW",
		},
		[]string{"account"},
	)

	mtxAccountState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vbo_account_state",
			Help: "Account loop state (0 starting, 1 running, 2 stopping, 3 stopped)",
		},
		[]string{"account"},
	)

	mtxAlerts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vbo_alerts_total",
			Help: "Error alerts delivered past throttling",
		},
	)

	mtxHeartbeat = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vbo_heartbeat_timestamp",
			Help: "Unix timestamp of the last liveness heartbeat write",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxOrders, mtxIterations, mtxSignalComputes, mtxRetries)
	prometheus.MustRegister(mtxPendingOrders, mtxEquity, mtxAccountState)
	prometheus.MustRegister(mtxAlerts, mtxHeartbeat)
}
