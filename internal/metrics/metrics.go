package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hawatch_cycles_total",
		Help: "Total number of poll cycles, labelled by target and outcome.",
	}, []string{"target", "outcome"})

	CyclesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hawatch_cycles_skipped_total",
		Help: "Total number of cycle requests dropped because a cycle was already running.",
	}, []string{"target"})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hawatch_cycle_duration_ms",
		Help:    "Fetch, decode and evaluate latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"target"})

	RuleMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hawatch_rule_matches_total",
		Help: "Total number of record matches, labelled by target and rule ID.",
	}, []string{"target", "rule_id"})

	RulesLoaded = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hawatch_rules_loaded",
		Help: "Number of rules in each target's rule set.",
	}, []string{"target"})

	Restarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hawatch_restarts_detected_total",
		Help: "Total number of load balancer restarts detected from a counter decrease.",
	}, []string{"target"})

	LastTotalSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hawatch_last_total_sessions",
		Help: "Most recent value of the watched session counter.",
	}, []string{"target"})

	HandlerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hawatch_handler_runs_total",
		Help: "Total number of rule handler runs, labelled by type and status.",
	}, []string{"handler_type", "status"})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hawatch_stream_clients",
		Help: "Number of connected notification stream clients.",
	})
)
