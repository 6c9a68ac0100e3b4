package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sevak_ledger_operations_total",
		Help: "Ledger operations by outcome.",
	}, []string{"op", "outcome"})

	opSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sevak_ledger_operation_seconds",
		Help:    "Ledger operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)
