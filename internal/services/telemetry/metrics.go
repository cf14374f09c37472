package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultAccepted = "accepted"
	resultRejected = "rejected"
	resultUnknown  = "unknown"
	resultDropped  = "dropped"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greenhouse_messages_total",
		Help: "Inbound MQTT messages by ingestion outcome.",
	}, []string{"result"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenhouse_append_queue_depth",
		Help: "Readings and events waiting for the store append loop.",
	})

	querySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "greenhouse_query_seconds",
		Help:    "History query latency by endpoint.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
