// Package metrics provides Prometheus instrumentation for the chat
// service: connection and room gauges, message throughput counters,
// and latency histograms for fan-out and history reads.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsOpen tracks the current number of authenticated
	// WebSocket connections.
	ConnectionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_open",
		Help: "Current number of open WebSocket connections",
	})

	// RoomsOpen tracks the number of rooms with at least one member.
	RoomsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_rooms_open",
		Help: "Current number of non-empty rooms",
	})

	// MessagesStored counts persisted messages by surface
	// ("private" or "contest").
	MessagesStored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_stored_total",
		Help: "Total messages persisted to the store",
	}, []string{"surface"})

	// MessagesRejected counts requests rejected before reaching the
	// store, by reason ("validation", "rate_limited", "not_member").
	MessagesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_rejected_total",
		Help: "Total requests rejected before reaching the message store",
	}, []string{"reason"})

	// FanoutDeliveries counts individual socket deliveries from room
	// broadcasts.
	FanoutDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_fanout_deliveries_total",
		Help: "Total per-socket event deliveries from room fan-out",
	})

	// FanoutLatency records the wall time of one room broadcast.
	FanoutLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_fanout_latency_seconds",
		Help:    "Duration of a single room broadcast",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
	})

	// HistoryLatency records message-store page fetch duration by
	// surface.
	HistoryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_history_latency_seconds",
		Help:    "Duration of a history page fetch",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"surface"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsOpen,
		RoomsOpen,
		MessagesStored,
		MessagesRejected,
		FanoutDeliveries,
		FanoutLatency,
		HistoryLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
