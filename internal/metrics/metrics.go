package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_active_connections",
		Help: "Active websocket connections",
	})
	EventsInbound = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_events_inbound_total",
		Help: "Inbound websocket events by type",
	}, []string{"type"})
	EventsUnhandled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_events_unhandled_total",
		Help: "Inbound events with no registered handler",
	})
	ReceiptPersistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receipt_persist_failures_total",
		Help: "Delivery/read receipt mutations that failed to persist",
	})
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "presence_online_users",
		Help: "Users with at least one live connection",
	})
)

func Init() {
	prometheus.MustRegister(Connections, EventsInbound, EventsUnhandled, ReceiptPersistFailures, OnlineUsers)
}

// Handler returns an http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
