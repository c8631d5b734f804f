package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_messages_sent_total",
		Help: "Messages committed by the applier.",
	})
	MessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_messages_deleted_total",
		Help: "Soft deletes committed by the applier.",
	})
	ReadsMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_reads_marked_total",
		Help: "Mark-read operations committed by the applier.",
	})
	FanoutEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_fanout_events_total",
		Help: "Events published to feed subscribers.",
	})
	FanoutCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_fanout_coalesced_total",
		Help: "Events coalesced because a subscriber lagged.",
	})
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_active_subscriptions",
		Help: "Currently open feed subscriptions.",
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_ingest_queue_depth",
		Help: "Operations waiting in the ingest queue.",
	})
	SignalsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_signals_dropped_total",
		Help: "Fire-and-forget presence signals dropped on a full queue.",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler { return promhttp.Handler() }
