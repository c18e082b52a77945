// Package metrics registers the Prometheus collectors exposed by the
// dispatcher and position sync daemons.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatcherQueueSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatcher_queue_size",
		Help: "Number of envelopes currently queued per bucket.",
	}, []string{"bucket"})

	DispatcherDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_dispatched_total",
		Help: "Total envelopes dispatched per bucket.",
	}, []string{"bucket"})

	DispatcherDispatchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_dispatch_failures_total",
		Help: "Total dispatch attempts that returned a non-ok result, per bucket.",
	}, []string{"bucket"})

	DispatcherRotationTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatcher_rotation_total",
		Help: "Total continue-as-new rotations performed by the worker.",
	})

	PossyncEventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "possync_events_published_total",
		Help: "Total reconciliation events published to subscribers, per event type.",
	}, []string{"type"})

	PossyncSubscriberDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "possync_subscriber_drops_total",
		Help: "Total events dropped because a subscriber's queue was full.",
	})

	PossyncReconnectTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "possync_reconnect_total",
		Help: "Total websocket reconnect attempts made by the position sync client.",
	})

	PossyncTrackedPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "possync_tracked_positions",
		Help: "Number of positions currently tracked in the reconciliation state map.",
	})
)
