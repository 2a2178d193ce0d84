// Package metrics defines the Prometheus instrumentation exported on the
// admin listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion metrics
var (
	MessagesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patchlore_messages_ingested_total",
			Help: "Total number of feed messages newly persisted",
		},
		[]string{"subsystem"},
	)

	MessagesDuplicateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patchlore_messages_duplicate_total",
			Help: "Total number of feed entries skipped as duplicates",
		},
		[]string{"subsystem"},
	)

	FeedFetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patchlore_feed_fetch_errors_total",
			Help: "Total number of failed per-subsystem feed fetches",
		},
		[]string{"subsystem"},
	)
)

// Card and thread metrics
var (
	CardsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patchlore_cards_created_total",
			Help: "Total number of patch cards created",
		},
		[]string{"subsystem", "highlighted"},
	)

	CardsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "patchlore_cards_suppressed_total",
			Help: "Total number of messages denied a card by exclusive mode",
		},
	)

	ThreadUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "patchlore_thread_updates_total",
			Help: "Total number of coalesced thread overview updates dispatched",
		},
	)

	NotificationsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "patchlore_notifications_dropped_total",
			Help: "Total number of notifications dropped by the per-cycle cap",
		},
	)
)

// Scheduler metrics
var (
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "patchlore_cycle_duration_seconds",
			Help:    "Duration of polling cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patchlore_cycles_total",
			Help: "Total number of polling cycles by outcome",
		},
		[]string{"outcome"},
	)

	// MonitorState is 0 stopped, 1 running, 2 paused.
	MonitorState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "patchlore_monitor_state",
			Help: "Current monitor state (0 stopped, 1 running, 2 paused)",
		},
	)
)
