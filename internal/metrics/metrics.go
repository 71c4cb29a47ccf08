// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Change source
	ChangesPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchsync_changes_published_total",
		Help: "Change messages published to the change stream",
	}, []string{"table"})

	SourceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchsync_source_errors_total",
		Help: "Change source failures by stage",
	}, []string{"stage"})

	// Consumer pipeline
	MessagesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchsync_messages_total",
		Help: "Consumed change messages by outcome",
	}, []string{"result"})

	BatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "searchsync_batch_duration_seconds",
		Help:    "Time to process one consumed batch",
		Buckets: prometheus.DefBuckets,
	})

	// Bulk writer
	BulkFlushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "searchsync_bulk_flush_duration_seconds",
		Help:    "Bulk flush latency",
		Buckets: prometheus.DefBuckets,
	})

	BulkItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchsync_bulk_items_total",
		Help: "Index operations flushed by op and outcome",
	}, []string{"op", "result"})

	// Dead letters
	DeadLetters = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchsync_dlq_total",
		Help: "Messages sent to the dead letter stream",
	}, []string{"retryable", "result"})

	// Resync
	SyncRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchsync_sync_rows_total",
		Help: "Rows applied by resync strategy",
	}, []string{"strategy"})

	// Retrieval
	SearchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "searchsync_search_duration_seconds",
		Help:    "Search latency by source; source=engine is the whole request",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	SearchFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchsync_search_fallback_total",
		Help: "Degraded search stages by source",
	}, []string{"source"})

	// Cache
	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchsync_cache_requests_total",
		Help: "Cache lookups by tier and result",
	}, []string{"tier", "result"})

	HotKeyPromotions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "searchsync_hotkey_promotions_total",
		Help: "Queries promoted to the hot set",
	})

	WarmupRefreshed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "searchsync_warmup_refreshed_total",
		Help: "Cache entries refreshed by warmup",
	})
)

func init() {
	prometheus.MustRegister(
		ChangesPublished,
		SourceErrors,
		MessagesProcessed,
		BatchDuration,
		BulkFlushDuration,
		BulkItems,
		DeadLetters,
		SyncRows,
		SearchDuration,
		SearchFallbacks,
		CacheRequests,
		HotKeyPromotions,
		WarmupRefreshed,
	)
}
