package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmailsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onebox_emails_ingested_total",
			Help: "Messages classified and handed to the store, by category",
		},
		[]string{"account", "category"},
	)

	// stage: fetch, parse, persist, duplicate
	IngestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onebox_ingest_failures_total",
			Help: "Messages skipped or lost during ingestion, by stage",
		},
		[]string{"account", "stage"},
	)

	// outcome: sent, failed, skipped
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onebox_notifications_total",
			Help: "Notification attempts per sink and outcome",
		},
		[]string{"sink", "outcome"},
	)

	ListenerReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onebox_listener_reconnects_total",
			Help: "Reconnect attempts per mailbox account",
		},
		[]string{"account"},
	)

	ListenerUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onebox_listener_up",
			Help: "1 while the account listener holds a ready mailbox connection",
		},
		[]string{"account"},
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onebox_store_query_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "status"},
	)

	SlowQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onebox_db_slow_queries_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"command"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onebox_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)
)

func IncrementEmailIngested(account, category string) {
	EmailsIngested.WithLabelValues(account, category).Inc()
}

func IncrementIngestFailure(account, stage string) {
	IngestFailures.WithLabelValues(account, stage).Inc()
}

func IncrementNotification(sink, outcome string) {
	NotificationsDispatched.WithLabelValues(sink, outcome).Inc()
}

func IncrementReconnect(account string) {
	ListenerReconnects.WithLabelValues(account).Inc()
}

func SetListenerUp(account string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	ListenerUp.WithLabelValues(account).Set(v)
}

func RecordStoreQuery(operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreQueryDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

func IncrementSlowQuery(command string) {
	SlowQueries.WithLabelValues(command).Inc()
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
