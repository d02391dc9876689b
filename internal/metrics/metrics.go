// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	AlertsTriggered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_alerts_triggered_total",
		Help: "Price alerts that transitioned to triggered, by direction",
	}, []string{"direction"})

	NotificationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_notification_failures_total",
		Help: "Failed alert deliveries, by transport",
	}, []string{"transport"})

	TicksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_price_ticks_total",
		Help: "Price ticks evaluated against armed alerts, by source",
	}, []string{"source"})

	QuotesNormalized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_quotes_total",
		Help: "Quotes produced by the normalizer, by provider and availability",
	}, []string{"source", "status"})

	MarketRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_market_request_duration_seconds",
		Help:    "Latency of market-data provider requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "status"})

	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_cache_lookups_total",
		Help: "Cache strategy outcomes, by strategy and result",
	}, []string{"strategy", "result"})

	Valuations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_valuations_total",
		Help: "Portfolio valuations computed",
	})

	KafkaMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_kafka_messages_total",
		Help: "Kafka messages handled, by topic and outcome",
	}, []string{"topic", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_http_request_duration_seconds",
		Help:    "HTTP request latency, by route template and status code",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func init() {
	prometheus.MustRegister(
		AlertsTriggered,
		NotificationFailures,
		TicksProcessed,
		QuotesNormalized,
		MarketRequestDuration,
		CacheLookups,
		Valuations,
		KafkaMessages,
		HTTPRequestDuration,
	)
}
