package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsagg_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsagg_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Сбор новостей
	ChannelFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsagg_channel_fetches_total",
			Help: "Total number of per-channel fetches by source and status",
		},
		[]string{"source", "status"},
	)

	ItemsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsagg_items_fetched_total",
			Help: "Total number of items returned by source adapters",
		},
		[]string{"source"},
	)

	Refreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsagg_refreshes_total",
			Help: "Total number of store refreshes by trigger",
		},
		[]string{"trigger"},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsagg_refresh_duration_seconds",
			Help:    "Duration of a full fetch-write-evict refresh cycle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	ItemsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsagg_items_evicted_total",
			Help: "Total number of items evicted by TTL",
		},
	)

	// Перевод
	Translations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsagg_translations_total",
			Help: "Total number of per-item translations by status",
		},
		[]string{"status"},
	)

	// Подписчики на обновления через websocket
	LiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsagg_live_clients",
			Help: "Number of connected websocket clients",
		},
	)
)
