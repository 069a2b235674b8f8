package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicketsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickets_ingested_total",
		Help: "Total number of tickets committed to the store",
	})

	TicketsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickets_rejected_total",
		Help: "Total number of tickets rejected during ingestion",
	}, []string{"kind"})

	TicketsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickets_submitted_total",
		Help: "Total number of tickets accepted for asynchronous processing",
	})

	IngestionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ticket_ingestion_latency_seconds",
		Help:    "Latency of ticket ingestion including the store transaction",
		Buckets: prometheus.DefBuckets,
	})

	LineItemsInsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_line_items_inserted_total",
		Help: "Total number of purchase line items inserted",
	})

	LineCoherenceWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_line_coherence_warnings_total",
		Help: "Total number of line items whose quantity, price and total disagree",
	})

	TotalMismatchWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_total_mismatch_warnings_total",
		Help: "Total number of tickets whose line sum differs from the total within tolerance",
	})

	OCRRequestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ocr_request_latency_seconds",
		Help:    "Latency of extraction service calls including retries",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	OCRRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocr_retries_total",
		Help: "Total number of extraction requests retried after 503",
	})

	ExtractionCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocr_extraction_cache_total",
		Help: "Extraction cache lookups by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
