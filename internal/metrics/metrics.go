// Package metrics provides Prometheus metrics for the CDN sync client.
package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the sync pipeline.
type Metrics struct {
	// Chunk metrics
	ChunksFetched prometheus.Counter
	ChunksApplied prometheus.Counter
	ChunksFailed  prometheus.Counter

	// Block metrics
	BlocksApplied     prometheus.Counter
	LastAppliedHeight prometheus.Gauge

	// Timing metrics
	FetchDuration  prometheus.Histogram
	DecodeDuration prometheus.Histogram
	ApplyDuration  prometheus.Histogram

	// Size metrics
	ChunkBytes prometheus.Histogram

	// Pipeline metrics
	InFlightChunks   prometheus.Gauge
	SequencerPending prometheus.Gauge

	// Error metrics
	FetchRetries   prometheus.Counter
	DecodeFailures prometheus.Counter

	// Throughput
	BlocksPerSecond prometheus.Gauge
}

var defaultMetrics *Metrics

// Init initializes the package-level metrics. Call once at startup.
// The network name is attached to every series as a constant label.
func Init(namespace, network string) *Metrics {
	if namespace == "" {
		namespace = "cdn_sync"
	}
	labels := prometheus.Labels{"network": network}

	m := &Metrics{
		ChunksFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "chunks_fetched_total",
			Help:        "Total number of chunks fetched and decoded",
			ConstLabels: labels,
		}),
		ChunksApplied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "chunks_applied_total",
			Help:        "Total number of chunks applied to the ledger in order",
			ConstLabels: labels,
		}),
		ChunksFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "chunks_failed_total",
			Help:        "Total number of chunks that failed terminally",
			ConstLabels: labels,
		}),
		BlocksApplied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "blocks_applied_total",
			Help:        "Total number of blocks applied to the ledger",
			ConstLabels: labels,
		}),
		LastAppliedHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_applied_height",
			Help:        "Height of the most recently applied block",
			ConstLabels: labels,
		}),
		FetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "fetch_duration_seconds",
			Help:        "Time to fetch one chunk from the CDN",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
		DecodeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "decode_duration_seconds",
			Help:        "Time to decode one chunk payload",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
		ApplyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "apply_duration_seconds",
			Help:        "Time to verify and apply one chunk's blocks",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
		ChunkBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "chunk_bytes",
			Help:        "Size of fetched chunk payloads in bytes",
			Buckets:     prometheus.ExponentialBuckets(1024, 4, 10),
			ConstLabels: labels,
		}),
		InFlightChunks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "in_flight_chunks",
			Help:        "Number of chunk fetch-decode tasks currently running",
			ConstLabels: labels,
		}),
		SequencerPending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "sequencer_pending_chunks",
			Help:        "Decoded chunks buffered ahead of the apply frontier",
			ConstLabels: labels,
		}),
		FetchRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "fetch_retries_total",
			Help:        "Total number of chunk fetch retry attempts",
			ConstLabels: labels,
		}),
		DecodeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "decode_failures_total",
			Help:        "Total number of chunk payloads that failed to decode",
			ConstLabels: labels,
		}),
		BlocksPerSecond: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "blocks_per_second",
			Help:        "Recent block application throughput",
			ConstLabels: labels,
		}),
	}

	defaultMetrics = m
	return m
}

// Get returns the package-level metrics, or nil if Init was never called.
// Callers guard with a nil check so metrics stay optional.
func Get() *Metrics {
	return defaultMetrics
}

// Serve starts the metrics HTTP listener. It blocks, so run it in its own
// goroutine.
func Serve(address string) {
	log := slog.With("component", "metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("metrics listener starting", "address", address)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics listener failed", "error", err)
	}
}
