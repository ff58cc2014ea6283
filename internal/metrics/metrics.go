package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pricepulse"

var (
	once sync.Once

	connState          prometheus.Gauge
	reconnectAttempts  prometheus.Gauge
	connectionsOpened  prometheus.Counter
	framesReceived     prometheus.Counter
	frameErrors        prometheus.Counter
	priceUpdates       *prometheus.CounterVec
	priceDropped       *prometheus.CounterVec
	notifications      *prometheus.CounterVec
	alertsSuppressed   *prometheus.CounterVec
	writerBatchSize    *prometheus.HistogramVec
	writerDropped      *prometheus.CounterVec
	upstreamRequests   *prometheus.CounterVec
	cacheLookups       *prometheus.CounterVec
	pushClientsGauge   prometheus.Gauge
)

// Init creates and registers all collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		connState = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_connection_state",
			Help:      "Feed connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=failed)",
		})
		reconnectAttempts = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_reconnect_attempts",
			Help:      "Consecutive failed connection cycles since the last successful open",
		})
		connectionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_connections_opened_total",
			Help:      "Number of feed connections successfully opened",
		})
		framesReceived = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_frames_total",
			Help:      "Number of frames received from the feed",
		})
		frameErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_frame_errors_total",
			Help:      "Number of frames that could not be decoded",
		})
		priceUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_updates_total",
			Help:      "Number of price updates applied to the store",
		}, []string{"asset"})
		priceDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_updates_dropped_total",
			Help:      "Number of price entries dropped by reason",
		}, []string{"reason"})
		notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Number of notifications appended by kind",
		}, []string{"kind"})
		alertsSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Number of price alerts suppressed by reason",
		}, []string{"reason"})
		writerBatchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "writer_batch_size",
			Help:      "Rows per archive batch insert",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"writer"})
		writerDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writer_dropped_total",
			Help:      "Records dropped because the archive buffer was full",
		}, []string{"writer"})
		upstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream REST requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"})
		cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result",
		}, []string{"result"})
		pushClientsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "push_clients",
			Help:      "Connected push clients",
		})

		prometheus.MustRegister(
			connState,
			reconnectAttempts,
			connectionsOpened,
			framesReceived,
			frameErrors,
			priceUpdates,
			priceDropped,
			notifications,
			alertsSuppressed,
			writerBatchSize,
			writerDropped,
			upstreamRequests,
			cacheLookups,
			pushClientsGauge,
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetConnState records the numeric connection state.
func SetConnState(state int, attempts int) {
	if connState != nil {
		connState.Set(float64(state))
		reconnectAttempts.Set(float64(attempts))
	}
}

// IncConnectionsOpened counts a successful feed open.
func IncConnectionsOpened() {
	if connectionsOpened != nil {
		connectionsOpened.Inc()
	}
}

// IncFrames counts a received frame.
func IncFrames() {
	if framesReceived != nil {
		framesReceived.Inc()
	}
}

// IncFrameErrors counts a frame that failed to decode.
func IncFrameErrors() {
	if frameErrors != nil {
		frameErrors.Inc()
	}
}

// IncPriceUpdate counts a price applied for asset.
func IncPriceUpdate(asset string) {
	if priceUpdates != nil {
		priceUpdates.WithLabelValues(asset).Inc()
	}
}

// IncPriceDropped counts a price entry dropped for reason.
func IncPriceDropped(reason string) {
	if priceDropped != nil {
		priceDropped.WithLabelValues(reason).Inc()
	}
}

// IncNotification counts an appended notification.
func IncNotification(kind string) {
	if notifications != nil {
		notifications.WithLabelValues(kind).Inc()
	}
}

// IncAlertSuppressed counts a price alert that was held back.
func IncAlertSuppressed(reason string) {
	if alertsSuppressed != nil {
		alertsSuppressed.WithLabelValues(reason).Inc()
	}
}

// ObserveBatch records an archive batch size.
func ObserveBatch(writer string, rows int) {
	if writerBatchSize != nil {
		writerBatchSize.WithLabelValues(writer).Observe(float64(rows))
	}
}

// IncWriterDropped counts a record dropped by an archive writer.
func IncWriterDropped(writer string) {
	if writerDropped != nil {
		writerDropped.WithLabelValues(writer).Inc()
	}
}

// IncUpstream counts an upstream REST request.
func IncUpstream(endpoint, outcome string) {
	if upstreamRequests != nil {
		upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	}
}

// IncCache counts a cache lookup ("hit", "miss" or "error").
func IncCache(result string) {
	if cacheLookups != nil {
		cacheLookups.WithLabelValues(result).Inc()
	}
}

// SetPushClients records the number of connected push clients.
func SetPushClients(n int) {
	if pushClientsGauge != nil {
		pushClientsGauge.Set(float64(n))
	}
}
