// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesIngested      *prometheus.CounterVec
	HubPublished          prometheus.Counter
	HubEvicted            prometheus.Counter
	AdapterConnectFailure *prometheus.CounterVec
	YouTubePollFailures   prometheus.Counter

	// Histograms (seconds)
	YouTubePollDuration prometheus.Observer

	// Gauges
	HubSubscribers   prometheus.Gauge
	AdapterConnected *prometheus.GaugeVec
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{Name: "multichat_messages_ingested_total", Help: "Normalized messages published by adapters"}, []string{"platform", "type"})
		HubPublished = promauto.NewCounter(prometheus.CounterOpts{Name: "multichat_hub_published_total", Help: "Messages accepted by the broadcast hub"})
		HubEvicted = promauto.NewCounter(prometheus.CounterOpts{Name: "multichat_hub_evicted_total", Help: "Subscribers dropped for falling too far behind"})
		AdapterConnectFailure = promauto.NewCounterVec(prometheus.CounterOpts{Name: "multichat_adapter_connect_failures_total", Help: "Adapter connect attempts that returned an error"}, []string{"platform"})
		YouTubePollFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "multichat_youtube_poll_failures_total", Help: "Failed YouTube live chat fetches"})
		YouTubePollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "multichat_youtube_poll_duration_seconds", Help: "YouTube live chat fetch duration seconds", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}})
		HubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{Name: "multichat_hub_subscribers", Help: "Current number of hub subscribers"})
		AdapterConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "multichat_adapter_connected", Help: "Adapter connection state connected=1 disconnected=0"}, []string{"platform"})
	})
}

// RecordIngested counts one published message for platform and type.
func RecordIngested(platform, typ string) {
	if MessagesIngested != nil {
		MessagesIngested.WithLabelValues(platform, typ).Inc()
	}
}

// SetAdapterConnected sets the connection gauge for platform to 1 if connected else 0.
func SetAdapterConnected(platform string, connected bool) {
	if AdapterConnected == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	AdapterConnected.WithLabelValues(platform).Set(v)
}

// IncConnectFailure counts a failed connect for platform.
func IncConnectFailure(platform string) {
	if AdapterConnectFailure != nil {
		AdapterConnectFailure.WithLabelValues(platform).Inc()
	}
}

// IncHubPublished counts a message accepted by the hub.
func IncHubPublished() {
	if HubPublished != nil {
		HubPublished.Inc()
	}
}

// IncHubEvicted counts a subscriber dropped by the hub.
func IncHubEvicted() {
	if HubEvicted != nil {
		HubEvicted.Inc()
	}
}

// SetHubSubscribers records the current subscriber count.
func SetHubSubscribers(n int) {
	if HubSubscribers != nil {
		HubSubscribers.Set(float64(n))
	}
}

// IncYouTubePollFailures counts a failed live chat fetch.
func IncYouTubePollFailures() {
	if YouTubePollFailures != nil {
		YouTubePollFailures.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
