// Package telemetry provides Prometheus metrics, correlation-id aware logging
// helpers, and OpenTelemetry tracing setup.
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
	ReconcileCycles     prometheus.Counter
	ChannelsChecked     prometheus.Counter
	NotificationsSent   prometheus.Counter
	NotificationsFailed prometheus.Counter
	ProviderErrors      prometheus.Counter

	// Histograms (seconds)
	ReconcileDuration prometheus.Observer

	// Gauges
	TrackedChannelsGauge prometheus.Gauge
	LiveChannelsGauge    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ReconcileCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "livewatch_reconcile_cycles_total", Help: "Number of reconcile passes run"})
		ChannelsChecked = promauto.NewCounter(prometheus.CounterOpts{Name: "livewatch_channels_checked_total", Help: "Number of (guild, channel) rows evaluated"})
		NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "livewatch_notifications_sent_total", Help: "Number of go-live notifications delivered"})
		NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "livewatch_notifications_failed_total", Help: "Number of go-live notifications that failed to deliver"})
		ProviderErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "livewatch_provider_errors_total", Help: "Number of per-channel Twitch status check failures"})
		ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "livewatch_reconcile_duration_seconds", Help: "Reconcile pass duration seconds", Buckets: prometheus.DefBuckets})
		TrackedChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "livewatch_tracked_channels", Help: "Current number of tracked (guild, channel) rows"})
		LiveChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "livewatch_live_channels", Help: "Current number of tracked rows in the live state"})
	})
}

// SetTrackedChannels records the current tracked row count.
func SetTrackedChannels(n int) {
	if TrackedChannelsGauge != nil {
		TrackedChannelsGauge.Set(float64(n))
	}
}

// SetLiveChannels records the current live row count.
func SetLiveChannels(n int) {
	if LiveChannelsGauge != nil {
		LiveChannelsGauge.Set(float64(n))
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
