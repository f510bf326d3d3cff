// Package telemetry provides Prometheus metrics, correlation-id aware logging
// helpers, and OpenTelemetry tracing setup.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	SessionsStarted     prometheus.Counter
	SessionsEnded       prometheus.Counter
	AnnouncementsSent   prometheus.Counter
	AnnouncementsFailed prometheus.Counter
	QuotesGenerated     prometheus.Counter
	QuotesFallback      prometheus.Counter
	RosterRefreshes     prometheus.Counter
	RosterFailures      prometheus.Counter
	SignalsRejected     prometheus.Counter

	// Gauges
	ActiveSessionsGauge    prometheus.Gauge
	TrackedIdentitiesGauge prometheus.Gauge
	QuoteCacheDepthGauge   prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "shiftwatch_sessions_started_total", Help: "Number of shift sessions started"})
		SessionsEnded = promauto.NewCounter(prometheus.CounterOpts{Name: "shiftwatch_sessions_ended_total", Help: "Number of shift sessions ended"})
		AnnouncementsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "shiftwatch_announcements_sent_total", Help: "Number of end-of-shift announcements delivered"})
		AnnouncementsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "shiftwatch_announcements_failed_total", Help: "Number of end-of-shift announcements that failed to deliver"})
		QuotesGenerated = promauto.NewCounter(prometheus.CounterOpts{Name: "shiftwatch_quotes_generated_total", Help: "Number of quotes produced by the live backend"})
		QuotesFallback = promauto.NewCounter(prometheus.CounterOpts{Name: "shiftwatch_quotes_fallback_total", Help: "Number of quotes served from the static fallback list"})
		RosterRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "shiftwatch_roster_refreshes_total", Help: "Number of successful roster refreshes"})
		RosterFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "shiftwatch_roster_failures_total", Help: "Number of failed roster refresh attempts"})
		SignalsRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "shiftwatch_signals_rejected_total", Help: "Number of inbound presence events rejected at the boundary"})
		ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "shiftwatch_active_sessions", Help: "Current number of open shift sessions"})
		TrackedIdentitiesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "shiftwatch_tracked_identities", Help: "Current number of tracked identities"})
		QuoteCacheDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "shiftwatch_quote_cache_depth", Help: "Quotes currently buffered"})
	})
}

// SetActiveSessions records the current open session count.
func SetActiveSessions(n int) {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Set(float64(n))
	}
}

// SetTrackedIdentities records the current tracked identity count.
func SetTrackedIdentities(n int) {
	if TrackedIdentitiesGauge != nil {
		TrackedIdentitiesGauge.Set(float64(n))
	}
}

// SetQuoteCacheDepth records the current buffered quote count.
func SetQuoteCacheDepth(n int) {
	if QuoteCacheDepthGauge != nil {
		QuoteCacheDepthGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
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
