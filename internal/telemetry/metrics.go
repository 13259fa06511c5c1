package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/kookbook/kookbook"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Auth metrics
	LoginsTotal         metric.Int64Counter
	AuthRejectionsTotal metric.Int64Counter
	SessionsRevoked     metric.Int64Counter

	// Boundary metrics
	RateLimitDeniedTotal metric.Int64Counter
	CSRFRejectedTotal    metric.Int64Counter

	// Content metrics
	UploadsTotal        metric.Int64Counter
	ActivityPrunedTotal metric.Int64Counter

	meter metric.Meter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{meter: meter}

	m.LoginsTotal, _ = meter.Int64Counter(
		"kookbook.auth.logins.total",
		metric.WithDescription("Total number of login attempts by outcome"),
		metric.WithUnit("{login}"),
	)

	m.AuthRejectionsTotal, _ = meter.Int64Counter(
		"kookbook.auth.rejections.total",
		metric.WithDescription("Total number of requests rejected by the session guard"),
		metric.WithUnit("{request}"),
	)

	m.SessionsRevoked, _ = meter.Int64Counter(
		"kookbook.auth.sessions_revoked.total",
		metric.WithDescription("Total number of log-out-everywhere revocations"),
		metric.WithUnit("{revocation}"),
	)

	m.RateLimitDeniedTotal, _ = meter.Int64Counter(
		"kookbook.ratelimit.denied.total",
		metric.WithDescription("Total number of requests denied by the rate limiter"),
		metric.WithUnit("{request}"),
	)

	m.CSRFRejectedTotal, _ = meter.Int64Counter(
		"kookbook.csrf.rejected.total",
		metric.WithDescription("Total number of state-changing requests rejected at the CSRF gate"),
		metric.WithUnit("{request}"),
	)

	m.UploadsTotal, _ = meter.Int64Counter(
		"kookbook.uploads.total",
		metric.WithDescription("Total number of image uploads by kind and outcome"),
		metric.WithUnit("{upload}"),
	)

	m.ActivityPrunedTotal, _ = meter.Int64Counter(
		"kookbook.activity.pruned.total",
		metric.WithDescription("Total number of activity entries removed by retention"),
		metric.WithUnit("{entry}"),
	)

	return m
}

// RecordLogin counts a login attempt with the given outcome.
func (m *Metrics) RecordLogin(ctx context.Context, outcome string) {
	m.LoginsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordAuthRejection counts a guard rejection of the given error kind.
func (m *Metrics) RecordAuthRejection(ctx context.Context, kind string) {
	m.AuthRejectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSessionsRevoked counts a log-out-everywhere.
func (m *Metrics) RecordSessionsRevoked(ctx context.Context) {
	m.SessionsRevoked.Add(ctx, 1)
}

// RecordRateLimited counts a rate limit denial for class.
func (m *Metrics) RecordRateLimited(ctx context.Context, class string) {
	m.RateLimitDeniedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}

// RecordCSRFRejected counts a CSRF gate rejection with the error code.
func (m *Metrics) RecordCSRFRejected(ctx context.Context, code string) {
	m.CSRFRejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// RecordUpload counts an image upload of kind (recipe, avatar) with its outcome.
func (m *Metrics) RecordUpload(ctx context.Context, kind, outcome string) {
	m.UploadsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

// RecordActivityPruned counts activity entries removed by retention.
func (m *Metrics) RecordActivityPruned(ctx context.Context, n int) {
	m.ActivityPrunedTotal.Add(ctx, int64(n))
}

// RegisterRateLimitEntries exports the number of tracked rate limit entries as a gauge.
func (m *Metrics) RegisterRateLimitEntries(size func() int) error {
	_, err := m.meter.Int64ObservableGauge(
		"kookbook.ratelimit.entries",
		metric.WithDescription("Number of (class, ip) entries held by the rate limiter"),
		metric.WithUnit("{entry}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(size()))
			return nil
		}),
	)
	return err
}
