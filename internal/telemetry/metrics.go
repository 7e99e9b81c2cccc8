package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/portcullis"
)

// Result values recorded on outcome counters.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Authentication metrics
	LoginsTotal  metric.Int64Counter
	SignupsTotal metric.Int64Counter

	// Session metrics
	SessionsCreatedTotal       metric.Int64Counter
	SessionsDeletedTotal       metric.Int64Counter
	SessionDeleteFailuresTotal metric.Int64Counter
	StaleSessionsTotal         metric.Int64Counter

	// Authorization metrics
	AuthorizationChecksTotal metric.Int64Counter

	// Verification metrics
	VerificationsIssuedTotal    metric.Int64Counter
	VerificationsValidatedTotal metric.Int64Counter

	// Password metrics
	PasswordHashDuration metric.Float64Histogram
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

// RecordResult increments an outcome counter with a result attribute and any extra attributes.
func RecordResult(ctx context.Context, counter metric.Int64Counter, ok bool, attrs ...attribute.KeyValue) {
	result := ResultSuccess
	if !ok {
		result = ResultFailure
	}
	attrs = append(attrs, attribute.String("result", result))
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.LoginsTotal, _ = meter.Int64Counter(
		"portcullis.logins.total",
		metric.WithDescription("Total number of login attempts by result"),
		metric.WithUnit("{attempt}"),
	)

	m.SignupsTotal, _ = meter.Int64Counter(
		"portcullis.signups.total",
		metric.WithDescription("Total number of signup transactions by result"),
		metric.WithUnit("{attempt}"),
	)

	m.SessionsCreatedTotal, _ = meter.Int64Counter(
		"portcullis.sessions.created.total",
		metric.WithDescription("Total number of sessions created"),
		metric.WithUnit("{session}"),
	)

	m.SessionsDeletedTotal, _ = meter.Int64Counter(
		"portcullis.sessions.deleted.total",
		metric.WithDescription("Total number of sessions deleted at logout"),
		metric.WithUnit("{session}"),
	)

	m.SessionDeleteFailuresTotal, _ = meter.Int64Counter(
		"portcullis.sessions.delete_failures.total",
		metric.WithDescription("Total number of best-effort session deletes that gave up"),
		metric.WithUnit("{session}"),
	)

	m.StaleSessionsTotal, _ = meter.Int64Counter(
		"portcullis.sessions.stale.total",
		metric.WithDescription("Total number of cookies that referenced a missing session"),
		metric.WithUnit("{session}"),
	)

	m.AuthorizationChecksTotal, _ = meter.Int64Counter(
		"portcullis.authorization.checks.total",
		metric.WithDescription("Total number of permission checks by result"),
		metric.WithUnit("{check}"),
	)

	m.VerificationsIssuedTotal, _ = meter.Int64Counter(
		"portcullis.verifications.issued.total",
		metric.WithDescription("Total number of verification codes issued"),
		metric.WithUnit("{code}"),
	)

	m.VerificationsValidatedTotal, _ = meter.Int64Counter(
		"portcullis.verifications.validated.total",
		metric.WithDescription("Total number of verification attempts by result"),
		metric.WithUnit("{attempt}"),
	)

	m.PasswordHashDuration, _ = meter.Float64Histogram(
		"portcullis.password.hash.duration",
		metric.WithDescription("Duration of password hash operations"),
		metric.WithUnit("ms"),
	)

	return m
}
