// Package telemetry traces ingest and retrieval with Sentry. Every helper is
// safe to call when Sentry was never initialized.
package telemetry

import (
	"context"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const (
	serviceName  = "recall"
	flushTimeout = 5 * time.Second
)

type Config struct {
	DSN              string
	Environment      string
	Release          string
	TracesSampleRate float64
	Debug            bool
	Logger           *zap.Logger
}

// Init configures the global Sentry client and returns a function that
// flushes buffered events. An empty DSN or a failed init degrade to a no-op.
func Init(cfg Config) (func(), error) {
	noop := func() {}
	if cfg.DSN == "" {
		return noop, nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate <= 0 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		TracesSampler:    sampler(cfg.TracesSampleRate),
		Debug:            cfg.Debug,
		ServerName:       serviceName,
	})
	if err != nil {
		logger.Warn("sentry: failed to initialize, continuing without tracing", zap.Error(err))
		return noop, nil
	}

	logger.Info("sentry: tracing initialized",
		zap.String("environment", cfg.Environment),
		zap.Float64("sample_rate", cfg.TracesSampleRate))
	return func() { sentry.Flush(flushTimeout) }, nil
}

// sampler drops health checks and keeps children with their parent's decision
func sampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		if ctx.Span == nil {
			return rate
		}
		if ctx.Span.Name == "GET /health" {
			return 0
		}
		var root sentry.SpanID
		if ctx.Span.ParentSpanID != root {
			if ctx.Span.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}

// SpanAttributes become tags, so values must stay low in cardinality except
// for the IDs that are there to be searched for.
type SpanAttributes struct {
	OwnerScope string
	SourceType string
	SourceID   string
	JobID      string
	Operation  string
}

func (a SpanAttributes) apply(span *sentry.Span) {
	for tag, value := range map[string]string{
		"owner_scope": a.OwnerScope,
		"source_type": a.SourceType,
		"source_id":   a.SourceID,
		"job_id":      a.JobID,
	} {
		if value != "" {
			span.SetTag(tag, value)
		}
	}
	if a.Operation != "" {
		span.SetData("operation", a.Operation)
	}
}

type Span struct {
	inner *sentry.Span
}

func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

func (s *Span) SetData(key string, value interface{}) {
	if s.inner != nil {
		s.inner.SetData(key, value)
	}
}

// SetError sets the span status from err and reports err unless it is the
// caller's fault.
func (s *Span) SetError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	s.inner.Status = spanStatusFor(err)
	CaptureError(s.inner.Context(), err)
}

// StartSpan starts a child of the span in ctx, or a new transaction when
// there is none.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}
	attrs.apply(span)
	return span.Context(), &Span{inner: span}
}

// StartTransaction always starts a root span. Background work uses it so
// each job gets its own trace.
func StartTransaction(ctx context.Context, name, op string, attrs SpanAttributes) (context.Context, *Span) {
	span := sentry.StartTransaction(ctx, name, sentry.WithOpName(op))
	attrs.apply(span)
	return span.Context(), &Span{inner: span}
}

// CaptureError reports err on the hub in ctx. Errors that describe bad input
// rather than a fault of the service are skipped.
func CaptureError(ctx context.Context, err error) {
	if !shouldReport(err) {
		return
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

func shouldReport(err error) bool {
	if err == nil {
		return false
	}
	switch domain.CodeOf(err) {
	case domain.ErrCodeValidation, domain.ErrCodeNotFound, domain.ErrCodeInvalidScope,
		domain.ErrCodeUnauthorized, domain.ErrCodeProviderRejected:
		return false
	}
	return true
}

func spanStatusFor(err error) sentry.SpanStatus {
	switch domain.CodeOf(err) {
	case domain.ErrCodeValidation, domain.ErrCodeInvalidScope, domain.ErrCodeInvalidDimension, domain.ErrCodeProviderRejected:
		return sentry.SpanStatusInvalidArgument
	case domain.ErrCodeNotFound:
		return sentry.SpanStatusNotFound
	case domain.ErrCodeUnauthorized:
		return sentry.SpanStatusUnauthenticated
	case domain.ErrCodeProviderUnavailable:
		return sentry.SpanStatusUnavailable
	}
	if err == context.Canceled {
		return sentry.SpanStatusCanceled
	}
	if err == context.DeadlineExceeded {
		return sentry.SpanStatusDeadlineExceeded
	}
	return sentry.SpanStatusInternalError
}
