// Package faults forwards builder faults to Sentry.
package faults

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/treeview/pkg/errors"
)

// Config holds the Sentry client settings.
type Config struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64

	// BeforeSend, when set, sees every event before it is sent and may drop it
	// by returning nil.
	BeforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
}

// SentryReporter reports builder faults as Sentry exceptions. It owns its own
// hub so it does not disturb the process-wide Sentry state.
type SentryReporter struct {
	hub    *sentry.Hub
	logger *zap.Logger
}

// NewSentryReporter creates a reporter for cfg.DSN.
func NewSentryReporter(cfg Config, logger *zap.Logger) (*SentryReporter, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: sentry DSN cannot be empty", errors.ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 1.0
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  cfg.SampleRate,
		BeforeSend:  cfg.BeforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	return &SentryReporter{
		hub:    sentry.NewHub(client, sentry.NewScope()),
		logger: logger,
	}, nil
}

// ReportFault sends fault to Sentry tagged with the builder, and with the
// trace id of the dispatch span when there is one.
func (r *SentryReporter) ReportFault(ctx context.Context, fault *errors.FaultError) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("builder", fault.Builder)
		scope.SetContext("fault", sentry.Context{
			"object": fault.Object,
			"cause":  fmt.Sprint(fault.Cause),
		})
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			scope.SetTag("trace_id", sc.TraceID().String())
		}
		if id := r.hub.CaptureException(fault); id != nil {
			r.logger.Debug("Fault reported", zap.String("event_id", string(*id)))
		}
	})
}

// Flush waits up to timeout for queued events to be delivered.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
