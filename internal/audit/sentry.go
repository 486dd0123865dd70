package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/heimdex/denoise-agent/internal/pipeline"
)

// SentryConfig configures error reporting. An empty DSN disables it.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
}

// InitSentry initializes the global sentry client. It reports whether
// reporting is enabled.
func InitSentry(cfg SentryConfig, logger *slog.Logger) (bool, error) {
	if cfg.DSN == "" {
		logger.Debug("sentry DSN not configured, error reporting disabled")
		return false, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			if event.Request != nil && event.Request.Headers != nil {
				delete(event.Request.Headers, "Authorization")
			}
			return event
		},
	})
	if err != nil {
		return false, fmt.Errorf("sentry init: %w", err)
	}

	logger.Info("sentry initialized", "environment", cfg.Environment, "release", cfg.Release)
	return true, nil
}

// SentrySink reports failed runs. Cancelled runs are not reported.
type SentrySink struct {
	hub    *sentry.Hub
	logger *slog.Logger
}

func NewSentrySink(hub *sentry.Hub, logger *slog.Logger) *SentrySink {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentrySink{hub: hub, logger: logger}
}

func (s *SentrySink) RecordLine(pipeline.Line) {}

func (s *SentrySink) RecordRun(_ context.Context, rec pipeline.RunRecord) error {
	if rec.Success || rec.Canceled {
		return nil
	}

	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("correlation_id", rec.CorrelationID)
		scope.SetTag("profile", rec.Profile)
		if n := len(rec.Steps); n > 0 {
			scope.SetTag("stage", rec.Steps[n-1].Stage)
		}
		scope.SetContext("run", sentry.Context{
			"input_key":  rec.InputKey,
			"output_key": rec.OutputKey,
			"steps":      len(rec.Steps),
			"total_ms":   rec.Total.Milliseconds(),
		})
		s.hub.CaptureException(errors.New(rec.Error))
	})

	s.logger.Debug("run failure reported to sentry", "correlation_id", rec.CorrelationID)
	return nil
}

// Flush waits for queued events to be delivered.
func (s *SentrySink) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}
