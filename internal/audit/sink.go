// Package audit persists and forwards run records and run log lines.
package audit

import (
	"context"
	"errors"

	"github.com/heimdex/denoise-agent/internal/pipeline"
)

// Sink is the audit collaborator of the pipeline.
type Sink = pipeline.AuditSink

// Multi fans every call out to all sinks. RecordRun reaches every sink even
// when some fail; their errors are joined.
type Multi []Sink

func (m Multi) RecordLine(line pipeline.Line) {
	for _, s := range m {
		s.RecordLine(line)
	}
}

func (m Multi) RecordRun(ctx context.Context, rec pipeline.RunRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.RecordRun(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// elapsedMs returns the stage's elapsed milliseconds, if the stage ran.
func elapsedMs(rec pipeline.RunRecord, stage string) (int64, bool) {
	st, ok := rec.Step(stage)
	if !ok {
		return 0, false
	}
	return st.Elapsed.Milliseconds(), true
}
