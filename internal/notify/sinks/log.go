// Package sinks contains notification sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/finchsearch/finch/internal/notify"
)

// LogSink writes each notification as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Deliver implements notify.Sink.
func (s *LogSink) Deliver(_ context.Context, evt notify.Event) error {
	s.logger.Info("run event",
		zap.String("type", string(evt.Type)),
		zap.String("run_id", evt.RunID),
		zap.String("source_id", evt.SourceID),
		zap.String("source_type", string(evt.SourceType)),
		zap.String("status", string(evt.Status)),
		zap.Int("documents_added", evt.DocumentsAdded),
		zap.Int("documents_updated", evt.DocumentsUpdated),
		zap.Int("documents_removed", evt.DocumentsRemoved),
		zap.String("error", evt.Error),
	)
	return nil
}

// Close implements notify.Sink.
func (s *LogSink) Close(context.Context) error { return nil }
