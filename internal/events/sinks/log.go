package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/navguard/navguard/internal/events"
)

// LogSink emits structured logs for debugging event streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.ByteString("id", evt.ID[:]),
			zap.String("kind", string(evt.Kind)),
			zap.String("source", evt.Source),
			zap.String("outcome", evt.Outcome),
			zap.String("from", evt.FromURL),
			zap.String("to", evt.ToURL),
			zap.String("list_hash", evt.ListHash),
			zap.Int64("allowed_rules", evt.AllowedRules),
			zap.Int64("blocked_rules", evt.BlockedRules),
			zap.Int64("skipped", evt.Skipped),
			zap.Int64("bytes", evt.Bytes),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		}
		s.logger.Info("safety event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
