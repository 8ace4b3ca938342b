package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/follower-audit/internal/progress"
)

// LogSink writes one structured log line per event. Item events log at debug
// so large audits do not flood the console; lifecycle events log at info.
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
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		switch {
		case evt.Stage == progress.StageSessionError:
			level = zapcore.WarnLevel
		case evt.Stage.Item(), evt.Stage == progress.StageCollect:
			level = zapcore.DebugLevel
		}
		ce := s.logger.Check(level, "progress event")
		if ce == nil {
			continue
		}
		ce.Write(
			zap.String("session_id", evt.SessionUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("target", evt.Target),
			zap.String("handle", evt.Handle),
			zap.Int64("current", evt.Current),
			zap.Int64("total", evt.Total),
			zap.Float64("percent", evt.Percent),
			zap.Int64("suspicious", evt.Suspicious),
			zap.String("reason", evt.Reason),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
