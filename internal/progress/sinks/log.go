package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/genealogy-crawler/internal/progress"
)

// LogSink writes progress events as structured logs. Per-ID fetch events are
// logged at debug level; run and batch milestones at info.
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
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageFetchDone:
			level = zapcore.DebugLevel
			fields = append(fields,
				zap.Int("id", evt.RecordID),
				zap.String("outcome", evt.Outcome),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageBatchDone:
			fields = append(fields,
				zap.Int("batch_start", evt.BatchStart),
				zap.Int("batch_end", evt.BatchEnd),
				zap.Int("found", evt.Found),
				zap.Int("not_found", evt.NotFound),
				zap.Int("streak", evt.Streak),
			)
		case progress.StageRunError:
			level = zapcore.WarnLevel
			fields = append(fields, zap.Duration("dur", evt.Dur))
		default:
			if evt.Dur > 0 {
				fields = append(fields, zap.Duration("dur", evt.Dur))
			}
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(level, "progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
