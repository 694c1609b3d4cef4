package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/tap-acuite/internal/progress"
)

// LogSink emits structured logs for run and stream milestones. Fetch
// completions are logged at debug level because a run issues thousands.
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
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageFetchDone:
			fields = append(fields,
				zap.String("resource", evt.Stream),
				zap.Int("status_code", evt.StatusCode),
				zap.Int("attempts", evt.Attempts),
				zap.Duration("dur", evt.Dur),
			)
			s.logger.Debug("fetch finished", fields...)
		case progress.StageStreamStart:
			s.logger.Info("stream started", append(fields, zap.String("stream", evt.Stream))...)
		case progress.StageStreamDone:
			s.logger.Info("stream finished", append(fields,
				zap.String("stream", evt.Stream),
				zap.Int64("records", evt.Records),
			)...)
		case progress.StageRunError:
			s.logger.Error("run failed", append(fields, zap.Duration("dur", evt.Dur), zap.String("note", evt.Note))...)
		default:
			s.logger.Info("run progress", append(fields, zap.Duration("dur", evt.Dur))...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
