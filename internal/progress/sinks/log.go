package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagecapture/internal/progress"
)

// LogSink writes every event as a structured log line.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("kind", string(evt.Kind)),
		}
		if evt.URL != "" {
			fields = append(fields,
				zap.Int("seq", evt.Seq),
				zap.String("locale", evt.Locale),
				zap.String("device", evt.Device),
				zap.String("url", evt.URL),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Err != "" {
			fields = append(fields, zap.String("error", evt.Err))
		}
		if evt.Kind == progress.KindTaskFailed || evt.Kind == progress.KindJobAborted {
			s.logger.Warn(evt.Message(), fields...)
			continue
		}
		s.logger.Info(evt.Message(), fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
