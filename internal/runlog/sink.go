// Package runlog доставляет audit-записи выполнения actions (RunEntry)
// до хранилища.
//
// Executor вызывает Sink.PushRun синхронно, поэтому реализации не должны
// блокироваться: Batcher буферизует записи и пишет их пачками.
package runlog

import (
	"context"
	"log/slog"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Sink — получатель RunEntry.
type Sink interface {
	PushRun(ctx context.Context, entry domain.RunEntry)
}

// SinkFunc — адаптер функции к Sink.
type SinkFunc func(ctx context.Context, entry domain.RunEntry)

func (f SinkFunc) PushRun(ctx context.Context, entry domain.RunEntry) {
	f(ctx, entry)
}

// Nop отбрасывает записи.
type Nop struct{}

func (Nop) PushRun(context.Context, domain.RunEntry) {}

// Multi рассылает запись во все sinks по порядку.
type Multi []Sink

func (m Multi) PushRun(ctx context.Context, entry domain.RunEntry) {
	for _, s := range m {
		s.PushRun(ctx, entry)
	}
}

// LogSink пишет записи в лог.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink создаёт LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) PushRun(ctx context.Context, e domain.RunEntry) {
	attrs := []any{
		"trace_id", e.TraceID,
		"action", e.ActionName,
		"trigger", e.TriggerType,
		"status", e.Status,
		"duration_ms", e.Duration.Milliseconds(),
		"final", e.Final,
	}
	if e.MaxAttempts > 0 {
		attrs = append(attrs, "attempt", e.Attempt, "max_attempts", e.MaxAttempts)
	}

	if e.Status == domain.RunStatusError {
		s.logger.WarnContext(ctx, "action run failed", append(attrs, "error", e.ErrorMessage)...)
		return
	}
	s.logger.DebugContext(ctx, "action run", attrs...)
}
