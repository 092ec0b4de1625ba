package mq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/runlog"
)

// publishTimeout ограничивает публикацию одной записи.
const publishTimeout = 2 * time.Second

// RunPublisher — runlog.Sink, публикующий RunEntry в conveyor.runs.
//
// Если брокер недоступен, запись передаётся в fallback (например,
// напрямую в runlog.Batcher), чтобы не потерять её.
type RunPublisher struct {
	pub      *Publisher
	fallback runlog.Sink
	logger   *slog.Logger
}

// NewRunPublisher создаёт RunPublisher. fallback может быть nil.
func NewRunPublisher(pub *Publisher, fallback runlog.Sink, logger *slog.Logger) *RunPublisher {
	if fallback == nil {
		fallback = runlog.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunPublisher{pub: pub, fallback: fallback, logger: logger}
}

// PushRun реализует runlog.Sink.
func (p *RunPublisher) PushRun(ctx context.Context, entry domain.RunEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := p.pub.PublishJSON(ctx, ExchangeRuns, RoutingKeyRecorded, MessageTypeRunRecorded, entry)
	if err != nil {
		p.logger.Warn("publish run entry failed, using fallback",
			"trace_id", entry.TraceID,
			"action", entry.ActionName,
			"error", err,
		)
		p.fallback.PushRun(ctx, entry)
	}
}

// RecorderHandler возвращает Handler, записывающий RunEntry из очереди в w.
//
// Запись синхронная: сообщение подтверждается только после успешного
// InsertBatch. Ошибка записи возвращается как транзиентная, и consumer
// повторяет доставку один раз перед переносом в DLQ.
func RecorderHandler(w runlog.Writer) Handler {
	return func(ctx context.Context, msg *Message) error {
		if msg.Type != MessageTypeRunRecorded {
			return fmt.Errorf("%w: unexpected message type %q", ErrPermanent, msg.Type)
		}

		entry, err := ParsePayload[domain.RunEntry](msg)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		if entry.TraceID == "" || entry.ActionName == "" {
			return fmt.Errorf("%w: run entry without trace_id or action_name", ErrPermanent)
		}

		if err := w.InsertBatch(ctx, []domain.RunEntry{entry}); err != nil {
			return fmt.Errorf("record run %s: %w", entry.TraceID, err)
		}
		return nil
	}
}
