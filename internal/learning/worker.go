package learning

import (
	"context"
	"log/slog"

	domainerrors "aegis/pkg/domain-errors"
)

// Queue decouples producers of outcome events from log persistence and
// recomputation. Enqueue never blocks the caller: a full queue is reported
// as an error and the caller decides whether to surface or retry it.
type Queue struct {
	events chan Event
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{events: make(chan Event, size)}
}

func (q *Queue) Enqueue(event Event) error {
	select {
	case q.events <- event:
		return nil
	default:
		return domainerrors.New(domainerrors.CodeInternal, "learning event queue full")
	}
}

// Depth reports the number of queued events awaiting processing.
func (q *Queue) Depth() int {
	return len(q.events)
}

// Worker drains the queue into the learning service.
type Worker struct {
	queue   *Queue
	service *Service
	logger  *slog.Logger
}

func NewWorker(queue *Queue, service *Service, logger *slog.Logger) *Worker {
	return &Worker{queue: queue, service: service, logger: logger}
}

// Run consumes events until ctx is cancelled. A failed record is logged and
// dropped; the event stays recoverable from the caller's own audit trail,
// and replaying it later is safe because duplicate IDs are absorbed.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("learning worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("learning worker stopped", "pending", w.queue.Depth())
			return
		case event := <-w.queue.events:
			if err := w.service.RecordEvent(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "learning event record failed",
					"event_id", event.ID.String(),
					"counterparty_id", event.CounterpartyID.String(),
					"error", err,
				)
			}
		}
	}
}
