package evidence

import (
	"context"
	"log/slog"

	"aegis/internal/evidence/metrics"
	dErrors "aegis/pkg/domain-errors"
)

// AnchorRequest is one queued anchoring job. Batch is set for collective
// filings, Doc for everything else.
type AnchorRequest struct {
	Doc     Document
	Batch   []Document
	CaseRef string
}

// Queue decouples anchoring from the message-processing path so a slow or
// unavailable ledger never blocks approval or delivery.
type Queue struct {
	ch      chan AnchorRequest
	metrics *metrics.Metrics
}

func NewQueue(size int, m *metrics.Metrics) *Queue {
	return &Queue{ch: make(chan AnchorRequest, size), metrics: m}
}

// Enqueue accepts a request for background anchoring. A full queue is
// surfaced to the caller rather than silently dropping a legally significant
// anchor.
func (q *Queue) Enqueue(req AnchorRequest) error {
	select {
	case q.ch <- req:
		q.metrics.SetQueueDepth(len(q.ch))
		return nil
	default:
		return dErrors.New(dErrors.CodeInternal, "anchor queue full")
	}
}

// Worker consumes anchor requests and runs them against the service. It
// keeps background processing testable without wiring queue infrastructure.
type Worker struct {
	service *Service
	queue   *Queue
	logger  *slog.Logger
}

func NewWorker(service *Service, queue *Queue, logger *slog.Logger) *Worker {
	return &Worker{service: service, queue: queue, logger: logger}
}

// Run processes requests until the context is cancelled. Anchoring failures
// are logged with enough detail for an operator to retry manually; the
// worker never retries on its own.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-w.queue.ch:
			w.queue.metrics.SetQueueDepth(len(w.queue.ch))
			w.process(ctx, req)
		}
	}
}

func (w *Worker) process(ctx context.Context, req AnchorRequest) {
	var err error
	if len(req.Batch) > 0 {
		_, err = w.service.CreateBatchProof(ctx, req.CaseRef, req.Batch)
	} else {
		_, err = w.service.CreateProof(ctx, req.Doc)
	}
	if err != nil {
		caseRef := req.CaseRef
		if caseRef == "" {
			caseRef = req.Doc.CaseRef
		}
		w.logger.ErrorContext(ctx, "anchoring failed, manual retry required",
			"case_ref", caseRef,
			"timeout", dErrors.HasCode(err, dErrors.CodeAnchoringTimeout),
			"error", err,
		)
	}
}
