package fanout

import (
	"context"

	"github.com/sirupsen/logrus"

	"gemwatch/internal/domain"
	"gemwatch/internal/observability"
)

// QueueSize is the correlator-to-fan-out channel buffer from spec §5.
const QueueSize = 256

// AsyncAdapter makes any Adapter safe to call from the correlator's
// linearizer task: Deliver enqueues onto a bounded channel and returns
// immediately, never blocking the caller on a slow recipient send. A full
// queue drops the record and increments the fan-out drop counter rather
// than stalling the correlator — the durable log already has the record,
// only the notification is lost.
type AsyncAdapter struct {
	next  Adapter
	queue chan domain.AlertRecord
	log   logrus.FieldLogger
}

// NewAsyncAdapter wraps next. Call Run in its own goroutine to start
// draining the queue; until Run is running, Deliver only buffers records
// (up to QueueSize, dropping beyond that).
func NewAsyncAdapter(next Adapter, log logrus.FieldLogger) *AsyncAdapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AsyncAdapter{next: next, queue: make(chan domain.AlertRecord, QueueSize), log: log}
}

var _ Adapter = (*AsyncAdapter)(nil)

// Deliver implements Adapter: non-blocking enqueue.
func (a *AsyncAdapter) Deliver(ctx context.Context, rec domain.AlertRecord) {
	select {
	case a.queue <- rec:
	default:
		observability.RecordFanoutQueueDropped()
		a.log.WithField("id", rec.ID).Warn("fanout: queue full, dropping delivery")
	}
}

// Run drains the queue onto the wrapped Adapter until ctx is cancelled and
// the queue is empty. Call it once, in its own goroutine.
func (a *AsyncAdapter) Run(ctx context.Context) {
	for {
		select {
		case rec := <-a.queue:
			a.next.Deliver(ctx, rec)
		case <-ctx.Done():
			a.drain()
			return
		}
	}
}

// drain flushes any records still queued at shutdown, best-effort, without
// blocking past what's already buffered.
func (a *AsyncAdapter) drain() {
	for {
		select {
		case rec := <-a.queue:
			a.next.Deliver(context.Background(), rec)
		default:
			return
		}
	}
}
