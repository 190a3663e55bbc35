package vectorstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	touchQueueSize     = 1024
	touchBatchSize     = 64
	touchFlushInterval = 2 * time.Second
	touchTimeout       = 5 * time.Second
)

// touchWorker batches access-recency updates off the read path. The queue is
// bounded; under pressure touches are dropped rather than blocking queries.
type touchWorker struct {
	toucher AccessToucher
	logger  *zap.Logger
	ch      chan uuid.UUID
}

func newTouchWorker(toucher AccessToucher, logger *zap.Logger) *touchWorker {
	return &touchWorker{
		toucher: toucher,
		logger:  logger,
		ch:      make(chan uuid.UUID, touchQueueSize),
	}
}

func (w *touchWorker) enqueue(id uuid.UUID) {
	select {
	case w.ch <- id:
	default:
	}
}

func (w *touchWorker) run(stop <-chan struct{}) {
	ticker := time.NewTicker(touchFlushInterval)
	defer ticker.Stop()

	batch := make([]uuid.UUID, 0, touchBatchSize)
	for {
		select {
		case id := <-w.ch:
			batch = append(batch, id)
			if len(batch) >= touchBatchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-stop:
			// Drain whatever is queued before exiting.
			for {
				select {
				case id := <-w.ch:
					batch = append(batch, id)
				default:
					if len(batch) > 0 {
						w.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (w *touchWorker) flush(ids []uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	defer cancel()
	if err := w.toucher.TouchAccess(ctx, ids); err != nil {
		w.logger.Warn("access touch failed", zap.Int("count", len(ids)), zap.Error(err))
	}
}
