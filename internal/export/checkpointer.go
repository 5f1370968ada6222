package export

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/chtzvt/docslurp/internal/checkpoint"
	"github.com/chtzvt/docslurp/internal/metrics"
	"github.com/chtzvt/docslurp/internal/offload"
)

// pendingFile pairs an upload with the checkpoint it makes durable.
type pendingFile struct {
	task *offload.Task
	cp   checkpoint.Checkpoint
}

// checkpointer is the single checkpoint writer. It takes files in the order
// they were finalized, waits for each upload and then saves its checkpoint,
// so checkpoints are written strictly in source order.
type checkpointer struct {
	store   checkpoint.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	onFail  context.CancelFunc

	queue chan pendingFile
	done  chan struct{}

	mu    sync.Mutex
	err   error
	last  checkpoint.Checkpoint
	saved int
}

func newCheckpointer(store checkpoint.Store, logger *zap.Logger, m *metrics.Metrics, depth int, onFail context.CancelFunc) *checkpointer {
	if depth <= 0 {
		depth = 1
	}
	return &checkpointer{
		store:   store,
		logger:  logger,
		metrics: m,
		onFail:  onFail,
		queue:   make(chan pendingFile, depth),
		done:    make(chan struct{}),
	}
}

func (k *checkpointer) run(ctx context.Context) {
	defer close(k.done)
	for p := range k.queue {
		if err := k.commit(ctx, p); err != nil {
			k.mu.Lock()
			k.err = err
			k.mu.Unlock()
			// Uploads still queued are abandoned with the cancelled context.
			k.onFail()
			return
		}
	}
}

func (k *checkpointer) commit(ctx context.Context, p pendingFile) error {
	if err := p.task.Wait(ctx); err != nil {
		return err
	}
	if err := k.store.Save(ctx, p.cp); err != nil {
		return err
	}
	k.metrics.IncCheckpointsSaved()
	k.mu.Lock()
	k.last = p.cp
	k.saved++
	k.mu.Unlock()
	k.logger.Info("checkpoint saved", zap.String("key", p.task.Key), zap.Stringer("checkpoint", p.cp))
	return nil
}

// enqueue hands a file to the checkpointer, blocking while the queue is
// full. It fails once the checkpointer has stopped on an error.
func (k *checkpointer) enqueue(ctx context.Context, p pendingFile) error {
	select {
	case k.queue <- p:
		return nil
	case <-k.done:
		return k.failure()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// failed returns the checkpointer's error without blocking.
func (k *checkpointer) failed() error {
	select {
	case <-k.done:
		return k.failure()
	default:
		return nil
	}
}

func (k *checkpointer) failure() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.err
}

// close stops accepting files and waits for the queued ones.
func (k *checkpointer) close() error {
	close(k.queue)
	<-k.done
	return k.failure()
}

func (k *checkpointer) result() (checkpoint.Checkpoint, int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.last, k.saved
}
