// Package offload uploads finished files to the blob store in the
// background.
package offload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/chtzvt/docslurp/internal/blob"
	"github.com/chtzvt/docslurp/internal/core"
	"github.com/chtzvt/docslurp/internal/encoder"
	"github.com/chtzvt/docslurp/internal/metrics"
)

// ErrOffload marks an upload that failed after the store's own retries.
var ErrOffload = errors.New("offload failed")

// ObjectKey is where the file with the given identifier is stored.
func ObjectKey(namespace, id, ext string) string {
	return blob.Join(namespace, "export", "chunk_"+id+ext)
}

// Task is the pending upload of one file. Its result is observed through
// Wait.
type Task struct {
	Key  string
	File encoder.FileRef

	done chan struct{}
	err  error
}

// Wait blocks until the upload finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Worker runs uploads concurrently, bounded by MaxInFlight.
type Worker struct {
	store   blob.Store
	sem     *semaphore.Weighted
	logger  *zap.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

func NewWorker(cx *core.Context, store blob.Store) *Worker {
	n := cx.Spec.Output.MaxInFlight
	if n <= 0 {
		n = 1
	}
	return &Worker{
		store:   store,
		sem:     semaphore.NewWeighted(int64(n)),
		logger:  cx.Named("offload"),
		metrics: cx.Metrics,
	}
}

// Submit starts uploading ref to key and returns immediately. Ownership of
// the local file passes to the task: it is deleted after a successful upload
// and left in place otherwise.
func (w *Worker) Submit(ctx context.Context, ref encoder.FileRef, key string) *Task {
	t := &Task{Key: key, File: ref, done: make(chan struct{})}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(t.done)
		t.err = w.upload(ctx, t)
	}()
	return t
}

func (w *Worker) upload(ctx context.Context, t *Task) error {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		w.logger.Warn("upload abandoned, local file kept", zap.String("key", t.Key), zap.String("path", t.File.Path), zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrOffload, t.Key, err)
	}
	defer w.sem.Release(1)

	start := time.Now()
	if err := w.store.Put(ctx, t.Key, t.File.Path); err != nil {
		w.logger.Error("upload failed, local file kept",
			zap.String("key", t.Key), zap.String("path", t.File.Path), zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrOffload, t.Key, err)
	}
	w.metrics.AddUploaded(t.File.Size)
	w.logger.Info("uploaded file",
		zap.String("key", t.Key),
		zap.Int64("rows", t.File.Rows),
		zap.Int64("size", t.File.Size),
		zap.Duration("took", time.Since(start)))

	if err := os.Remove(t.File.Path); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("removing uploaded file", zap.String("path", t.File.Path), zap.Error(err))
	}
	return nil
}

// Wait blocks until every submitted upload has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}
