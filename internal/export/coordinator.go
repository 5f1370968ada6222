// Package export drives a resumable export: it reads the source from the
// last checkpoint, batches rows into files, uploads them in the background
// and advances the checkpoint once each file is durable.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/chtzvt/docslurp/internal/blob"
	"github.com/chtzvt/docslurp/internal/checkpoint"
	"github.com/chtzvt/docslurp/internal/chunk"
	"github.com/chtzvt/docslurp/internal/core"
	"github.com/chtzvt/docslurp/internal/encoder"
	"github.com/chtzvt/docslurp/internal/job"
	"github.com/chtzvt/docslurp/internal/normalize"
	"github.com/chtzvt/docslurp/internal/offload"
	"github.com/chtzvt/docslurp/internal/source"
)

// Result summarizes a run.
type Result struct {
	State State
	// Resumed is the checkpoint the run started from.
	Resumed checkpoint.Checkpoint
	// Checkpoint is the last checkpoint known durable when the run ended.
	Checkpoint checkpoint.Checkpoint
	Files      int
	Rows       int64
	Duration   time.Duration
}

// ErrAlreadyRun is returned by Run on a coordinator that already finished.
var ErrAlreadyRun = errors.New("export: coordinator already ran")

type Coordinator struct {
	cx          *core.Context
	spec        *job.Spec
	logger      *zap.Logger
	checkpoints checkpoint.Store
	adapter     *source.Adapter
	normalizer  *normalize.Normalizer
	buffer      *chunk.Buffer
	encoder     encoder.Encoder
	offload     *offload.Worker
	namespace   string

	state atomic.Int32

	tmpDir     string
	ownsTmpDir bool

	// Ingestion state, owned by Run's goroutine.
	writer encoder.Writer
	fileID string
	// closing is set once the open file is complete but the rows sharing its
	// last ordering key have not all been read yet.
	closing   bool
	processed int64
	files     int
	rows      int64
}

func New(cx *core.Context, src source.Source, store blob.Store, checkpoints checkpoint.Store) (*Coordinator, error) {
	spec := cx.Spec
	norm, err := normalize.New(spec.Normalize)
	if err != nil {
		return nil, fmt.Errorf("normalizer: %w", err)
	}
	buf, err := chunk.NewBuffer(spec.Chunk)
	if err != nil {
		return nil, fmt.Errorf("chunk buffer: %w", err)
	}
	enc, err := encoder.New(spec.Output.Format, encoder.Options{
		Compression: spec.Output.Compression,
		Columns:     norm.Columns(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	return &Coordinator{
		cx:          cx,
		spec:        spec,
		logger:      cx.Named("export"),
		checkpoints: checkpoints,
		adapter:     source.NewAdapter(cx, src),
		normalizer:  norm,
		buffer:      buf,
		encoder:     enc,
		offload:     offload.NewWorker(cx, store),
		namespace:   spec.Namespace(),
	}, nil
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) transition(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.Debug("state transition", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Run exports everything after the stored checkpoint and returns once the
// source is drained and every file is uploaded and checkpointed.
func (c *Coordinator) Run(ctx context.Context) (res Result, err error) {
	if s := c.State(); s.Terminal() {
		return Result{State: s}, ErrAlreadyRun
	}
	start := time.Now()
	c.transition(StateInit)

	defer func() {
		if cerr := c.cleanup(context.WithoutCancel(ctx)); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
		res.Files = c.files
		res.Rows = c.rows
		res.Duration = time.Since(start)
		if err != nil {
			c.transition(StateFailed)
			pos, n := c.adapter.Position()
			c.logger.Error("export failed",
				zap.Error(err),
				zap.Stringer("checkpoint", res.Checkpoint),
				zap.Time("source_position", pos),
				zap.Int64("source_position_count", n))
		} else {
			c.transition(StateDone)
			c.logger.Info("export done",
				zap.Int("files", res.Files),
				zap.Int64("rows", res.Rows),
				zap.Stringer("checkpoint", res.Checkpoint),
				zap.Duration("took", res.Duration))
		}
		res.State = c.State()
	}()

	resumed, err := c.checkpoints.Load(ctx)
	if err != nil {
		return res, err
	}
	res.Resumed, res.Checkpoint = resumed, resumed
	c.processed = resumed.Processed
	c.logger.Info("loaded checkpoint", zap.String("namespace", c.namespace), zap.Stringer("checkpoint", resumed))

	if err := c.prepareTmpDir(); err != nil {
		return res, err
	}
	if err := c.adapter.Open(ctx, resumed.Cursor); err != nil {
		return res, err
	}

	// Documents at the cursor are read again; one appended after the last run
	// may share the checkpointed key.
	c.transition(StateResuming)
	first, err := c.adapter.Next(ctx)
	if errors.Is(err, io.EOF) {
		c.logger.Info("no new documents")
		return res, nil
	}
	if err != nil {
		return res, err
	}
	if !resumed.HasCursor() {
		c.logger.Info("first export, initial position established", zap.Time("cursor", first.Key))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	k := newCheckpointer(c.checkpoints, c.cx.Named("checkpoint"), c.cx.Metrics, c.spec.Output.MaxInFlight, cancel)
	go k.run(runCtx)

	ingestErr := c.stream(runCtx, k, first)
	if ingestErr != nil && c.writer != nil {
		c.abortFile()
	}
	// Files finalized before a failure still get their checkpoints, unless the
	// run itself was cancelled.
	if ingestErr == nil {
		c.transition(StateCheckpointing)
	}
	cpErr := k.close()
	c.offload.Wait()

	res.Checkpoint, _ = k.result()
	if !res.Checkpoint.HasCursor() {
		res.Checkpoint = resumed
	}

	switch {
	case cpErr == nil:
		return res, ingestErr
	case ingestErr == nil, errors.Is(ingestErr, cpErr), errors.Is(ingestErr, context.Canceled):
		// A checkpointer failure cancels ingestion.
		return res, cpErr
	default:
		return res, multierror.Append(ingestErr, cpErr)
	}
}

// stream is the ingestion loop. A full buffer is always encoded into the
// open file, but the file itself only ends at a change of ordering key, so
// records sharing a key always land in the same file while memory stays
// bounded by one chunk.
func (c *Coordinator) stream(ctx context.Context, k *checkpointer, rec *source.Record) error {
	c.transition(StateStreaming)
	for {
		if err := k.failed(); err != nil {
			return err
		}
		state := c.buffer.Offer(c.normalizer.Normalize(rec))

		next, err := c.adapter.Next(ctx)
		if errors.Is(err, io.EOF) {
			c.transition(StateFlushing)
			if err := c.encode(); err != nil {
				return err
			}
			return c.closeFile(ctx, k)
		}
		if err != nil {
			return err
		}

		boundary := !next.Key.Equal(rec.Key)
		if state == chunk.ThresholdReached || (c.closing && boundary) {
			c.transition(StateFlushing)
			if err := c.encode(); err != nil {
				return err
			}
			c.closing = c.fileComplete()
			if c.closing && boundary {
				if err := c.closeFile(ctx, k); err != nil {
					return err
				}
			}
			c.transition(StateStreaming)
		}
		rec = next
	}
}

// encode drains the buffer into the open file, beginning one if needed.
func (c *Coordinator) encode() error {
	ch := c.buffer.Drain()
	if ch.Len() == 0 {
		return nil
	}
	if c.writer == nil {
		if err := c.beginFile(); err != nil {
			return err
		}
	}
	if err := c.writer.Write(ch); err != nil {
		return err
	}
	c.processed += int64(ch.Len())
	c.rows += int64(ch.Len())
	c.cx.Metrics.AddRowsWritten(ch.Len())
	c.logger.Debug("chunk encoded",
		zap.String("path", c.writer.Path()),
		zap.Int("rows", ch.Len()),
		zap.Int64("bytes", ch.Bytes),
		zap.Time("last_key", ch.LastKey()))
	return nil
}

// closeFile finalizes the open file, hands it to the offload worker and
// queues its checkpoint.
func (c *Coordinator) closeFile(ctx context.Context, k *checkpointer) error {
	c.closing = false
	if c.writer == nil {
		return nil
	}
	ref, err := c.writer.Finalize()
	if err != nil {
		c.abortFile()
		return err
	}
	c.writer = nil
	c.files++

	c.transition(StateOffloading)
	key := offload.ObjectKey(c.namespace, c.fileID, c.encoder.Extension())
	task := c.offload.Submit(ctx, ref, key)
	c.logger.Info("file finalized",
		zap.String("key", key),
		zap.Int64("rows", ref.Rows),
		zap.Int("chunks", ref.Chunks),
		zap.Int64("size", ref.Size))

	return k.enqueue(ctx, pendingFile{
		task: task,
		cp:   checkpoint.Checkpoint{Cursor: ref.LastKey, Processed: c.processed},
	})
}

// fileComplete decides whether the open file is full after the chunk just
// written. Count mode wants one chunk per file; bytes mode streams chunks
// into a file until it reaches chunk.file_bytes.
func (c *Coordinator) fileComplete() bool {
	if c.spec.Chunk.Mode != job.ChunkModeBytes || c.spec.Chunk.FileBytes <= 0 {
		return true
	}
	return c.writer.Bytes() >= c.spec.Chunk.FileBytes
}

func (c *Coordinator) beginFile() error {
	id := FileID(c.processed, c.cx.ShortRunID())
	w, err := c.encoder.Begin(filepath.Join(c.tmpDir, "chunk_"+id+c.encoder.Extension()))
	if err != nil {
		return err
	}
	c.writer, c.fileID = w, id
	return nil
}

// FileID names a file after the document count processed at its creation.
// The run id keeps a retried range from overwriting another run's file.
func FileID(processed int64, run string) string {
	return fmt.Sprintf("%012d-%s", processed, run)
}

func (c *Coordinator) abortFile() {
	if err := c.writer.Abort(); err != nil {
		c.logger.Warn("removing partial file", zap.String("path", c.writer.Path()), zap.Error(err))
	}
	c.writer = nil
}

func (c *Coordinator) prepareTmpDir() error {
	if dir := c.spec.Output.TmpDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("tmp dir: %w", err)
		}
		c.tmpDir = dir
		return nil
	}
	dir, err := os.MkdirTemp("", "docslurp-")
	if err != nil {
		return fmt.Errorf("tmp dir: %w", err)
	}
	c.tmpDir, c.ownsTmpDir = dir, true
	return nil
}

func (c *Coordinator) cleanup(ctx context.Context) error {
	var result *multierror.Error
	if c.writer != nil {
		c.abortFile()
	}
	if err := c.adapter.Close(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("close source cursor: %w", err))
	}
	if c.ownsTmpDir {
		// Files whose upload failed are kept, which leaves the directory behind.
		if err := os.Remove(c.tmpDir); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("local files left behind", zap.String("dir", c.tmpDir))
		}
	}
	return result.ErrorOrNil()
}
