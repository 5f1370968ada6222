package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/chtzvt/docslurp/internal/core"
)

// ExhaustedError reports the last transient failure after the retry budget
// ran out.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("source failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrSourceExhausted }

// Adapter reads a Source as one ordered stream of records, starting at a
// resume position. Cursors are opened page by page and reopened after a
// transient failure at the last position handed out, so callers never see
// a record twice within one stream.
type Adapter struct {
	src        Source
	pageSize   int64
	maxRetries int
	delay      time.Duration
	logger     *zap.Logger
	cx         *core.Context

	// (from, skip) is the stream position: every record with Key < from has
	// been returned, plus the first skip records with Key == from.
	from time.Time
	skip int64

	it     Iterator
	inPage int64
	done   bool
}

func NewAdapter(cx *core.Context, src Source) *Adapter {
	opts := cx.Spec.Source
	return &Adapter{
		src:        src,
		pageSize:   opts.PageSize,
		maxRetries: opts.MaxRetries,
		delay:      opts.RetryDelay,
		logger:     cx.Named("source"),
		cx:         cx,
	}
}

// Open positions the stream at resume; a zero resume reads from the start.
// The server cursor itself is opened lazily by Next so that opening shares
// the read retry policy.
func (a *Adapter) Open(ctx context.Context, resume time.Time) error {
	if err := a.closeIterator(ctx); err != nil {
		a.logger.Debug("closing previous cursor", zap.Error(err))
	}
	a.from = resume
	a.skip = 0
	a.done = false
	a.logger.Info("opening source stream", zap.Time("from", resume), zap.Int64("page_size", a.pageSize))
	return nil
}

// Position returns the key of the last record handed out and how many
// records with that key were returned.
func (a *Adapter) Position() (time.Time, int64) {
	return a.from, a.skip
}

// Next returns the next record, or io.EOF once the source is drained.
func (a *Adapter) Next(ctx context.Context) (*Record, error) {
	if a.done {
		return nil, io.EOF
	}

	attempts := 0
	var lastErr error
	op := func() (*Record, error) {
		attempts++
		rec, err := a.next(ctx)
		if err == nil || isPermanent(err) {
			return rec, permanent(err)
		}
		lastErr = err
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		a.cx.Metrics.IncSourceRetries()
		a.logger.Warn("transient source error, retrying",
			zap.Error(err), zap.Int("attempt", attempts), zap.Int("max_retries", a.maxRetries), zap.Duration("wait", wait))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(a.delay), uint64(a.maxRetries)), ctx)
	rec, err := backoff.RetryNotifyWithData(op, b, notify)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, io.EOF):
		a.done = true
		return nil, io.EOF
	case isPermanent(err):
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		if lastErr == nil {
			lastErr = err
		}
		return nil, &ExhaustedError{Attempts: attempts, Err: lastErr}
	}
}

func (a *Adapter) next(ctx context.Context) (*Record, error) {
	for {
		if a.it == nil {
			it, err := a.src.Find(ctx, Query{From: a.from, Skip: a.skip, Limit: a.pageSize})
			if err != nil {
				return nil, fmt.Errorf("open cursor: %w", err)
			}
			a.it = it
			a.inPage = 0
		}

		rec, err := a.it.Next(ctx)
		if errors.Is(err, io.EOF) {
			fullPage := a.pageSize > 0 && a.inPage >= a.pageSize
			if cerr := a.closeIterator(ctx); cerr != nil {
				a.logger.Debug("closing drained cursor", zap.Error(cerr))
			}
			if fullPage {
				continue
			}
			return nil, io.EOF
		}
		if err != nil {
			// Drop the cursor; the retry reopens at the current position.
			if cerr := a.closeIterator(ctx); cerr != nil {
				a.logger.Debug("closing failed cursor", zap.Error(cerr))
			}
			return nil, fmt.Errorf("read cursor: %w", err)
		}

		a.inPage++
		switch {
		case a.from.IsZero() || rec.Key.After(a.from):
			a.from = rec.Key
			a.skip = 1
		case rec.Key.Equal(a.from):
			a.skip++
		default:
			return nil, fmt.Errorf("%w: %s after %s (id %s)", ErrOutOfOrder,
				rec.Key.Format(time.RFC3339Nano), a.from.Format(time.RFC3339Nano), rec.ID)
		}
		a.cx.Metrics.IncDocumentsRead()
		return rec, nil
	}
}

func (a *Adapter) closeIterator(ctx context.Context) error {
	if a.it == nil {
		return nil
	}
	it := a.it
	a.it = nil
	return it.Close(ctx)
}

func (a *Adapter) Close(ctx context.Context) error {
	return a.closeIterator(ctx)
}

func isPermanent(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, ErrOutOfOrder) ||
		errors.Is(err, ErrMissingOrderKey) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
