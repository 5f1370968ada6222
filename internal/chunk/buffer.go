// Package chunk accumulates normalized rows until a row-count or byte-size
// threshold is reached.
package chunk

import (
	"fmt"
	"time"

	"github.com/chtzvt/docslurp/internal/job"
	"github.com/chtzvt/docslurp/internal/normalize"
)

type State int

const (
	Accepting State = iota
	ThresholdReached
)

func (s State) String() string {
	switch s {
	case Accepting:
		return "accepting"
	case ThresholdReached:
		return "threshold_reached"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Chunk is a drained, ordered batch of rows.
type Chunk struct {
	Rows  []normalize.Row
	Bytes int64
}

func (c Chunk) Len() int { return len(c.Rows) }

func (c Chunk) FirstKey() time.Time {
	if len(c.Rows) == 0 {
		return time.Time{}
	}
	return c.Rows[0].Key
}

func (c Chunk) LastKey() time.Time {
	if len(c.Rows) == 0 {
		return time.Time{}
	}
	return c.Rows[len(c.Rows)-1].Key
}

// Buffer holds at most one chunk. It is owned by a single goroutine.
type Buffer struct {
	mode    string
	records int
	ceiling int64

	rows  []normalize.Row
	bytes int64
}

func NewBuffer(opts job.ChunkOptions) (*Buffer, error) {
	b := &Buffer{mode: opts.Mode, records: opts.Records, ceiling: opts.Bytes}
	switch opts.Mode {
	case job.ChunkModeCount:
		if opts.Records <= 0 {
			return nil, fmt.Errorf("count threshold must be positive, got %d", opts.Records)
		}
		b.rows = make([]normalize.Row, 0, opts.Records)
	case job.ChunkModeBytes:
		if opts.Bytes <= 0 {
			return nil, fmt.Errorf("byte threshold must be positive, got %d", opts.Bytes)
		}
	default:
		return nil, fmt.Errorf("unknown chunk mode %q", opts.Mode)
	}
	return b, nil
}

// Offer appends row and reports whether the threshold has been reached.
// Rows offered past the threshold are still kept until the next Drain.
func (b *Buffer) Offer(row normalize.Row) State {
	b.rows = append(b.rows, row)
	b.bytes += int64(row.Size)
	return b.State()
}

func (b *Buffer) State() State {
	if b.Full() {
		return ThresholdReached
	}
	return Accepting
}

func (b *Buffer) Full() bool {
	switch b.mode {
	case job.ChunkModeCount:
		return len(b.rows) >= b.records
	default:
		return b.bytes >= b.ceiling
	}
}

// Drain returns the buffered rows and resets the buffer.
func (b *Buffer) Drain() Chunk {
	c := Chunk{Rows: b.rows, Bytes: b.bytes}
	capacity := 0
	if b.mode == job.ChunkModeCount {
		capacity = b.records
	}
	b.rows = make([]normalize.Row, 0, capacity)
	b.bytes = 0
	return c
}

func (b *Buffer) Len() int { return len(b.rows) }

func (b *Buffer) Bytes() int64 { return b.bytes }

// LastKey is the ordering key of the newest buffered row.
func (b *Buffer) LastKey() (time.Time, bool) {
	if len(b.rows) == 0 {
		return time.Time{}, false
	}
	return b.rows[len(b.rows)-1].Key, true
}
