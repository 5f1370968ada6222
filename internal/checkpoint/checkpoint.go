package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable marks a checkpoint read or write that failed for a reason
// other than absence. It is never retried by the pipeline.
var ErrUnavailable = errors.New("checkpoint store unavailable")

// Checkpoint is the durable export position.
//
// Cursor is the ordering key of the last row known to be durably offloaded;
// the zero time means no file has been offloaded yet. Processed counts the
// documents written to offloaded files and never decreases.
type Checkpoint struct {
	Cursor    time.Time
	Processed int64
}

func (c Checkpoint) IsZero() bool {
	return c.Cursor.IsZero() && c.Processed == 0
}

func (c Checkpoint) HasCursor() bool {
	return !c.Cursor.IsZero()
}

func (c Checkpoint) String() string {
	if !c.HasCursor() {
		return fmt.Sprintf("(none, %d)", c.Processed)
	}
	return fmt.Sprintf("(%s, %d)", c.Cursor.UTC().Format(time.RFC3339Nano), c.Processed)
}

// Store persists a single checkpoint with overwrite semantics.
type Store interface {
	// Load returns the zero Checkpoint when nothing was saved yet.
	Load(ctx context.Context) (Checkpoint, error)
	// Save replaces the stored checkpoint in one atomic write.
	Save(ctx context.Context, cp Checkpoint) error
}

// Marshal renders the stored body, "{cursor},{processed}".
func Marshal(cp Checkpoint) ([]byte, error) {
	if !cp.HasCursor() {
		return nil, fmt.Errorf("checkpoint without cursor cannot be stored")
	}
	if cp.Processed < 0 {
		return nil, fmt.Errorf("checkpoint with negative count %d", cp.Processed)
	}
	return []byte(cp.Cursor.UTC().Format(time.RFC3339Nano) + "," + strconv.FormatInt(cp.Processed, 10)), nil
}

// Unmarshal parses a body written by Marshal. Both fields are mandatory.
func Unmarshal(body []byte) (Checkpoint, error) {
	s := strings.TrimSpace(string(body))
	i := strings.LastIndexByte(s, ',')
	if i <= 0 || i == len(s)-1 {
		return Checkpoint{}, fmt.Errorf("malformed checkpoint %q", s)
	}
	cursor, err := time.Parse(time.RFC3339Nano, s[:i])
	if err != nil {
		return Checkpoint{}, fmt.Errorf("malformed checkpoint cursor %q: %w", s[:i], err)
	}
	n, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil || n < 0 {
		return Checkpoint{}, fmt.Errorf("malformed checkpoint count %q", s[i+1:])
	}
	return Checkpoint{Cursor: cursor.UTC(), Processed: n}, nil
}
