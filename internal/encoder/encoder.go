// Package encoder writes chunks of normalized rows into files. Parquet is the
// default; line-oriented formats are available for consumers without a
// columnar reader.
package encoder

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chtzvt/docslurp/internal/chunk"
	"github.com/chtzvt/docslurp/internal/normalize"
)

// ErrEncoding marks a chunk that could not be written. It is never retried.
var ErrEncoding = errors.New("encoding failed")

type EncodingError struct {
	Path string
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Path, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

func (e *EncodingError) Is(target error) bool { return target == ErrEncoding }

// FileRef describes a finalized, independently readable file.
type FileRef struct {
	Path     string
	Rows     int64
	Bytes    int64 // normalized row bytes written
	Size     int64 // on-disk size
	Chunks   int
	FirstKey time.Time
	LastKey  time.Time
}

// Writer receives one or more chunks and produces one file.
type Writer interface {
	Write(c chunk.Chunk) error
	// Finalize flushes and closes the file.
	Finalize() (FileRef, error)
	// Abort closes and removes the partial file.
	Abort() error
	Rows() int64
	// Bytes is the normalized size of the rows written so far.
	Bytes() int64
	Path() string
}

type Encoder interface {
	// Begin creates the file at path.
	Begin(path string) (Writer, error)
	// Extension is the file suffix, including the leading dot.
	Extension() string
}

type Options struct {
	Compression string
	Columns     []normalize.Column
}

type Factory func(opts Options) (Encoder, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the encoder registered under format.
func New(format string, opts Options) (Encoder, error) {
	registryMu.RLock()
	f, ok := registry[strings.ToLower(format)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("encoder not found: %s (have %s)", format, strings.Join(Names(), ", "))
	}
	return f(opts)
}

// tracker keeps the bookkeeping shared by all writers.
type tracker struct {
	path   string
	rows   int64
	bytes  int64
	chunks int
	first  time.Time
	last   time.Time
}

func (t *tracker) add(c chunk.Chunk) {
	if c.Len() == 0 {
		return
	}
	if t.rows == 0 {
		t.first = c.FirstKey()
	}
	t.last = c.LastKey()
	t.rows += int64(c.Len())
	t.bytes += c.Bytes
	t.chunks++
}

func (t *tracker) Rows() int64  { return t.rows }
func (t *tracker) Bytes() int64 { return t.bytes }
func (t *tracker) Path() string { return t.path }

func (t *tracker) ref() (FileRef, error) {
	st, err := os.Stat(t.path)
	if err != nil {
		return FileRef{}, &EncodingError{Path: t.path, Err: err}
	}
	return FileRef{
		Path:     t.path,
		Rows:     t.rows,
		Bytes:    t.bytes,
		Size:     st.Size(),
		Chunks:   t.chunks,
		FirstKey: t.first,
		LastKey:  t.last,
	}, nil
}

func (t *tracker) fail(err error) error {
	if err == nil {
		return nil
	}
	var ee *EncodingError
	if errors.As(err, &ee) {
		return err
	}
	return &EncodingError{Path: t.path, Err: err}
}
