package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chtzvt/docslurp/internal/job"
)

var (
	// ErrSourceExhausted is returned once transient failures exceed the
	// configured retry budget.
	ErrSourceExhausted = errors.New("source retries exhausted")
	// ErrMissingOrderKey marks a document without a usable ordering key.
	ErrMissingOrderKey = errors.New("document has no usable ordering key")
	// ErrOutOfOrder marks a document whose ordering key is lower than the
	// one before it.
	ErrOutOfOrder = errors.New("document out of order")
)

// Record is one source document.
type Record struct {
	ID  string
	Key time.Time
	Doc map[string]interface{}
}

// Query selects documents with Key >= From (all documents when From is
// zero) ordered by (Key, ID), skipping the first Skip of them and returning at
// most Limit (no bound when 0).
type Query struct {
	From  time.Time
	Skip  int64
	Limit int64
}

// Iterator yields documents of one query in order and returns io.EOF when
// the query is exhausted.
type Iterator interface {
	Next(ctx context.Context) (*Record, error)
	Close(ctx context.Context) error
}

// Source is an ordered, filterable document collection.
type Source interface {
	Find(ctx context.Context, q Query) (Iterator, error)
	Close(ctx context.Context) error
}

// Factory connects to the source described by opts.
type Factory func(ctx context.Context, opts job.SourceOptions) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register binds a URI scheme to a source implementation.
func Register(scheme string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[scheme] = f
}

func ForScheme(scheme string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[scheme]
	return f, ok
}

// Open connects to the source whose implementation matches the URI scheme.
func Open(ctx context.Context, opts job.SourceOptions) (Source, error) {
	u, err := url.Parse(opts.URI)
	if err != nil {
		return nil, fmt.Errorf("source uri: %w", err)
	}
	f, ok := ForScheme(strings.ToLower(u.Scheme))
	if !ok {
		registryMu.RLock()
		schemes := make([]string, 0, len(registry))
		for s := range registry {
			schemes = append(schemes, s)
		}
		registryMu.RUnlock()
		sort.Strings(schemes)
		return nil, fmt.Errorf("no source for scheme %q (have %s)", u.Scheme, strings.Join(schemes, ", "))
	}
	return f(ctx, opts)
}

// OrderKeyOf converts a raw ordering field to a timestamp.
func OrderKeyOf(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, ErrMissingOrderKey
		}
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, ErrMissingOrderKey
		}
		return OrderKeyOf(*t)
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrMissingOrderKey, t)
		}
		return ts.UTC(), nil
	case nil:
		return time.Time{}, ErrMissingOrderKey
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrMissingOrderKey, v)
	}
}

// Less orders records by (Key, ID).
func Less(a, b *Record) bool {
	if !a.Key.Equal(b.Key) {
		return a.Key.Before(b.Key)
	}
	return a.ID < b.ID
}
