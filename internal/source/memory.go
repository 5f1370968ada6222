package source

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/chtzvt/docslurp/internal/job"
)

// MemorySource serves documents from memory. It backs the memory:// scheme
// and tests.
type MemorySource struct {
	mu      sync.Mutex
	records []*Record
}

func NewMemorySource(records ...*Record) *MemorySource {
	m := &MemorySource{}
	m.Append(records...)
	return m
}

// Append adds documents; they are kept sorted by (Key, ID).
func (m *MemorySource) Append(records ...*Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	sort.SliceStable(m.records, func(i, j int) bool { return Less(m.records[i], m.records[j]) })
}

func (m *MemorySource) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemorySource) Find(ctx context.Context, q Query) (Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Record
	var skipped int64
	for _, r := range m.records {
		if !q.From.IsZero() && r.Key.Before(q.From) {
			continue
		}
		if skipped < q.Skip {
			skipped++
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && int64(len(out)) >= q.Limit {
			break
		}
	}
	return &sliceIterator{records: out}, nil
}

func (m *MemorySource) Close(ctx context.Context) error { return nil }

type sliceIterator struct {
	records []*Record
	pos     int
}

func (s *sliceIterator) Next(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	r := s.records[s.pos]
	s.pos++
	return r, nil
}

func (s *sliceIterator) Close(ctx context.Context) error { return nil }

func init() {
	// memory:// starts empty; it exists so configuration can be smoke tested
	// without a database.
	Register("memory", func(ctx context.Context, opts job.SourceOptions) (Source, error) {
		return NewMemorySource(), nil
	})
}
