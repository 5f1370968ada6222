package metrics

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Metrics counts export progress. All fields are updated atomically and may
// be read while the pipeline runs.
type Metrics struct {
	DocumentsRead    int64 // atomic
	RowsWritten      int64 // atomic
	FilesUploaded    int64 // atomic
	BytesUploaded    int64 // atomic
	SourceRetries    int64 // atomic
	CheckpointsSaved int64 // atomic
	startNanos       int64 // atomic
}

func New() *Metrics {
	m := &Metrics{}
	m.Start()
	return m
}

func (m *Metrics) Start() {
	atomic.StoreInt64(&m.startNanos, time.Now().UnixNano())
}

func (m *Metrics) IncDocumentsRead()       { atomic.AddInt64(&m.DocumentsRead, 1) }
func (m *Metrics) AddRowsWritten(n int)    { atomic.AddInt64(&m.RowsWritten, int64(n)) }
func (m *Metrics) IncSourceRetries()       { atomic.AddInt64(&m.SourceRetries, 1) }
func (m *Metrics) IncCheckpointsSaved()    { atomic.AddInt64(&m.CheckpointsSaved, 1) }
func (m *Metrics) AddUploaded(bytes int64) { atomic.AddInt64(&m.FilesUploaded, 1); atomic.AddInt64(&m.BytesUploaded, bytes) }

func (m *Metrics) Elapsed() time.Duration {
	start := atomic.LoadInt64(&m.startNanos)
	if start == 0 {
		return 0
	}
	return time.Since(time.Unix(0, start))
}

// Snapshot is a consistent-enough copy of the counters for reporting.
type Snapshot struct {
	DocumentsRead    int64
	RowsWritten      int64
	FilesUploaded    int64
	BytesUploaded    int64
	SourceRetries    int64
	CheckpointsSaved int64
	Elapsed          time.Duration
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		DocumentsRead:    atomic.LoadInt64(&m.DocumentsRead),
		RowsWritten:      atomic.LoadInt64(&m.RowsWritten),
		FilesUploaded:    atomic.LoadInt64(&m.FilesUploaded),
		BytesUploaded:    atomic.LoadInt64(&m.BytesUploaded),
		SourceRetries:    atomic.LoadInt64(&m.SourceRetries),
		CheckpointsSaved: atomic.LoadInt64(&m.CheckpointsSaved),
		Elapsed:          m.Elapsed(),
	}
}

func (m *Metrics) String() string {
	s := m.Snapshot()
	return fmt.Sprintf("documents read=%d / rows written=%d / files uploaded=%d / bytes uploaded=%d / source retries=%d / checkpoints=%d / time elapsed=%v",
		s.DocumentsRead, s.RowsWritten, s.FilesUploaded, s.BytesUploaded, s.SourceRetries, s.CheckpointsSaved, s.Elapsed.Truncate(time.Second))
}
