package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chtzvt/docslurp/internal/blob"
	"github.com/chtzvt/docslurp/internal/checkpoint"
	"github.com/chtzvt/docslurp/internal/core"
	"github.com/chtzvt/docslurp/internal/encoder"
	"github.com/chtzvt/docslurp/internal/job"
	"github.com/chtzvt/docslurp/internal/offload"
	"github.com/chtzvt/docslurp/internal/source"
	"github.com/chtzvt/docslurp/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const namespace = "app/events"

func at(sec int) time.Time { return testutil.Epoch.Add(time.Duration(sec) * time.Second) }

// recordingStore wraps a checkpoint store and records every save.
type recordingStore struct {
	checkpoint.Store
	mu      sync.Mutex
	saves   []checkpoint.Checkpoint
	loadErr error
	saveErr error
}

func (r *recordingStore) Load(ctx context.Context) (checkpoint.Checkpoint, error) {
	if r.loadErr != nil {
		return checkpoint.Checkpoint{}, r.loadErr
	}
	return r.Store.Load(ctx)
}

func (r *recordingStore) Save(ctx context.Context, cp checkpoint.Checkpoint) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	if err := r.Store.Save(ctx, cp); err != nil {
		return err
	}
	r.mu.Lock()
	r.saves = append(r.saves, cp)
	r.mu.Unlock()
	return nil
}

func (r *recordingStore) Saves() []checkpoint.Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]checkpoint.Checkpoint(nil), r.saves...)
}

// flakySource fails the first failures reads, then fails every read after
// failAfter records were served (0 = never).
type flakySource struct {
	*source.MemorySource
	mu        sync.Mutex
	failures  int
	failAfter int
	served    int
}

var errReset = errors.New("connection reset by peer")

func (f *flakySource) check() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errReset
	}
	if f.failAfter > 0 && f.served >= f.failAfter {
		return errReset
	}
	return nil
}

func (f *flakySource) Find(ctx context.Context, q source.Query) (source.Iterator, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	it, err := f.MemorySource.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	return &flakyIterator{Iterator: it, src: f}, nil
}

type flakyIterator struct {
	source.Iterator
	src *flakySource
}

func (it *flakyIterator) Next(ctx context.Context) (*source.Record, error) {
	if err := it.src.check(); err != nil {
		return nil, err
	}
	r, err := it.Iterator.Next(ctx)
	if err == nil {
		it.src.mu.Lock()
		it.src.served++
		it.src.mu.Unlock()
	}
	return r, err
}

type harness struct {
	spec        *job.Spec
	cx          *core.Context
	blobDir     string
	blobs       blob.Store
	checkpoints *recordingStore
}

func newHarness(t *testing.T, mutate func(*job.Spec)) *harness {
	t.Helper()
	dir := t.TempDir()
	spec := &job.Spec{
		Source: job.SourceOptions{
			URI:        "memory://",
			Database:   "app",
			Collection: "events",
			MaxRetries: 3,
			RetryDelay: time.Millisecond,
		},
		Output: job.OutputOptions{
			Store:        "disk",
			StoreOptions: map[string]interface{}{"path": dir},
			Compression:  "snappy",
			TmpDir:       t.TempDir(),
		},
		Chunk: job.ChunkOptions{Mode: job.ChunkModeCount, Records: 2},
	}
	if mutate != nil {
		mutate(spec)
	}
	spec.ApplyDefaults()
	require.NoError(t, spec.Validate())

	blobs, err := blob.Open(spec.Output.Store, spec.Output.StoreOptions)
	require.NoError(t, err)
	return &harness{
		spec:        spec,
		blobDir:     dir,
		blobs:       blobs,
		checkpoints: &recordingStore{Store: checkpoint.NewBlobStore(blobs, spec.Namespace())},
	}
}

func (h *harness) run(t *testing.T, src source.Source) (Result, error) {
	t.Helper()
	h.cx = core.NewContext(h.spec, testutil.NewTestLogger(t, false), nil)
	c, err := New(h.cx, src, h.blobs, h.checkpoints)
	require.NoError(t, err)
	return c.Run(context.Background())
}

// files lists uploaded export files in creation order.
func (h *harness) files(t *testing.T) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(h.blobDir, namespace, "export", "chunk_*"))
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

func (h *harness) stored(t *testing.T) (checkpoint.Checkpoint, bool) {
	t.Helper()
	body, err := h.blobs.Get(context.Background(), blob.Join(namespace, "checkpoint"))
	if errors.Is(err, blob.ErrNotFound) {
		return checkpoint.Checkpoint{}, false
	}
	require.NoError(t, err)
	cp, err := checkpoint.Unmarshal(body)
	require.NoError(t, err)
	return cp, true
}

type exported struct {
	id      string
	key     time.Time
	payload string
}

func readFile(t *testing.T, path string) ([]exported, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	st, err := f.Stat()
	require.NoError(t, err)
	pf, err := parquet.OpenFile(f, st.Size())
	require.NoError(t, err)

	schema := pf.Schema()
	idCol, ok := schema.Lookup("id")
	require.True(t, ok)
	keyCol, _ := schema.Lookup("timestamp")
	payloadCol, _ := schema.Lookup("payload")

	r := parquet.NewReader(f)
	defer r.Close()
	var out []exported
	rows := make([]parquet.Row, 8)
	for {
		n, err := r.ReadRows(rows)
		for _, row := range rows[:n] {
			var e exported
			for _, v := range row {
				switch v.Column() {
				case idCol.ColumnIndex:
					e.id = string(v.ByteArray())
				case keyCol.ColumnIndex:
					e.key = time.Unix(0, v.Int64()).UTC()
				case payloadCol.ColumnIndex:
					e.payload = string(v.ByteArray())
				}
			}
			out = append(out, e)
		}
		if errors.Is(err, io.EOF) {
			return out, len(pf.RowGroups())
		}
		require.NoError(t, err)
	}
}

// rowGroups returns the row count of every row group in the file.
func rowGroups(t *testing.T, path string) []int64 {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	st, err := f.Stat()
	require.NoError(t, err)
	pf, err := parquet.OpenFile(f, st.Size())
	require.NoError(t, err)
	var out []int64
	for _, rg := range pf.RowGroups() {
		out = append(out, rg.NumRows())
	}
	return out
}

// allIDs reads every uploaded file.
func (h *harness) allIDs(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, f := range h.files(t) {
		rows, _ := readFile(t, f)
		out = append(out, ids(rows)...)
	}
	return out
}

func ids(rows []exported) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.id
	}
	return out
}

func TestRun_ThreeRecordsCountTwo(t *testing.T) {
	h := newHarness(t, nil)
	src := source.NewMemorySource(
		testutil.Record("r1", at(1)),
		testutil.Record("r2", at(2)),
		testutil.Record("r3", at(3)),
	)

	res, err := h.run(t, src)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 2, res.Files)
	assert.EqualValues(t, 3, res.Rows)

	assert.Equal(t, []checkpoint.Checkpoint{
		{Cursor: at(2), Processed: 2},
		{Cursor: at(3), Processed: 3},
	}, h.checkpoints.Saves())
	assert.Equal(t, checkpoint.Checkpoint{Cursor: at(3), Processed: 3}, res.Checkpoint)

	files := h.files(t)
	require.Len(t, files, 2)
	run := h.cx.ShortRunID()
	assert.Equal(t, "chunk_"+FileID(0, run)+".parquet", filepath.Base(files[0]))
	assert.Equal(t, "chunk_"+FileID(2, run)+".parquet", filepath.Base(files[1]))

	first, _ := readFile(t, files[0])
	second, _ := readFile(t, files[1])
	assert.Equal(t, []string{"r1", "r2"}, ids(first))
	assert.Equal(t, []string{"r3"}, ids(second))
	assert.Equal(t, at(1), first[0].key)
	assert.Contains(t, first[0].payload, `"_id":"r1"`)

	cp, ok := h.stored(t)
	require.True(t, ok)
	assert.Equal(t, "(2024-01-01T00:00:03Z, 3)", cp.String())

	// Local copies are released after upload.
	local, err := os.ReadDir(h.spec.Output.TmpDir)
	require.NoError(t, err)
	assert.Empty(t, local)

	snap := h.cx.Metrics.Snapshot()
	assert.EqualValues(t, 3, snap.DocumentsRead)
	assert.EqualValues(t, 3, snap.RowsWritten)
	assert.EqualValues(t, 2, snap.FilesUploaded)
	assert.EqualValues(t, 2, snap.CheckpointsSaved)
}

func TestRun_EmptySource(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.run(t, source.NewMemorySource())
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Zero(t, res.Files)
	assert.Empty(t, h.files(t))
	assert.Empty(t, h.checkpoints.Saves())
	_, ok := h.stored(t)
	assert.False(t, ok, "no checkpoint should be written")
}

func TestRun_ExactThresholdFlushesOnce(t *testing.T) {
	h := newHarness(t, func(s *job.Spec) { s.Chunk.Records = 4 })
	res, err := h.run(t, source.NewMemorySource(testutil.Records(4)...))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Len(t, h.checkpoints.Saves(), 1)
}

func TestRun_TransientFailuresRecovered(t *testing.T) {
	h := newHarness(t, nil)
	src := &flakySource{MemorySource: source.NewMemorySource(testutil.Records(5)...), failures: 2}

	res, err := h.run(t, src)
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Rows)
	assert.EqualValues(t, 2, h.cx.Metrics.Snapshot().SourceRetries)

	var all []string
	for _, f := range h.files(t) {
		rows, _ := readFile(t, f)
		all = append(all, ids(rows)...)
	}
	assert.Equal(t, []string{"doc-0000", "doc-0001", "doc-0002", "doc-0003", "doc-0004"}, all)
}

func TestRun_RetriesExhausted(t *testing.T) {
	h := newHarness(t, func(s *job.Spec) { s.Source.MaxRetries = 1 })
	src := &flakySource{MemorySource: source.NewMemorySource(testutil.Records(6)...), failAfter: 3}

	res, err := h.run(t, src)
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrSourceExhausted)
	assert.ErrorIs(t, err, errReset)
	assert.Equal(t, StateFailed, res.State)

	// The first chunk was complete and durable; the partial second one is not.
	want := checkpoint.Checkpoint{Cursor: testutil.Epoch.Add(time.Second), Processed: 2}
	assert.Equal(t, []checkpoint.Checkpoint{want}, h.checkpoints.Saves())
	assert.Equal(t, want, res.Checkpoint)
	assert.Len(t, h.files(t), 1)

	// The partial file is removed.
	local, err := os.ReadDir(h.spec.Output.TmpDir)
	require.NoError(t, err)
	assert.Empty(t, local)
}

func TestRun_ResumeAndIdle(t *testing.T) {
	h := newHarness(t, nil)
	src := source.NewMemorySource(testutil.Records(4)...)

	_, err := h.run(t, src)
	require.NoError(t, err)
	cp, _ := h.stored(t)
	assert.Equal(t, checkpoint.Checkpoint{Cursor: at(3), Processed: 4}, cp)

	// Nothing new: only the rows at the cursor are exported again.
	res, err := h.run(t, src)
	require.NoError(t, err)
	assert.Equal(t, cp, res.Resumed)
	assert.Equal(t, 1, res.Files)
	assert.EqualValues(t, 1, res.Rows)
	assert.Equal(t, checkpoint.Checkpoint{Cursor: at(3), Processed: 5}, res.Checkpoint)
	assert.Len(t, h.files(t), 3)

	src.Append(testutil.RecordsAt(at(10), 3)...)
	res, err = h.run(t, src)
	require.NoError(t, err)
	assert.EqualValues(t, 4, res.Rows)
	assert.Equal(t, checkpoint.Checkpoint{Cursor: at(12), Processed: 9}, res.Checkpoint)

	files := h.files(t)
	require.Len(t, files, 5)
	var resumed []exported
	for _, f := range files {
		if strings.Contains(filepath.Base(f), "chunk_"+FileID(5, h.cx.ShortRunID())) ||
			strings.Contains(filepath.Base(f), "chunk_"+FileID(7, h.cx.ShortRunID())) {
			rows, _ := readFile(t, f)
			resumed = append(resumed, rows...)
		}
	}
	require.Len(t, resumed, 4)
	assert.Equal(t, at(3), resumed[0].key)
	assert.Equal(t, at(10), resumed[1].key)
	assert.Equal(t, at(12), resumed[3].key)
}

func TestRun_ResumeExportsLateRecordAtCursor(t *testing.T) {
	h := newHarness(t, nil)
	src := source.NewMemorySource(
		testutil.Record("a", at(1)),
		testutil.Record("b", at(2)),
	)
	_, err := h.run(t, src)
	require.NoError(t, err)
	cp, _ := h.stored(t)
	assert.Equal(t, checkpoint.Checkpoint{Cursor: at(2), Processed: 2}, cp)

	// Appended after the run, with the checkpointed key.
	src.Append(testutil.Record("c", at(2)))
	res, err := h.run(t, src)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Rows)
	assert.Equal(t, checkpoint.Checkpoint{Cursor: at(2), Processed: 4}, res.Checkpoint)

	all := h.allIDs(t)
	assert.Subset(t, all, []string{"a", "b", "c"})
	assert.Len(t, all, 4, "only the row at the cursor is exported twice")
}

func TestRun_TiesStayInOneFile(t *testing.T) {
	h := newHarness(t, nil)
	src := source.NewMemorySource(
		testutil.Record("a", at(1)),
		testutil.Record("b", at(1)),
		testutil.Record("c", at(1)),
		testutil.Record("d", at(2)),
	)

	_, err := h.run(t, src)
	require.NoError(t, err)
	assert.Equal(t, []checkpoint.Checkpoint{
		{Cursor: at(1), Processed: 3},
		{Cursor: at(2), Processed: 4},
	}, h.checkpoints.Saves())

	files := h.files(t)
	require.Len(t, files, 2)
	first, _ := readFile(t, files[0])
	assert.Equal(t, []string{"a", "b", "c"}, ids(first))
	assert.Equal(t, []int64{2, 1}, rowGroups(t, files[0]))
}

func TestRun_LargeTieGroupStaysWithinChunkSize(t *testing.T) {
	h := newHarness(t, nil)
	var recs []*source.Record
	for i := 0; i < 50; i++ {
		recs = append(recs, testutil.Record(fmt.Sprintf("tie-%02d", i), at(1)))
	}
	recs = append(recs, testutil.Record("last", at(2)))

	res, err := h.run(t, source.NewMemorySource(recs...))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, []checkpoint.Checkpoint{
		{Cursor: at(1), Processed: 50},
		{Cursor: at(2), Processed: 51},
	}, h.checkpoints.Saves())

	files := h.files(t)
	require.Len(t, files, 2)
	rows, _ := readFile(t, files[0])
	assert.Len(t, rows, 50)
	groups := rowGroups(t, files[0])
	assert.Len(t, groups, 25)
	for _, n := range groups {
		assert.LessOrEqual(t, n, int64(h.spec.Chunk.Records))
	}
}

func TestRun_BytesModeTieGroupStaysWithinChunkSize(t *testing.T) {
	h := newHarness(t, func(s *job.Spec) {
		s.Chunk = job.ChunkOptions{Mode: job.ChunkModeBytes, Bytes: 1, FileBytes: 1}
	})
	src := source.NewMemorySource(
		testutil.Record("a", at(1)),
		testutil.Record("b", at(1)),
		testutil.Record("c", at(1)),
		testutil.Record("d", at(2)),
	)
	res, err := h.run(t, src)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)

	files := h.files(t)
	require.Len(t, files, 2)
	assert.Equal(t, []int64{1, 1, 1}, rowGroups(t, files[0]))
	assert.Equal(t, []int64{1}, rowGroups(t, files[1]))
}

func TestRun_BytesModeStreamsChunksIntoOneFile(t *testing.T) {
	h := newHarness(t, func(s *job.Spec) {
		s.Chunk = job.ChunkOptions{Mode: job.ChunkModeBytes, Bytes: 1, FileBytes: 1 << 30}
	})
	res, err := h.run(t, source.NewMemorySource(testutil.Records(5)...))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, []checkpoint.Checkpoint{{Cursor: at(4), Processed: 5}}, h.checkpoints.Saves())

	files := h.files(t)
	require.Len(t, files, 1)
	rows, groups := readFile(t, files[0])
	assert.Len(t, rows, 5)
	assert.Equal(t, 5, groups, "one row group per chunk")
}

func TestRun_BytesModeFileCeiling(t *testing.T) {
	h := newHarness(t, func(s *job.Spec) {
		s.Chunk = job.ChunkOptions{Mode: job.ChunkModeBytes, Bytes: 1, FileBytes: 1}
	})
	res, err := h.run(t, source.NewMemorySource(testutil.Records(3)...))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Files)
	assert.Len(t, h.checkpoints.Saves(), 3)
}

// failingBlobs fails every export upload.
type failingBlobs struct{ blob.Store }

var errUpload = errors.New("upload rejected")

func (f failingBlobs) Put(ctx context.Context, key, localPath string) error { return errUpload }

func TestRun_OffloadFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.cx = core.NewContext(h.spec, nil, nil)
	c, err := New(h.cx, source.NewMemorySource(testutil.Records(3)...), failingBlobs{h.blobs}, h.checkpoints)
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, offload.ErrOffload)
	assert.ErrorIs(t, err, errUpload)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, StateFailed, c.State())
	assert.Empty(t, h.checkpoints.Saves())

	// The local file is left for inspection.
	local, err := os.ReadDir(h.spec.Output.TmpDir)
	require.NoError(t, err)
	assert.NotEmpty(t, local)
}

// finalizeFailEncoder produces writers whose Finalize fails and leaves the
// partial file in place.
type finalizeFailEncoder struct{ encoder.Encoder }

func (e finalizeFailEncoder) Begin(path string) (encoder.Writer, error) {
	w, err := e.Encoder.Begin(path)
	if err != nil {
		return nil, err
	}
	return finalizeFailWriter{w}, nil
}

type finalizeFailWriter struct{ encoder.Writer }

var errDiskFull = errors.New("no space left on device")

func (w finalizeFailWriter) Finalize() (encoder.FileRef, error) {
	return encoder.FileRef{}, &encoder.EncodingError{Path: w.Path(), Err: errDiskFull}
}

func TestRun_FinalizeFailureRemovesPartialFile(t *testing.T) {
	h := newHarness(t, nil)
	h.cx = core.NewContext(h.spec, nil, nil)
	c, err := New(h.cx, source.NewMemorySource(testutil.Records(3)...), h.blobs, h.checkpoints)
	require.NoError(t, err)
	c.encoder = finalizeFailEncoder{c.encoder}

	res, err := c.Run(context.Background())
	assert.ErrorIs(t, err, encoder.ErrEncoding)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, StateFailed, res.State)
	assert.Empty(t, h.checkpoints.Saves())
	assert.Empty(t, h.files(t))

	local, err := os.ReadDir(h.spec.Output.TmpDir)
	require.NoError(t, err)
	assert.Empty(t, local)
}

func TestRun_OnlyOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.cx = core.NewContext(h.spec, nil, nil)
	c, err := New(h.cx, source.NewMemorySource(testutil.Records(3)...), h.blobs, h.checkpoints)
	require.NoError(t, err)

	_, err = c.Run(context.Background())
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
	assert.Equal(t, StateDone, res.State)
	assert.Len(t, h.checkpoints.Saves(), 2)
}

func TestRun_CheckpointLoadFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.checkpoints.loadErr = checkpoint.ErrUnavailable
	src := &flakySource{MemorySource: source.NewMemorySource(testutil.Records(3)...)}

	res, err := h.run(t, src)
	assert.ErrorIs(t, err, checkpoint.ErrUnavailable)
	assert.Equal(t, StateFailed, res.State)
	assert.Zero(t, src.served)
}

func TestRun_CheckpointSaveFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.checkpoints.saveErr = checkpoint.ErrUnavailable

	res, err := h.run(t, source.NewMemorySource(testutil.Records(7)...))
	assert.ErrorIs(t, err, checkpoint.ErrUnavailable)
	assert.NotErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, res.State)
	assert.False(t, res.Checkpoint.HasCursor())
}

func TestRun_OutOfOrderSource(t *testing.T) {
	h := newHarness(t, nil)
	src := &unsortedSource{records: []*source.Record{
		testutil.Record("a", at(2)),
		testutil.Record("b", at(1)),
	}}
	_, err := h.run(t, src)
	assert.ErrorIs(t, err, source.ErrOutOfOrder)
	assert.Empty(t, h.checkpoints.Saves())
}

type unsortedSource struct{ records []*source.Record }

func (u *unsortedSource) Find(ctx context.Context, q source.Query) (source.Iterator, error) {
	return &unsortedIterator{records: u.records}, nil
}

func (u *unsortedSource) Close(ctx context.Context) error { return nil }

type unsortedIterator struct{ records []*source.Record }

func (u *unsortedIterator) Next(ctx context.Context) (*source.Record, error) {
	if len(u.records) == 0 {
		return nil, io.EOF
	}
	r := u.records[0]
	u.records = u.records[1:]
	return r, nil
}

func (u *unsortedIterator) Close(ctx context.Context) error { return nil }

// slowFirstBlobs holds the first upload until a later one has finished.
type slowFirstBlobs struct {
	blob.Store
	once     sync.Once
	released chan struct{}
}

func (s *slowFirstBlobs) Put(ctx context.Context, key, localPath string) error {
	if strings.Contains(key, "chunk_000000000000-") {
		select {
		case <-s.released:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		defer s.once.Do(func() { close(s.released) })
	}
	return s.Store.Put(ctx, key, localPath)
}

func TestRun_CheckpointsInSourceOrder(t *testing.T) {
	h := newHarness(t, func(s *job.Spec) {
		s.Chunk.Records = 1
		s.Output.MaxInFlight = 3
	})
	blobs := &slowFirstBlobs{Store: h.blobs, released: make(chan struct{})}
	h.cx = core.NewContext(h.spec, nil, nil)
	c, err := New(h.cx, source.NewMemorySource(testutil.Records(4)...), blobs, h.checkpoints)
	require.NoError(t, err)

	_, err = c.Run(context.Background())
	require.NoError(t, err)

	saves := h.checkpoints.Saves()
	require.Len(t, saves, 4)
	for i, cp := range saves {
		assert.Equal(t, at(i), cp.Cursor)
		assert.EqualValues(t, i+1, cp.Processed)
	}
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t, nil)
	h.cx = core.NewContext(h.spec, nil, nil)
	c, err := New(h.cx, source.NewMemorySource(testutil.Records(3)...), h.blobs, h.checkpoints)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, res.State)
	assert.Empty(t, h.checkpoints.Saves())
}

func TestNew_InvalidSpec(t *testing.T) {
	h := newHarness(t, nil)
	h.spec.Output.Format = "avro"
	_, err := New(core.NewContext(h.spec, nil, nil), source.NewMemorySource(), h.blobs, h.checkpoints)
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CHECKPOINTING", StateCheckpointing.String())
	assert.Equal(t, "State(42)", State(42).String())
	assert.True(t, StateDone.Terminal())
	assert.False(t, StateStreaming.Terminal())
}
