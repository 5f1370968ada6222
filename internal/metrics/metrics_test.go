package metrics

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsConcurrentIncrements(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncDocumentsRead()
				m.AddRowsWritten(2)
			}
		}()
	}
	wg.Wait()
	m.AddUploaded(1024)
	m.IncCheckpointsSaved()

	s := m.Snapshot()
	require.EqualValues(t, 800, s.DocumentsRead)
	require.EqualValues(t, 1600, s.RowsWritten)
	require.EqualValues(t, 1, s.FilesUploaded)
	require.EqualValues(t, 1024, s.BytesUploaded)
	require.EqualValues(t, 1, s.CheckpointsSaved)
	require.Contains(t, m.String(), "documents read=800")
}

func TestCollectorExportsCounters(t *testing.T) {
	m := New()
	m.IncDocumentsRead()
	m.IncSourceRetries()

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(m)))

	expected := `
# HELP docslurp_documents_read_total Documents read from the source.
# TYPE docslurp_documents_read_total counter
docslurp_documents_read_total 1
# HELP docslurp_source_retries_total Transient source errors that were retried.
# TYPE docslurp_source_retries_total counter
docslurp_source_retries_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"docslurp_documents_read_total", "docslurp_source_retries_total"))
}
