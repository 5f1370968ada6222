package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docslurp"

// Collector exposes a Metrics value to prometheus without double bookkeeping.
type Collector struct {
	m     *Metrics
	descs map[string]*prometheus.Desc
}

func NewCollector(m *Metrics) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		m: m,
		descs: map[string]*prometheus.Desc{
			"documents_read":    desc("documents_read_total", "Documents read from the source."),
			"rows_written":      desc("rows_written_total", "Normalized rows written to output files."),
			"files_uploaded":    desc("files_uploaded_total", "Output files uploaded to the blob store."),
			"bytes_uploaded":    desc("bytes_uploaded_total", "Bytes of output files uploaded to the blob store."),
			"source_retries":    desc("source_retries_total", "Transient source errors that were retried."),
			"checkpoints_saved": desc("checkpoints_saved_total", "Checkpoints persisted."),
			"elapsed":           desc("elapsed_seconds", "Seconds since the export started."),
		},
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	counter := func(name string, v int64) {
		ch <- prometheus.MustNewConstMetric(c.descs[name], prometheus.CounterValue, float64(v))
	}
	counter("documents_read", s.DocumentsRead)
	counter("rows_written", s.RowsWritten)
	counter("files_uploaded", s.FilesUploaded)
	counter("bytes_uploaded", s.BytesUploaded)
	counter("source_retries", s.SourceRetries)
	counter("checkpoints_saved", s.CheckpointsSaved)
	ch <- prometheus.MustNewConstMetric(c.descs["elapsed"], prometheus.GaugeValue, s.Elapsed.Seconds())
}
