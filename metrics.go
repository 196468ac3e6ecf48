package mcdump

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mcdump"

// MetricsCollector exposes the progress of a Dumper as Prometheus metrics.
// Values are read from the dumper stats at scrape time.
type MetricsCollector struct {
	dumper *Dumper

	keys           *prometheus.Desc
	fetchRounds    *prometheus.Desc
	bytesWritten   *prometheus.Desc
	malformedLines *prometheus.Desc
	bufferWaits    *prometheus.Desc
	filesPublished *prometheus.Desc

	buffersCapacity    *prometheus.Desc
	buffersOutstanding *prometheus.Desc
	connections        *prometheus.Desc
	breakerState       *prometheus.Desc
}

var _ prometheus.Collector = (*MetricsCollector)(nil)

func NewMetricsCollector(d *Dumper) *MetricsCollector {
	hostLabel := []string{"host"}
	return &MetricsCollector{
		dumper: d,
		keys: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "keys_total"),
			"Keys seen in listings, by outcome.",
			[]string{"host", "outcome"}, nil,
		),
		fetchRounds: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "fetch_rounds_total"),
			"Multi-key get commands sent.",
			hostLabel, nil,
		),
		bytesWritten: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "written_bytes_total"),
			"Record bytes written to data files.",
			hostLabel, nil,
		),
		malformedLines: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "malformed_lines_total"),
			"Listing lines skipped because they could not be parsed.",
			hostLabel, nil,
		),
		bufferWaits: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "buffer_waits_total"),
			"Times a worker waited for a pooled buffer.",
			hostLabel, nil,
		),
		filesPublished: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "files_published_total"),
			"Data files uploaded and announced.",
			nil, nil,
		),
		buffersCapacity: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "buffer_pool", "capacity"),
			"Buffers owned by the pool.",
			nil, nil,
		),
		buffersOutstanding: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "buffer_pool", "outstanding"),
			"Buffers currently checked out.",
			nil, nil,
		),
		connections: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "server", "connections"),
			"Open connections by state.",
			[]string{"host", "state"}, nil,
		),
		breakerState: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "server", "circuit_breaker_state"),
			"Circuit breaker state: 0 closed, 1 half-open, 2 open.",
			hostLabel, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keys
	ch <- c.fetchRounds
	ch <- c.bytesWritten
	ch <- c.malformedLines
	ch <- c.bufferWaits
	ch <- c.filesPublished
	ch <- c.buffersCapacity
	ch <- c.buffersOutstanding
	ch <- c.connections
	ch <- c.breakerState
}

// Collect implements prometheus.Collector.
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, w := range c.dumper.workers {
		host := w.Host()
		s := w.Stats()

		counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
		}
		counter(c.keys, s.KeysDumped, host, "dumped")
		counter(c.keys, s.KeysExpiring, host, "expiring")
		counter(c.keys, s.KeysNotOwned, host, "not_owned")
		counter(c.keys, s.KeysEvicted, host, "evicted")
		counter(c.keys, s.KeysRelisted, host, "relisted")
		counter(c.fetchRounds, s.FetchRounds, host)
		counter(c.bytesWritten, s.BytesWritten, host)
		counter(c.malformedLines, s.MalformedLines, host)
		counter(c.bufferWaits, s.BufferWaits, host)
	}

	ch <- prometheus.MustNewConstMetric(c.filesPublished, prometheus.CounterValue,
		float64(c.dumper.stats.snapshot().FilesFinalized))

	pool := c.dumper.BufferPoolStats()
	ch <- prometheus.MustNewConstMetric(c.buffersCapacity, prometheus.GaugeValue, float64(pool.Capacity))
	ch <- prometheus.MustNewConstMetric(c.buffersOutstanding, prometheus.GaugeValue, float64(pool.Outstanding))

	for _, s := range c.dumper.ServerPoolStats() {
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.IdleConns), s.Addr, "idle")
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.ActiveConns), s.Addr, "active")
		ch <- prometheus.MustNewConstMetric(c.breakerState, prometheus.GaugeValue, float64(s.CircuitBreakerState), s.Addr)
	}
}
