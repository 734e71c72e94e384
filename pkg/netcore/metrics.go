package netcore

import (
	"io"

	"github.com/VictoriaMetrics/metrics"

	"github.com/r2northstar/batchnet/pkg/metricsx"
)

// metricsSet holds the core's own counters alongside the process-wide
// ones, set apart from the default VictoriaMetrics registry so multiple
// Servers in the same process (as in tests) don't collide.
type metricsSet struct {
	set *metrics.Set

	accepted  *metrics.Counter
	rejected  *metrics.Counter
	closed    map[string]*metrics.Counter
	disErrors map[string]*metrics.Counter
	idleSweep *metrics.Counter

	tableSize   *metrics.Gauge
	tableSizeFn func() float64
}

func newMetricsSet(capacity int) *metricsSet {
	s := metrics.NewSet()
	m := &metricsSet{
		set:       s,
		accepted:  s.NewCounter("netcore_connections_accepted_total"),
		rejected:  s.NewCounter(metricsx.FormatName("netcore_connections_rejected_total", "reason", "full")),
		closed:    map[string]*metrics.Counter{},
		disErrors: map[string]*metrics.Counter{},
		idleSweep: s.NewCounter("netcore_idle_sweep_closed_total"),
	}
	m.tableSize = s.NewGauge("netcore_connections_current", func() float64 {
		if m.tableSizeFn != nil {
			return m.tableSizeFn()
		}
		return 0
	})
	return m
}

// closedCounter returns (creating if needed) the counter tracking closed
// connections for the given cause, matching the structured log's cause
// field (e.g. timeout, auth, protocol, shutdown). Connections refused
// because the table is full are counted by rejected instead.
func (m *metricsSet) closedCounter(cause string) *metrics.Counter {
	if c, ok := m.closed[cause]; ok {
		return c
	}
	c := m.set.NewCounter(metricsx.FormatName("netcore_connections_closed_total", "cause", cause))
	m.closed[cause] = c
	return c
}

func (m *metricsSet) disErrorCounter(status string) *metrics.Counter {
	if c, ok := m.disErrors[status]; ok {
		return c
	}
	c := m.set.NewCounter(metricsx.FormatName("netcore_dis_decode_errors_total", "status", status))
	m.disErrors[status] = c
	return c
}

// WritePrometheus writes both the core's counters and process-wide
// metrics in Prometheus exposition format.
func (m *metricsSet) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
	metrics.WriteProcessMetrics(w)
}
