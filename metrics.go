package hanoidb

import "github.com/prometheus/client_golang/prometheus"

// dbMetrics are the counters exposed when a database is opened with
// WithMetricsRegisterer. They are no-ops (nil) when metrics are disabled.
type dbMetrics struct {
	flushes    prometheus.Counter
	promotes   prometheus.Counter
	merges     prometheus.Counter
	mergeSteps prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, dir string) *dbMetrics {
	if reg == nil {
		return nil
	}

	labels := prometheus.Labels{"dir": dir}
	m := &dbMetrics{
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "hanoidb_nursery_flushes_total",
			Help:        "Number of times the nursery's in-memory buffer was flushed to a level-0 file.",
			ConstLabels: labels,
		}),
		promotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "hanoidb_file_promotions_total",
			Help:        "Number of files promoted into a level.",
			ConstLabels: labels,
		}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "hanoidb_merges_completed_total",
			Help:        "Number of level merges that reached completion.",
			ConstLabels: labels,
		}),
		mergeSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "hanoidb_merge_steps_total",
			Help:        "Number of incremental merge compare-and-emit steps executed.",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(m.flushes, m.promotes, m.merges, m.mergeSteps)
	return m
}

func (m *dbMetrics) observePromote() {
	if m == nil {
		return
	}
	m.promotes.Inc()
}

func (m *dbMetrics) observeMergeSteps(n int) {
	if m == nil {
		return
	}
	m.mergeSteps.Add(float64(n))
}

func (m *dbMetrics) observeMergeComplete() {
	if m == nil {
		return
	}
	m.merges.Inc()
}

func (m *dbMetrics) observeFlush() {
	if m == nil {
		return
	}
	m.flushes.Inc()
}
