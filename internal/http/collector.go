package http

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fyrsmithlabs/loopd/internal/registry"
)

// snapshotCollector exposes the run snapshot as Prometheus gauges. Values
// are read on every scrape.
type snapshotCollector struct {
	source StatusSource

	items     *prometheus.Desc
	iteration *prometheus.Desc
	done      *prometheus.Desc
	cost      *prometheus.Desc
}

func newSnapshotCollector(source StatusSource) *snapshotCollector {
	return &snapshotCollector{
		source: source,
		items: prometheus.NewDesc("loopd_items",
			"Work items in the manifest by status.",
			[]string{"status"}, nil),
		iteration: prometheus.NewDesc("loopd_iteration",
			"Number of the current or last iteration.",
			nil, nil),
		done: prometheus.NewDesc("loopd_run_done",
			"1 once the run has finished.",
			nil, nil),
		cost: prometheus.NewDesc("loopd_last_iteration_tokens",
			"Tokens spent by the trajectory of the last finished iteration.",
			nil, nil),
	}
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.items
	ch <- c.iteration
	ch <- c.done
	ch <- c.cost
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()

	for status, n := range map[registry.Status]int{
		registry.StatusPending:    snap.Counts.Pending,
		registry.StatusInProgress: snap.Counts.InProgress,
		registry.StatusComplete:   snap.Counts.Complete,
		registry.StatusBlocked:    snap.Counts.Blocked,
	} {
		ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue, float64(n), string(status))
	}
	ch <- prometheus.MustNewConstMetric(c.iteration, prometheus.GaugeValue, float64(snap.Iteration))

	done := 0.0
	if snap.Done {
		done = 1
	}
	ch <- prometheus.MustNewConstMetric(c.done, prometheus.GaugeValue, done)

	if snap.LastReport != nil {
		ch <- prometheus.MustNewConstMetric(c.cost, prometheus.GaugeValue, float64(snap.LastReport.Cost.Tokens))
	}
}
