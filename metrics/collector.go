// Package metrics exports tandem pool statistics to Prometheus.
//
// The collector reads Pool.Stats on every scrape, so there is no polling
// goroutine to start or stop:
//
//	reg := prometheus.NewRegistry()
//	if err := reg.Register(metrics.NewCollector(pool)); err != nil {
//	    return err
//	}
package metrics

import (
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/tahsin716/tandem"
)

const namespace = "tandem"

// StatsProvider returns a point-in-time snapshot of pool statistics.
// *tandem.Pool implements it.
type StatsProvider interface {
	Stats() tandem.Stats
}

// Collector is a prometheus.Collector over a StatsProvider. Every series
// carries a constant pool_id label.
type Collector struct {
	source StatsProvider

	submitted  *prom.Desc
	completed  *prom.Desc
	panicked   *prom.Desc
	cancelled  *prom.Desc
	rejected   *prom.Desc
	callerRuns *prom.Desc
	stolen     *prom.Desc

	inFlight      *prom.Desc
	queueDepth    *prom.Desc
	queueCapacity *prom.Desc
	workers       *prom.Desc
	state         *prom.Desc
	latencyAvg    *prom.Desc
	latencyMax    *prom.Desc

	workerExecuted *prom.Desc
	workerStolen   *prom.Desc
	workerDepth    *prom.Desc
}

// NewCollector returns a collector for source.
func NewCollector(source StatsProvider) *Collector {
	labels := prom.Labels{"pool_id": source.Stats().PoolID}
	desc := func(name, help string, variable ...string) *prom.Desc {
		return prom.NewDesc(prom.BuildFQName(namespace, "", name), help, variable, labels)
	}
	return &Collector{
		source: source,

		submitted:  desc("tasks_submitted_total", "Tasks accepted by the pool."),
		completed:  desc("tasks_completed_total", "Tasks that ran to completion, including panicked ones."),
		panicked:   desc("tasks_panicked_total", "Tasks whose function panicked."),
		cancelled:  desc("tasks_cancelled_total", "Queued tasks dropped by shutdown."),
		rejected:   desc("tasks_rejected_total", "Submissions refused because every inbox was full."),
		callerRuns: desc("tasks_caller_runs_total", "Tasks executed on the submitting goroutine."),
		stolen:     desc("tasks_stolen_total", "Tasks taken from another worker."),

		inFlight:      desc("tasks_in_flight", "Accepted tasks not yet completed or cancelled."),
		queueDepth:    desc("queue_depth", "Tasks waiting in worker queues."),
		queueCapacity: desc("queue_capacity", "Total inbox capacity across workers."),
		workers:       desc("workers", "Number of worker goroutines."),
		state:         desc("state", "Lifecycle state (0=running, 1=shutdown-requested, 2=draining, 3=terminated)."),
		latencyAvg:    desc("task_duration_avg_seconds", "Average task execution time."),
		latencyMax:    desc("task_duration_max_seconds", "Longest task execution time."),

		workerExecuted: desc("worker_tasks_executed_total", "Tasks executed per worker.", "worker"),
		workerStolen:   desc("worker_tasks_stolen_total", "Tasks stolen per worker.", "worker"),
		workerDepth:    desc("worker_queue_depth", "Tasks queued per worker.", "worker"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prom.Desc) {
	for _, d := range []*prom.Desc{
		c.submitted, c.completed, c.panicked, c.cancelled, c.rejected,
		c.callerRuns, c.stolen, c.inFlight, c.queueDepth, c.queueCapacity,
		c.workers, c.state, c.latencyAvg, c.latencyMax,
		c.workerExecuted, c.workerStolen, c.workerDepth,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prom.Metric) {
	s := c.source.Stats()

	counter := func(d *prom.Desc, v uint64, labels ...string) {
		ch <- prom.MustNewConstMetric(d, prom.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prom.Desc, v float64, labels ...string) {
		ch <- prom.MustNewConstMetric(d, prom.GaugeValue, v, labels...)
	}

	counter(c.submitted, s.Submitted)
	counter(c.completed, s.Completed)
	counter(c.panicked, s.Panicked)
	counter(c.cancelled, s.Cancelled)
	counter(c.rejected, s.Rejected)
	counter(c.callerRuns, s.CallerRuns)
	counter(c.stolen, s.Stolen)

	gauge(c.inFlight, float64(s.InFlight))
	gauge(c.queueDepth, float64(s.QueueDepth))
	gauge(c.queueCapacity, float64(s.QueueCapacity))
	gauge(c.workers, float64(s.NumWorkers))
	gauge(c.state, float64(s.State))
	gauge(c.latencyAvg, s.LatencyAvg.Seconds())
	gauge(c.latencyMax, s.LatencyMax.Seconds())

	for _, w := range s.Workers {
		id := strconv.Itoa(w.WorkerID)
		counter(c.workerExecuted, w.TasksExecuted, id)
		counter(c.workerStolen, w.TasksStolen, id)
		gauge(c.workerDepth, float64(w.QueueDepth), id)
	}
}
