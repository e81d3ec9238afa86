// Package metrics exposes the counters and gauges the Admin Surface's
// stats() reads alongside the DB-backed status counts (SPEC_FULL.md §11).
// There is no concrete prometheus wiring elsewhere in the pack to adapt —
// client_golang sits in the teacher's go.mod only as a transitive
// dependency of its tracing stack — so this registry is new wiring against
// the real client_golang API rather than a port of an existing file.
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric the Manager and Admin Surface touch. A single
// instance is constructed once at process start and threaded through, same
// as Config and Logger — no package-level globals.
type Registry struct {
	Claims          prometheus.Counter
	Heartbeats      prometheus.Counter
	HeartbeatsLost  prometheus.Counter
	ZombieRecovered *prometheus.CounterVec
	RunningJobs     prometheus.Gauge
	StageDuration   *prometheus.HistogramVec
}

// New builds a Registry and registers every metric against reg. Passing a
// fresh prometheus.NewRegistry() keeps tests isolated from the default
// global registry and from each other.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		Claims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "etlq",
			Name:      "jobs_claimed_total",
			Help:      "Jobs successfully claimed by a worker via SELECT ... FOR UPDATE SKIP LOCKED.",
		}),
		Heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "etlq",
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat writes that reached the database, including those that found the lease lost (also counted in heartbeats_lost_total).",
		}),
		HeartbeatsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "etlq",
			Name:      "heartbeats_lost_total",
			Help:      "Heartbeats that found the lease already reassigned or the job no longer running.",
		}),
		ZombieRecovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etlq",
			Name:      "zombies_recovered_total",
			Help:      "Expired-lease jobs recovered by the sweeper, labeled by outcome (retried, failed, noop).",
		}, []string{"outcome"}),
		RunningJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "etlq",
			Name:      "jobs_running",
			Help:      "Jobs this process currently holds a lease on and is executing.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "etlq",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock time spent in each pipeline stage, labeled by stage name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
	reg.MustRegister(
		m.Claims,
		m.Heartbeats,
		m.HeartbeatsLost,
		m.ZombieRecovered,
		m.RunningJobs,
		m.StageDuration,
	)
	return m
}

// ObserveStage is a convenience the Driver's ProgressReporter callback can
// wrap without importing prometheus directly.
func (m *Registry) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// ClaimsValue, HeartbeatsValue, and RunningJobsValue let the Admin Surface
// read current counter/gauge values for stats() without importing
// prometheus itself.
func (m *Registry) ClaimsValue() float64     { return counterValue(m.Claims) }
func (m *Registry) HeartbeatsValue() float64 { return counterValue(m.Heartbeats) }
func (m *Registry) RunningJobsValue() float64 {
	var out dto.Metric
	if err := m.RunningJobs.Write(&out); err != nil {
		return 0
	}
	return out.GetGauge().GetValue()
}

func counterValue(c prometheus.Counter) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return out.GetCounter().GetValue()
}
