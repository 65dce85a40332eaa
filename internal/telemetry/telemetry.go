// Package telemetry defines the prometheus collectors describing sync cycles.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/naka-gawa/github-traffic/internal/domain"
)

// Cycle outcomes used as the "result" label of CyclesTotal.
const (
	CycleOK      = "ok"
	CyclePartial = "partial"
	CycleFailed  = "failed"
)

// Metrics groups the sync collectors. A nil *Metrics records nothing.
type Metrics struct {
	CyclesTotal          *prometheus.CounterVec
	CycleDurationSeconds prometheus.Histogram
	FetchFailuresTotal   *prometheus.CounterVec
	SyncSuccessTotal     *prometheus.CounterVec
	LastSuccessTimestamp *prometheus.GaugeVec
	LastFailureTimestamp *prometheus.GaugeVec
	PointsStored         *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "github_traffic_sync_cycles_total",
			Help: "Total number of sync cycles by result.",
		}, []string{"result"}),
		CycleDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "github_traffic_sync_cycle_duration_seconds",
			Help:    "Duration of a full sync cycle in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		FetchFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "github_traffic_fetch_failures_total",
			Help: "Total number of failed traffic fetches per repo and reason.",
		}, []string{"repo", "reason"}),
		SyncSuccessTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "github_traffic_sync_success_total",
			Help: "Total number of successful syncs per repo.",
		}, []string{"repo"}),
		LastSuccessTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "github_traffic_last_success_timestamp",
			Help: "Unix timestamp of the last successful sync per repo.",
		}, []string{"repo"}),
		LastFailureTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "github_traffic_last_failure_timestamp",
			Help: "Unix timestamp of the last sync failure per repo.",
		}, []string{"repo"}),
		PointsStored: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "github_traffic_points_stored",
			Help: "Number of daily samples held in the history per repo and metric kind.",
		}, []string{"repo", "kind"}),
	}
	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDurationSeconds,
		m.FetchFailuresTotal,
		m.SyncSuccessTotal,
		m.LastSuccessTimestamp,
		m.LastFailureTimestamp,
		m.PointsStored,
	)
	return m
}

// ObserveCycle records the outcome and duration of one cycle.
func (m *Metrics) ObserveCycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDurationSeconds.Observe(d.Seconds())
}

// RepoSynced records a repository whose windows were fetched and merged.
func (m *Metrics) RepoSynced(repo string, at time.Time, rt *domain.RepoTraffic) {
	if m == nil {
		return
	}
	m.SyncSuccessTotal.WithLabelValues(repo).Inc()
	m.LastSuccessTimestamp.WithLabelValues(repo).Set(float64(at.Unix()))
	m.PointsStored.WithLabelValues(repo, string(domain.MetricClones)).Set(float64(len(rt.Clones)))
	m.PointsStored.WithLabelValues(repo, string(domain.MetricViews)).Set(float64(len(rt.Views)))
}

// RepoFailed records a repository whose fetch failed.
func (m *Metrics) RepoFailed(repo, reason string, at time.Time) {
	if m == nil {
		return
	}
	m.FetchFailuresTotal.WithLabelValues(repo, reason).Inc()
	m.LastFailureTimestamp.WithLabelValues(repo).Set(float64(at.Unix()))
}
