package mirror

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// lastSyncTimestamp is a Gauge that captures the timestamp of the last
	// successful sync of a repository
	lastSyncTimestamp *prometheus.GaugeVec
	// outcomeCount is a Counter vector of reconciliation outcomes
	outcomeCount *prometheus.CounterVec
	// syncLatency is a Histogram vector that keeps track of repository sync durations
	syncLatency *prometheus.HistogramVec
)

// EnableMetrics will enable metrics collection for repository syncs.
// Available metrics are...
//   - repo_zoek_last_sync_timestamp - (tags: repo)
//     A Gauge that captures the Timestamp of the last successful sync per repo.
//   - repo_zoek_sync_outcome_count - (tags: action)
//     A Counter incremented with every reconciled repository and tagged with the action taken.
//   - repo_zoek_sync_latency_seconds - (tags: action)
//     A Histogram that keeps track of the time taken to reconcile a repository.
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	lastSyncTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "repo_zoek_last_sync_timestamp",
		Help:      "Timestamp of the last successful repository sync",
	},
		[]string{
			// name of the repository
			"repo",
		},
	)

	outcomeCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "repo_zoek_sync_outcome_count",
		Help:      "Count of repository sync outcomes",
	},
		[]string{
			// action taken for the repository
			"action",
		},
	)

	syncLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "repo_zoek_sync_latency_seconds",
		Help:      "Latency for repository sync",
		Buckets:   []float64{0.5, 1, 5, 10, 20, 30, 60, 90, 120, 150, 300, 600},
	},
		[]string{
			// action taken for the repository
			"action",
		},
	)

	registerer.MustRegister(
		lastSyncTimestamp,
		outcomeCount,
		syncLatency,
	)
}

// recordOutcome records a reconciled repository by updating all the
// relevant metrics
func recordOutcome(o Outcome, start time.Time) {
	// if metrics not enabled return
	if lastSyncTimestamp == nil || outcomeCount == nil || syncLatency == nil {
		return
	}
	if o.Action.Succeeded() {
		lastSyncTimestamp.With(prometheus.Labels{
			"repo": o.Name,
		}).Set(float64(time.Now().Unix()))
	}
	outcomeCount.With(prometheus.Labels{
		"action": string(o.Action),
	}).Inc()
	syncLatency.WithLabelValues(string(o.Action)).Observe(time.Since(start).Seconds())
}
