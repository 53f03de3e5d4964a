package index

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/utilitywarehouse/repo-zoek/internal/utils"
)

var (
	indexCount      *prometheus.CounterVec
	indexLatency    *prometheus.HistogramVec
	lastIndexedTime *prometheus.GaugeVec
)

// EnableMetrics will enable index metrics with given namespace
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	indexCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "repo_zoek_index_count",
		Help:      "Count of zoekt-index runs by result",
	}, []string{"success"})

	indexLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "repo_zoek_index_latency_seconds",
		Help:      "Latency of zoekt-index runs",
		Buckets:   []float64{0.5, 1, 5, 10, 20, 30, 60, 90, 120, 300, 600},
	}, []string{"success"})

	lastIndexedTime = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "repo_zoek_last_index_timestamp",
		Help:      "Timestamp of the last successful index of the repository",
	}, []string{"repo"})

	registerer.MustRegister(indexCount, indexLatency, lastIndexedTime)
}

func recordIndex(name string, res utils.Result, start time.Time) {
	if indexCount == nil {
		return
	}
	success := "true"
	if !res.OK() {
		success = "false"
	} else {
		lastIndexedTime.WithLabelValues(name).Set(float64(time.Now().Unix()))
	}
	indexCount.WithLabelValues(success).Inc()
	indexLatency.WithLabelValues(success).Observe(time.Since(start).Seconds())
}
