package main

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// provisionMetrics holds the Prometheus collectors for provisioning activity.
type provisionMetrics struct {
	ServerRestarts prom.Counter

	passes          prom.Counter
	passDuration    prom.Histogram
	deviceDuration  prom.Histogram
	deviceOutcomes  *prom.CounterVec
	devicesLastPass prom.Gauge
}

var (
	metricsRegistry = prom.NewRegistry()
	metrics         = newProvisionMetrics(metricsRegistry)
)

func newProvisionMetrics(reg *prom.Registry) *provisionMetrics {
	m := &provisionMetrics{
		ServerRestarts: prom.NewCounter(prom.CounterOpts{
			Namespace: "drover",
			Name:      "server_restarts_total",
			Help:      "ADB server restarts triggered by provisioning failures",
		}),
		passes: prom.NewCounter(prom.CounterOpts{
			Namespace: "drover",
			Name:      "provision_passes_total",
			Help:      "Completed bulk-provisioning passes",
		}),
		passDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "drover",
			Name:      "pass_duration_seconds",
			Help:      "Total duration of bulk-provisioning passes",
			Buckets:   prom.ExponentialBuckets(1, 2, 12),
		}),
		deviceDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "drover",
			Name:      "device_duration_seconds",
			Help:      "Per-device provisioning duration",
			Buckets:   prom.ExponentialBuckets(0.5, 2, 10),
		}),
		deviceOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "drover",
			Name:      "device_outcomes_total",
			Help:      "Per-device provisioning results by outcome",
		}, []string{"outcome"}),
		devicesLastPass: prom.NewGauge(prom.GaugeOpts{
			Namespace: "drover",
			Name:      "devices_last_pass",
			Help:      "Device count seen by the most recent pass",
		}),
	}
	reg.MustRegister(m.ServerRestarts, m.passes, m.passDuration, m.deviceDuration, m.deviceOutcomes, m.devicesLastPass)
	return m
}

// metricsObserveRun records the aggregate figures of a finished pass.
func metricsObserveRun(summary *RunSummary) {
	metrics.observeRun(summary)
}

func (m *provisionMetrics) observeRun(summary *RunSummary) {
	if m == nil || summary == nil {
		return
	}
	m.passes.Inc()
	m.passDuration.Observe(float64(summary.FinishedAt-summary.StartedAt) / 1000)
	m.devicesLastPass.Set(float64(summary.TotalDevices))
	for _, r := range summary.Results {
		m.deviceOutcomes.WithLabelValues(r.Outcome).Inc()
		m.deviceDuration.Observe(float64(r.DurationMs) / 1000)
	}
}

// metricsHandler exposes the registry for the HTTP server.
func metricsHandler() http.Handler {
	return promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
