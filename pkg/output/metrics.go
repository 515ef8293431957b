package output

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is additive instrumentation against a private registry: it never
// feeds back into offset/frequency semantics, which remain Discipline's.
type Metrics struct {
	registry *prometheus.Registry

	offset    *prometheus.GaugeVec
	frequency *prometheus.GaugeVec
	roundtrip *prometheus.GaugeVec

	counterFrequencyMHz prometheus.Gauge
}

// NewMetrics registers the monitor's gauges against a fresh private
// registry, so this process's /metrics never collides with another
// collector sharing the default registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		offset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ntpmon_offset_seconds",
			Help: "Most recent clock offset, in seconds, reported by each monitored server.",
		}, []string{"server"}),
		frequency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ntpmon_frequency_hz",
			Help: "Disciplined counter frequency, in ticks per second, for each monitored server's clock model.",
		}, []string{"server"}),
		roundtrip: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ntpmon_roundtrip_seconds",
			Help: "Minimum round-trip time, in seconds, over each monitored server's current sample window.",
		}, []string{"server"}),
		counterFrequencyMHz: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ntpmon_counter_frequency_mhz",
			Help: "Observed frequency of the host's hardware counter, in MHz.",
		}),
	}

	registry.MustRegister(m.offset, m.frequency, m.roundtrip, m.counterFrequencyMHz)
	return m
}

// Observe updates the per-server gauges for one tick's sample.
func (m *Metrics) Observe(server string, offsetSeconds, frequencyHz, roundtripSeconds float64) {
	m.offset.WithLabelValues(server).Set(offsetSeconds)
	m.frequency.WithLabelValues(server).Set(frequencyHz)
	m.roundtrip.WithLabelValues(server).Set(roundtripSeconds)
}

// SetCounterFrequencyMHz updates the process-wide counter frequency gauge.
func (m *Metrics) SetCounterFrequencyMHz(mhz float64) {
	m.counterFrequencyMHz.Set(mhz)
}

// Handler exposes the registry on /metrics via the standard promhttp adapter.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
