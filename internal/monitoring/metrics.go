// Package monitoring records run metrics for the node-exporter textfile
// collector and summarizes run history for the HTTP API.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"

	"github.com/sells-group/parcel-risk/internal/model"
)

// Metrics provides observability for classification runs. Each instance
// owns a private registry so tests and repeated runs do not collide.
type Metrics struct {
	reg *prometheus.Registry

	// Runs by final status
	Runs *prometheus.CounterVec

	// Wall time of each pipeline phase
	PhaseDuration *prometheus.GaugeVec

	// Parcels per residential code in the last run
	Parcels *prometheus.GaugeVec

	// Parcels escalated to protected by cause
	Escalations *prometheus.GaugeVec

	// Lots lost to the zoning inner join, and lots tied between districts
	DroppedLots prometheus.Gauge
	TiedLots    prometheus.Gauge

	LastSuccess prometheus.Gauge
}

// New creates a Metrics instance with all run metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelrisk_runs_total",
			Help: "Classification runs by final status",
		}, []string{"status"}),

		PhaseDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parcelrisk_phase_duration_seconds",
			Help: "Duration of each pipeline phase in the last run",
		}, []string{"phase"}),

		Parcels: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parcelrisk_parcels",
			Help: "Parcels per residential code in the last run",
		}, []string{"code"}),

		Escalations: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parcelrisk_escalations",
			Help: "Parcels raised to protected in the last run, by cause",
		}, []string{"cause"}), // cause: "historic", "neighborhood_character"

		DroppedLots: f.NewGauge(prometheus.GaugeOpts{
			Name: "parcelrisk_dropped_lots",
			Help: "Lots outside every zoning district in the last run",
		}),

		TiedLots: f.NewGauge(prometheus.GaugeOpts{
			Name: "parcelrisk_tied_lots",
			Help: "Lots whose largest zoning overlap is shared by two or more districts",
		}),

		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "parcelrisk_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
	}
}

// Registry exposes the private registry, for promhttp or tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// ObservePhase records the duration of a pipeline phase.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m != nil {
		m.PhaseDuration.WithLabelValues(phase).Set(d.Seconds())
	}
}

// ObserveRun records the outcome of a run. summary may be nil for a failed
// run.
func (m *Metrics) ObserveRun(status model.RunStatus, summary *model.Summary) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(string(status)).Inc()
	if summary == nil {
		return
	}
	for code, n := range summary.Codes {
		m.Parcels.WithLabelValues(code).Set(float64(n))
	}
	m.Escalations.WithLabelValues("historic").Set(float64(summary.Escalations.Historic))
	m.Escalations.WithLabelValues("neighborhood_character").Set(float64(summary.Escalations.Character))
	m.DroppedLots.Set(float64(summary.DroppedLots))
	m.TiedLots.Set(float64(summary.TiedLots))
	if status == model.RunStatusComplete {
		m.LastSuccess.SetToCurrentTime()
	}
}

// WriteTextfile writes the registry in the text exposition format,
// atomically, for the node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return eris.Wrapf(prometheus.WriteToTextfile(path, m.reg), "monitoring: write textfile %s", path)
}
