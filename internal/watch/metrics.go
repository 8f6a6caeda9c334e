package watch

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts reload decisions. A nil *Metrics is valid and records nothing.
type Metrics struct {
	decisions *prometheus.CounterVec
	fallbacks prometheus.Counter
	tracked   prometheus.Gauge
	installed prometheus.Gauge
}

const (
	resultInstalled = "installed"
	resultRetracted = "retracted"
	resultFailed    = "failed"
	resultRestarted = "restarted"
)

// NewMetrics creates the watcher metrics and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zonewatch",
			Name:      "reload_decisions_total",
			Help:      "Quiescence timer outcomes by result.",
		}, []string{"result"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zonewatch",
			Name:      "notify_fallbacks_total",
			Help:      "Times change detection fell back from notifications to scanning.",
		}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zonewatch",
			Name:      "tracked_files",
			Help:      "Zone files currently tracked.",
		}),
		installed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zonewatch",
			Name:      "installed_zones",
			Help:      "Zone files whose data is currently installed in the runtime zone list.",
		}),
	}
	for _, r := range []string{resultInstalled, resultRetracted, resultFailed, resultRestarted} {
		m.decisions.WithLabelValues(r)
	}
	if reg != nil {
		reg.MustRegister(m.decisions, m.fallbacks, m.tracked, m.installed)
	}
	return m
}

func (m *Metrics) decision(result string) {
	if m != nil {
		m.decisions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) fallback() {
	if m != nil {
		m.fallbacks.Inc()
	}
}

func (m *Metrics) setTracked(n int) {
	if m != nil {
		m.tracked.Set(float64(n))
	}
}

func (m *Metrics) addInstalled(delta float64) {
	if m != nil {
		m.installed.Add(delta)
	}
}
