package dnsserver

import (
	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts answered queries. A nil *Metrics records nothing.
type Metrics struct {
	queries   *prometheus.CounterVec
	cacheHits prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zonewatch",
			Subsystem: "dns",
			Name:      "queries_total",
			Help:      "Answered DNS queries by response code.",
		}, []string{"rcode"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zonewatch",
			Subsystem: "dns",
			Name:      "cache_hits_total",
			Help:      "Queries answered from the response cache.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.queries, m.cacheHits)
	}
	return m
}

func (m *Metrics) query(rcode int) {
	if m != nil {
		m.queries.WithLabelValues(dns.RcodeToString[rcode]).Inc()
	}
}

func (m *Metrics) cacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}
