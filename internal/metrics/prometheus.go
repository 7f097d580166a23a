package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Prom struct {
	reg *prometheus.Registry
	// Signals
	Dispatches      *prometheus.CounterVec
	SlotInvocations *prometheus.CounterVec
	Connections     *prometheus.GaugeVec
	DispatchLatency *prometheus.SummaryVec
	// Relay
	RelayMessages   *prometheus.CounterVec
	RelayDuplicates *prometheus.CounterVec
	RelayBytes      *prometheus.CounterVec
}

var _ Provider = (*Prom)(nil)

func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	p := &Prom{
		reg:             reg,
		Dispatches:      prometheus.NewCounterVec(prometheus.CounterOpts{Name: SignalDispatchTotal, Help: "Total Process calls per signal"}, []string{"signal"}),
		SlotInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{Name: SlotInvocationsTotal, Help: "Total slot callbacks invoked per signal"}, []string{"signal"}),
		Connections:     prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: SignalConnections, Help: "Connected slots per signal"}, []string{"signal"}),
		DispatchLatency: prometheus.NewSummaryVec(prometheus.SummaryOpts{Name: SignalDispatchSeconds, Help: "Duration of a full fan-out in seconds"}, []string{"signal"}),
		RelayMessages:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: RelayMessagesTotal, Help: "Payloads delivered by the relay"}, []string{"subject"}),
		RelayDuplicates: prometheus.NewCounterVec(prometheus.CounterOpts{Name: RelayDuplicatesTotal, Help: "Payloads suppressed as duplicates"}, []string{"subject"}),
		RelayBytes:      prometheus.NewCounterVec(prometheus.CounterOpts{Name: RelayBytesTotal, Help: "Payload bytes delivered by the relay"}, []string{"subject"}),
	}
	reg.MustRegister(p.Dispatches, p.SlotInvocations, p.Connections, p.DispatchLatency,
		p.RelayMessages, p.RelayDuplicates, p.RelayBytes)
	return p
}

func (p *Prom) Handler() http.Handler { return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{}) }

// Registry exposes the underlying registry, mainly for tests.
func (p *Prom) Registry() *prometheus.Registry { return p.reg }

// Implement Provider
func (p *Prom) SetGauge(name string, value float64, labels ...string) {
	switch name {
	case SignalConnections:
		p.Connections.WithLabelValues(label(labels)).Set(value)
	}
}

func (p *Prom) IncCounter(name string, delta float64, labels ...string) {
	if delta < 0 {
		return
	}
	var vec *prometheus.CounterVec
	switch name {
	case SignalDispatchTotal:
		vec = p.Dispatches
	case SlotInvocationsTotal:
		vec = p.SlotInvocations
	case RelayMessagesTotal:
		vec = p.RelayMessages
	case RelayDuplicatesTotal:
		vec = p.RelayDuplicates
	case RelayBytesTotal:
		vec = p.RelayBytes
	default:
		return
	}
	vec.WithLabelValues(label(labels)).Add(delta)
}

// Observe supports selected summaries/histograms
func (p *Prom) Observe(name string, value float64, labels ...string) {
	switch name {
	case SignalDispatchSeconds:
		p.DispatchLatency.WithLabelValues(label(labels)).Observe(value)
	default:
		// ignore unknown for now
	}
}

// every series here has exactly one label
func label(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
