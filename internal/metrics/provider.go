package metrics

// Provider is the metrics sink used by signals and the relay.
// labels carry the label values of the named series, in declaration order.
type Provider interface {
	SetGauge(name string, value float64, labels ...string)
	IncCounter(name string, delta float64, labels ...string)
	Observe(name string, value float64, labels ...string)
}

// Metric names understood by Prom.
const (
	SignalDispatchTotal   = "signal_dispatch_total"
	SlotInvocationsTotal  = "slot_invocations_total"
	SignalConnections     = "signal_connections"
	SignalDispatchSeconds = "signal_dispatch_seconds"
	RelayMessagesTotal    = "relay_messages_total"
	RelayDuplicatesTotal  = "relay_duplicates_total"
	RelayBytesTotal       = "relay_bytes_total"
)

type Noop struct{}

func (Noop) SetGauge(string, float64, ...string)   {}
func (Noop) IncCounter(string, float64, ...string) {}
func (Noop) Observe(string, float64, ...string)    {}
