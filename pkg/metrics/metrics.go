// Package metrics exposes Prometheus instrumentation for the
// streaming transport.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transport counts transport-level events. All fields are optional at
// the call sites: a nil *Transport disables instrumentation.
type Transport struct {
	FramesTotal          prometheus.Counter
	MalformedFramesTotal prometheus.Counter
	ReconnectsTotal      prometheus.Counter
	DroppedCommandsTotal prometheus.Counter
}

// NewTransport registers transport counters with reg.
func NewTransport(reg prometheus.Registerer) *Transport {
	factory := promauto.With(reg)
	return &Transport{
		FramesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "quorum_transport_frames_total",
			Help: "Total inbound WebSocket frames received",
		}),
		MalformedFramesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "quorum_transport_malformed_frames_total",
			Help: "Inbound frames discarded because they failed to decode",
		}),
		ReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "quorum_transport_reconnects_total",
			Help: "Reconnection attempts scheduled after unexpected closes",
		}),
		DroppedCommandsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "quorum_transport_dropped_commands_total",
			Help: "Outbound commands dropped because the connection was down",
		}),
	}
}

// IncFrames increments the inbound frame counter.
func (t *Transport) IncFrames() {
	if t != nil {
		t.FramesTotal.Inc()
	}
}

// IncMalformed increments the malformed frame counter.
func (t *Transport) IncMalformed() {
	if t != nil {
		t.MalformedFramesTotal.Inc()
	}
}

// IncReconnects increments the reconnect counter.
func (t *Transport) IncReconnects() {
	if t != nil {
		t.ReconnectsTotal.Inc()
	}
}

// IncDroppedCommands increments the dropped command counter.
func (t *Transport) IncDroppedCommands() {
	if t != nil {
		t.DroppedCommandsTotal.Inc()
	}
}
