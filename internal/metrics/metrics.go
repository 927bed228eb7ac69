// Package metrics exposes Prometheus counters for the room broker.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Broker holds the room broker's metrics. A zero Broker is usable; counters
// stay nil until Register is called and every method tolerates that.
type Broker struct {
	rooms   prometheus.Gauge
	handles prometheus.Gauge
	joins   prometheus.Counter
	leaves  prometheus.Counter
	relayed *prometheus.CounterVec
	dropped *prometheus.CounterVec

	registerOnce sync.Once
}

// Register registers the metrics with registry. Nil registry is a no-op and
// repeated calls after the first are ignored.
func (m *Broker) Register(registry prometheus.Registerer) {
	if m == nil || registry == nil {
		return
	}
	m.registerOnce.Do(func() {
		factory := promauto.With(registry)

		m.rooms = factory.NewGauge(prometheus.GaugeOpts{
			Name: "tripsync_broker_rooms",
			Help: "Number of trip rooms with at least one live handle",
		})
		m.handles = factory.NewGauge(prometheus.GaugeOpts{
			Name: "tripsync_broker_handles",
			Help: "Number of live participant handles across all rooms",
		})
		m.joins = factory.NewCounter(prometheus.CounterOpts{
			Name: "tripsync_broker_joins_total",
			Help: "Total number of completed join handshakes",
		})
		m.leaves = factory.NewCounter(prometheus.CounterOpts{
			Name: "tripsync_broker_leaves_total",
			Help: "Total number of removed participant handles",
		})
		m.relayed = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tripsync_broker_envelopes_relayed_total",
			Help: "Total number of envelopes fanned out, by kind",
		}, []string{"type"})
		m.dropped = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tripsync_broker_envelopes_dropped_total",
			Help: "Total number of envelopes dropped, by reason",
		}, []string{"reason"})
	})
}

// RoomOpened increments the live room gauge.
func (m *Broker) RoomOpened() {
	if m != nil && m.rooms != nil {
		m.rooms.Inc()
	}
}

// RoomClosed decrements the live room gauge.
func (m *Broker) RoomClosed() {
	if m != nil && m.rooms != nil {
		m.rooms.Dec()
	}
}

// Joined records a new handle.
func (m *Broker) Joined() {
	if m == nil || m.joins == nil {
		return
	}
	m.joins.Inc()
	m.handles.Inc()
}

// Left records a removed handle.
func (m *Broker) Left() {
	if m == nil || m.leaves == nil {
		return
	}
	m.leaves.Inc()
	m.handles.Dec()
}

// Relayed counts one envelope fanned out to n recipients.
func (m *Broker) Relayed(kind string, n int) {
	if m != nil && m.relayed != nil {
		m.relayed.WithLabelValues(kind).Add(float64(n))
	}
}

// Dropped counts one envelope discarded for reason.
func (m *Broker) Dropped(reason string) {
	if m != nil && m.dropped != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}
