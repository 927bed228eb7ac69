package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvino/tripsync/internal/metrics"
)

func TestBroker_UnregisteredIsNoop(t *testing.T) {
	var m metrics.Broker
	m.RoomOpened()
	m.Joined()
	m.Relayed("chat", 3)
	m.Dropped("spoofed")
	m.Left()
	m.RoomClosed()

	var nilBroker *metrics.Broker
	nilBroker.Joined()
}

func TestBroker_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := &metrics.Broker{}
	m.Register(reg)
	m.Register(reg) // second call must not panic on duplicate registration

	m.RoomOpened()
	m.Joined()
	m.Joined()
	m.Left()
	m.Relayed("chat", 2)
	m.Dropped("malformed")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["tripsync_broker_rooms"])
	assert.True(t, names["tripsync_broker_envelopes_relayed_total"])

	n, err := testutil.GatherAndCount(reg, "tripsync_broker_joins_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
