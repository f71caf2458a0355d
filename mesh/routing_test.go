package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmgal/LoRaMesh/driver/stub"
	"github.com/lmgal/LoRaMesh/protocol"
)

// assertRouteInvariants checks the structural routing invariants: a VALID
// entry has a hop count of at least one and never points back at the node,
// and live entries never exceed the table size.
func assertRouteInvariants(t *testing.T, m *Mesh) {
	t.Helper()
	live := 0
	for _, e := range m.routes {
		if e.State == RouteInvalid {
			continue
		}
		live++
		if e.State == RouteValid {
			assert.GreaterOrEqual(t, e.HopCount, uint8(1))
			assert.NotEqual(t, m.address, e.NextHop)
		}
	}
	assert.LessOrEqual(t, live, m.profile.RoutingTableSize)
}

func TestUpdateAndFindRoute(t *testing.T) {
	m := New(stub.New())
	m.SetAddress(0x01)

	require.Nil(t, m.findRoute(0x03))

	m.updateRoutingTable(0x03, 0x02, 2)
	route := m.findRoute(0x03)
	require.NotNil(t, route)
	assert.Equal(t, uint8(0x02), route.NextHop)
	assert.Equal(t, uint8(2), route.HopCount)
	assert.Equal(t, RouteValid, route.State)
	assert.Equal(t, uint16(0), route.LastSeenAge)

	// Refreshing prefers the existing entry
	m.updateRoutingTable(0x03, 0x05, 1)
	assert.Equal(t, uint8(0x05), m.findRoute(0x03).NextHop)

	m.clearRoute(0x03)
	assert.Nil(t, m.findRoute(0x03))

	assertRouteInvariants(t, m)
}

func TestLRUEviction(t *testing.T) {
	m := New(stub.New())
	m.SetAddress(0x01)

	for i := 0; i < m.profile.RoutingTableSize; i++ {
		m.updateRoutingTable(uint8(0x10+i), 0x02, 1)
		m.routes[i].LastSeenAge = uint16(i)
	}

	// The table is full, so the entry with the largest age goes
	oldest := uint8(0x10 + m.profile.RoutingTableSize - 1)
	m.updateRoutingTable(0x77, 0x02, 1)

	assert.Nil(t, m.findRoute(oldest))
	require.NotNil(t, m.findRoute(0x77))
	assertRouteInvariants(t, m)
}

func TestRouteExpiry(t *testing.T) {
	m := New(stub.New())
	m.SetAddress(0x01)

	m.updateRoutingTable(0x03, 0x02, 1)
	m.routes[0].LastSeenAge = uint16(RouteTimeout / time.Second)

	m.maintain()
	assert.Nil(t, m.findRoute(0x03))
}

func TestMaintainAgesOnlyOncePerSecond(t *testing.T) {
	m := New(stub.New())
	m.SetAddress(0x01)
	m.updateRoutingTable(0x03, 0x02, 1)

	// A full second has elapsed: one tick
	m.lastTick = time.Now().Add(-2 * time.Second)
	m.maintain()
	assert.Equal(t, uint16(1), m.findRoute(0x03).LastSeenAge)

	// Immediately afterwards: no tick, no aging
	m.maintain()
	m.maintain()
	assert.Equal(t, uint16(1), m.findRoute(0x03).LastSeenAge)
}

func TestDiscoveryTimeoutInvalidatesRoute(t *testing.T) {
	m := New(stub.New())
	m.SetAddress(0x01)

	require.True(t, m.startRouteDiscovery(0x03))
	route := m.findRoute(0x03)
	require.NotNil(t, route)
	assert.Equal(t, RouteDiscovering, route.State)

	m.discovery.age = m.discoverySeconds()
	m.maintain()

	assert.False(t, m.discovery.active)
	assert.Nil(t, m.findRoute(0x03))
}

func TestLearnFromRequestPathFirstHop(t *testing.T) {
	m := New(stub.New())
	m.SetAddress(0x02)

	f := &protocol.Frame{
		Source:  0x01,
		Type:    protocol.TypeRouteRequest,
		Visited: []uint8{0x01},
	}
	m.learnFromRequestPath(f)

	route := m.findRoute(0x01)
	require.NotNil(t, route)
	assert.Equal(t, uint8(0x01), route.NextHop)
	assert.Equal(t, uint8(1), route.HopCount)
	assertRouteInvariants(t, m)
}

func TestLearnFromRequestPathIntermediates(t *testing.T) {
	m := New(stub.New())
	m.SetAddress(0x04)

	// We are not on the list: our position is its end
	f := &protocol.Frame{
		Source:  0x01,
		Type:    protocol.TypeRouteRequest,
		Visited: []uint8{0x01, 0x02, 0x03},
	}
	m.learnFromRequestPath(f)

	source := m.findRoute(0x01)
	require.NotNil(t, source)
	assert.Equal(t, uint8(0x03), source.NextHop)
	assert.Equal(t, uint8(3), source.HopCount)

	mid := m.findRoute(0x02)
	require.NotNil(t, mid)
	assert.Equal(t, uint8(0x03), mid.NextHop)
	assert.Equal(t, uint8(2), mid.HopCount)

	near := m.findRoute(0x03)
	require.NotNil(t, near)
	assert.Equal(t, uint8(0x03), near.NextHop)
	assert.Equal(t, uint8(1), near.HopCount)

	assertRouteInvariants(t, m)
}

func TestLearnFromReplyPath(t *testing.T) {
	m := New(stub.New())
	m.SetAddress(0x01)

	f := &protocol.Frame{
		Source:  0x03,
		Type:    protocol.TypeRouteReply,
		Visited: []uint8{0x01, 0x02, 0x03},
	}
	m.learnFromReplyPath(f)

	// Everything behind us on the path goes through the next node
	mid := m.findRoute(0x02)
	require.NotNil(t, mid)
	assert.Equal(t, uint8(0x02), mid.NextHop)
	assert.Equal(t, uint8(1), mid.HopCount)

	far := m.findRoute(0x03)
	require.NotNil(t, far)
	assert.Equal(t, uint8(0x02), far.NextHop)

	assertRouteInvariants(t, m)
}

func TestLearnFromReplyPathNotOnPath(t *testing.T) {
	m := New(stub.New())
	m.SetAddress(0x09)

	f := &protocol.Frame{
		Source:  0x03,
		Type:    protocol.TypeRouteReply,
		Visited: []uint8{0x01, 0x02, 0x03},
	}
	m.learnFromReplyPath(f)

	for _, e := range m.routes {
		assert.Equal(t, RouteInvalid, e.State)
	}
}
