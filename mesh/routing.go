package mesh

import (
	"time"

	"github.com/lmgal/LoRaMesh/protocol"
)

// RouteState is the lifecycle state of a routing entry.
type RouteState uint8

const (
	RouteInvalid RouteState = iota
	RouteDiscovering
	RouteValid
)

func (s RouteState) String() string {
	switch s {
	case RouteDiscovering:
		return "DISCOVERING"
	case RouteValid:
		return "VALID"
	default:
		return "INVALID"
	}
}

// RouteEntry is one slot of the routing table. A VALID entry always has
// HopCount >= 1 and a NextHop different from the local address.
type RouteEntry struct {
	Destination uint8
	NextHop     uint8
	HopCount    uint8
	State       RouteState
	// LastSeenAge is the saturating age in seconds since the route was last
	// installed or refreshed. Ages replace absolute timestamps so that
	// comparisons survive monotonic-clock wrap.
	LastSeenAge uint16
}

func satInc(age uint16) uint16 {
	if age == 0xFFFF {
		return age
	}
	return age + 1
}

func isAgeExpired(age, timeoutSeconds uint16) bool {
	return age >= timeoutSeconds
}

// findRoute returns the entry for destination in any non-INVALID state.
func (m *Mesh) findRoute(destination uint8) *RouteEntry {
	for i := range m.routes {
		if m.routes[i].Destination == destination && m.routes[i].State != RouteInvalid {
			return &m.routes[i]
		}
	}
	return nil
}

// updateRoutingTable installs or refreshes a route. It prefers the existing
// entry, then the first free slot, and finally evicts the entry with the
// largest age.
func (m *Mesh) updateRoutingTable(destination, nextHop, hopCount uint8) {
	route := m.findRoute(destination)

	if route == nil {
		for i := range m.routes {
			if m.routes[i].State == RouteInvalid {
				route = &m.routes[i]
				break
			}
		}
	}

	if route == nil {
		oldest := 0
		var oldestAge uint16
		for i := range m.routes {
			if m.routes[i].LastSeenAge > oldestAge {
				oldestAge = m.routes[i].LastSeenAge
				oldest = i
			}
		}
		route = &m.routes[oldest]
	}

	route.Destination = destination
	route.NextHop = nextHop
	route.HopCount = hopCount
	route.State = RouteValid
	route.LastSeenAge = 0

	m.log.Debug().
		Uint8("destination", destination).
		Uint8("nextHop", nextHop).
		Uint8("hopCount", hopCount).
		Msg("route installed")
}

// clearRoute invalidates the route to destination, if any.
func (m *Mesh) clearRoute(destination uint8) {
	if route := m.findRoute(destination); route != nil {
		route.State = RouteInvalid
		m.log.Debug().Uint8("destination", destination).Msg("route cleared")
	}
}

// maintain is the single maintenance pass: it expires stale routes and a
// timed-out discovery on every call, and advances all ages by one only when a
// full second of wall clock has elapsed since the last pass. Aging on the
// tick rather than per call keeps the age unit "seconds".
func (m *Mesh) maintain() {
	tick := false
	if now := time.Now(); now.Sub(m.lastTick) >= time.Second {
		tick = true
		m.lastTick = now
	}

	routeTimeout := uint16(m.routeTimeout / time.Second)
	for i := range m.routes {
		e := &m.routes[i]
		if e.State == RouteValid && isAgeExpired(e.LastSeenAge, routeTimeout) {
			e.State = RouteInvalid
		}
		if e.State != RouteInvalid && tick {
			e.LastSeenAge = satInc(e.LastSeenAge)
		}
	}

	if m.discovery.active && isAgeExpired(m.discovery.age, m.discoverySeconds()) {
		m.discovery.active = false
		if route := m.findRoute(m.discovery.destination); route != nil && route.State == RouteDiscovering {
			route.State = RouteInvalid
		}
	}
	if m.discovery.active && tick {
		m.discovery.age = satInc(m.discovery.age)
	}

	if tick {
		for i := range m.pending {
			if m.pending[i].valid {
				m.pending[i].age = satInc(m.pending[i].age)
			}
		}
	}
}

// learnFromRequestPath installs reverse routes from the visited list of a
// route request: back to the request source and to every intermediate node,
// all through the neighbour that handed us the request.
func (m *Mesh) learnFromRequestPath(f *protocol.Frame) {
	if len(f.Visited) == 0 {
		return
	}

	pos := -1
	for i, n := range f.Visited {
		if n == m.address {
			pos = i
			break
		}
	}
	// Not on the list yet means we sit at its end.
	if pos == -1 {
		pos = len(f.Visited)
	}

	if pos > 0 {
		m.updateRoutingTable(f.Source, f.Visited[pos-1], uint8(pos))
	} else {
		m.updateRoutingTable(f.Source, f.Source, 1)
	}

	for i := 1; i < pos; i++ {
		m.updateRoutingTable(f.Visited[i], f.Visited[pos-1], uint8(pos-i))
	}
}

// learnFromReplyPath installs forward routes from the visited list of a route
// reply: to every node after our own position and to the reply source.
func (m *Mesh) learnFromReplyPath(f *protocol.Frame) {
	// Our own reply heard back from a forwarder teaches nothing; learning from
	// it would install a route to ourselves.
	if len(f.Visited) == 0 || f.Source == m.address {
		return
	}

	pos := -1
	for i, n := range f.Visited {
		if n == m.address {
			pos = i
			break
		}
	}
	if pos < 0 {
		return
	}

	for i := pos + 1; i < len(f.Visited); i++ {
		m.updateRoutingTable(f.Visited[i], f.Visited[pos+1], uint8(i-pos))
	}

	if pos+1 < len(f.Visited) {
		m.updateRoutingTable(f.Source, f.Visited[pos+1], uint8(len(f.Visited)-pos))
	} else {
		m.updateRoutingTable(f.Source, f.Source, 1)
	}
}
