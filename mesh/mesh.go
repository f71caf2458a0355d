// Package mesh implements an on-demand source-routed mesh layer over a
// half-duplex LoRa radio: reliable unicast with per-hop acknowledgement,
// AODV-style route discovery and maintenance, and bounded receive and
// pending-send buffers.
//
// A Mesh is single-threaded and cooperative: the radio is polled, all state
// lives in the Mesh object, and the only suspension points are the bounded
// wait loops of SendToWait and the per-hop ACK, and the pause after a failed
// radio transmit. Drive one Mesh from one goroutine.
package mesh

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/lmgal/LoRaMesh/protocol"
)

// Engine timing defaults.
const (
	// RouteTimeout is how long an unused VALID route stays alive.
	RouteTimeout = 30 * time.Second
	// DiscoveryTimeout bounds one route discovery round trip.
	DiscoveryTimeout = 5 * time.Second
	// AckTimeout bounds one wait for a per-hop acknowledgement.
	AckTimeout = 300 * time.Millisecond
	// MaxAckRetries is the number of re-transmissions after the first attempt.
	MaxAckRetries = 3

	pollInterval = 10 * time.Millisecond
)

// Mesh is one node of the mesh: source, destination and forwarder at once.
type Mesh struct {
	phy     phy
	log     zerolog.Logger
	profile Profile

	address   uint8
	messageID uint8

	// Unreliable-path knobs (SetRetries / SetRetryTimeout).
	retries      uint8
	retryTimeout time.Duration

	routes  []RouteEntry
	rx      []rxSlot
	rxHead  int
	rxTail  int
	pending []pendingMessage

	ack       ackTracker
	discovery discoveryState

	routeTimeout     time.Duration
	discoveryTimeout time.Duration
	ackTimeout       time.Duration
	ackRetries       int
	lastTick         time.Time
}

// New returns a Mesh over the given radio with the default capacity profile.
func New(radio Radio) *Mesh {
	return NewWithProfile(radio, DefaultProfile())
}

// NewWithProfile returns a Mesh over the given radio, with all buffers sized
// by the profile.
func NewWithProfile(radio Radio, p Profile) *Mesh {
	return &Mesh{
		phy:     phy{radio: radio},
		log:     zerolog.Nop(),
		profile: p,

		retries:      3,
		retryTimeout: 200 * time.Millisecond,

		routes:  make([]RouteEntry, p.RoutingTableSize),
		rx:      make([]rxSlot, p.MessageBufferSize),
		pending: make([]pendingMessage, p.PendingQueueSize),

		routeTimeout:     RouteTimeout,
		discoveryTimeout: DiscoveryTimeout,
		ackTimeout:       AckTimeout,
		ackRetries:       MaxAckRetries,
		lastTick:         time.Now(),
	}
}

// Begin initialises the radio and assigns the local address.
func (m *Mesh) Begin(frequency int64, address uint8) error {
	m.address = address
	return m.phy.radio.Begin(frequency)
}

// SetAddress assigns the local address.
func (m *Mesh) SetAddress(address uint8) { m.address = address }

// Address returns the local address.
func (m *Mesh) Address() uint8 { return m.address }

// SetLogger attaches a logger to the engine. The default discards everything.
func (m *Mesh) SetLogger(log zerolog.Logger) { m.log = log }

// SetRetries sets the retry count of the unreliable transmit path. Per-hop
// ACK retries are fixed at MaxAckRetries.
func (m *Mesh) SetRetries(retries uint8) { m.retries = retries }

// SetRetryTimeout sets the sleep between unreliable transmit retries.
func (m *Mesh) SetRetryTimeout(timeout time.Duration) { m.retryTimeout = timeout }

// SendToWait sends data to destination and waits for the first hop to
// complete. With a VALID route in the table the payload goes out immediately
// under per-hop acknowledgement. Without one the payload is parked on the
// pending queue and a route discovery is flooded; the call then blocks,
// advancing the engine, until the route appears (the pending scan dispatches
// the payload) or the discovery times out.
func (m *Mesh) SendToWait(destination uint8, data []byte) error {
	if len(data) > protocol.MaxMessageLen {
		return protocol.ErrPayloadTooLong
	}
	if destination == m.address {
		return protocol.ErrSelfAddressed
	}

	m.maintain()

	header := protocol.Frame{
		Destination: destination,
		Source:      m.address,
		MessageID:   m.nextMessageID(),
		Type:        protocol.TypeData,
	}

	route := m.findRoute(destination)
	if route == nil || route.State != RouteValid {
		m.enqueuePending(destination, data, header.MessageID)

		if !m.startRouteDiscovery(destination) {
			return protocol.ErrDiscoveryBusy
		}

		start := time.Now()
		for time.Since(start) < m.discoveryTimeout {
			m.Process()

			route = m.findRoute(destination)
			if route != nil && route.State == RouteValid {
				// The pending scan has dispatched the payload.
				return nil
			}
			if !m.discovery.active {
				return protocol.ErrNoRoute
			}

			time.Sleep(pollInterval)
		}

		if m.discovery.active && m.discovery.destination == destination {
			m.discovery.active = false
		}
		return protocol.ErrTimeout
	}

	header.Payload = data
	if !m.sendPacketWithAck(&header) {
		return protocol.ErrTimeout
	}
	return nil
}

// RecvFromAck drains the oldest delivered message into buf. It advances the
// engine first, so a node that only ever receives still forwards and
// acknowledges. n is the number of bytes copied, capped at len(buf); ok is
// false when no message is waiting.
func (m *Mesh) RecvFromAck(buf []byte) (n int, source, dest, id uint8, ok bool) {
	m.Process()
	return m.popMessage(buf)
}

// Available advances the engine and reports whether a delivered message is
// waiting.
func (m *Mesh) Available() bool {
	m.Process()
	return m.hasMessage()
}

// Process advances the engine one step: it drains a pending radio frame,
// runs the maintenance pass, and scans the pending queue.
func (m *Mesh) Process() {
	m.receivePacket()
	m.maintain()
	m.processPendingMessages()
}

// RoutingTable returns a snapshot of the routing table.
func (m *Mesh) RoutingTable() []RouteEntry {
	out := make([]RouteEntry, len(m.routes))
	copy(out, m.routes)
	return out
}

// RoutingTableSize returns the number of routing slots.
func (m *Mesh) RoutingTableSize() int { return len(m.routes) }

// PrintRoutingTable logs every live routing entry at info level.
func (m *Mesh) PrintRoutingTable() {
	for i := range m.routes {
		e := &m.routes[i]
		if e.State == RouteInvalid {
			continue
		}
		m.log.Info().
			Int("slot", i).
			Uint8("destination", e.Destination).
			Uint8("nextHop", e.NextHop).
			Uint8("hopCount", e.HopCount).
			Str("state", e.State.String()).
			Uint16("age", e.LastSeenAge).
			Msg("route")
	}
}
