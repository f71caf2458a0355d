package mesh

import (
	"time"

	"github.com/lmgal/LoRaMesh/protocol"
)

// ackTracker is the single-slot expectation of a per-hop acknowledgement.
// Arming a new reliable transmit resets it; only an incoming ACK whose source
// and message id match the armed pair can set received.
type ackTracker struct {
	neighbor  uint8
	messageID uint8
	received  bool
	age       uint16
}

// discoveryState is the single in-flight route request.
type discoveryState struct {
	destination uint8
	messageID   uint8
	active      bool
	age         uint16
}

func (m *Mesh) nextMessageID() uint8 {
	id := m.messageID
	m.messageID++
	return id
}

// discoverySeconds is the discovery timeout in whole seconds, never below
// one: ages advance in whole seconds, so a zero budget would expire a
// discovery on the first maintenance pass.
func (m *Mesh) discoverySeconds() uint16 {
	s := uint16(m.discoveryTimeout / time.Second)
	if s == 0 {
		s = 1
	}
	return s
}

// sendPacket transmits one frame unreliably. Flooded frames (broadcast
// destination or route requests) take the sender rule: the hop count is
// incremented and the local address appended to the visited list. Unicast
// frames require a VALID route, whose next hop goes on the wire.
func (m *Mesh) sendPacket(f *protocol.Frame) bool {
	var route *RouteEntry

	if f.Destination == protocol.BroadcastAddress || f.Type == protocol.TypeRouteRequest {
		f.HopCount++
		f.AddVisited(m.address, m.profile.MaxHops)
		f.NextHop = protocol.BroadcastAddress
	} else {
		route = m.findRoute(f.Destination)
		if route == nil || route.State != RouteValid {
			return false
		}
		f.NextHop = route.NextHop
	}

	data := protocol.Encode(f)

	var err error
	for attempt := 0; attempt <= int(m.retries); attempt++ {
		if err = m.phy.writeFrame(data); err == nil {
			m.log.Debug().
				Uint8("destination", f.Destination).
				Uint8("nextHop", f.NextHop).
				Uint8("type", f.Type).
				Uint8("id", f.MessageID).
				Msg("frame sent")
			return true
		}
		time.Sleep(m.retryTimeout)
	}

	m.log.Warn().Err(err).Uint8("destination", f.Destination).Msg("transmit failed")
	return false
}

// sendPacketWithAck transmits a unicast frame reliably: it arms the ACK
// tracker for the next hop, transmits, and polls the radio until the ACK
// arrives or the attempt times out, for up to ackRetries+1 attempts. On
// exhaustion the route is cleared, and a forwarder additionally reports a
// route error back toward the original source.
func (m *Mesh) sendPacketWithAck(f *protocol.Frame) bool {
	// Flooded frames and ACKs themselves are fire-and-forget.
	if f.Destination == protocol.BroadcastAddress ||
		f.Type == protocol.TypeRouteRequest ||
		f.Type == protocol.TypeAck {
		return m.sendPacket(f)
	}

	route := m.findRoute(f.Destination)
	if route == nil || route.State != RouteValid {
		return false
	}
	nextHop := route.NextHop

	for attempt := 0; attempt <= m.ackRetries; attempt++ {
		m.ack = ackTracker{neighbor: nextHop, messageID: f.MessageID}

		if !m.sendPacket(f) {
			continue
		}

		deadline := time.Now().Add(m.ackTimeout)
		for time.Now().Before(deadline) {
			if m.receivePacket() && m.ack.received {
				return true
			}
			time.Sleep(pollInterval)
		}
	}

	m.log.Warn().
		Uint8("destination", f.Destination).
		Uint8("nextHop", nextHop).
		Uint8("id", f.MessageID).
		Msg("no ack from next hop")

	// A forwarder reports the unreachable destination back to the source.
	if f.Source != m.address && f.Type == protocol.TypeData {
		rerr := protocol.Frame{
			Destination: f.Source,
			Source:      m.address,
			MessageID:   m.nextMessageID(),
			Type:        protocol.TypeRouteError,
			Payload:     []byte{f.Destination},
		}
		m.sendPacket(&rerr)
	}

	m.clearRoute(f.Destination)
	return false
}

// receivePacket drains one pending frame from the radio into the engine.
// It returns false when the radio is idle or the frame is malformed.
func (m *Mesh) receivePacket() bool {
	data := m.phy.readFrame()
	if data == nil {
		return false
	}

	f := protocol.Decode(data, m.profile.MaxHops)
	if f == nil {
		m.log.Debug().Int("size", len(data)).Msg("malformed frame dropped")
		return false
	}

	// Learn the immediate neighbour. The hopCount==1 / source==nextHop gate is
	// a hint that the source transmitted this frame itself.
	if f.Source != m.address &&
		f.NextHop != protocol.BroadcastAddress &&
		f.NextHop != m.address {
		if f.HopCount == 1 || f.Source == f.NextHop {
			m.updateRoutingTable(f.Source, f.Source, 1)
		}
	}

	switch f.Type {
	case protocol.TypeData:
		m.handleData(f)
	case protocol.TypeRouteRequest:
		m.handleRouteRequest(f)
	case protocol.TypeRouteReply:
		m.handleRouteReply(f)
	case protocol.TypeRouteError:
		m.handleRouteError(f)
	case protocol.TypeAck:
		m.handleAck(f)
	}

	return true
}

func (m *Mesh) handleData(f *protocol.Frame) {
	// Every unicast DATA is acknowledged toward its sender first, before any
	// forwarding. Broadcast frames are never acknowledged.
	if f.Destination != protocol.BroadcastAddress {
		m.sendAck(f.Source, f.MessageID)
	}

	if f.Destination == m.address || f.Destination == protocol.BroadcastAddress {
		m.pushMessage(f)
		m.log.Debug().Uint8("source", f.Source).Uint8("id", f.MessageID).Msg("data delivered")
		return
	}

	f.HopCount++
	m.sendPacketWithAck(f)
}

func (m *Mesh) handleRouteRequest(f *protocol.Frame) {
	// Our own address on the visited list means the flood has looped back.
	if f.HasVisited(m.address) {
		return
	}

	m.learnFromRequestPath(f)

	if f.Destination == m.address {
		visited := make([]uint8, 0, len(f.Visited)+1)
		visited = append(visited, f.Visited...)
		visited = append(visited, m.address)

		reply := protocol.Frame{
			Destination: f.Source,
			Source:      m.address,
			MessageID:   f.MessageID,
			Type:        protocol.TypeRouteReply,
			Visited:     visited,
		}
		m.sendPacket(&reply)
		return
	}

	// Re-broadcast; sendPacket applies the hop increment and appends us.
	m.sendPacket(f)
}

func (m *Mesh) handleRouteReply(f *protocol.Frame) {
	m.learnFromReplyPath(f)

	if f.Destination == m.address {
		if m.discovery.active && m.discovery.messageID == f.MessageID {
			m.discovery.active = false
		}
		return
	}

	if route := m.findRoute(f.Destination); route != nil && route.State == RouteValid {
		m.sendPacketWithAck(f)
	}
}

func (m *Mesh) handleRouteError(f *protocol.Frame) {
	m.sendAck(f.Source, f.MessageID)

	if f.Destination == m.address {
		if len(f.Payload) > 0 {
			m.log.Debug().Uint8("unreachable", f.Payload[0]).Msg("route error received")
			m.clearRoute(f.Payload[0])
		}
		return
	}

	m.sendPacketWithAck(f)
}

func (m *Mesh) handleAck(f *protocol.Frame) {
	if m.ack.neighbor == f.Source && m.ack.messageID == f.MessageID {
		m.ack.received = true
	}
}

func (m *Mesh) sendAck(destination, messageID uint8) {
	ack := protocol.Frame{
		Destination: destination,
		Source:      m.address,
		MessageID:   messageID,
		Type:        protocol.TypeAck,
	}
	m.sendPacket(&ack)
}

// startRouteDiscovery floods a route request for destination. At most one
// discovery is in flight: a repeat request for the same destination is
// idempotent, a request for a different destination is refused until the
// active one completes or ages out.
func (m *Mesh) startRouteDiscovery(destination uint8) bool {
	if m.discovery.active {
		if isAgeExpired(m.discovery.age, m.discoverySeconds()) {
			m.discovery.active = false
			if route := m.findRoute(m.discovery.destination); route != nil && route.State == RouteDiscovering {
				route.State = RouteInvalid
			}
		} else if m.discovery.destination == destination {
			return true
		} else {
			return false
		}
	}

	f := protocol.Frame{
		Destination: destination,
		Source:      m.address,
		MessageID:   m.nextMessageID(),
		Type:        protocol.TypeRouteRequest,
	}

	m.discovery = discoveryState{
		destination: destination,
		messageID:   f.MessageID,
		active:      true,
	}

	// Reserve a routing slot in DISCOVERING state.
	route := m.findRoute(destination)
	if route == nil {
		for i := range m.routes {
			if m.routes[i].State == RouteInvalid {
				route = &m.routes[i]
				break
			}
		}
	}
	if route != nil {
		route.Destination = destination
		route.State = RouteDiscovering
		route.LastSeenAge = 0
	}

	m.log.Debug().Uint8("destination", destination).Uint8("id", f.MessageID).Msg("route discovery started")
	return m.sendPacket(&f)
}
