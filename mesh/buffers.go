package mesh

import "github.com/lmgal/LoRaMesh/protocol"

// rxSlot is one slot of the received-message ring.
type rxSlot struct {
	frame protocol.Frame
	valid bool
	age   uint16
}

// pendingMessage is an outgoing payload parked while route discovery runs.
// The message id is reserved at enqueue time so the frame eventually sent
// carries the id the caller was promised.
type pendingMessage struct {
	destination uint8
	data        []byte
	messageID   uint8
	valid       bool
	age         uint16
}

// pushMessage appends a delivered DATA frame to the ring, overwriting the
// oldest entry when full.
func (m *Mesh) pushMessage(f *protocol.Frame) {
	slot := &m.rx[m.rxHead]
	slot.frame = *f
	slot.frame.Visited = append([]uint8(nil), f.Visited...)
	slot.frame.Payload = append([]byte(nil), f.Payload...)
	slot.valid = true
	slot.age = 0

	m.rxHead = (m.rxHead + 1) % len(m.rx)
	if m.rxHead == m.rxTail {
		m.rxTail = (m.rxTail + 1) % len(m.rx)
	}
}

// popMessage drains the oldest valid DATA frame into buf. Non-DATA slots
// encountered on the way are invalidated and skipped.
func (m *Mesh) popMessage(buf []byte) (n int, source, dest, id uint8, ok bool) {
	for m.rxTail != m.rxHead {
		slot := &m.rx[m.rxTail]
		if slot.valid && slot.frame.Type == protocol.TypeData {
			n = copy(buf, slot.frame.Payload)
			source = slot.frame.Source
			dest = slot.frame.Destination
			id = slot.frame.MessageID
			slot.valid = false
			m.rxTail = (m.rxTail + 1) % len(m.rx)
			return n, source, dest, id, true
		}
		slot.valid = false
		m.rxTail = (m.rxTail + 1) % len(m.rx)
	}
	return 0, 0, 0, 0, false
}

// hasMessage reports whether the ring holds at least one valid DATA frame.
func (m *Mesh) hasMessage() bool {
	for i := m.rxTail; i != m.rxHead; i = (i + 1) % len(m.rx) {
		if m.rx[i].valid && m.rx[i].frame.Type == protocol.TypeData {
			return true
		}
	}
	return false
}

// enqueuePending parks a payload in the first free queue slot. The payload is
// dropped when the queue is full.
func (m *Mesh) enqueuePending(destination uint8, data []byte, messageID uint8) {
	for i := range m.pending {
		if !m.pending[i].valid {
			m.pending[i] = pendingMessage{
				destination: destination,
				data:        append([]byte(nil), data...),
				messageID:   messageID,
				valid:       true,
			}
			return
		}
	}
	m.log.Debug().Uint8("destination", destination).Msg("pending queue full, payload dropped")
}

// processPendingMessages is the pending scan: abandoned entries are dropped,
// entries whose route has appeared are dispatched, and entries still without
// a route re-arm discovery when the slot frees up.
func (m *Mesh) processPendingMessages() {
	for i := range m.pending {
		p := &m.pending[i]
		if !p.valid {
			continue
		}

		// Give up after 3x the discovery timeout.
		if isAgeExpired(p.age, 3*m.discoverySeconds()) {
			p.valid = false
			m.log.Debug().Uint8("destination", p.destination).Msg("pending payload abandoned")
			continue
		}

		route := m.findRoute(p.destination)
		if route != nil && route.State == RouteValid {
			f := protocol.Frame{
				Destination: p.destination,
				Source:      m.address,
				MessageID:   p.messageID,
				Type:        protocol.TypeData,
				Payload:     p.data,
			}
			m.sendPacketWithAck(&f)
			p.valid = false
		} else if route == nil {
			if !m.discovery.active ||
				(m.discovery.destination != p.destination &&
					isAgeExpired(m.discovery.age, m.discoverySeconds())) {
				m.startRouteDiscovery(p.destination)
			}
		}
	}
}
