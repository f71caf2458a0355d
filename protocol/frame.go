package protocol

// Frame represents one on-air mesh frame: the routing header followed by the
// payload.
// Layout: Destination(1) | Source(1) | MessageID(1) | Type(1) | HopCount(1) |
// VisitedCount(1) | Visited(0-V) | NextHop(1) | PayloadLen(1) | Payload(0-251)
//
// Destination and Source are end-to-end addresses; NextHop is the neighbour
// the current radio transmission is aimed at, or BroadcastAddress when the
// frame is flooded. Visited accumulates the addresses a flooded frame has
// traversed and is the raw material for path learning.
type Frame struct {
	Destination uint8
	Source      uint8
	MessageID   uint8
	Type        uint8
	HopCount    uint8
	Visited     []uint8
	NextHop     uint8
	Payload     []byte
}

// Encode serialises a Frame into on-air bytes.
func Encode(f *Frame) []byte {
	if f == nil {
		return make([]byte, 0)
	}

	data := make([]byte, 0, MinFrameSize+len(f.Visited)+len(f.Payload))
	data = append(data,
		f.Destination,
		f.Source,
		f.MessageID,
		f.Type,
		f.HopCount,
		byte(len(f.Visited)),
	)
	data = append(data, f.Visited...)
	data = append(data, f.NextHop, byte(len(f.Payload)))
	data = append(data, f.Payload...)

	return data
}

// Decode parses on-air bytes back into a Frame. It returns nil when the frame
// is malformed: too short, a visited list or hop count beyond maxHops, an
// over-length payload, or any field truncated. There is no partial acceptance.
func Decode(data []byte, maxHops int) *Frame {
	if len(data) < MinFrameSize {
		return nil
	}

	visitedCount := int(data[5])
	if visitedCount > maxHops {
		return nil
	}

	pos := FixedHeaderSize
	if pos+visitedCount+2 > len(data) {
		return nil
	}

	f := &Frame{
		Destination: data[0],
		Source:      data[1],
		MessageID:   data[2],
		Type:        data[3],
		HopCount:    data[4],
	}

	f.Visited = make([]uint8, visitedCount)
	copy(f.Visited, data[pos:pos+visitedCount])
	pos += visitedCount

	f.NextHop = data[pos]
	pos++

	payloadLen := int(data[pos])
	pos++
	if payloadLen > MaxMessageLen {
		return nil
	}
	if pos+payloadLen > len(data) {
		return nil
	}

	f.Payload = make([]byte, payloadLen)
	copy(f.Payload, data[pos:pos+payloadLen])

	if int(f.HopCount) > maxHops {
		return nil
	}

	return f
}

// HasVisited reports whether node already appears in the visited list.
func (f *Frame) HasVisited(node uint8) bool {
	for _, n := range f.Visited {
		if n == node {
			return true
		}
	}
	return false
}

// AddVisited appends node to the visited list. It is idempotent and the list
// is capped at maxHops entries.
func (f *Frame) AddVisited(node uint8, maxHops int) {
	if len(f.Visited) < maxHops && !f.HasVisited(node) {
		f.Visited = append(f.Visited, node)
	}
}
