package protocol

// Generic mesh wire constants (platform independent). All higher layers should
// depend on this file.
const (
	// Frame layout:
	//   Destination(1) | Source(1) | MessageID(1) | Type(1) | HopCount(1) |
	//   VisitedCount(1) | Visited(V) | NextHop(1) | PayloadLen(1) | Payload(L)
	// Smallest parseable frame is the fixed part with V=0 and L=0.
	FixedHeaderSize = 6
	MinFrameSize    = FixedHeaderSize + 2 // + NextHop + PayloadLen

	// Application-level payload allowance per frame
	MaxMessageLen = 251

	// BroadcastAddress is reserved; it is never a node address. It doubles as
	// the NextHop value when a frame is flooded rather than unicast.
	BroadcastAddress = 0xFF

	// Message types
	TypeData         = 0x00
	TypeRouteRequest = 0x01
	TypeRouteReply   = 0x02
	TypeRouteError   = 0x03
	TypeAck          = 0x04
)
