package mesh

// Profile fixes the capacity of every buffer in the engine. All allocation
// happens once at construction; nothing grows at runtime.
type Profile struct {
	// MaxHops bounds both the hop counter and the visited-node list of a
	// flooded frame.
	MaxHops int
	// RoutingTableSize is the number of routing entries.
	RoutingTableSize int
	// MessageBufferSize is the number of received-message ring slots.
	MessageBufferSize int
	// PendingQueueSize is the number of payloads that can wait on discovery.
	PendingQueueSize int
}

// DefaultProfile suits a typical node with a handful of neighbours.
func DefaultProfile() Profile {
	return Profile{
		MaxHops:           10,
		RoutingTableSize:  10,
		MessageBufferSize: 5,
		PendingQueueSize:  3,
	}
}

// ConstrainedProfile trims every buffer for tightly memory-bound targets.
func ConstrainedProfile() Profile {
	return Profile{
		MaxHops:           6,
		RoutingTableSize:  5,
		MessageBufferSize: 2,
		PendingQueueSize:  1,
	}
}

// HighCapacityProfile suits a well-resourced node routing for a larger mesh.
func HighCapacityProfile() Profile {
	return Profile{
		MaxHops:           12,
		RoutingTableSize:  15,
		MessageBufferSize: 8,
		PendingQueueSize:  5,
	}
}
