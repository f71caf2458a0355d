// Package loramesh provides a façade to access the LoRa mesh networking
// layer.
package loramesh

import (
	"github.com/lmgal/LoRaMesh/driver/stub"
	"github.com/lmgal/LoRaMesh/mesh"
	"github.com/lmgal/LoRaMesh/protocol"
)

// Re-export the core types so most applications only import this package.
type (
	Mesh       = mesh.Mesh
	Profile    = mesh.Profile
	Radio      = mesh.Radio
	RouteEntry = mesh.RouteEntry
	RouteState = mesh.RouteState
	Frame      = protocol.Frame
)

// Error constants exposed in the public API
var (
	ErrPayloadTooLong = protocol.ErrPayloadTooLong
	ErrSelfAddressed  = protocol.ErrSelfAddressed
	ErrNoRoute        = protocol.ErrNoRoute
	ErrDiscoveryBusy  = protocol.ErrDiscoveryBusy
	ErrTimeout        = protocol.ErrTimeout
)

// Constants exposed in the public API
const (
	BroadcastAddress = protocol.BroadcastAddress
	MaxMessageLen    = protocol.MaxMessageLen

	TypeData         = protocol.TypeData
	TypeRouteRequest = protocol.TypeRouteRequest
	TypeRouteReply   = protocol.TypeRouteReply
	TypeRouteError   = protocol.TypeRouteError
	TypeAck          = protocol.TypeAck

	RouteInvalid     = mesh.RouteInvalid
	RouteDiscovering = mesh.RouteDiscovering
	RouteValid       = mesh.RouteValid
)

var _ mesh.Radio = (*stub.Driver)(nil)

// New returns a node over the given radio with the default capacity profile.
func New(radio mesh.Radio) *mesh.Mesh {
	return mesh.New(radio)
}

// NewWithProfile returns a node over the given radio with buffers sized by
// the profile.
func NewWithProfile(radio mesh.Radio, p mesh.Profile) *mesh.Mesh {
	return mesh.NewWithProfile(radio, p)
}

// NewHostMesh returns a node backed by an in-memory stub radio, for
// development and testing without hardware.
func NewHostMesh() *mesh.Mesh {
	return mesh.New(stub.New())
}
