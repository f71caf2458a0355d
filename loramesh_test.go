package loramesh_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmgal/LoRaMesh"
	"github.com/lmgal/LoRaMesh/driver/stub"
	"github.com/lmgal/LoRaMesh/mesh"
)

func TestHostMesh(t *testing.T) {
	node := loramesh.NewHostMesh()
	require.NoError(t, node.Begin(868000000, 0x01))
	assert.Equal(t, uint8(0x01), node.Address())

	err := node.SendToWait(0x01, []byte("self"))
	assert.ErrorIs(t, err, loramesh.ErrSelfAddressed)

	assert.False(t, node.Available())
}

func TestProfileSizes(t *testing.T) {
	def := mesh.DefaultProfile()
	con := mesh.ConstrainedProfile()
	high := mesh.HighCapacityProfile()

	assert.Less(t, con.RoutingTableSize, def.RoutingTableSize)
	assert.Less(t, con.MessageBufferSize, def.MessageBufferSize)
	assert.Greater(t, high.RoutingTableSize, def.RoutingTableSize)
	assert.Greater(t, high.MaxHops, con.MaxHops)

	node := loramesh.NewWithProfile(stub.New(), con)
	assert.Equal(t, con.RoutingTableSize, node.RoutingTableSize())
}
