package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxHops = 10

func TestFrameEncoding(t *testing.T) {
	tests := []struct {
		name     string
		frame    *Frame
		wantSize int
	}{
		{
			name: "empty frame",
			frame: &Frame{
				Destination: 0x03,
				Source:      0x01,
				MessageID:   7,
				Type:        TypeData,
				NextHop:     0x02,
			},
			wantSize: MinFrameSize,
		},
		{
			name: "visited list and payload",
			frame: &Frame{
				Destination: 0xFF,
				Source:      0x01,
				MessageID:   42,
				Type:        TypeRouteRequest,
				HopCount:    2,
				Visited:     []uint8{0x01, 0x02},
				NextHop:     BroadcastAddress,
				Payload:     []byte{0xAA, 0xBB, 0xCC},
			},
			wantSize: MinFrameSize + 2 + 3,
		},
		{
			name: "maximum payload",
			frame: &Frame{
				Destination: 0x05,
				Source:      0x04,
				Type:        TypeData,
				NextHop:     0x05,
				Payload:     bytes.Repeat([]byte{0x55}, MaxMessageLen),
			},
			wantSize: MinFrameSize + MaxMessageLen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.frame)

			if len(encoded) != tt.wantSize {
				t.Errorf("Encode() size = %v, want %v", len(encoded), tt.wantSize)
			}

			// Fixed fields in wire order
			if encoded[0] != tt.frame.Destination {
				t.Errorf("destination = %v, want %v", encoded[0], tt.frame.Destination)
			}
			if encoded[1] != tt.frame.Source {
				t.Errorf("source = %v, want %v", encoded[1], tt.frame.Source)
			}
			if encoded[2] != tt.frame.MessageID {
				t.Errorf("messageId = %v, want %v", encoded[2], tt.frame.MessageID)
			}
			if encoded[3] != tt.frame.Type {
				t.Errorf("type = %v, want %v", encoded[3], tt.frame.Type)
			}
			if encoded[4] != tt.frame.HopCount {
				t.Errorf("hopCount = %v, want %v", encoded[4], tt.frame.HopCount)
			}
			if int(encoded[5]) != len(tt.frame.Visited) {
				t.Errorf("visitedCount = %v, want %v", encoded[5], len(tt.frame.Visited))
			}

			pos := FixedHeaderSize + len(tt.frame.Visited)
			if encoded[pos] != tt.frame.NextHop {
				t.Errorf("nextHop = %v, want %v", encoded[pos], tt.frame.NextHop)
			}
			if int(encoded[pos+1]) != len(tt.frame.Payload) {
				t.Errorf("payloadLen = %v, want %v", encoded[pos+1], len(tt.frame.Payload))
			}
		})
	}
}

func TestFrameRoundTrip(t *testing.T) {
	original := &Frame{
		Destination: 0x03,
		Source:      0x01,
		MessageID:   0x7F,
		Type:        TypeRouteReply,
		HopCount:    4,
		Visited:     []uint8{0x01, 0x02, 0x03},
		NextHop:     0x02,
		Payload:     []byte("hello mesh"),
	}

	decoded := Decode(Encode(original), testMaxHops)
	require.NotNil(t, decoded)
	assert.Equal(t, original, decoded)
}

func TestDecodeRejects(t *testing.T) {
	valid := Encode(&Frame{
		Destination: 0x03,
		Source:      0x01,
		MessageID:   1,
		Type:        TypeData,
		HopCount:    1,
		Visited:     []uint8{0x01},
		NextHop:     0x03,
		Payload:     []byte{0xAB, 0xCD},
	})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"below minimum size", valid[:MinFrameSize-1]},
		{"truncated visited list", valid[:FixedHeaderSize]},
		{"truncated payload", valid[:len(valid)-1]},
		{
			"visited count beyond max hops",
			Encode(&Frame{Visited: bytes.Repeat([]byte{1}, testMaxHops+1)}),
		},
		{
			"hop count beyond max hops",
			Encode(&Frame{HopCount: testMaxHops + 1}),
		},
		{
			// Hand-built bytes: a length byte of 255 with all 255 payload bytes
			// behind it, so only the MaxMessageLen check can reject the frame.
			"payload length beyond maximum",
			append(append([]byte{0x03, 0x01, 1, TypeData, 0, 0, 0x03}, 0xFF), bytes.Repeat([]byte{0}, 255)...),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if f := Decode(tt.data, testMaxHops); f != nil {
				t.Errorf("Decode() accepted a malformed frame: %+v", f)
			}
		})
	}

	require.NotNil(t, Decode(valid, testMaxHops))
}

func TestDecodeMinimumFrame(t *testing.T) {
	data := []byte{0x03, 0x01, 0x09, TypeAck, 0x00, 0x00, 0x03, 0x00}
	require.Len(t, data, MinFrameSize)

	f := Decode(data, testMaxHops)
	require.NotNil(t, f)
	assert.Equal(t, uint8(0x03), f.Destination)
	assert.Equal(t, uint8(0x01), f.Source)
	assert.Equal(t, uint8(0x09), f.MessageID)
	assert.Equal(t, uint8(TypeAck), f.Type)
	assert.Empty(t, f.Visited)
	assert.Empty(t, f.Payload)
}

func TestAddVisited(t *testing.T) {
	f := &Frame{}

	f.AddVisited(0x01, testMaxHops)
	f.AddVisited(0x02, testMaxHops)
	require.Equal(t, []uint8{0x01, 0x02}, f.Visited)

	// Idempotent with respect to the node
	f.AddVisited(0x01, testMaxHops)
	assert.Equal(t, []uint8{0x01, 0x02}, f.Visited)

	// Capped at maxHops entries
	for n := uint8(3); n <= testMaxHops+5; n++ {
		f.AddVisited(n, testMaxHops)
	}
	assert.Len(t, f.Visited, testMaxHops)

	assert.True(t, f.HasVisited(0x02))
	assert.False(t, f.HasVisited(0xEE))
}
