package frame

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type textCodec struct{}

func (textCodec) Marshal(obj any) ([]byte, error) {
	s, ok := obj.(string)
	if !ok {
		return nil, fmt.Errorf("textCodec expects string, got %T", obj)
	}
	return []byte(s), nil
}

func (textCodec) Unmarshal(data []byte) (any, error) {
	return string(data), nil
}

type failingCodec struct{}

func (failingCodec) Marshal(obj any) ([]byte, error) {
	return nil, fmt.Errorf("marshal always fails")
}

func (failingCodec) Unmarshal(data []byte) (any, error) {
	return nil, fmt.Errorf("unmarshal always fails")
}

// buildInboundFrame assembles one complete inbound wire frame, length prefix
// included.
func buildInboundFrame(messageId uint16, clientSeq int32, serverSeq int32, originatorId int64, routingId uint16, payload []byte) []byte {
	out := []byte{0, 0, 0, 0}
	out = binary.LittleEndian.AppendUint16(out, messageId)
	out = binary.LittleEndian.AppendUint32(out, uint32(clientSeq))
	out = binary.LittleEndian.AppendUint32(out, uint32(serverSeq))
	out = binary.LittleEndian.AppendUint64(out, uint64(originatorId))
	out = binary.LittleEndian.AppendUint16(out, routingId)
	out = append(out, payload...)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(out)))
	return out
}

func createTestCodec(t *testing.T, register func(r *Registry)) *Codec {
	t.Helper()

	registry := CreateRegistry()
	if register != nil {
		register(registry)
	}

	codec, err := CreateCodec(registry, zap.NewNop())
	require.NoError(t, err)
	return codec
}

func TestComputeBodyLength(t *testing.T) {
	prefix := func(totalLength uint32) []byte {
		return binary.LittleEndian.AppendUint32(nil, totalLength)
	}

	// Shorter than the prefix itself: incomplete, not an error.
	assert.Equal(t, 0, ComputeBodyLength(nil))
	assert.Equal(t, 0, ComputeBodyLength([]byte{0x11, 0x00}))

	// totalLength below the prefix size can never be valid; still "no body".
	for totalLength := uint32(0); totalLength < LengthPrefixSize; totalLength++ {
		assert.Equal(t, 0, ComputeBodyLength(prefix(totalLength)), "totalLength=%d", totalLength)
	}

	assert.Equal(t, 0, ComputeBodyLength(prefix(4)))
	assert.Equal(t, 13, ComputeBodyLength(prefix(17)))
	assert.GreaterOrEqual(t, ComputeBodyLength(prefix(2)), 0)
}

func TestEncodeOutboundWireBytes(t *testing.T) {
	codec := createTestCodec(t, nil)

	encoded, err := codec.EncodeOutbound(&OutboundMessage{
		MessageId:        1001,
		ClientSequenceId: 1,
		RoutingId:        1,
		RawPayload:       []byte("Hello"),
	})
	require.NoError(t, err)

	expected := []byte{
		0x11, 0x00, 0x00, 0x00, // totalLength = 17
		0xE9, 0x03, // messageId = 1001
		0x01, 0x00, 0x00, 0x00, // clientSequenceId = 1
		0x01, 0x00, // routingId = 1
		0x48, 0x65, 0x6C, 0x6C, 0x6F, // "Hello"
	}
	assert.Equal(t, expected, encoded)

	assert.Equal(t, uint32(len(encoded)), binary.LittleEndian.Uint32(encoded[0:4]))
}

func TestEncodeOutboundTypedPayload(t *testing.T) {
	codec := createTestCodec(t, func(r *Registry) {
		r.Register(7, textCodec{})
	})

	encoded, err := codec.EncodeOutbound(&OutboundMessage{
		MessageId:        7,
		ClientSequenceId: 3,
		RoutingId:        2,
		Payload:          "ping",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), encoded[LengthPrefixSize+OutboundHeaderSize:])
}

func TestEncodeOutboundMissingCodecFailsFast(t *testing.T) {
	codec := createTestCodec(t, nil)

	_, err := codec.EncodeOutbound(&OutboundMessage{
		MessageId: 55,
		Payload:   "no codec for this",
	})
	assert.ErrorContains(t, err, "No payload codec registered")
}

func TestEncodeOutboundEmptyPayload(t *testing.T) {
	codec := createTestCodec(t, nil)

	encoded, err := codec.EncodeOutbound(&OutboundMessage{MessageId: 9})
	require.NoError(t, err)
	assert.Len(t, encoded, LengthPrefixSize+OutboundHeaderSize)
	assert.Equal(t, uint32(LengthPrefixSize+OutboundHeaderSize), binary.LittleEndian.Uint32(encoded[0:4]))
}

func TestDecodeInboundRoundTrip(t *testing.T) {
	codec := createTestCodec(t, func(r *Registry) {
		r.Register(1001, textCodec{})
	})

	wire := buildInboundFrame(1001, 17, 92, 0x1122334455667788, 4, []byte("Hello"))

	msg := &InboundMessage{}
	require.NoError(t, codec.DecodeInbound(wire[LengthPrefixSize:], msg))

	assert.Equal(t, uint16(1001), msg.MessageId)
	assert.Equal(t, int32(17), msg.ClientSequenceId)
	assert.Equal(t, int32(92), msg.ServerSequenceId)
	assert.Equal(t, int64(0x1122334455667788), msg.OriginatorId)
	assert.Equal(t, uint16(4), msg.RoutingId)
	assert.Equal(t, []byte("Hello"), msg.RawPayload)
	assert.Equal(t, "Hello", msg.DecodedObject)
}

func TestDecodeInboundUnregisteredMessageId(t *testing.T) {
	codec := createTestCodec(t, nil)

	wire := buildInboundFrame(3000, 1, 1, 0, 0, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	msg := &InboundMessage{}
	require.NoError(t, codec.DecodeInbound(wire[LengthPrefixSize:], msg))

	assert.Nil(t, msg.DecodedObject)
	assert.Len(t, msg.RawPayload, 4)
}

func TestDecodeInboundCodecFailureIsIsolated(t *testing.T) {
	codec := createTestCodec(t, func(r *Registry) {
		r.Register(2000, failingCodec{})
	})

	wire := buildInboundFrame(2000, 5, 6, 7, 8, []byte("junk"))

	msg := &InboundMessage{}
	require.NoError(t, codec.DecodeInbound(wire[LengthPrefixSize:], msg))

	assert.Nil(t, msg.DecodedObject)
	assert.Equal(t, []byte("junk"), msg.RawPayload)
}

func TestDecodeInboundEmptyPayload(t *testing.T) {
	codec := createTestCodec(t, func(r *Registry) {
		r.Register(12, failingCodec{})
	})

	wire := buildInboundFrame(12, 1, 2, 3, 4, nil)

	msg := &InboundMessage{}
	require.NoError(t, codec.DecodeInbound(wire[LengthPrefixSize:], msg))
	assert.Empty(t, msg.RawPayload)
	assert.Nil(t, msg.DecodedObject)
}

func TestDecodeInboundTruncatedHeader(t *testing.T) {
	codec := createTestCodec(t, nil)

	msg := &InboundMessage{}
	err := codec.DecodeInbound(make([]byte, InboundHeaderSize-1), msg)
	assert.ErrorContains(t, err, "underflowed")
}

func TestDecodeResetsPooledFields(t *testing.T) {
	codec := createTestCodec(t, nil)

	msg := &InboundMessage{
		DecodedObject: "stale",
		RawPayload:    []byte("stale bytes"),
	}

	wire := buildInboundFrame(44, 1, 2, 3, 4, []byte("xy"))
	require.NoError(t, codec.DecodeInbound(wire[LengthPrefixSize:], msg))

	assert.Nil(t, msg.DecodedObject)
	assert.Equal(t, []byte("xy"), msg.RawPayload)
}

func TestRegistryReplaceAndUnregister(t *testing.T) {
	registry := CreateRegistry()

	registry.Register(1002, failingCodec{})
	registry.Register(1002, textCodec{})

	codec, has := registry.Lookup(1002)
	require.True(t, has)
	_, isText := codec.(textCodec)
	assert.True(t, isText, "last registration wins")

	registry.Register(1002, nil)
	_, has = registry.Lookup(1002)
	assert.False(t, has)
}
