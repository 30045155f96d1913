package frame

// Wire layout, little-endian throughout:
//
//	Outbound frame:
//	  [0:4)   totalLength (u32, includes these 4 bytes)
//	  [4:6)   messageId (u16)
//	  [6:10)  clientSequenceId (i32)
//	  [10:12) routingId (u16)
//	  [12:)   payload
//
//	Inbound frame, after the 4-byte length prefix is consumed by the framer:
//	  [0:2)   messageId (u16)
//	  [2:6)   clientSequenceId (i32)
//	  [6:10)  serverSequenceId (i32)
//	  [10:18) originatorId (i64)
//	  [18:20) routingId (u16)
//	  [20:)   payload
const (
	LengthPrefixSize = 4

	OutboundHeaderSize = 8
	InboundHeaderSize  = 20

	DefaultMaxFrameSize = 1 << 20
)

// OutboundMessage is a message queued for encoding. Exactly one of Payload
// (encoded through the registry) or RawPayload is set; a message with neither
// is sent with an empty body.
type OutboundMessage struct {
	MessageId        uint16
	ClientSequenceId int32
	RoutingId        uint16

	Payload    any
	RawPayload []byte
}

// InboundMessage is one decoded frame. DecodedObject is nil when no codec is
// registered for MessageId or when the codec failed - RawPayload is valid
// either way.
type InboundMessage struct {
	MessageId        uint16
	ClientSequenceId int32
	ServerSequenceId int32
	OriginatorId     int64
	RoutingId        uint16

	RawPayload    []byte
	DecodedObject any
}

// Reset clears all fields so a pooled message never leaks values from its
// previous use.
func (m *InboundMessage) Reset() {
	m.MessageId = 0
	m.ClientSequenceId = 0
	m.ServerSequenceId = 0
	m.OriginatorId = 0
	m.RoutingId = 0
	m.RawPayload = m.RawPayload[:0]
	m.DecodedObject = nil
}
