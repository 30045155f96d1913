package frame

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/kestrelgames/netpipe/pkg/errors"
)

// ComputeBodyLength interprets the first LengthPrefixSize bytes of header as
// the frame's totalLength field and returns the number of bytes that follow
// the prefix. A header that is too short, or a totalLength smaller than the
// prefix itself, yields 0 - "no body yet" - so callers keep framing instead
// of tearing the stream down. The result is never negative.
func ComputeBodyLength(header []byte) int {
	if len(header) < LengthPrefixSize {
		return 0
	}

	totalLength := binary.LittleEndian.Uint32(header[0:LengthPrefixSize])
	if totalLength < LengthPrefixSize {
		return 0
	}

	return int(totalLength) - LengthPrefixSize
}

// Codec encodes outbound messages and decodes inbound frame bodies, using a
// Registry to serialize typed payloads.
type Codec struct {
	registry *Registry
	log      *zap.Logger
}

func CreateCodec(registry *Registry, logger *zap.Logger) (*Codec, error) {
	if registry == nil {
		return nil, &errors.NilArgument{ArgumentName: "registry", Context: "frame.CreateCodec"}
	}

	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &Codec{
		registry: registry,
		log:      logger,
	}, nil
}

// EncodeOutbound serializes msg into one complete wire frame, length prefix
// included. A typed payload without a registered codec is a caller bug and
// fails immediately.
func (c *Codec) EncodeOutbound(msg *OutboundMessage) ([]byte, error) {
	if msg == nil {
		return nil, &errors.NilArgument{ArgumentName: "msg", Context: "Codec.EncodeOutbound"}
	}

	var payload []byte
	if msg.RawPayload != nil {
		payload = msg.RawPayload
	} else if msg.Payload != nil {
		codec, has := c.registry.Lookup(msg.MessageId)
		if !has {
			return nil, &errors.MissingPayloadCodec{MessageId: msg.MessageId}
		}

		encoded, err := codec.Marshal(msg.Payload)
		if err != nil {
			return nil, err
		}
		payload = encoded
	}

	out := make([]byte, 0, LengthPrefixSize+OutboundHeaderSize+len(payload))
	out = append(out, 0, 0, 0, 0) // length placeholder, backpatched below
	out = binary.LittleEndian.AppendUint16(out, msg.MessageId)
	out = binary.LittleEndian.AppendUint32(out, uint32(msg.ClientSequenceId))
	out = binary.LittleEndian.AppendUint16(out, msg.RoutingId)
	out = append(out, payload...)

	binary.LittleEndian.PutUint32(out[0:LengthPrefixSize], uint32(len(out)))

	return out, nil
}

// DecodeInbound parses one inbound frame body (the bytes after the length
// prefix) into msg. A payload that fails its registered codec is delivered
// with DecodedObject=nil rather than failing the frame; only a truncated
// header is an error.
func (c *Codec) DecodeInbound(body []byte, msg *InboundMessage) error {
	if msg == nil {
		return &errors.NilArgument{ArgumentName: "msg", Context: "Codec.DecodeInbound"}
	}

	if len(body) < InboundHeaderSize {
		return &errors.Underflow{
			MessageName: "InboundFrame",
			MsgSize:     len(body),
			MinimumSize: InboundHeaderSize,
		}
	}

	msg.MessageId = binary.LittleEndian.Uint16(body[0:2])
	msg.ClientSequenceId = int32(binary.LittleEndian.Uint32(body[2:6]))
	msg.ServerSequenceId = int32(binary.LittleEndian.Uint32(body[6:10]))
	msg.OriginatorId = int64(binary.LittleEndian.Uint64(body[10:18]))
	msg.RoutingId = binary.LittleEndian.Uint16(body[18:20])
	msg.RawPayload = append(msg.RawPayload[:0], body[InboundHeaderSize:]...)
	msg.DecodedObject = nil

	if len(msg.RawPayload) == 0 {
		return nil
	}

	codec, has := c.registry.Lookup(msg.MessageId)
	if !has {
		return nil
	}

	decoded, err := codec.Unmarshal(msg.RawPayload)
	if err != nil {
		c.log.Warn("Failed to decode payload, delivering message with raw bytes only",
			zap.Uint16("messageId", msg.MessageId),
			zap.Int32("clientSeq", msg.ClientSequenceId),
			zap.Int("payloadSize", len(msg.RawPayload)),
			zap.Error(err))
		return nil
	}

	msg.DecodedObject = decoded
	return nil
}
