package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"arenasync/internal/input"
)

// ProtoCodec encodes snapshots in protobuf wire format, compatible with:
//
//	message SyncMessage {
//	  optional uint64 id = 1;
//	  optional double x = 2;
//	  optional double y = 3;
//	  optional double vx = 4;
//	  optional double vy = 5;
//	  optional uint32 intent = 6; // bit 0 left, 1 right, 2 up, 3 down
//	}
//
// Every field is always written so that presence can be checked on decode.
type ProtoCodec struct{}

const (
	protoFieldID     protowire.Number = 1
	protoFieldX      protowire.Number = 2
	protoFieldY      protowire.Number = 3
	protoFieldVX     protowire.Number = 4
	protoFieldVY     protowire.Number = 5
	protoFieldIntent protowire.Number = 6
)

// Name reports the codec identifier.
func (ProtoCodec) Name() string { return CodecProto }

// Encode serialises the snapshot in protobuf wire format.
func (ProtoCodec) Encode(msg SyncMessage) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	b := make([]byte, 0, 48)
	b = protowire.AppendTag(b, protoFieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.ID))
	for _, f := range []struct {
		num   protowire.Number
		value float64
	}{{protoFieldX, msg.X}, {protoFieldY, msg.Y}, {protoFieldVX, msg.VX}, {protoFieldVY, msg.VY}} {
		b = protowire.AppendTag(b, f.num, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(f.value))
	}
	b = protowire.AppendTag(b, protoFieldIntent, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Intent.Bits()))
	return b, nil
}

// Decode parses and validates a protobuf-encoded snapshot. Unknown fields are skipped.
func (ProtoCodec) Decode(payload []byte) (SyncMessage, error) {
	if len(payload) == 0 {
		return SyncMessage{}, malformed(CodecProto, errEmptyPayload)
	}
	var p partial
	b := payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return SyncMessage{}, malformed(CodecProto, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == protoFieldID && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return SyncMessage{}, malformed(CodecProto, protowire.ParseError(m))
			}
			p.id = &v
			n = m
		case num >= protoFieldX && num <= protoFieldVY && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return SyncMessage{}, malformed(CodecProto, protowire.ParseError(m))
			}
			f := math.Float64frombits(v)
			switch num {
			case protoFieldX:
				p.x = &f
			case protoFieldY:
				p.y = &f
			case protoFieldVX:
				p.vx = &f
			default:
				p.vy = &f
			}
			n = m
		case num == protoFieldIntent && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return SyncMessage{}, malformed(CodecProto, protowire.ParseError(m))
			}
			if v > uint64(input.BitsMask) {
				return SyncMessage{}, invalid("intent", fmt.Sprintf("unknown flag bits %#x", v))
			}
			intent := input.FromBits(uint8(v))
			left, right, up, down := flagValue(intent.Left), flagValue(intent.Right), flagValue(intent.Up), flagValue(intent.Down)
			p.left, p.right, p.up, p.down = &left, &right, &up, &down
			p.hasIntent = true
			n = m
		default:
			//1.- Skip unknown or mistyped fields so additive extensions stay readable.
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return SyncMessage{}, malformed(CodecProto, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return p.complete()
}
