package protocol

import (
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec carries the same field set as JSONCodec in MessagePack maps.
type MsgpackCodec struct{}

// The id and flags decode into any so that no integer is silently narrowed.
type msgpackIntent struct {
	Left  any `msgpack:"left"`
	Right any `msgpack:"right"`
	Up    any `msgpack:"up"`
	Down  any `msgpack:"down"`
}

type msgpackMessage struct {
	ID     any            `msgpack:"id"`
	X      *float64       `msgpack:"x"`
	Y      *float64       `msgpack:"y"`
	VX     *float64       `msgpack:"vx"`
	VY     *float64       `msgpack:"vy"`
	Intent *msgpackIntent `msgpack:"intent"`
}

// Name reports the codec identifier.
func (MsgpackCodec) Name() string { return CodecMsgpack }

// Encode serialises the snapshot as a MessagePack map.
func (MsgpackCodec) Encode(msg SyncMessage) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msgpack.Marshal(&msgpackMessage{
		ID: uint64(msg.ID),
		X:  &msg.X,
		Y:  &msg.Y,
		VX: &msg.VX,
		VY: &msg.VY,
		Intent: &msgpackIntent{
			Left:  flagValue(msg.Intent.Left),
			Right: flagValue(msg.Intent.Right),
			Up:    flagValue(msg.Intent.Up),
			Down:  flagValue(msg.Intent.Down),
		},
	})
}

// Decode parses and validates a MessagePack snapshot.
func (MsgpackCodec) Decode(payload []byte) (SyncMessage, error) {
	if len(payload) == 0 {
		return SyncMessage{}, malformed(CodecMsgpack, errEmptyPayload)
	}
	var in msgpackMessage
	if err := msgpack.Unmarshal(payload, &in); err != nil {
		return SyncMessage{}, malformed(CodecMsgpack, err)
	}
	p := partial{x: in.X, y: in.Y, vx: in.VX, vy: in.VY}
	if err := p.setID(in.ID); err != nil {
		return SyncMessage{}, err
	}
	if in.Intent != nil {
		if err := p.setFlags(in.Intent.Left, in.Intent.Right, in.Intent.Up, in.Intent.Down); err != nil {
			return SyncMessage{}, err
		}
	}
	return p.complete()
}
