package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
)

var errEmptyPayload = errors.New("empty payload")

// JSONCodec is the canonical text wire format:
//
//	{"id":42,"x":10,"y":20,"vx":0,"vy":0,"intent":{"left":0,"right":0,"up":0,"down":0}}
//
// Unknown fields are ignored so additive extensions stay compatible.
type JSONCodec struct{}

type jsonIntentOut struct {
	Left  uint8 `json:"left"`
	Right uint8 `json:"right"`
	Up    uint8 `json:"up"`
	Down  uint8 `json:"down"`
}

type jsonMessageOut struct {
	ID     uint64        `json:"id"`
	X      float64       `json:"x"`
	Y      float64       `json:"y"`
	VX     float64       `json:"vx"`
	VY     float64       `json:"vy"`
	Intent jsonIntentOut `json:"intent"`
}

// Inbound ids and flags are decoded loosely and range-checked by partial:
// peers may write ids as 42.0 and flags as booleans.
type jsonIntentIn struct {
	Left  any `json:"left"`
	Right any `json:"right"`
	Up    any `json:"up"`
	Down  any `json:"down"`
}

type jsonMessageIn struct {
	ID     any           `json:"id"`
	X      *float64      `json:"x"`
	Y      *float64      `json:"y"`
	VX     *float64      `json:"vx"`
	VY     *float64      `json:"vy"`
	Intent *jsonIntentIn `json:"intent"`
}

// Name reports the codec identifier.
func (JSONCodec) Name() string { return CodecJSON }

// Encode renders the snapshot with 0/1 intent flags.
func (JSONCodec) Encode(msg SyncMessage) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(jsonMessageOut{
		ID: uint64(msg.ID),
		X:  msg.X,
		Y:  msg.Y,
		VX: msg.VX,
		VY: msg.VY,
		Intent: jsonIntentOut{
			Left:  flagValue(msg.Intent.Left),
			Right: flagValue(msg.Intent.Right),
			Up:    flagValue(msg.Intent.Up),
			Down:  flagValue(msg.Intent.Down),
		},
	})
}

// Decode parses and validates a JSON snapshot.
func (JSONCodec) Decode(payload []byte) (SyncMessage, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return SyncMessage{}, malformed(CodecJSON, errEmptyPayload)
	}
	var in jsonMessageIn
	dec := json.NewDecoder(bytes.NewReader(payload))
	//1.- Numbers stay json.Number so large ids are not rounded through float64.
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		return SyncMessage{}, malformed(CodecJSON, err)
	}
	if dec.More() {
		return SyncMessage{}, malformed(CodecJSON, errors.New("trailing data after message"))
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
