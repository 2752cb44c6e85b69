package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"arenasync/internal/input"
	"arenasync/internal/world"
)

// Codec converts sync messages to and from wire payloads. Decode always
// validates, so a nil error means the message is safe to reconcile.
type Codec interface {
	//1.- Name identifies the wire format in configuration and recordings.
	Name() string
	//2.- Encode serialises a complete snapshot.
	Encode(msg SyncMessage) ([]byte, error)
	//3.- Decode parses and validates a payload; failures match ErrMalformed.
	Decode(payload []byte) (SyncMessage, error)
}

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
	CodecProto   = "proto"
)

// CodecByName resolves a codec, optionally wrapped by the named compressor
// ("", "none", "gzip", "snappy" or "zstd").
func CodecByName(codec, compression string) (Codec, error) {
	var base Codec
	switch strings.ToLower(strings.TrimSpace(codec)) {
	case CodecJSON, "":
		base = JSONCodec{}
	case CodecMsgpack:
		base = MsgpackCodec{}
	case CodecProto:
		base = ProtoCodec{}
	default:
		return nil, fmt.Errorf("unknown codec %q", codec)
	}
	compressor, err := CompressorByName(compression)
	if err != nil {
		return nil, err
	}
	if compressor == nil {
		return base, nil
	}
	return WithCompression(base, compressor), nil
}

// partial collects decoded fields before presence and range checks.
type partial struct {
	id                    *uint64
	x, y, vx, vy          *float64
	left, right, up, down *uint8
	hasIntent             bool
}

func (p partial) complete() (SyncMessage, error) {
	//1.- Every field of the snapshot is required.
	switch {
	case p.id == nil:
		return SyncMessage{}, missing("id")
	case p.x == nil:
		return SyncMessage{}, missing("x")
	case p.y == nil:
		return SyncMessage{}, missing("y")
	case p.vx == nil:
		return SyncMessage{}, missing("vx")
	case p.vy == nil:
		return SyncMessage{}, missing("vy")
	case !p.hasIntent:
		return SyncMessage{}, missing("intent")
	}
	//2.- Intent flags must each be present and 0 or 1.
	var intent input.Intent
	for _, f := range []struct {
		name  string
		value *uint8
		dst   *bool
	}{
		{"intent.left", p.left, &intent.Left},
		{"intent.right", p.right, &intent.Right},
		{"intent.up", p.up, &intent.Up},
		{"intent.down", p.down, &intent.Down},
	} {
		if f.value == nil {
			return SyncMessage{}, missing(f.name)
		}
		if *f.value > 1 {
			return SyncMessage{}, invalid(f.name, fmt.Sprintf("must be 0 or 1, got %d", *f.value))
		}
		*f.dst = *f.value == 1
	}
	msg := SyncMessage{ID: world.ID(*p.id), X: *p.x, Y: *p.y, VX: *p.vx, VY: *p.vy, Intent: intent}
	//3.- Range and finiteness checks run last.
	if err := msg.Validate(); err != nil {
		return SyncMessage{}, err
	}
	return msg, nil
}

// setID stores a dynamically typed id. Integral floats such as 42.0 are
// accepted; fractions, non-numbers and ids outside [1, MaxID] are not.
func (p *partial) setID(v any) error {
	if v == nil {
		return nil
	}
	n, ok := wireInteger(v)
	if !ok {
		return invalid("id", fmt.Sprintf("must be an integer, got %v", v))
	}
	if n <= 0 || n > world.MaxID {
		return invalid("id", fmt.Sprintf("must be in [1, %d], got %v", uint64(world.MaxID), v))
	}
	id := uint64(n)
	p.id = &id
	return nil
}

// setFlags stores dynamically typed intent flags. Each must be 0, 1, false or true.
func (p *partial) setFlags(left, right, up, down any) error {
	p.hasIntent = true
	for _, f := range []struct {
		name  string
		value any
		dst   **uint8
	}{
		{"intent.left", left, &p.left},
		{"intent.right", right, &p.right},
		{"intent.up", up, &p.up},
		{"intent.down", down, &p.down},
	} {
		if f.value == nil {
			continue
		}
		var flag uint8
		switch v := f.value.(type) {
		case bool:
			flag = flagValue(v)
		default:
			n, ok := wireInteger(v)
			if !ok || (n != 0 && n != 1) {
				return invalid(f.name, fmt.Sprintf("must be 0 or 1, got %v", f.value))
			}
			flag = uint8(n)
		}
		*f.dst = &flag
	}
	return nil
}

// wireInteger converts a decoded number of any width to int64 without
// wrapping. Values beyond the int64 range saturate so range checks reject them.
func wireInteger(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return saturate(uint64(n)), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return saturate(n), true
	case float32:
		return integralFloat(float64(n))
	case float64:
		return integralFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return integralFloat(f)
	}
	return 0, false
}

func saturate(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}

func integralFloat(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Trunc(f) != f {
		return 0, false
	}
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64, true
	case f <= math.MinInt64:
		return math.MinInt64, true
	}
	return int64(f), true
}

func flagValue(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}
