package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"arenasync/internal/geom"
	"arenasync/internal/world"
)

// HeaderSchemaVersion tracks the schema version for session header documents.
const HeaderSchemaVersion = 1

// Vec is the JSON form of a vector.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VecOf converts a geom vector.
func VecOf(v geom.Vec2) Vec { return Vec{X: v.X, Y: v.Y} }

// Geom converts back to a geom vector.
func (v Vec) Geom() geom.Vec2 { return geom.Vec2{X: v.X, Y: v.Y} }

// Arena is the JSON form of the arena rectangle.
type Arena struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// ArenaOf converts geom bounds.
func ArenaOf(b geom.Bounds) Arena {
	return Arena{Left: b.Left, Top: b.Top, Right: b.Right, Bottom: b.Bottom}
}

// Bounds converts back to geom bounds.
func (a Arena) Bounds() geom.Bounds {
	return geom.Bounds{Left: a.Left, Top: a.Top, Right: a.Right, Bottom: a.Bottom}
}

// Header is the metadata needed to rebuild the session's starting registry.
type Header struct {
	SchemaVersion int     `json:"schema_version"`
	SessionID     string  `json:"session_id"`
	Channel       string  `json:"channel,omitempty"`
	Codec         string  `json:"codec"`
	Compression   string  `json:"compression,omitempty"`
	LocalID       uint64  `json:"local_id"`
	Position      Vec     `json:"position"`
	Velocity      Vec     `json:"velocity"`
	Acceleration  float64 `json:"acceleration"`
	Radius        float64 `json:"radius"`
	Arena         Arena   `json:"arena"`
	FilePointer   string  `json:"file_pointer"`
}

// SessionHeader captures the starting state of a session and its local entity.
func SessionHeader(sessionID, channel, codec, compression string, bounds geom.Bounds, local world.Entity) Header {
	return Header{
		SchemaVersion: HeaderSchemaVersion,
		SessionID:     sessionID,
		Channel:       channel,
		Codec:         codec,
		Compression:   compression,
		LocalID:       uint64(local.ID),
		Position:      VecOf(local.Position),
		Velocity:      VecOf(local.Velocity),
		Acceleration:  local.Acceleration,
		Radius:        local.Radius,
		Arena:         ArenaOf(bounds),
		FilePointer:   manifestFile,
	}
}

// Validate ensures the header can seed a re-simulation.
func (h Header) Validate() error {
	if h.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be positive")
	}
	if strings.TrimSpace(h.FilePointer) == "" {
		return fmt.Errorf("file_pointer must not be empty")
	}
	if h.LocalID == 0 {
		return fmt.Errorf("local_id must be set")
	}
	if strings.TrimSpace(h.Codec) == "" {
		return fmt.Errorf("codec must not be empty")
	}
	//1.- A bundle recorded against a degenerate arena cannot be replayed.
	return h.Arena.Bounds().Validate()
}

// WriteHeader persists the supplied header to the provided file path.
func WriteHeader(path string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// ReadHeader loads and validates a session header from disk.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, err
	}
	if err := header.Validate(); err != nil {
		return Header{}, err
	}
	return header, nil
}
