// Package replayplayer re-runs a recorded session bundle without a network.
package replayplayer

import (
	"fmt"

	"arenasync/internal/input"
	"arenasync/internal/logging"
	"arenasync/internal/netsync"
	"arenasync/internal/physics"
	"arenasync/internal/protocol"
	"arenasync/internal/replay"
	"arenasync/internal/world"
)

// EntityState is the JSON form of one registry entry after re-simulation.
type EntityState struct {
	ID       uint64       `json:"id"`
	Local    bool         `json:"local"`
	Position replay.Vec   `json:"position"`
	Velocity replay.Vec   `json:"velocity"`
	Intent   input.Intent `json:"intent"`
	Color    uint8        `json:"color"`
}

// Result summarises a re-simulation.
type Result struct {
	SessionID string                `json:"session_id"`
	Ticks     int                   `json:"ticks"`
	Stats     netsync.StatsSnapshot `json:"stats"`
	Entities  []EntityState         `json:"entities"`

	world *world.World
}

// World returns the re-simulated registry.
func (r *Result) World() *world.World { return r.world }

// Resimulate rebuilds the registry from the header and replays every tick:
// inbound frames drained at a tick are reconciled before that tick integrates.
func Resimulate(bundle *replay.Bundle, logger *logging.Logger) (*Result, error) {
	if bundle == nil {
		return nil, fmt.Errorf("bundle is required")
	}
	if logger == nil {
		logger = logging.L()
	}
	header := bundle.Header
	codec, err := protocol.CodecByName(header.Codec, header.Compression)
	if err != nil {
		return nil, err
	}
	w, err := world.New(header.Arena.Bounds(), world.WithTuning(header.Acceleration, header.Radius))
	if err != nil {
		return nil, err
	}
	//1.- The local entity starts exactly where the live session spawned it.
	body := physics.NewBody(header.Position.Geom())
	body.Velocity = header.Velocity.Geom()
	body.Acceleration = header.Acceleration
	body.Radius = header.Radius
	if _, err := w.AddEntity(world.Entity{ID: world.ID(header.LocalID), Body: body, Local: true}); err != nil {
		return nil, fmt.Errorf("seed local entity: %w", err)
	}

	stats := &netsync.Stats{}
	reconciler := netsync.NewReconciler(w, codec, 0, logger, stats)
	inbound := bundle.InboundByTick()
	for _, frame := range bundle.Frames {
		//2.- Rejected frames are replayed too; they were rejected live as well.
		for _, payload := range inbound[frame.Tick] {
			_, _ = reconciler.HandleFrame(payload)
		}
		w.Tick(world.Frame{DT: frame.DT, Intent: frame.Intent})
	}

	result := &Result{
		SessionID: header.SessionID,
		Ticks:     len(bundle.Frames),
		Stats:     stats.Snapshot(),
		world:     w,
	}
	for _, e := range w.Entities() {
		result.Entities = append(result.Entities, EntityState{
			ID:       uint64(e.ID),
			Local:    e.Local,
			Position: replay.VecOf(e.Position),
			Velocity: replay.VecOf(e.Velocity),
			Intent:   e.Intent,
			Color:    e.Color,
		})
	}
	logger.Info("replay finished",
		logging.String("session_id", header.SessionID),
		logging.Int("ticks", result.Ticks),
		logging.Int("entities", len(result.Entities)))
	return result, nil
}

// ReplayBundle loads the bundle at path and re-simulates it.
func ReplayBundle(path string, logger *logging.Logger) (*Result, error) {
	bundle, err := replay.Load(path)
	if err != nil {
		return nil, err
	}
	return Resimulate(bundle, logger)
}
