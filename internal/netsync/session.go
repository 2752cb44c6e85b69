package netsync

import (
	"errors"
	"fmt"
	"sync"

	"arenasync/internal/geom"
	"arenasync/internal/input"
	"arenasync/internal/logging"
	"arenasync/internal/physics"
	"arenasync/internal/protocol"
	"arenasync/internal/world"
)

// DefaultSpawnOffset places the local entity relative to the arena's top-left corner.
var DefaultSpawnOffset = geom.Vec2{X: 100, Y: 100}

// Recorder captures a session for offline re-simulation.
type Recorder interface {
	RecordFrame(tick uint64, dt float64, intent input.Intent) error
	RecordInbound(tick uint64, payload []byte) error
	RecordOutbound(tick uint64, payload []byte) error
	Close() error
}

// Config describes the arena and the wire format of a session.
type Config struct {
	Bounds       geom.Bounds
	Acceleration float64
	Radius       float64
	// Spawn overrides the local entity's starting position.
	Spawn *geom.Vec2
	// LocalID overrides the randomly drawn identifier of the local entity.
	LocalID   world.ID
	Codec     protocol.Codec
	QueueSize int
	Logger    *logging.Logger
}

// Session drives one participant: it owns the registry, the reconciler, the
// publisher and the transport handle, and is stepped by the frame driver.
type Session struct {
	cfg        Config
	world      *world.World
	localID    world.ID
	transport  Transport
	reconciler *Reconciler
	publisher  *Publisher
	edges      *input.EdgeDetector
	stats      *Stats
	logger     *logging.Logger

	mu       sync.Mutex
	recorder Recorder
	tick     uint64
	started  bool
	closed   bool
}

// NewSession builds the registry with one local entity and wires it to transport.
func NewSession(cfg Config, transport Transport) (*Session, error) {
	if transport == nil {
		return nil, errors.New("netsync: transport is required")
	}
	if cfg.Acceleration <= 0 {
		cfg.Acceleration = physics.DefaultAcceleration
	}
	if cfg.Radius <= 0 {
		cfg.Radius = physics.DefaultRadius
	}
	if cfg.Codec == nil {
		cfg.Codec = protocol.JSONCodec{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.L()
	}
	w, err := world.New(cfg.Bounds, world.WithTuning(cfg.Acceleration, cfg.Radius))
	if err != nil {
		return nil, fmt.Errorf("netsync: %w", err)
	}
	localID := cfg.LocalID
	if localID == 0 {
		if localID, err = world.NewID(); err != nil {
			return nil, err
		}
	}
	body := physics.NewBody(spawnPoint(cfg))
	body.Acceleration = cfg.Acceleration
	body.Radius = cfg.Radius
	if _, err := w.AddEntity(world.Entity{ID: localID, Body: body, Local: true}); err != nil {
		return nil, fmt.Errorf("netsync: add local entity: %w", err)
	}

	stats := &Stats{}
	logger := cfg.Logger.With(logging.Uint64("local_id", uint64(localID)))
	return &Session{
		cfg:        cfg,
		world:      w,
		localID:    localID,
		transport:  transport,
		reconciler: NewReconciler(w, cfg.Codec, cfg.QueueSize, logger, stats),
		publisher:  NewPublisher(w, localID, cfg.Codec, transport, logger, stats),
		edges:      input.NewEdgeDetector(input.Intent{}),
		stats:      stats,
		logger:     logger.With(logging.String("component", "session")),
	}, nil
}

func spawnPoint(cfg Config) geom.Vec2 {
	if cfg.Spawn != nil {
		return *cfg.Spawn
	}
	spawn := geom.Vec2{X: cfg.Bounds.Left + DefaultSpawnOffset.X, Y: cfg.Bounds.Top + DefaultSpawnOffset.Y}
	//1.- Small arenas start in the middle instead.
	if spawn.X+cfg.Radius > cfg.Bounds.Right || spawn.Y+cfg.Radius > cfg.Bounds.Bottom {
		return cfg.Bounds.Center()
	}
	return spawn
}

// SetRecorder attaches a recorder. It must be called before Start.
func (s *Session) SetRecorder(recorder Recorder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return errors.New("netsync: recorder must be attached before start")
	}
	s.recorder = recorder
	return nil
}

// Start subscribes to the channel and announces the local entity once so
// idle peers become visible before their first input transition.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	if err := s.transport.Subscribe(func(payload []byte) { s.reconciler.Enqueue(payload) }); err != nil {
		return fmt.Errorf("netsync: subscribe: %w", err)
	}
	s.started = true
	s.logger.Info("session started", logging.String("codec", s.cfg.Codec.Name()))
	if payload, err := s.publisher.Announce(); err != nil {
		s.logger.Warn("announce failed", logging.Error(err))
	} else {
		s.recordOutbound(payload)
	}
	return nil
}

// Step runs one tick: queued inbound frames are reconciled, an intent
// transition is published, then every entity is integrated by dt seconds.
func (s *Session) Step(dt float64, intent input.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	tick := s.tick
	//1.- Inbound state lands before integration so it is never a tick stale.
	s.reconciler.Drain(func(raw []byte, outcome Outcome) {
		if s.recorder == nil {
			return
		}
		if err := s.recorder.RecordInbound(tick, raw); err != nil {
			s.logger.Warn("record inbound failed", logging.Error(err))
		}
	})
	//2.- Publish the pre-step snapshot so peers integrate from the same state.
	previous := s.edges.Last()
	if s.edges.Observe(intent) {
		payload, err := s.publisher.OnIntentChanged(intent)
		if err != nil {
			//3.- Peers never heard this transition; retry it on the next tick.
			s.edges.Rearm(previous)
			s.logger.Warn("publish failed", logging.Stringer("intent", intent), logging.Error(err))
		} else {
			s.recordOutbound(payload)
		}
	}
	s.world.Tick(world.Frame{DT: dt, Intent: intent})
	if s.recorder != nil {
		if err := s.recorder.RecordFrame(tick, dt, intent); err != nil {
			s.logger.Warn("record frame failed", logging.Error(err))
		}
	}
	s.tick++
	return nil
}

func (s *Session) recordOutbound(payload []byte) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordOutbound(s.tick, payload); err != nil {
		s.logger.Warn("record outbound failed", logging.Error(err))
	}
}

// Close unsubscribes, stops the reconciler and closes the recorder. Frames
// delivered afterwards are ignored.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if s.started {
		if err := s.transport.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
		}
	}
	s.reconciler.Close()
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close recorder: %w", err))
		}
	}
	snap := s.stats.Snapshot()
	s.logger.Info("session closed",
		logging.Int64("ticks", int64(s.tick)),
		logging.Uint64("received", snap.Received),
		logging.Uint64("materialized", snap.Materialized),
		logging.Uint64("published", snap.Published))
	return errors.Join(errs...)
}

// World exposes the registry for rendering and inspection.
func (s *Session) World() *world.World { return s.world }

// LocalID returns the identifier of the locally owned entity.
func (s *Session) LocalID() world.ID { return s.localID }

// Local returns a copy of the locally owned entity.
func (s *Session) Local() world.Entity {
	e, _ := s.world.FindByID(s.localID)
	return e
}

// Reconciler exposes the inbound path, for callers that deliver frames themselves.
func (s *Session) Reconciler() *Reconciler { return s.reconciler }

// Publisher exposes the outbound path.
func (s *Session) Publisher() *Publisher { return s.publisher }

// Stats returns a copy of the session counters.
func (s *Session) Stats() StatsSnapshot { return s.stats.Snapshot() }

// Ticks returns how many steps have run.
func (s *Session) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}
