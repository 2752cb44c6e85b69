package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/google/uuid"

	"arenasync/internal/config"
	"arenasync/internal/geom"
	"arenasync/internal/input"
	"arenasync/internal/logging"
	"arenasync/internal/netsync"
	"arenasync/internal/protocol"
	"arenasync/internal/render"
	"arenasync/internal/replay"
	"arenasync/internal/simulation"
	"arenasync/internal/transport"
)

// node wires one session to its transport, frame driver and input source.
type node struct {
	cfg       *config.NodeConfig
	conn      transport.Conn
	session   *netsync.Session
	loop      *simulation.Loop
	monitor   *simulation.TickMonitor
	sessionID string
	logger    *logging.Logger

	steer  func(dt time.Duration) input.Intent
	draw   func()
	mu     sync.Mutex
	failed error
}

// newNode builds the session over conn. When the config names a record
// directory the session is recorded there after pruning old bundles.
func newNode(cfg *config.NodeConfig, conn transport.Conn, logger *logging.Logger) (*node, error) {
	codec, err := protocol.CodecByName(cfg.Codec, cfg.Compression)
	if err != nil {
		return nil, err
	}
	bounds := geom.Rect(cfg.ArenaWidth, cfg.ArenaHeight)
	session, err := netsync.NewSession(netsync.Config{
		Bounds:       bounds,
		Acceleration: cfg.Acceleration,
		Radius:       cfg.Radius,
		Codec:        codec,
		QueueSize:    cfg.InboundQueue,
		Logger:       logger,
	}, conn)
	if err != nil {
		return nil, err
	}
	n := &node{
		cfg:       cfg,
		conn:      conn,
		session:   session,
		monitor:   simulation.NewTickMonitor(),
		sessionID: uuid.NewString(),
		logger:    logger.With(logging.Uint64("local_id", uint64(session.LocalID()))),
	}
	if cfg.RecordDir != "" {
		if err := n.attachRecorder(bounds); err != nil {
			_ = session.Close()
			return nil, err
		}
	}
	//1.- Headless nodes wander on a script seeded by their own id.
	wander := input.NewWander(uint64(session.LocalID()), 0, 0)
	n.steer = wander.Next
	n.loop = simulation.NewLoop(float64(cfg.MaxHz), n.step)
	return n, nil
}

func (n *node) attachRecorder(bounds geom.Bounds) error {
	cleaner := replay.NewCleaner(n.cfg.RecordDir, replay.RetentionPolicy{
		MaxBundles: n.cfg.RecordKeep,
		MaxAge:     n.cfg.RecordMaxAge,
	}, n.logger)
	cleaner.RunOnce()
	header := replay.SessionHeader(n.sessionID, n.cfg.Channel, n.cfg.Codec, n.cfg.Compression, bounds, n.session.Local())
	writer, _, err := replay.NewWriter(n.cfg.RecordDir, header, nil)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	if err := n.session.SetRecorder(writer); err != nil {
		_ = writer.Close()
		return err
	}
	n.logger.Info("recording session", logging.String("dir", writer.Directory()))
	return nil
}

// attachTerminal replaces the wander script with keyboard input and renders
// every tick onto screen. Quit keys call quit.
func (n *node) attachTerminal(screen tcell.Screen, quit func()) {
	keys := render.NewKeyMapper()
	term := render.NewTerminal(screen, n.session.World().Bounds())
	n.steer = func(time.Duration) input.Intent { return keys.Intent() }
	n.draw = func() {
		snap := n.session.Stats()
		status := fmt.Sprintf(" id %s  %s  peers %d  rx %d  tx %d  q:quit",
			n.session.LocalID(), keys.Intent(), n.session.World().Len()-1, snap.Received, snap.Published)
		term.Frame(n.session.World(), status)
	}
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			if _, ok := ev.(*tcell.EventResize); ok {
				screen.Sync()
				continue
			}
			if keys.Handle(ev) == render.ActionQuit {
				quit()
				return
			}
		}
	}()
}

func (n *node) step(dt time.Duration) {
	started := time.Now()
	if dt >= simulation.DefaultMaxStep {
		n.monitor.ObserveClamp()
	}
	if err := n.session.Step(dt.Seconds(), n.steer(dt)); err != nil {
		n.fail(err)
		return
	}
	if n.draw != nil {
		n.draw()
	}
	n.monitor.Observe(time.Since(started))
}

func (n *node) fail(err error) {
	n.mu.Lock()
	if n.failed == nil {
		n.failed = err
	}
	n.mu.Unlock()
}

// run starts the session and ticks until ctx ends, then shuts down in order:
// frame driver, session, transport.
func (n *node) run(ctx context.Context) error {
	if err := n.session.Start(); err != nil {
		return err
	}
	n.logger.Info("node running",
		logging.String("session_id", n.sessionID),
		logging.String("transport", n.cfg.Transport),
		logging.String("channel", n.cfg.Channel),
		logging.Int("max_hz", n.cfg.MaxHz))
	n.loop.Run(ctx)
	return n.shutdown()
}

func (n *node) shutdown() error {
	n.loop.Stop()
	var errs []error
	if err := n.session.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := n.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	n.mu.Lock()
	if n.failed != nil && !errors.Is(n.failed, netsync.ErrClosed) {
		errs = append(errs, n.failed)
	}
	n.mu.Unlock()
	ticks := n.monitor.Snapshot()
	n.logger.Info("node stopped",
		logging.Uint64("ticks", n.session.Ticks()),
		logging.Duration("step_avg", ticks.Average),
		logging.Duration("step_max", ticks.Max),
		logging.Int("clamped", ticks.Clamped),
		logging.Float64("fps_equivalent", ticks.AverageFPS()))
	return errors.Join(errs...)
}
