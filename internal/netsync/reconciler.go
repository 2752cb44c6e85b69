package netsync

import (
	"sync"

	"arenasync/internal/logging"
	"arenasync/internal/protocol"
	"arenasync/internal/world"
)

// DefaultQueueSize bounds the inbound frame queue when no size is configured.
const DefaultQueueSize = 256

// Outcome reports what reconciling one snapshot did to the registry.
type Outcome int

const (
	// OutcomeRejected means the payload was malformed and the registry is untouched.
	OutcomeRejected Outcome = iota
	// OutcomeSelfEcho means the snapshot described a local entity and was discarded.
	OutcomeSelfEcho
	// OutcomeApplied means a known remote entity was overwritten.
	OutcomeApplied
	// OutcomeMaterialized means a new remote entity was inserted.
	OutcomeMaterialized
	// OutcomeClosed means the reconciler had shut down and ignored the snapshot.
	OutcomeClosed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeSelfEcho:
		return "self_echo"
	case OutcomeApplied:
		return "applied"
	case OutcomeMaterialized:
		return "materialized"
	case OutcomeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Reconciler merges inbound snapshots into a World. Transport callbacks only
// enqueue raw frames; the tick loop drains them before integrating.
type Reconciler struct {
	world   *world.World
	codec   protocol.Codec
	logger  *logging.Logger
	stats   *Stats
	inbound chan []byte

	mu     sync.RWMutex
	closed bool
}

// NewReconciler constructs a reconciler for w decoding frames with codec.
func NewReconciler(w *world.World, codec protocol.Codec, queueSize int, logger *logging.Logger, stats *Stats) *Reconciler {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if codec == nil {
		codec = protocol.JSONCodec{}
	}
	if logger == nil {
		logger = logging.L()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Reconciler{
		world:   w,
		codec:   codec,
		logger:  logger.With(logging.String("component", "reconciler")),
		stats:   stats,
		inbound: make(chan []byte, queueSize),
	}
}

// Enqueue queues a raw frame for the next Drain without blocking. It reports
// false when the frame was dropped because the queue is full or the
// reconciler is closed.
func (r *Reconciler) Enqueue(raw []byte) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	r.stats.received.Add(1)
	//1.- Transports may reuse their read buffers once the handler returns.
	frame := append([]byte(nil), raw...)
	select {
	case r.inbound <- frame:
		return true
	default:
		r.stats.queueDropped.Add(1)
		r.logger.Debug("inbound queue full, frame dropped", logging.Int("queue_capacity", cap(r.inbound)))
		return false
	}
}

// Pending reports how many frames wait for the next Drain.
func (r *Reconciler) Pending() int {
	if r == nil {
		return 0
	}
	return len(r.inbound)
}

// Drain reconciles the frames queued when it was called and returns how many
// it handled. visit, when non-nil, sees every frame with its outcome.
func (r *Reconciler) Drain(visit func(raw []byte, outcome Outcome)) int {
	if r == nil {
		return 0
	}
	//1.- Bound the pass so a flooding peer cannot starve the tick.
	pending := len(r.inbound)
	handled := 0
	for ; handled < pending; handled++ {
		var raw []byte
		select {
		case raw = <-r.inbound:
		default:
			return handled
		}
		outcome, _ := r.HandleFrame(raw)
		if outcome == OutcomeClosed {
			return handled
		}
		if visit != nil {
			visit(raw, outcome)
		}
	}
	return handled
}

// HandleFrame decodes and reconciles one raw frame immediately.
func (r *Reconciler) HandleFrame(raw []byte) (Outcome, error) {
	if r.isClosed() {
		return OutcomeClosed, ErrClosed
	}
	msg, err := r.codec.Decode(raw)
	if err != nil {
		r.stats.observe(OutcomeRejected)
		r.logger.Debug("malformed snapshot dropped", logging.String("codec", r.codec.Name()), logging.Int("bytes", len(raw)), logging.Error(err))
		return OutcomeRejected, err
	}
	return r.Reconcile(msg)
}

// Reconcile applies one decoded snapshot. A snapshot for a local entity is
// discarded, one for a known remote entity overwrites its kinematics and
// intent, and one for an unseen id materialises a new remote entity. The
// lookup and the write happen under a single registry lock. Errors never
// leave the registry partially updated.
func (r *Reconciler) Reconcile(msg protocol.SyncMessage) (Outcome, error) {
	if r.isClosed() {
		return OutcomeClosed, ErrClosed
	}
	if err := msg.Validate(); err != nil {
		r.stats.observe(OutcomeRejected)
		r.logger.Debug("invalid snapshot dropped", logging.Uint64("entity_id", uint64(msg.ID)), logging.Error(err))
		return OutcomeRejected, err
	}
	outcome := OutcomeRejected
	err := r.world.Update(func(tx *world.Tx) error {
		if e, ok := tx.Find(msg.ID); ok {
			//1.- Our own publishes come back on the shared channel.
			if e.Local {
				outcome = OutcomeSelfEcho
				return nil
			}
			//2.- Last writer wins; snapshots replace state wholesale.
			e.Position = msg.Position()
			e.Velocity = msg.Velocity()
			e.Intent = msg.Intent
			outcome = OutcomeApplied
			return nil
		}
		//3.- First sighting of a peer: materialise it with default tuning.
		if _, err := tx.Insert(tx.NewRemote(msg.ID, msg.Position(), msg.Velocity(), msg.Intent)); err != nil {
			return err
		}
		outcome = OutcomeMaterialized
		return nil
	})
	if err != nil {
		r.stats.observe(OutcomeRejected)
		r.logger.Warn("snapshot could not be applied", logging.Uint64("entity_id", uint64(msg.ID)), logging.Error(err))
		return OutcomeRejected, err
	}
	r.stats.observe(outcome)
	if outcome == OutcomeMaterialized {
		r.logger.Info("remote entity discovered", logging.Uint64("entity_id", uint64(msg.ID)))
	}
	return outcome, nil
}

// Close stops the reconciler. Queued frames are discarded and later
// deliveries are ignored.
func (r *Reconciler) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	for {
		select {
		case <-r.inbound:
		default:
			return
		}
	}
}

func (r *Reconciler) isClosed() bool {
	if r == nil {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}
