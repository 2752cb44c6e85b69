package netsync

import (
	"fmt"

	"arenasync/internal/input"
	"arenasync/internal/logging"
	"arenasync/internal/protocol"
	"arenasync/internal/world"
)

// Publisher snapshots the locally owned entity and hands it to the transport.
// It publishes on input transitions only; there is no heartbeat.
type Publisher struct {
	world     *world.World
	localID   world.ID
	codec     protocol.Codec
	transport Transport
	logger    *logging.Logger
	stats     *Stats
}

// NewPublisher binds a publisher to the local entity localID of w.
func NewPublisher(w *world.World, localID world.ID, codec protocol.Codec, transport Transport, logger *logging.Logger, stats *Stats) *Publisher {
	if codec == nil {
		codec = protocol.JSONCodec{}
	}
	if logger == nil {
		logger = logging.L()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Publisher{
		world:     w,
		localID:   localID,
		codec:     codec,
		transport: transport,
		logger:    logger.With(logging.String("component", "publisher"), logging.Uint64("entity_id", uint64(localID))),
		stats:     stats,
	}
}

// OnIntentChanged records the new intent on the local entity, then publishes a
// snapshot of it. The returned payload is what went on the wire.
func (p *Publisher) OnIntentChanged(intent input.Intent) ([]byte, error) {
	var snapshot protocol.SyncMessage
	err := p.world.Update(func(tx *world.Tx) error {
		e, ok := tx.Find(p.localID)
		if !ok {
			return fmt.Errorf("%w: %s", world.ErrNotFound, p.localID)
		}
		if !e.Local {
			return fmt.Errorf("entity %s is not locally owned", p.localID)
		}
		e.Intent = intent
		snapshot = protocol.FromEntity(*e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.Debug("intent changed", logging.Stringer("intent", intent))
	return p.publish(snapshot)
}

// Announce publishes the local entity's current state without changing it.
func (p *Publisher) Announce() ([]byte, error) {
	e, ok := p.world.FindByID(p.localID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", world.ErrNotFound, p.localID)
	}
	return p.publish(protocol.FromEntity(e))
}

func (p *Publisher) publish(msg protocol.SyncMessage) ([]byte, error) {
	payload, err := p.codec.Encode(msg)
	if err != nil {
		p.stats.publishFailed.Add(1)
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if p.transport == nil {
		p.stats.publishFailed.Add(1)
		return nil, fmt.Errorf("publish snapshot: no transport")
	}
	if err := p.transport.Publish(payload); err != nil {
		p.stats.publishFailed.Add(1)
		return nil, fmt.Errorf("publish snapshot: %w", err)
	}
	p.stats.published.Add(1)
	return payload, nil
}
