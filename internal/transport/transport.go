// Package transport provides the netsync.Transport implementations a node can
// connect through: in-process, WebSocket and gRPC.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"arenasync/internal/config"
	"arenasync/internal/logging"
	"arenasync/internal/netsync"
)

// DefaultSendBuffer is the number of outbound frames queued before Publish fails fast.
const DefaultSendBuffer = 64

// ErrSendBufferFull is returned by Publish when the connection cannot keep up.
var ErrSendBufferFull = errors.New("transport: send buffer full")

// Conn is a Transport that owns a network connection.
type Conn interface {
	netsync.Transport
	Close() error
}

// Dial opens the transport selected by the node configuration.
func Dial(ctx context.Context, cfg *config.NodeConfig, logger *logging.Logger) (Conn, error) {
	if cfg == nil {
		return nil, errors.New("transport: node config is required")
	}
	switch cfg.Transport {
	case config.TransportWebSocket:
		return DialWebSocket(ctx, WebSocketOptions{
			URL:          cfg.RelayURL,
			Channel:      cfg.Channel,
			SharedSecret: cfg.SharedSecret,
			Logger:       logger,
		})
	case config.TransportGRPC:
		return DialGRPC(ctx, GRPCOptions{
			Target:       cfg.RelayURL,
			Channel:      cfg.Channel,
			SharedSecret: cfg.SharedSecret,
			Logger:       logger,
		})
	default:
		return nil, fmt.Errorf("transport: unknown transport %q", cfg.Transport)
	}
}

// delivery guards the subscriber handler so that no call starts after
// unsubscribe returns.
type delivery struct {
	mu      sync.RWMutex
	handler netsync.Handler
}

func (d *delivery) subscribe(handler netsync.Handler) error {
	if handler == nil {
		return errors.New("transport: handler is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handler != nil {
		return netsync.ErrAlreadySubscribed
	}
	d.handler = handler
	return nil
}

func (d *delivery) unsubscribe() {
	d.mu.Lock()
	d.handler = nil
	d.mu.Unlock()
}

func (d *delivery) deliver(payload []byte) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.handler == nil {
		return false
	}
	d.handler(payload)
	return true
}

// outbox is the bounded queue between Publish and the connection's writer.
type outbox struct {
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func newOutbox(size int) *outbox {
	if size <= 0 {
		size = DefaultSendBuffer
	}
	return &outbox{queue: make(chan []byte, size), done: make(chan struct{})}
}

func (o *outbox) push(payload []byte) error {
	select {
	case <-o.done:
		return netsync.ErrClosed
	default:
	}
	frame := append([]byte(nil), payload...)
	select {
	case o.queue <- frame:
		return nil
	case <-o.done:
		return netsync.ErrClosed
	default:
		return ErrSendBufferFull
	}
}

func (o *outbox) close() {
	o.once.Do(func() { close(o.done) })
}

func (o *outbox) closed() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}
