package transport

import (
	"sync"

	"github.com/google/uuid"

	"arenasync/internal/logging"
	"arenasync/internal/netsync"
	"arenasync/internal/relay"
)

// Local connects a session straight to an in-process relay hub.
type Local struct {
	hub     *relay.Hub
	channel string
	id      string
	logger  *logging.Logger

	mu     sync.Mutex
	client *relay.Client
	done   chan struct{}
	closed bool
}

// NewLocal binds a transport to channel on hub.
func NewLocal(hub *relay.Hub, channel string, logger *logging.Logger) *Local {
	if logger == nil {
		logger = logging.L()
	}
	id := uuid.NewString()
	return &Local{
		hub:     hub,
		channel: channel,
		id:      id,
		logger:  logger.With(logging.String("component", "transport_local"), logging.String("client_id", id)),
	}
}

// Publish hands payload to every subscriber of the channel, this one included.
func (l *Local) Publish(payload []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return netsync.ErrClosed
	}
	l.hub.Publish(l.channel, append([]byte(nil), payload...))
	return nil
}

// Subscribe joins the channel and forwards every frame to handler on a
// dedicated goroutine.
func (l *Local) Subscribe(handler netsync.Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return netsync.ErrClosed
	}
	if l.client != nil {
		return netsync.ErrAlreadySubscribed
	}
	client, err := l.hub.Join(l.channel, l.id, 0)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	l.client, l.done = client, done
	go func() {
		defer close(done)
		for payload := range client.Messages() {
			handler(payload)
		}
		if client.Evicted() {
			l.logger.Warn("local subscriber evicted by hub")
		}
	}()
	return nil
}

// Unsubscribe leaves the channel and waits for the forwarding goroutine.
func (l *Local) Unsubscribe() error {
	l.mu.Lock()
	client, done := l.client, l.done
	l.client, l.done = nil, nil
	l.mu.Unlock()
	if client == nil {
		return nil
	}
	l.hub.Leave(client)
	<-done
	return nil
}

// Close unsubscribes and rejects further publishes.
func (l *Local) Close() error {
	err := l.Unsubscribe()
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return err
}
