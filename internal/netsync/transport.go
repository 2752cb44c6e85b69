// Package netsync merges asynchronously delivered snapshots into a World and
// publishes the locally owned entity on input transitions.
package netsync

import "errors"

var (
	// ErrClosed is returned by operations on a transport or session that has shut down.
	ErrClosed = errors.New("netsync: closed")
	// ErrAlreadySubscribed signals a second Subscribe without an Unsubscribe in between.
	ErrAlreadySubscribed = errors.New("netsync: already subscribed")
)

// Handler receives one inbound payload. It may run on any goroutine and must
// not block.
type Handler func(payload []byte)

// Transport is the publish/subscribe channel shared by every participant.
// Subscribers also receive their own publishes.
type Transport interface {
	//1.- Publish hands a payload to the channel without waiting for delivery.
	Publish(payload []byte) error
	//2.- Subscribe registers the single handler invoked per inbound payload.
	Subscribe(handler Handler) error
	//3.- Unsubscribe stops delivery; no handler call starts after it returns.
	Unsubscribe() error
}
