// Package relay fans sync frames out to every subscriber of a named channel.
// The relay never decodes frames; it only moves bytes.
package relay

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"arenasync/internal/logging"
)

// DefaultClientBuffer is the per-subscriber backlog before it is evicted as a slow consumer.
const DefaultClientBuffer = 256

var (
	// ErrTooManyClients is returned when the relay is at its subscriber cap.
	ErrTooManyClients = errors.New("relay: too many clients")
	// ErrInvalidChannel is returned for an empty channel name.
	ErrInvalidChannel = errors.New("relay: channel name required")
	// ErrHubClosed is returned by Join once the relay is shutting down.
	ErrHubClosed = errors.New("relay: hub closed")
)

// Client is one subscription on a channel.
type Client struct {
	id      string
	channel string
	send    chan []byte
	once    sync.Once
	evicted atomic.Bool
}

// ID returns the identifier given at Join.
func (c *Client) ID() string { return c.id }

// Channel returns the channel the client joined.
func (c *Client) Channel() string { return c.channel }

// Messages yields frames published on the channel. It is closed when the
// client leaves or is evicted.
func (c *Client) Messages() <-chan []byte { return c.send }

// Evicted reports whether the hub dropped the client for falling behind.
func (c *Client) Evicted() bool { return c.evicted.Load() }

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

type channelStats struct {
	broadcasts atomic.Uint64
	deliveries atomic.Uint64
	evictions  atomic.Uint64
}

// Hub tracks subscribers per channel. Every publish reaches all of them,
// including the publisher's own subscription.
type Hub struct {
	maxClients int
	logger     *logging.Logger

	mu       sync.RWMutex
	channels map[string]map[*Client]struct{}
	stats    map[string]*channelStats
	total    int
	closed   bool

	rateLimited atomic.Uint64
	oversized   atomic.Uint64
}

// NewHub constructs a hub admitting at most maxClients subscribers. Zero disables the cap.
func NewHub(maxClients int, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.L()
	}
	return &Hub{
		maxClients: maxClients,
		logger:     logger.With(logging.String("component", "relay_hub")),
		channels:   make(map[string]map[*Client]struct{}),
		stats:      make(map[string]*channelStats),
	}
}

// Join subscribes a new client to channel with a send backlog of buffer frames.
func (h *Hub) Join(channel, id string, buffer int) (*Client, error) {
	if channel == "" {
		return nil, ErrInvalidChannel
	}
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	if h.maxClients > 0 && h.total >= h.maxClients {
		return nil, ErrTooManyClients
	}
	client := &Client{id: id, channel: channel, send: make(chan []byte, buffer)}
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[*Client]struct{})
		h.channels[channel] = members
	}
	if _, ok := h.stats[channel]; !ok {
		h.stats[channel] = &channelStats{}
	}
	members[client] = struct{}{}
	h.total++
	h.logger.Debug("client joined", logging.String("channel", channel), logging.String("client_id", id), logging.Int("clients", len(members)))
	return client, nil
}

// Leave unsubscribes the client and closes its message stream. It is safe to
// call more than once and after an eviction.
func (h *Hub) Leave(c *Client) {
	if c == nil {
		return
	}
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) removeLocked(c *Client) {
	members, ok := h.channels[c.channel]
	if !ok {
		return
	}
	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)
	h.total--
	if len(members) == 0 {
		delete(h.channels, c.channel)
	}
}

// Close drops every subscriber and refuses new ones. Each client's message
// stream is closed so its connection can wind down.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var dropped []*Client
	for _, members := range h.channels {
		for c := range members {
			dropped = append(dropped, c)
		}
	}
	h.channels = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()
	for _, c := range dropped {
		c.close()
	}
	h.logger.Info("hub closed", logging.Int("clients", len(dropped)))
}

// Publish delivers payload to every subscriber of channel and returns how
// many received it. A subscriber whose backlog is full is evicted.
func (h *Hub) Publish(channel string, payload []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := h.stats[channel]
	if stats == nil {
		stats = &channelStats{}
		h.stats[channel] = stats
	}
	stats.broadcasts.Add(1)
	delivered := 0
	for c := range h.channels[channel] {
		select {
		case c.send <- payload:
			delivered++
		default:
			//1.- Slow consumers are cut loose rather than stalling the channel.
			c.evicted.Store(true)
			h.removeLocked(c)
			c.close()
			stats.evictions.Add(1)
			h.logger.Warn("slow client evicted", logging.String("channel", channel), logging.String("client_id", c.id))
		}
	}
	stats.deliveries.Add(uint64(delivered))
	return delivered
}

// Clients returns the number of subscribers across all channels.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// ChannelSnapshot summarises one channel.
type ChannelSnapshot struct {
	Name       string `json:"name"`
	Clients    int    `json:"clients"`
	Broadcasts uint64 `json:"broadcasts"`
	Deliveries uint64 `json:"deliveries"`
	Evictions  uint64 `json:"evictions"`
}

// StatsSnapshot is the relay state served at /api/stats.
type StatsSnapshot struct {
	Clients     int               `json:"clients"`
	RateLimited uint64            `json:"rate_limited"`
	Oversized   uint64            `json:"oversized"`
	Channels    []ChannelSnapshot `json:"channels"`
}

// Stats copies per-channel counters, sorted by channel name.
func (h *Hub) Stats() StatsSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := StatsSnapshot{
		Clients:     h.total,
		RateLimited: h.rateLimited.Load(),
		Oversized:   h.oversized.Load(),
		Channels:    make([]ChannelSnapshot, 0, len(h.stats)),
	}
	for name, stats := range h.stats {
		out.Channels = append(out.Channels, ChannelSnapshot{
			Name:       name,
			Clients:    len(h.channels[name]),
			Broadcasts: stats.broadcasts.Load(),
			Deliveries: stats.deliveries.Load(),
			Evictions:  stats.evictions.Load(),
		})
	}
	sort.Slice(out.Channels, func(i, j int) bool { return out.Channels[i].Name < out.Channels[j].Name })
	return out
}

func (h *Hub) noteRateLimited() { h.rateLimited.Add(1) }

func (h *Hub) noteOversized() { h.oversized.Add(1) }
