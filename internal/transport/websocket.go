package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arenasync/internal/logging"
	"arenasync/internal/netsync"
	"arenasync/internal/relay"
)

const wsWriteWait = 10 * time.Second

// WebSocketOptions configures a relay connection over WebSocket.
type WebSocketOptions struct {
	// URL is the relay endpoint, for example ws://127.0.0.1:43127/ws.
	URL          string
	Channel      string
	SharedSecret string
	Dialer       *websocket.Dialer
	SendBuffer   int
	Logger       *logging.Logger
}

// WebSocket is a Transport backed by one relay WebSocket.
type WebSocket struct {
	conn     *websocket.Conn
	out      *outbox
	inbound  delivery
	logger   *logging.Logger
	wg       sync.WaitGroup
	closeErr error
	closing  sync.Once
}

func websocketURL(raw, channel string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("transport: parse relay url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("transport: relay url must use ws or wss, got %q", parsed.Scheme)
	}
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("transport: channel is required")
	}
	query := parsed.Query()
	query.Set(relay.ChannelQueryParam, channel)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// DialWebSocket connects to the relay and starts the read and write pumps.
func DialWebSocket(ctx context.Context, opts WebSocketOptions) (*WebSocket, error) {
	target, err := websocketURL(opts.URL, opts.Channel)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if secret := strings.TrimSpace(opts.SharedSecret); secret != "" {
		header.Set(relay.SecretHeader, secret)
	}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: %w (status %d)", opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", opts.URL, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	ws := &WebSocket{
		conn:   conn,
		out:    newOutbox(opts.SendBuffer),
		logger: logger.With(logging.String("component", "transport_ws"), logging.String("channel", opts.Channel)),
	}
	ws.wg.Add(2)
	go ws.readPump()
	go ws.writePump()
	ws.logger.Info("connected to relay", logging.String("url", opts.URL))
	return ws, nil
}

// Publish queues payload for the writer without waiting for the network.
func (ws *WebSocket) Publish(payload []byte) error {
	return ws.out.push(payload)
}

// Subscribe starts delivering inbound frames to handler.
func (ws *WebSocket) Subscribe(handler netsync.Handler) error {
	if ws.out.closed() {
		return netsync.ErrClosed
	}
	return ws.inbound.subscribe(handler)
}

// Unsubscribe stops delivery. The connection stays open for publishing.
func (ws *WebSocket) Unsubscribe() error {
	ws.inbound.unsubscribe()
	return nil
}

// Close sends a close frame, tears the connection down and waits for the pumps.
func (ws *WebSocket) Close() error {
	ws.shutdown()
	ws.wg.Wait()
	return ws.closeErr
}

func (ws *WebSocket) shutdown() {
	ws.closing.Do(func() {
		ws.out.close()
		ws.inbound.unsubscribe()
		deadline := time.Now().Add(wsWriteWait)
		_ = ws.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		ws.closeErr = ws.conn.Close()
	})
}

func (ws *WebSocket) readPump() {
	defer ws.wg.Done()
	for {
		_, payload, err := ws.conn.ReadMessage()
		if err != nil {
			if !ws.out.closed() {
				ws.logger.Warn("relay connection lost", logging.Error(err))
			}
			ws.shutdown()
			return
		}
		ws.inbound.deliver(payload)
	}
}

func (ws *WebSocket) writePump() {
	defer ws.wg.Done()
	for {
		select {
		case <-ws.out.done:
			return
		case payload := <-ws.out.queue:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.conn.WriteMessage(relay.MessageType(payload), payload); err != nil {
				ws.logger.Warn("relay write failed", logging.Error(err))
				ws.shutdown()
				return
			}
		}
	}
}
