package relay

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"arenasync/internal/logging"
)

const (
	// ChannelQueryParam selects the channel on the WebSocket endpoint.
	ChannelQueryParam = "channel"
	// SecretHeader carries the shared secret on the WebSocket handshake.
	SecretHeader = "X-Sync-Secret"
	// SecretQueryParam is the query fallback for clients that cannot set headers.
	SecretQueryParam = "secret"

	writeWait = 10 * time.Second
)

// Options tunes the relay's transports.
type Options struct {
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	SharedSecret    string
	PublishWindow   time.Duration
	PublishBurst    int
	ClientBuffer    int
}

func (o Options) pingInterval() time.Duration {
	if o.PingInterval <= 0 {
		return 30 * time.Second
	}
	return o.PingInterval
}

// WebSocketHandler upgrades /ws requests and bridges the socket to the hub.
type WebSocketHandler struct {
	hub      *Hub
	opts     Options
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler builds the WebSocket endpoint.
func NewWebSocketHandler(hub *Hub, opts Options, logger *logging.Logger) *WebSocketHandler {
	if logger == nil {
		logger = logging.L()
	}
	h := &WebSocketHandler{
		hub:    hub,
		opts:   opts,
		logger: logger.With(logging.String("component", "relay_ws")),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, parsed.Host) {
			return true
		}
	}
	return false
}

func (h *WebSocketHandler) authorised(r *http.Request) bool {
	secret := strings.TrimSpace(h.opts.SharedSecret)
	if secret == "" {
		return true
	}
	candidate := strings.TrimSpace(r.Header.Get(SecretHeader))
	if candidate == "" {
		candidate = strings.TrimSpace(r.URL.Query().Get(SecretQueryParam))
	}
	return candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) == 1
}

// ServeHTTP handles one WebSocket subscriber.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger
	if traceID := logging.TraceIDFromContext(r.Context()); traceID != "" {
		logger = logger.With(logging.String(logging.TraceIDField, traceID))
	}
	channel := strings.TrimSpace(r.URL.Query().Get(ChannelQueryParam))
	if channel == "" {
		http.Error(w, "channel query parameter required", http.StatusBadRequest)
		return
	}
	if !h.authorised(r) {
		logger.Warn("websocket rejected: bad shared secret", logging.String("remote", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	//1.- Join before upgrading so a full relay answers with a plain HTTP status.
	clientID := uuid.NewString()
	client, err := h.hub.Join(channel, clientID, h.opts.ClientBuffer)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, ErrInvalidChannel) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.Leave(client)
		logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	logger = logger.With(logging.String("client_id", clientID), logging.String("channel", channel))
	logger.Info("websocket client connected", logging.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go h.writeLoop(conn, client, done, logger)
	h.readLoop(conn, client, logger)
	h.hub.Leave(client)
	<-done
	logger.Info("websocket client disconnected", logging.Bool("evicted", client.Evicted()))
}

func (h *WebSocketHandler) readLoop(conn *websocket.Conn, client *Client, logger *logging.Logger) {
	defer conn.Close()
	if h.opts.MaxPayloadBytes > 0 {
		conn.SetReadLimit(h.opts.MaxPayloadBytes)
	}
	//2.- Pongs extend the read deadline; a silent peer times out after two pings.
	idle := 2 * h.opts.pingInterval()
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	limiter := newPublishLimiter(h.opts.PublishWindow, h.opts.PublishBurst, nil)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				h.hub.noteOversized()
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read ended", logging.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		if !limiter.Allow() {
			h.hub.noteRateLimited()
			logger.Debug("publish rate limited")
			continue
		}
		h.hub.Publish(client.Channel(), payload)
	}
}

func (h *WebSocketHandler) writeLoop(conn *websocket.Conn, client *Client, done chan<- struct{}, logger *logging.Logger) {
	ticker := time.NewTicker(h.opts.pingInterval())
	defer func() {
		ticker.Stop()
		conn.Close()
		close(done)
	}()
	for {
		select {
		case payload, ok := <-client.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(MessageType(payload), payload); err != nil {
				logger.Debug("websocket write failed", logging.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// MessageType picks a text frame for UTF-8 payloads and a binary frame otherwise.
func MessageType(payload []byte) int {
	if utf8.Valid(payload) {
		return websocket.TextMessage
	}
	return websocket.BinaryMessage
}
