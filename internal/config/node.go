package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	TransportWebSocket = "websocket"
	TransportGRPC      = "grpc"

	DefaultRelayURL      = "ws://127.0.0.1:43127/ws"
	DefaultChannel       = "arena"
	DefaultCodec         = "json"
	DefaultCompression   = "none"
	DefaultMaxHz         = 50
	DefaultArenaWidth    = 640.0
	DefaultArenaHeight   = 400.0
	DefaultAcceleration  = 500.0
	DefaultRadius        = 20.0
	DefaultInboundQueue  = 256
	DefaultNodeLogPath   = "syncnode.log"
	DefaultRecordKeep    = 20
	DefaultRecordMaxAge  = 7 * 24 * time.Hour
	maxArenaDimension    = 1e9
	maxChannelNameLength = 92
)

// NodeConfig captures the tunables of one participant process.
type NodeConfig struct {
	Transport    string
	RelayURL     string
	Channel      string
	SharedSecret string
	Codec        string
	Compression  string
	MaxHz        int
	ArenaWidth   float64
	ArenaHeight  float64
	Acceleration float64
	Radius       float64
	InboundQueue int
	Headless     bool
	RecordDir    string
	// RecordKeep bounds how many session bundles stay in RecordDir; zero keeps all.
	RecordKeep   int
	RecordMaxAge time.Duration
	Logging      LoggingConfig
}

// LoadNode reads the node configuration from environment variables.
func LoadNode() (*NodeConfig, error) {
	e := &env{}
	cfg := &NodeConfig{
		Transport:    e.oneOf("SYNC_TRANSPORT", TransportWebSocket, TransportWebSocket, TransportGRPC),
		RelayURL:     e.string("SYNC_RELAY_URL", ""),
		Channel:      e.string("SYNC_CHANNEL", DefaultChannel),
		SharedSecret: e.string("SYNC_SHARED_SECRET", ""),
		Codec:        e.oneOf("SYNC_CODEC", DefaultCodec, "json", "msgpack", "proto"),
		Compression:  e.oneOf("SYNC_COMPRESSION", DefaultCompression, "none", "gzip", "snappy", "zstd"),
		MaxHz:        e.intAtLeast("SYNC_MAX_HZ", DefaultMaxHz, 1),
		ArenaWidth:   e.positiveFloat("SYNC_ARENA_WIDTH", DefaultArenaWidth),
		ArenaHeight:  e.positiveFloat("SYNC_ARENA_HEIGHT", DefaultArenaHeight),
		Acceleration: e.positiveFloat("SYNC_ACCELERATION", DefaultAcceleration),
		Radius:       e.positiveFloat("SYNC_RADIUS", DefaultRadius),
		InboundQueue: e.intAtLeast("SYNC_INBOUND_QUEUE", DefaultInboundQueue, 1),
		Headless:     e.bool("SYNC_HEADLESS", false),
		RecordDir:    e.string("SYNC_RECORD_DIR", ""),
		RecordKeep:   e.intAtLeast("SYNC_RECORD_KEEP", DefaultRecordKeep, 0),
		RecordMaxAge: e.positiveDuration("SYNC_RECORD_MAX_AGE", DefaultRecordMaxAge),
		Logging:      e.logging(DefaultNodeLogPath, false),
	}
	//1.- The gRPC transport dials host:port, the WebSocket one a full URL.
	if cfg.RelayURL == "" {
		if cfg.Transport == TransportGRPC {
			cfg.RelayURL = "127.0.0.1" + DefaultGRPCAddr
		} else {
			cfg.RelayURL = DefaultRelayURL
		}
	}
	if cfg.Transport == TransportWebSocket {
		if parsed, err := url.Parse(cfg.RelayURL); err != nil || (parsed.Scheme != "ws" && parsed.Scheme != "wss") || parsed.Host == "" {
			e.problems = append(e.problems, fmt.Sprintf("SYNC_RELAY_URL must be a ws:// or wss:// URL, got %q", cfg.RelayURL))
		}
	}
	if len(cfg.Channel) > maxChannelNameLength || strings.ContainsAny(cfg.Channel, " /?#") {
		e.problems = append(e.problems, fmt.Sprintf("SYNC_CHANNEL must be at most %d characters without spaces, '/', '?' or '#', got %q", maxChannelNameLength, cfg.Channel))
	}
	if cfg.ArenaWidth > maxArenaDimension || cfg.ArenaHeight > maxArenaDimension {
		e.problems = append(e.problems, "SYNC_ARENA_WIDTH and SYNC_ARENA_HEIGHT must not exceed 1e9")
	}
	if 2*cfg.Radius >= cfg.ArenaWidth || 2*cfg.Radius >= cfg.ArenaHeight {
		e.problems = append(e.problems, fmt.Sprintf("SYNC_RADIUS %.1f does not fit the %.0fx%.0f arena", cfg.Radius, cfg.ArenaWidth, cfg.ArenaHeight))
	}
	if err := e.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}
