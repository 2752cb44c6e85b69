package config

import (
	"strings"
	"time"
)

const (
	// DefaultRelayAddr is the default TCP address the relay's HTTP and WebSocket listener binds.
	DefaultRelayAddr = ":43127"
	// DefaultGRPCAddr is the default address of the relay's gRPC listener.
	DefaultGRPCAddr = ":43128"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound frame size.
	DefaultMaxPayloadBytes int64 = 64 << 10
	// DefaultMaxClients bounds concurrent subscribers across channels. Zero disables the limit.
	DefaultMaxClients = 256
	// DefaultPublishWindow is the sliding window of the per-connection publish limiter.
	DefaultPublishWindow = time.Second
	// DefaultPublishBurst is how many frames one connection may publish per window.
	DefaultPublishBurst = 120
	// DefaultRelayLogPath is where the relay writes structured logs.
	DefaultRelayLogPath = "relay.log"
)

// RelayConfig captures all runtime tunables for the relay server.
type RelayConfig struct {
	Address         string
	GRPCAddress     string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxClients      int
	SharedSecret    string
	PublishWindow   time.Duration
	PublishBurst    int
	TLSCertPath     string
	TLSKeyPath      string
	Logging         LoggingConfig
}

// LoadRelay reads the relay configuration from environment variables, applying
// defaults and returning every invalid override in one error.
func LoadRelay() (*RelayConfig, error) {
	e := &env{}
	cfg := &RelayConfig{
		Address:         e.string("SYNC_RELAY_ADDR", DefaultRelayAddr),
		GRPCAddress:     e.string("SYNC_GRPC_ADDR", DefaultGRPCAddr),
		AllowedOrigins:  e.list("SYNC_ALLOWED_ORIGINS"),
		MaxPayloadBytes: e.positiveInt64("SYNC_MAX_PAYLOAD_BYTES", DefaultMaxPayloadBytes),
		PingInterval:    e.positiveDuration("SYNC_PING_INTERVAL", DefaultPingInterval),
		MaxClients:      e.intAtLeast("SYNC_MAX_CLIENTS", DefaultMaxClients, 0),
		SharedSecret:    e.string("SYNC_SHARED_SECRET", ""),
		PublishWindow:   e.positiveDuration("SYNC_PUBLISH_WINDOW", DefaultPublishWindow),
		PublishBurst:    e.intAtLeast("SYNC_PUBLISH_BURST", DefaultPublishBurst, 1),
		TLSCertPath:     e.string("SYNC_TLS_CERT", ""),
		TLSKeyPath:      e.string("SYNC_TLS_KEY", ""),
		Logging:         e.logging(DefaultRelayLogPath, true),
	}
	//1.- "off" disables the gRPC listener without unsetting the variable.
	if strings.EqualFold(cfg.GRPCAddress, "off") {
		cfg.GRPCAddress = ""
	}
	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		e.problems = append(e.problems, "SYNC_TLS_CERT and SYNC_TLS_KEY must be provided together")
	}
	if err := e.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}
