package relay

import (
	"encoding/json"
	"net/http"

	"google.golang.org/grpc"

	"arenasync/internal/config"
	"arenasync/internal/logging"
)

// Server bundles the hub with its HTTP and gRPC front ends.
type Server struct {
	hub    *Hub
	opts   Options
	logger *logging.Logger
}

// OptionsFromConfig maps relay configuration onto transport options.
func OptionsFromConfig(cfg *config.RelayConfig) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		PingInterval:    cfg.PingInterval,
		SharedSecret:    cfg.SharedSecret,
		PublishWindow:   cfg.PublishWindow,
		PublishBurst:    cfg.PublishBurst,
	}
}

// NewServer constructs a relay with its own hub.
func NewServer(maxClients int, opts Options, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.L()
	}
	return &Server{hub: NewHub(maxClients, logger), opts: opts, logger: logger}
}

// Hub exposes the fan-out core, for in-process transports.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP routes: /ws, /api/stats and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", NewWebSocketHandler(s.hub, s.opts, s.logger))
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return logging.HTTPTraceMiddleware(s.logger)(mux)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.hub.Stats()); err != nil {
		logging.LoggerFromContext(r.Context()).Warn("encode stats failed", logging.Error(err))
	}
}

// GRPCServer builds the gRPC front end sharing this relay's hub.
func (s *Server) GRPCServer(extra ...grpc.ServerOption) *grpc.Server {
	return NewGRPCServer(s.hub, s.opts, s.logger, extra...)
}
