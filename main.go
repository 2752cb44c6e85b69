package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"arenasync/internal/config"
	"arenasync/internal/logging"
	"arenasync/internal/relay"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := config.Preload(); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
	cfg, err := config.LoadRelay()
	if err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
	logger, err := logging.New("relay", cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "relay: configure logging:", err)
		os.Exit(1)
	}
	logging.ReplaceGlobals(logger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("relay stopped", logging.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// run serves until ctx is cancelled or a listener fails.
func run(ctx context.Context, cfg *config.RelayConfig, logger *logging.Logger) error {
	server := relay.NewServer(cfg.MaxClients, relay.OptionsFromConfig(cfg), logger)
	tlsEnabled := cfg.TLSCertPath != "" && cfg.TLSKeyPath != ""

	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 2)

	//1.- The HTTP listener carries /ws, /api/stats and /healthz.
	go func() {
		logger.Info("relay listening",
			logging.String("url", listenerURL(cfg.Address, tlsEnabled)),
			logging.Bool("tls", tlsEnabled))
		var err error
		if tlsEnabled {
			err = httpServer.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = httpServer.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http listener: %w", err)
		}
	}()

	//2.- The gRPC listener is optional and shares the hub.
	var grpcServer *grpc.Server
	if cfg.GRPCAddress != "" {
		listener, err := net.Listen("tcp", cfg.GRPCAddress)
		if err != nil {
			_ = httpServer.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = server.GRPCServer()
		go func() {
			logger.Info("grpc relay listening", logging.String("address", normaliseHostPort(cfg.GRPCAddress)))
			if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errs <- fmt.Errorf("grpc listener: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errs:
	}

	//3.- Dropping the hub's clients first lets hijacked WebSocket and streaming
	// gRPC connections end, so the graceful stops below can finish.
	server.Hub().Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logging.Error(err))
	}
	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
	}
	stats := server.Hub().Stats()
	logger.Info("relay stopped",
		logging.Int("channels", len(stats.Channels)),
		logging.Uint64("rate_limited", stats.RateLimited),
		logging.Uint64("oversized", stats.Oversized))
	return runErr
}
