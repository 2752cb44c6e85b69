// Command syncnode joins a relay channel and simulates one entity, either on
// the terminal under keyboard control or headless on a wander script.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"

	"arenasync/internal/config"
	"arenasync/internal/logging"
	"arenasync/internal/transport"
)

const dialTimeout = 10 * time.Second

func main() {
	if err := config.Preload(); err != nil {
		fmt.Fprintln(os.Stderr, "syncnode:", err)
		os.Exit(1)
	}
	cfg, err := config.LoadNode()
	if err != nil {
		fmt.Fprintln(os.Stderr, "syncnode:", err)
		os.Exit(1)
	}
	logger, err := logging.New("syncnode", cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "syncnode: configure logging:", err)
		os.Exit(1)
	}
	logging.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("syncnode stopped", logging.Error(err))
		_ = logger.Sync()
		fmt.Fprintln(os.Stderr, "syncnode:", err)
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(ctx context.Context, cfg *config.NodeConfig, logger *logging.Logger) error {
	dialCtx, cancelDial := context.WithTimeout(ctx, dialTimeout)
	conn, err := transport.Dial(dialCtx, cfg, logger)
	cancelDial()
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.RelayURL, err)
	}
	n, err := newNode(cfg, conn, logger)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if cfg.Headless {
		return n.run(ctx)
	}

	//1.- The terminal is restored before anything else is printed.
	screen, err := tcell.NewScreen()
	if err == nil {
		err = screen.Init()
	}
	if err != nil {
		_ = n.shutdown()
		return fmt.Errorf("open terminal: %w", err)
	}
	defer screen.Fini()
	ctx, quit := context.WithCancel(ctx)
	defer quit()
	n.attachTerminal(screen, quit)
	return n.run(ctx)
}
