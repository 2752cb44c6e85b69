package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arenasync/internal/config"
	"arenasync/internal/logging"
	"arenasync/internal/relay"
	"arenasync/internal/replay"
	"arenasync/internal/transport"
)

func headlessConfig(recordDir string) *config.NodeConfig {
	return &config.NodeConfig{
		Transport:    "local",
		Channel:      "arena",
		Codec:        "proto",
		Compression:  "zstd",
		MaxHz:        200,
		ArenaWidth:   640,
		ArenaHeight:  400,
		Acceleration: 500,
		Radius:       20,
		InboundQueue: 16,
		Headless:     true,
		RecordDir:    recordDir,
		RecordKeep:   5,
		RecordMaxAge: 30 * time.Minute,
	}
}

func TestHeadlessNodeRecordsReplayableBundle(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "old-bundle")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stale, "manifest.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	for _, path := range []string{filepath.Join(stale, "manifest.json"), stale} {
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	hub := relay.NewHub(0, logging.NewTestLogger())
	n, err := newNode(headlessConfig(dir), transport.NewLocal(hub, "arena", logging.NewTestLogger()), logging.NewTestLogger())
	if err != nil {
		t.Fatalf("newNode: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := n.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if hub.Clients() != 0 {
		t.Fatalf("node left %d hub clients behind", hub.Clients())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() == "old-bundle" {
		t.Fatalf("expected only the fresh bundle, got %v", entries)
	}
	bundle, err := replay.Load(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if bundle.Header.LocalID != uint64(n.session.LocalID()) || bundle.Header.Codec != "proto" {
		t.Fatalf("unexpected header %+v", bundle.Header)
	}
	if uint64(len(bundle.Frames)) != n.session.Ticks() || len(bundle.Frames) == 0 {
		t.Fatalf("recorded %d frames for %d ticks", len(bundle.Frames), n.session.Ticks())
	}
	if snap := n.monitor.Snapshot(); snap.Samples == 0 || snap.Samples > len(bundle.Frames) {
		t.Fatalf("monitor saw %d steps, recorded %d", snap.Samples, len(bundle.Frames))
	}
}

func TestNewNodeRejectsUnknownCodec(t *testing.T) {
	cfg := headlessConfig("")
	cfg.Codec = "yaml"
	conn := transport.NewLocal(relay.NewHub(0, logging.NewTestLogger()), "arena", logging.NewTestLogger())
	if _, err := newNode(cfg, conn, logging.NewTestLogger()); err == nil {
		t.Fatal("expected codec error")
	}
}
