package replay

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"arenasync/internal/geom"
	"arenasync/internal/input"
	"arenasync/internal/logging"
)

func sampleHeader() Header {
	return Header{
		SessionID:    "node/alpha 1",
		Channel:      "arena",
		Codec:        "msgpack",
		LocalID:      42,
		Position:     VecOf(geom.V(100, 100)),
		Acceleration: 500,
		Radius:       20,
		Arena:        ArenaOf(geom.Rect(640, 400)),
	}
}

func TestWriterRoundTripsThroughLoad(t *testing.T) {
	now := time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	writer, manifest, err := NewWriter(t.TempDir(), sampleHeader(), clock)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if base := filepath.Base(writer.Directory()); base != "nodealpha1-20240710T120000Z" {
		t.Fatalf("unexpected bundle directory %q", base)
	}
	if manifest.FrameIntervalMs != 200 || manifest.FrameRecordSize != FrameRecordSize {
		t.Fatalf("unexpected manifest %+v", manifest)
	}

	oddDT := 0.1 + 0.2
	binaryPayload := []byte{0x08, 0x2a, 0xff, 0x00}
	steps := []func() error{
		func() error { return writer.RecordOutbound(0, []byte(`{"id":42}`)) },
		func() error { return writer.RecordInbound(0, binaryPayload) },
		func() error { return writer.RecordFrame(0, 0.02, input.Intent{Left: true}) },
		func() error {
			now = now.Add(100 * time.Millisecond)
			return writer.RecordFrame(1, oddDT, input.Intent{})
		},
		func() error { return writer.RecordInbound(2, []byte("late")) },
		func() error {
			now = now.Add(150 * time.Millisecond)
			return writer.RecordFrame(2, 0.016, input.Intent{Up: true, Right: true})
		},
		func() error { return writer.RecordFrame(3, 0.016, input.Intent{Up: true, Right: true}) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if frames, messages := writer.Counts(); frames != 4 || messages != 3 {
		t.Fatalf("counts = %d frames, %d messages", frames, messages)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := writer.RecordFrame(4, 0.02, input.Intent{}); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected os.ErrClosed after close, got %v", err)
	}

	bundle, err := Load(filepath.Join(writer.Directory(), "manifest.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if bundle.Header.LocalID != 42 || bundle.Header.Codec != "msgpack" || bundle.Header.Arena.Bounds() != geom.Rect(640, 400) {
		t.Fatalf("unexpected header %+v", bundle.Header)
	}
	want := []Frame{
		{Tick: 0, DT: 0.02, Intent: input.Intent{Left: true}},
		{Tick: 1, DT: oddDT},
		{Tick: 2, DT: 0.016, Intent: input.Intent{Up: true, Right: true}},
		{Tick: 3, DT: 0.016, Intent: input.Intent{Up: true, Right: true}},
	}
	if len(bundle.Frames) != len(want) {
		t.Fatalf("got %d frames want %d", len(bundle.Frames), len(want))
	}
	for i := range want {
		if bundle.Frames[i] != want[i] {
			t.Fatalf("frame %d = %+v want %+v", i, bundle.Frames[i], want[i])
		}
	}
	if len(bundle.Messages) != 3 || bundle.Messages[0].Direction != DirectionOutbound {
		t.Fatalf("unexpected messages %+v", bundle.Messages)
	}
	inbound := bundle.InboundByTick()
	if len(inbound[0]) != 1 || string(inbound[0][0]) != string(binaryPayload) || string(inbound[2][0]) != "late" {
		t.Fatalf("unexpected inbound grouping %v", inbound)
	}
}

func TestNewWriterRejectsIncompleteHeader(t *testing.T) {
	header := sampleHeader()
	header.LocalID = 0
	if _, _, err := NewWriter(t.TempDir(), header, nil); err == nil {
		t.Fatal("expected missing local id to be rejected")
	}
	header = sampleHeader()
	header.Arena = Arena{Right: -1, Bottom: 10}
	if _, _, err := NewWriter(t.TempDir(), header, nil); err == nil {
		t.Fatal("expected degenerate arena to be rejected")
	}
	if _, _, err := NewWriter("", sampleHeader(), nil); err == nil {
		t.Fatal("expected empty root to be rejected")
	}
}

func TestLoadRejectsForeignManifest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(`{"version":9}`), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func writeBundle(t *testing.T, root, name string, mod time.Time, size int) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string][]byte{
		"manifest.json":  []byte("{}"),
		"frames.bin.zst": make([]byte, size),
	}
	for file, data := range files {
		path := filepath.Join(dir, file)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("write %s: %v", file, err)
		}
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	if err := os.Chtimes(dir, mod, mod); err != nil {
		t.Fatalf("chtimes dir: %v", err)
	}
}

func remaining(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}

func TestCleanerEnforcesMaxBundles(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	writeBundle(t, root, "alpha", now.Add(-3*time.Hour), 64)
	writeBundle(t, root, "bravo", now.Add(-2*time.Hour), 32)
	writeBundle(t, root, "charlie", now.Add(-time.Hour), 48)
	if err := os.MkdirAll(filepath.Join(root, "notes"), 0o755); err != nil {
		t.Fatalf("mkdir notes: %v", err)
	}

	cleaner := NewCleaner(root, RetentionPolicy{MaxBundles: 2}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	got := strings.Join(remaining(t, root), ",")
	if got != "bravo,charlie,notes" {
		t.Fatalf("unexpected survivors %q", got)
	}
	stats := cleaner.Stats()
	if stats.Bundles != 2 || stats.Removed != 1 || stats.Bytes != int64(32+48+2+2) || stats.LastSweep != now {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCleanerPrunesByAge(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2024, 7, 16, 9, 0, 0, 0, time.UTC)
	writeBundle(t, root, "delta", now.Add(-72*time.Hour), 8)
	writeBundle(t, root, "echo", now.Add(-time.Hour), 8)

	cleaner := NewCleaner(root, RetentionPolicy{MaxAge: 36 * time.Hour}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	if got := strings.Join(remaining(t, root), ","); got != "echo" {
		t.Fatalf("unexpected survivors %q", got)
	}
}
