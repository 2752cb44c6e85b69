// Package replay records sessions to disk so they can be re-simulated offline.
package replay

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"arenasync/internal/input"
)

var sessionNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const (
	// ManifestVersion is bumped whenever the bundle layout changes.
	ManifestVersion = 1
	// FrameRecordSize is the length of one frame record: tick, dt bits, intent bits.
	FrameRecordSize = 8 + 8 + 1

	frameInterval = 200 * time.Millisecond

	manifestFile = "manifest.json"
	headerFile   = "header.json"
	framesFile   = "frames.bin.zst"
	messagesFile = "messages.jsonl.sz"
)

// Direction tells inbound frames from outbound ones in the message log.
type Direction string

const (
	DirectionInbound  Direction = "in"
	DirectionOutbound Direction = "out"
)

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	CreatedAt       string `json:"created_at"`
	FrameIntervalMs int    `json:"frame_interval_ms"`
	FrameRecordSize int    `json:"frame_record_size"`
	HeaderPath      string `json:"header_path"`
	FramesPath      string `json:"frames_path"`
	MessagesPath    string `json:"messages_path"`
}

type frameRecord struct {
	tick   uint64
	dt     float64
	intent input.Intent
}

// Writer streams a session to disk. It implements netsync.Recorder.
type Writer struct {
	mu            sync.Mutex
	dir           string
	now           func() time.Time
	messageFile   *os.File
	messageStream *snappy.Writer
	frameFile     *os.File
	frameStream   *zstd.Encoder
	pending       []frameRecord
	lastFlush     time.Time
	frames        uint64
	messages      uint64
	closed        bool
}

// NewWriter creates a bundle directory under root and writes its manifest and header.
func NewWriter(root string, header Header, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	header.SchemaVersion = HeaderSchemaVersion
	header.FilePointer = manifestFile
	if err := header.Validate(); err != nil {
		return nil, Manifest{}, fmt.Errorf("replay header: %w", err)
	}

	cleaned := sessionNameCleaner.ReplaceAllString(header.SessionID, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:         ManifestVersion,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FrameIntervalMs: int(frameInterval / time.Millisecond),
		FrameRecordSize: FrameRecordSize,
		HeaderPath:      headerFile,
		FramesPath:      framesFile,
		MessagesPath:    messagesFile,
	}
	//1.- Metadata goes first so a crashed session still leaves a loadable prefix.
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(filepath.Join(path, manifestFile), data, 0o644); err != nil {
		return nil, Manifest{}, err
	}
	if err := WriteHeader(filepath.Join(path, headerFile), header); err != nil {
		return nil, Manifest{}, err
	}

	messageFile, err := os.Create(filepath.Join(path, messagesFile))
	if err != nil {
		return nil, Manifest{}, err
	}
	frameFile, err := os.Create(filepath.Join(path, framesFile))
	if err != nil {
		messageFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		messageFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	return &Writer{
		dir:           path,
		now:           clock,
		messageFile:   messageFile,
		messageStream: snappy.NewBufferedWriter(messageFile),
		frameFile:     frameFile,
		frameStream:   frameStream,
	}, manifest, nil
}

// Directory exposes the directory backing the bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// RecordFrame stages one tick's dt and intent; frames reach disk at a 5 Hz cadence.
func (w *Writer) RecordFrame(tick uint64, dt float64, intent input.Intent) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	w.pending = append(w.pending, frameRecord{tick: tick, dt: dt, intent: intent})
	w.frames++
	if w.lastFlush.IsZero() {
		w.lastFlush = captured
		return nil
	}
	if captured.Sub(w.lastFlush) >= frameInterval {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.lastFlush = captured
	}
	return nil
}

// RecordInbound logs a frame taken off the inbound queue at tick.
func (w *Writer) RecordInbound(tick uint64, payload []byte) error {
	return w.appendMessage(tick, DirectionInbound, payload)
}

// RecordOutbound logs a frame published at tick.
func (w *Writer) RecordOutbound(tick uint64, payload []byte) error {
	return w.appendMessage(tick, DirectionOutbound, payload)
}

func (w *Writer) appendMessage(tick uint64, direction Direction, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	//1.- Payloads are base64 so binary codecs survive the JSON line format.
	line, err := json.Marshal(messageLine{
		Tick:       tick,
		Direction:  direction,
		CapturedAt: captured.Format(time.RFC3339Nano),
		PayloadB64: base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		return err
	}
	if _, err := w.messageStream.Write(append(line, '\n')); err != nil {
		return err
	}
	w.messages++
	return w.messageStream.Flush()
}

// Counts reports how many frames and messages were recorded.
func (w *Writer) Counts() (frames, messages uint64) {
	if w == nil {
		return 0, 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames, w.messages
}

// Flush forces pending frames to be written regardless of cadence.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return nil
}

// Close flushes every buffer and releases the file handles.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	//1.- Attempt every flush and close, then surface all failures together.
	return errors.Join(
		w.flushLocked(),
		w.messageStream.Close(),
		w.messageFile.Close(),
		w.frameStream.Close(),
		w.frameFile.Close(),
	)
}

// flushLocked writes staged frames to the zstd stream; callers must hold the mutex.
func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	record := make([]byte, FrameRecordSize)
	for _, frame := range w.pending {
		binary.LittleEndian.PutUint64(record[0:8], frame.tick)
		binary.LittleEndian.PutUint64(record[8:16], math.Float64bits(frame.dt))
		record[16] = frame.intent.Bits()
		if _, err := w.frameStream.Write(record); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return nil
}

type messageLine struct {
	Tick       uint64    `json:"tick"`
	Direction  Direction `json:"direction"`
	CapturedAt string    `json:"captured_at"`
	PayloadB64 string    `json:"payload_b64"`
}
