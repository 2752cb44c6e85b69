package replay

import (
	"bufio"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"arenasync/internal/input"
)

// Frame is one recorded tick.
type Frame struct {
	Tick   uint64       `json:"tick"`
	DT     float64      `json:"dt"`
	Intent input.Intent `json:"intent"`
}

// Message is one recorded wire frame.
type Message struct {
	Tick       uint64    `json:"tick"`
	Direction  Direction `json:"direction"`
	CapturedAt time.Time `json:"captured_at"`
	Payload    []byte    `json:"payload"`
}

// Bundle is a fully loaded session recording.
type Bundle struct {
	Dir      string
	Manifest Manifest
	Header   Header
	Frames   []Frame
	Messages []Message
}

// Load reads a bundle from its directory or from the path of its manifest.
func Load(path string) (*Bundle, error) {
	if path == "" {
		return nil, fmt.Errorf("replay path must be provided")
	}
	manifestPath := path
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		manifestPath = filepath.Join(path, manifestFile)
	}
	dir := filepath.Dir(manifestPath)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.Version != ManifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}
	if manifest.FrameRecordSize != FrameRecordSize {
		return nil, fmt.Errorf("unsupported frame record size %d", manifest.FrameRecordSize)
	}

	header, err := ReadHeader(filepath.Join(dir, manifest.HeaderPath))
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	frames, err := loadFrames(filepath.Join(dir, manifest.FramesPath))
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	messages, err := loadMessages(filepath.Join(dir, manifest.MessagesPath))
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return &Bundle{Dir: dir, Manifest: manifest, Header: header, Frames: frames, Messages: messages}, nil
}

// InboundByTick groups inbound payloads by the tick that drained them, in recorded order.
func (b *Bundle) InboundByTick() map[uint64][][]byte {
	out := make(map[uint64][][]byte)
	if b == nil {
		return out
	}
	for _, msg := range b.Messages {
		if msg.Direction == DirectionInbound {
			out[msg.Tick] = append(out[msg.Tick], msg.Payload)
		}
	}
	return out
}

func loadFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(payload)%FrameRecordSize != 0 {
		return nil, fmt.Errorf("frame log truncated: %d trailing bytes", len(payload)%FrameRecordSize)
	}
	frames := make([]Frame, 0, len(payload)/FrameRecordSize)
	for offset := 0; offset < len(payload); offset += FrameRecordSize {
		record := payload[offset : offset+FrameRecordSize]
		frames = append(frames, Frame{
			Tick:   binary.LittleEndian.Uint64(record[0:8]),
			DT:     math.Float64frombits(binary.LittleEndian.Uint64(record[8:16])),
			Intent: input.FromBits(record[16]),
		})
	}
	return frames, nil
}

func loadMessages(path string) ([]Message, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var messages []Message
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw messageLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, err
		}
		captured, err := time.Parse(time.RFC3339Nano, raw.CapturedAt)
		if err != nil {
			return nil, err
		}
		payload, err := base64.StdEncoding.DecodeString(raw.PayloadB64)
		if err != nil {
			return nil, err
		}
		messages = append(messages, Message{Tick: raw.Tick, Direction: raw.Direction, CapturedAt: captured, Payload: payload})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}
