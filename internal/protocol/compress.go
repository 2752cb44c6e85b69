package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// MaxDecompressedBytes bounds how large a single inflated payload may grow.
const MaxDecompressedBytes = 1 << 20

// Compressor applies symmetric compression to payload byte slices.
type Compressor interface {
	//1.- Name returns the identifier used in configuration.
	Name() string
	//2.- Compress encodes the provided payload into a compressed representation.
	Compress(data []byte) ([]byte, error)
	//3.- Decompress restores the original payload from its compressed form.
	Decompress(data []byte) ([]byte, error)
}

// CompressorByName resolves a compressor; "" and "none" return nil.
func CompressorByName(name string) (Compressor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return nil, nil
	case "gzip":
		return NewGZIPCompressor(), nil
	case "snappy":
		return NewSnappyCompressor(), nil
	case "zstd":
		return NewZstdCompressor()
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

type gzipCompressor struct{}

// NewGZIPCompressor constructs a Compressor backed by gzip.
func NewGZIPCompressor() Compressor { return gzipCompressor{} }

func (gzipCompressor) Name() string { return "gzip" }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("gzip decompress: empty payload")
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer reader.Close()
	//1.- Read one byte past the limit so oversized payloads are detected.
	out, err := io.ReadAll(io.LimitReader(reader, MaxDecompressedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("gzip copy: %w", err)
	}
	if len(out) > MaxDecompressedBytes {
		return nil, fmt.Errorf("gzip decompress: payload exceeds %d bytes", MaxDecompressedBytes)
	}
	return out, nil
}

type snappyCompressor struct{}

// NewSnappyCompressor constructs a Compressor using the snappy block format.
func NewSnappyCompressor() Compressor { return snappyCompressor{} }

func (snappyCompressor) Name() string { return "snappy" }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("snappy decompress: empty payload")
	}
	size, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, fmt.Errorf("snappy header: %w", err)
	}
	if size > MaxDecompressedBytes {
		return nil, fmt.Errorf("snappy decompress: payload exceeds %d bytes", MaxDecompressedBytes)
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}

// zstdCompressor shares one encoder and decoder; EncodeAll and DecodeAll are
// safe for concurrent use.
type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var (
	zstdOnce   sync.Once
	zstdShared *zstdCompressor
	zstdErr    error
)

// NewZstdCompressor returns the process-wide zstd compressor.
func NewZstdCompressor() (Compressor, error) {
	zstdOnce.Do(func() {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			zstdErr = fmt.Errorf("zstd encoder: %w", err)
			return
		}
		decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedBytes), zstd.WithDecoderConcurrency(0))
		if err != nil {
			zstdErr = fmt.Errorf("zstd decoder: %w", err)
			return
		}
		zstdShared = &zstdCompressor{encoder: encoder, decoder: decoder}
	})
	if zstdErr != nil {
		return nil, zstdErr
	}
	return zstdShared, nil
}

func (*zstdCompressor) Name() string { return "zstd" }

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return z.encoder.EncodeAll(data, nil), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("zstd decompress: empty payload")
	}
	out, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

type compressedCodec struct {
	codec      Codec
	compressor Compressor
}

// WithCompression wraps codec so payloads are compressed on the wire. A
// payload that fails to decompress is reported as malformed.
func WithCompression(codec Codec, compressor Compressor) Codec {
	if compressor == nil {
		return codec
	}
	return compressedCodec{codec: codec, compressor: compressor}
}

func (c compressedCodec) Name() string {
	return c.codec.Name() + "+" + c.compressor.Name()
}

func (c compressedCodec) Encode(msg SyncMessage) ([]byte, error) {
	raw, err := c.codec.Encode(msg)
	if err != nil {
		return nil, err
	}
	return c.compressor.Compress(raw)
}

func (c compressedCodec) Decode(payload []byte) (SyncMessage, error) {
	raw, err := c.compressor.Decompress(payload)
	if err != nil {
		return SyncMessage{}, malformed(c.Name(), err)
	}
	return c.codec.Decode(raw)
}
