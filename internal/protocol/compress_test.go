package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestCompressorsRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"id":1,"x":0}`), 64)
	for _, name := range []string{"gzip", "snappy", "zstd"} {
		compressor, err := CompressorByName(name)
		if err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
		if compressor.Name() != name {
			t.Fatalf("unexpected name %q", compressor.Name())
		}
		packed, err := compressor.Compress(payload)
		if err != nil {
			t.Fatalf("%s compress: %v", name, err)
		}
		if len(packed) >= len(payload) {
			t.Fatalf("%s did not shrink repetitive payload: %d >= %d", name, len(packed), len(payload))
		}
		restored, err := compressor.Decompress(packed)
		if err != nil {
			t.Fatalf("%s decompress: %v", name, err)
		}
		if !bytes.Equal(restored, payload) {
			t.Fatalf("%s round trip mismatch", name)
		}
	}
}

func TestCompressorByNameNone(t *testing.T) {
	for _, name := range []string{"", "none", " NONE "} {
		compressor, err := CompressorByName(name)
		if err != nil || compressor != nil {
			t.Fatalf("%q: expected nil compressor, got %v, %v", name, compressor, err)
		}
	}
}

func TestCompressedCodecRejectsCorruptPayload(t *testing.T) {
	for _, name := range []string{"gzip", "snappy", "zstd"} {
		codec, err := CodecByName(CodecJSON, name)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		for _, payload := range [][]byte{nil, []byte("Hello from PubNub")} {
			if _, err := codec.Decode(payload); !errors.Is(err, ErrMalformed) {
				t.Fatalf("%s: expected ErrMalformed for %q, got %v", codec.Name(), payload, err)
			}
		}
	}
}

func TestGZIPRejectsOversizedPayload(t *testing.T) {
	compressor := NewGZIPCompressor()
	packed, err := compressor.Compress(make([]byte, MaxDecompressedBytes+10))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if _, err := compressor.Decompress(packed); err == nil {
		t.Fatalf("expected size limit error")
	}
}
