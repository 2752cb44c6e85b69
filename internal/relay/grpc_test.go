package relay

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/encoding/protowire"

	"arenasync/internal/logging"
)

func startGRPCRelay(t *testing.T, opts Options) (*Hub, *grpc.ClientConn) {
	t.Helper()
	listener := bufconn.Listen(1 << 20)
	hub := NewHub(0, logging.NewTestLogger())
	server := NewGRPCServer(hub, opts, logging.NewTestLogger())
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func openExchange(ctx context.Context, conn *grpc.ClientConn, pairs ...string) (grpc.ClientStream, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	return conn.NewStream(ctx, &ExchangeStreamDesc, ExchangeMethod, grpc.ForceCodec(FrameCodec{}))
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", want, hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGRPCExchangeFansOut(t *testing.T) {
	hub, conn := startGRPCRelay(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	a, err := openExchange(ctx, conn, ChannelMetadataKey, "arena")
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	b, err := openExchange(ctx, conn, ChannelMetadataKey, "arena")
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	waitForClients(t, hub, 2)

	if err := a.SendMsg(&Frame{Payload: []byte("state")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	for name, stream := range map[string]grpc.ClientStream{"a": a, "b": b} {
		var frame Frame
		if err := stream.RecvMsg(&frame); err != nil {
			t.Fatalf("recv %s: %v", name, err)
		}
		if string(frame.Payload) != "state" {
			t.Fatalf("%s got %q", name, frame.Payload)
		}
	}

	if err := a.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}
	waitForClients(t, hub, 1)
}

func TestGRPCExchangeRequiresChannel(t *testing.T) {
	_, conn := startGRPCRelay(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stream, err := openExchange(ctx, conn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var frame Frame
	err = stream.RecvMsg(&frame)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestGRPCSharedSecret(t *testing.T) {
	hub, conn := startGRPCRelay(t, Options{SharedSecret: "hunter2"})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cases := map[string][]string{
		"missing": {ChannelMetadataKey, "arena"},
		"wrong":   {ChannelMetadataKey, "arena", SecretMetadataKey, "nope"},
	}
	for name, pairs := range cases {
		stream, err := openExchange(ctx, conn, pairs...)
		if err != nil {
			t.Fatalf("%s: open: %v", name, err)
		}
		var frame Frame
		if err := stream.RecvMsg(&frame); status.Code(err) != codes.Unauthenticated {
			t.Fatalf("%s: expected Unauthenticated, got %v", name, err)
		}
	}

	for _, pairs := range [][]string{
		{ChannelMetadataKey, "arena", SecretMetadataKey, "hunter2"},
		{ChannelMetadataKey, "arena", "authorization", "Bearer hunter2"},
	} {
		if _, err := openExchange(ctx, conn, pairs...); err != nil {
			t.Fatalf("open with secret: %v", err)
		}
	}
	waitForClients(t, hub, 2)
}

func TestFrameCodec(t *testing.T) {
	codec := FrameCodec{}
	payload := []byte{0x00, 0x01, 0xff}
	wire, err := codec.Marshal(&Frame{Payload: payload})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	//1.- Unknown fields written by newer peers are skipped.
	wire = protowire.AppendTag(wire, 9, protowire.VarintType)
	wire = protowire.AppendVarint(wire, 7)

	var frame Frame
	if err := codec.Unmarshal(wire, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("payload mismatch: got %x want %x", frame.Payload, payload)
	}
	if err := codec.Unmarshal(wire[:2], &frame); err == nil {
		t.Fatalf("expected truncated frame to fail")
	}
	if _, err := codec.Marshal("nope"); err == nil {
		t.Fatalf("expected type error")
	}
}
