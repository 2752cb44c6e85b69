package transport

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"arenasync/internal/config"
	"arenasync/internal/geom"
	"arenasync/internal/input"
	"arenasync/internal/logging"
	"arenasync/internal/netsync"
	"arenasync/internal/relay"
	"arenasync/internal/world"
)

func collect(t *testing.T, tr netsync.Transport) <-chan []byte {
	t.Helper()
	frames := make(chan []byte, 16)
	if err := tr.Subscribe(func(payload []byte) { frames <- payload }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return frames
}

func expectFrame(t *testing.T, frames <-chan []byte, want string) {
	t.Helper()
	select {
	case got := <-frames:
		if string(got) != want {
			t.Fatalf("got frame %q want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func exerciseTransports(t *testing.T, a, b Conn) {
	t.Helper()
	framesA := collect(t, a)
	framesB := collect(t, b)
	if err := a.Subscribe(func([]byte) {}); !errors.Is(err, netsync.ErrAlreadySubscribed) {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}

	if err := a.Publish([]byte("from-a")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	expectFrame(t, framesA, "from-a")
	expectFrame(t, framesB, "from-a")

	if err := b.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := a.Publish([]byte("second")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	expectFrame(t, framesA, "second")
	select {
	case got := <-framesB:
		t.Fatalf("unsubscribed handler received %q", got)
	case <-time.After(50 * time.Millisecond):
	}

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Publish([]byte("late")); !errors.Is(err, netsync.ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestLocalTransport(t *testing.T) {
	hub := relay.NewHub(0, logging.NewTestLogger())
	a := NewLocal(hub, "arena", logging.NewTestLogger())
	b := NewLocal(hub, "arena", logging.NewTestLogger())
	defer b.Close()
	exerciseTransports(t, a, b)
	if hub.Clients() != 0 {
		t.Fatalf("expected every local subscriber to have left, got %d", hub.Clients())
	}
}

func TestWebSocketTransport(t *testing.T) {
	server := relay.NewServer(0, relay.Options{SharedSecret: "hunter2"}, logging.NewTestLogger())
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := DialWebSocket(ctx, WebSocketOptions{URL: url, Channel: "arena", Logger: logging.NewTestLogger()}); err == nil {
		t.Fatal("expected dial without secret to fail")
	}
	opts := WebSocketOptions{URL: url, Channel: "arena", SharedSecret: "hunter2", Logger: logging.NewTestLogger()}
	a, err := DialWebSocket(ctx, opts)
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	b, err := DialWebSocket(ctx, opts)
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer b.Close()
	exerciseTransports(t, a, b)
}

func TestWebSocketURLValidation(t *testing.T) {
	if _, err := websocketURL("http://relay/ws", "arena"); err == nil {
		t.Fatal("expected http scheme to be rejected")
	}
	if _, err := websocketURL("ws://relay/ws", " "); err == nil {
		t.Fatal("expected empty channel to be rejected")
	}
	got, err := websocketURL("wss://relay/ws?lang=en", "arena one")
	if err != nil {
		t.Fatalf("websocketURL: %v", err)
	}
	if got != "wss://relay/ws?channel=arena+one&lang=en" {
		t.Fatalf("unexpected url %q", got)
	}
}

func bufconnOptions(t *testing.T, hub *relay.Hub, opts relay.Options) GRPCOptions {
	t.Helper()
	listener := bufconn.Listen(1 << 20)
	server := relay.NewGRPCServer(hub, opts, logging.NewTestLogger())
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)
	return GRPCOptions{
		Target:  "passthrough:///bufnet",
		Channel: "arena",
		DialOptions: []grpc.DialOption{grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		})},
		Logger: logging.NewTestLogger(),
	}
}

func TestGRPCTransport(t *testing.T) {
	hub := relay.NewHub(0, logging.NewTestLogger())
	opts := bufconnOptions(t, hub, relay.Options{SharedSecret: "hunter2"})
	opts.SharedSecret = "hunter2"
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	a, err := DialGRPC(ctx, opts)
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	b, err := DialGRPC(ctx, opts)
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer b.Close()
	//1.- Streams join the hub when the server handler runs, after NewStream returns.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("streams never joined, clients=%d", hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
	exerciseTransports(t, a, b)
}

func TestDialRejectsUnknownTransport(t *testing.T) {
	if _, err := Dial(context.Background(), &config.NodeConfig{Transport: "carrier-pigeon"}, nil); err == nil {
		t.Fatal("expected unknown transport error")
	}
	if _, err := Dial(context.Background(), nil, nil); err == nil {
		t.Fatal("expected nil config error")
	}
}

func TestSessionsConvergeOverLocalHub(t *testing.T) {
	hub := relay.NewHub(0, logging.NewTestLogger())
	newSession := func(id uint64, x float64) *netsync.Session {
		spawn := geom.V(x, 200)
		session, err := netsync.NewSession(netsync.Config{
			Bounds:  geom.Rect(640, 400),
			Spawn:   &spawn,
			LocalID: world.ID(id),
			Logger:  logging.NewTestLogger(),
		}, NewLocal(hub, "arena", logging.NewTestLogger()))
		if err != nil {
			t.Fatalf("new session: %v", err)
		}
		if err := session.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		t.Cleanup(func() { session.Close() })
		return session
	}
	alpha := newSession(1, 100)
	//1.- Beta joins after alpha's announce, so alpha only becomes visible on its first transition.
	beta := newSession(2, 500)

	deadline := time.Now().Add(2 * time.Second)
	for alpha.World().Len() < 2 || beta.World().Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("sessions did not discover each other: alpha=%d beta=%d", alpha.World().Len(), beta.World().Len())
		}
		_ = alpha.Step(0, input.Intent{Right: true})
		_ = beta.Step(0, input.Intent{})
		time.Sleep(time.Millisecond)
	}
	remote, ok := alpha.World().FindByID(2)
	if !ok || remote.Local || remote.Position != geom.V(500, 200) {
		t.Fatalf("unexpected remote entity %+v ok=%v", remote, ok)
	}
	seen, ok := beta.World().FindByID(1)
	if !ok || seen.Position != geom.V(100, 200) || !seen.Intent.Right {
		t.Fatalf("beta should replay alpha's published intent, got %+v ok=%v", seen, ok)
	}
}
