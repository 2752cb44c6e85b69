package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"arenasync/internal/logging"
	"arenasync/internal/netsync"
	"arenasync/internal/relay"
)

// GRPCOptions configures a relay connection over the Exchange stream.
type GRPCOptions struct {
	// Target is a gRPC dial target such as 127.0.0.1:43128.
	Target       string
	Channel      string
	SharedSecret string
	// DialOptions are appended after the insecure default credentials.
	DialOptions []grpc.DialOption
	SendBuffer  int
	Logger      *logging.Logger
}

// GRPC is a Transport backed by one relay Exchange stream.
type GRPC struct {
	conn    *grpc.ClientConn
	stream  grpc.ClientStream
	cancel  context.CancelFunc
	out     *outbox
	inbound delivery
	logger  *logging.Logger
	wg      sync.WaitGroup
	closing sync.Once
}

// DialGRPC opens the Exchange stream and starts the read and write pumps.
func DialGRPC(ctx context.Context, opts GRPCOptions) (*GRPC, error) {
	if strings.TrimSpace(opts.Target) == "" {
		return nil, errors.New("transport: grpc target is required")
	}
	if strings.TrimSpace(opts.Channel) == "" {
		return nil, errors.New("transport: channel is required")
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts.DialOptions...)
	conn, err := grpc.NewClient(opts.Target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", opts.Target, err)
	}

	//1.- The stream outlives ctx, which only bounds the handshake.
	streamCtx, cancel := context.WithCancel(context.Background())
	pairs := []string{relay.ChannelMetadataKey, opts.Channel}
	if secret := strings.TrimSpace(opts.SharedSecret); secret != "" {
		pairs = append(pairs, relay.SecretMetadataKey, secret)
	}
	streamCtx = metadata.AppendToOutgoingContext(streamCtx, pairs...)
	stop := context.AfterFunc(ctx, cancel)
	stream, err := conn.NewStream(streamCtx, &relay.ExchangeStreamDesc, relay.ExchangeMethod, grpc.ForceCodec(relay.FrameCodec{}))
	if !stop() || err != nil {
		cancel()
		conn.Close()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("transport: open exchange: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	g := &GRPC{
		conn:   conn,
		stream: stream,
		cancel: cancel,
		out:    newOutbox(opts.SendBuffer),
		logger: logger.With(logging.String("component", "transport_grpc"), logging.String("channel", opts.Channel)),
	}
	g.wg.Add(2)
	go g.readPump()
	go g.writePump()
	g.logger.Info("connected to relay", logging.String("target", opts.Target))
	return g, nil
}

// Publish queues payload for the stream writer.
func (g *GRPC) Publish(payload []byte) error {
	return g.out.push(payload)
}

// Subscribe starts delivering inbound frames to handler.
func (g *GRPC) Subscribe(handler netsync.Handler) error {
	if g.out.closed() {
		return netsync.ErrClosed
	}
	return g.inbound.subscribe(handler)
}

// Unsubscribe stops delivery. The stream stays open for publishing.
func (g *GRPC) Unsubscribe() error {
	g.inbound.unsubscribe()
	return nil
}

// Close cancels the stream, closes the connection and waits for the pumps.
func (g *GRPC) Close() error {
	g.shutdown()
	g.wg.Wait()
	return g.conn.Close()
}

func (g *GRPC) shutdown() {
	g.closing.Do(func() {
		g.out.close()
		g.inbound.unsubscribe()
		g.cancel()
	})
}

func (g *GRPC) readPump() {
	defer g.wg.Done()
	for {
		var frame relay.Frame
		if err := g.stream.RecvMsg(&frame); err != nil {
			if !g.out.closed() && !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
				g.logger.Warn("relay stream lost", logging.Error(err))
			}
			g.shutdown()
			return
		}
		g.inbound.deliver(frame.Payload)
	}
}

func (g *GRPC) writePump() {
	defer g.wg.Done()
	for {
		select {
		case <-g.out.done:
			return
		case payload := <-g.out.queue:
			if err := g.stream.SendMsg(&relay.Frame{Payload: payload}); err != nil {
				//2.- The real cause surfaces on RecvMsg; the reader logs it.
				g.shutdown()
				return
			}
		}
	}
}
