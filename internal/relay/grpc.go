package relay

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"

	"arenasync/internal/logging"
)

const (
	// ServiceName is the fully qualified gRPC service of the relay.
	ServiceName = "arenasync.relay.v1.Relay"
	// ExchangeMethod is the full method name of the bidirectional frame stream.
	ExchangeMethod = "/" + ServiceName + "/Exchange"
	// ChannelMetadataKey selects the channel of an Exchange stream.
	ChannelMetadataKey = "x-sync-channel"
	// SecretMetadataKey carries the shared secret on gRPC streams.
	SecretMetadataKey = "x-sync-shared-secret"
)

// Frame is one opaque sync payload on the gRPC stream, wire compatible with
//
//	message Frame { bytes payload = 1; }
type Frame struct {
	Payload []byte
}

// FrameCodec marshals Frame values with protowire. It is forced on both ends
// of the relay connection so no generated code is needed.
type FrameCodec struct{}

// Name reports the content subtype; the encoding is plain protobuf.
func (FrameCodec) Name() string { return "proto" }

// Marshal encodes a *Frame.
func (FrameCodec) Marshal(v any) ([]byte, error) {
	frame, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("frame codec: unexpected message type %T", v)
	}
	b := make([]byte, 0, len(frame.Payload)+8)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, frame.Payload)
	return b, nil
}

// Unmarshal decodes into a *Frame, skipping unknown fields.
func (FrameCodec) Unmarshal(data []byte, v any) error {
	frame, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("frame codec: unexpected message type %T", v)
	}
	frame.Payload = nil
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		if num == 1 && typ == protowire.BytesType {
			payload, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return protowire.ParseError(m)
			}
			//1.- The transport may reuse data once Unmarshal returns.
			frame.Payload = append([]byte(nil), payload...)
			data = data[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, data)
		if m < 0 {
			return protowire.ParseError(m)
		}
		data = data[m:]
	}
	return nil
}

// RelayServer is implemented by the Exchange service.
type RelayServer interface {
	Exchange(stream grpc.ServerStream) error
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RelayServer).Exchange(stream)
}

// ExchangeStreamDesc describes the Exchange bidi stream for clients.
var ExchangeStreamDesc = grpc.StreamDesc{
	StreamName:    "Exchange",
	Handler:       exchangeHandler,
	ServerStreams: true,
	ClientStreams: true,
}

// ServiceDesc registers the relay service on a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayServer)(nil),
	Streams:     []grpc.StreamDesc{ExchangeStreamDesc},
	Metadata:    "arenasync/relay/v1/relay.proto",
}

// GRPCService bridges Exchange streams to the hub.
type GRPCService struct {
	hub    *Hub
	opts   Options
	logger *logging.Logger
}

// NewGRPCService constructs the Exchange implementation.
func NewGRPCService(hub *Hub, opts Options, logger *logging.Logger) *GRPCService {
	if logger == nil {
		logger = logging.L()
	}
	return &GRPCService{hub: hub, opts: opts, logger: logger.With(logging.String("component", "relay_grpc"))}
}

// Exchange subscribes the stream to its channel and publishes every frame it sends.
func (s *GRPCService) Exchange(stream grpc.ServerStream) error {
	ctx := stream.Context()
	md, _ := metadata.FromIncomingContext(ctx)
	channel := firstValue(md, ChannelMetadataKey)
	if channel == "" {
		return status.Error(codes.InvalidArgument, "x-sync-channel metadata required")
	}
	clientID := uuid.NewString()
	client, err := s.hub.Join(channel, clientID, s.opts.ClientBuffer)
	if err != nil {
		if errors.Is(err, ErrTooManyClients) {
			return status.Error(codes.ResourceExhausted, err.Error())
		}
		if errors.Is(err, ErrHubClosed) {
			return status.Error(codes.Unavailable, err.Error())
		}
		return status.Error(codes.InvalidArgument, err.Error())
	}
	defer s.hub.Leave(client)
	logger := s.logger.With(logging.String("client_id", clientID), logging.String("channel", channel))
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		logger = logger.With(logging.String("remote", p.Addr.String()))
	}
	logger.Info("grpc client connected")

	recvErr := make(chan error, 1)
	go func() {
		limiter := newPublishLimiter(s.opts.PublishWindow, s.opts.PublishBurst, nil)
		for {
			var frame Frame
			if err := stream.RecvMsg(&frame); err != nil {
				recvErr <- err
				return
			}
			if s.opts.MaxPayloadBytes > 0 && int64(len(frame.Payload)) > s.opts.MaxPayloadBytes {
				s.hub.noteOversized()
				recvErr <- status.Errorf(codes.InvalidArgument, "frame exceeds %d bytes", s.opts.MaxPayloadBytes)
				return
			}
			if !limiter.Allow() {
				s.hub.noteRateLimited()
				continue
			}
			s.hub.Publish(channel, frame.Payload)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("grpc client disconnected")
			return status.FromContextError(ctx.Err()).Err()
		case err := <-recvErr:
			logger.Info("grpc client disconnected")
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case payload, ok := <-client.Messages():
			if !ok && !client.Evicted() {
				return status.Error(codes.Unavailable, "relay shutting down")
			}
			if !ok {
				logger.Warn("grpc client evicted")
				return status.Error(codes.ResourceExhausted, "client fell behind and was evicted")
			}
			if err := stream.SendMsg(&Frame{Payload: payload}); err != nil {
				return err
			}
		}
	}
}

// SharedSecretStreamInterceptor rejects streams whose metadata lacks the secret.
func SharedSecretStreamInterceptor(secret string) grpc.StreamServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if normalized == "" {
			return handler(srv, ss)
		}
		md, ok := metadata.FromIncomingContext(ss.Context())
		if !ok {
			return status.Error(codes.Unauthenticated, "missing metadata")
		}
		candidate := extractSharedSecret(md)
		if candidate == "" {
			return status.Error(codes.Unauthenticated, "missing shared secret")
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(normalized)) != 1 {
			return status.Error(codes.Unauthenticated, "invalid shared secret")
		}
		return handler(srv, ss)
	}
}

func extractSharedSecret(md metadata.MD) string {
	if secret := firstValue(md, SecretMetadataKey); secret != "" {
		return secret
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}

func firstValue(md metadata.MD, key string) string {
	for _, value := range md.Get(key) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// NewGRPCServer builds a grpc.Server serving the relay with the frame codec
// and, when a secret is configured, the shared-secret interceptor.
func NewGRPCServer(hub *Hub, opts Options, logger *logging.Logger, extra ...grpc.ServerOption) *grpc.Server {
	serverOpts := []grpc.ServerOption{grpc.ForceServerCodec(FrameCodec{})}
	if opts.MaxPayloadBytes > 0 {
		serverOpts = append(serverOpts, grpc.MaxRecvMsgSize(int(opts.MaxPayloadBytes)+16))
	}
	if strings.TrimSpace(opts.SharedSecret) != "" {
		serverOpts = append(serverOpts, grpc.ChainStreamInterceptor(SharedSecretStreamInterceptor(opts.SharedSecret)))
	}
	serverOpts = append(serverOpts, extra...)
	server := grpc.NewServer(serverOpts...)
	server.RegisterService(&ServiceDesc, NewGRPCService(hub, opts, logger))
	return server
}
