package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const exchangeMethod = "/batteryshell.host.v1.Host/Exchange"

var errConnectionShutdown = errors.New("connection shutdown")

// HostService is the server side of the Exchange stream.
type HostService interface {
	Exchange(stream grpc.ServerStream) error
}

// HostServiceDesc describes the host service. Each stream message is one JSON
// envelope carried as a google.protobuf.Struct.
var HostServiceDesc = grpc.ServiceDesc{
	ServiceName: "batteryshell.host.v1.Host",
	HandlerType: (*HostService)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Exchange",
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "batteryshell/host.proto",
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(HostService).Exchange(stream)
}

func toStruct(raw []byte) (*structpb.Struct, error) {
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct) ([]byte, error) {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return raw, nil
}

// GRPCConfig holds configuration for the gRPC channel.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// DialOptions are appended to the defaults (tests pass a bufconn dialer).
	DialOptions []grpc.DialOption
}

// DefaultGRPCConfig returns default configuration for addr.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCChannel is a gateway.Channel over one Exchange stream.
type GRPCChannel struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
	logger *slog.Logger

	sendMu sync.Mutex
}

// DialGRPC connects to the host and opens the Exchange stream.
func DialGRPC(cfg GRPCConfig, logger *slog.Logger) (*GRPCChannel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to backend host at %s: %w", cfg.Address, err)
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancelConnect()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("backend host at %s not ready: %w", cfg.Address, err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := conn.NewStream(streamCtx, &HostServiceDesc.Streams[0], exchangeMethod)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("open exchange stream: %w", err)
	}

	logger.Info("Connected to backend host", "address", cfg.Address, "transport", "grpc")
	return &GRPCChannel{conn: conn, stream: stream, cancel: cancel, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("connection state did not change from %s", state)
		}
	}
}

// Send writes one envelope to the stream.
func (c *GRPCChannel) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := toStruct(msg)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.stream.SendMsg(s); err != nil {
		return fmt.Errorf("grpc send: %w", err)
	}
	return nil
}

// Receive reads the next envelope. Cancelling ctx tears the stream down.
func (c *GRPCChannel) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	s := &structpb.Struct{}
	if err := c.stream.RecvMsg(s); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("grpc receive: %w", err)
	}
	return fromStruct(s)
}

// Close ends the stream and the connection.
func (c *GRPCChannel) Close() error {
	c.sendMu.Lock()
	_ = c.stream.CloseSend()
	c.sendMu.Unlock()
	c.cancel()
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close grpc connection: %w", err)
	}
	return nil
}

// GRPCHost serves HostServiceDesc with a Responder.
type GRPCHost struct {
	responder Responder
	logger    *slog.Logger
}

// NewGRPCHost creates a host service.
func NewGRPCHost(r Responder, logger *slog.Logger) *GRPCHost {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCHost{responder: r, logger: logger}
}

// Register adds the host service to s.
func (h *GRPCHost) Register(s *grpc.Server) {
	s.RegisterService(&HostServiceDesc, h)
}

// Exchange answers every request on the stream concurrently.
func (h *GRPCHost) Exchange(stream grpc.ServerStream) error {
	ctx := stream.Context()
	var (
		wg     sync.WaitGroup
		sendMu sync.Mutex
	)
	defer wg.Wait()

	h.logger.Info("Backend stream opened")
	for {
		in := &structpb.Struct{}
		if err := stream.RecvMsg(in); err != nil {
			h.logger.Info("Backend stream closed", "reason", err)
			return nil
		}
		raw, err := fromStruct(in)
		if err != nil {
			h.logger.Warn("Dropping undecodable host request", "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			out, ok := answer(ctx, h.responder, raw, h.logger)
			if !ok {
				return
			}
			s, err := toStruct(out)
			if err != nil {
				h.logger.Error("Failed to convert host response", "error", err)
				return
			}
			sendMu.Lock()
			defer sendMu.Unlock()
			if err := stream.SendMsg(s); err != nil {
				h.logger.Debug("Failed to send host response", "error", err)
			}
		}()
	}
}
