// Package runner is the gRPC transport to external model runners. Runners
// speak generic google.protobuf.Struct messages, so no generated stubs are
// needed on this side.
package runner

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// Config holds configuration for one runner connection.
type Config struct {
	Address string        // gRPC server address, e.g., "localhost:50051"
	Timeout time.Duration // Per-request timeout
}

// DefaultConfig returns a default gRPC config.
func DefaultConfig(addr string) Config {
	return Config{
		Address: addr,
		Timeout: 60 * time.Second,
	}
}

// Conn wraps a client connection with struct-typed unary calls.
type Conn struct {
	config Config
	cc     *grpc.ClientConn
	health healthpb.HealthClient
}

// Dial creates a new connection from config. Extra options are appended
// after the insecure transport credentials.
// Caller is responsible for closing the connection.
func Dial(cfg Config, opts ...grpc.DialOption) (*Conn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("runner: failed to dial %s: %w", cfg.Address, err)
	}
	return &Conn{
		config: cfg,
		cc:     cc,
		health: healthpb.NewHealthClient(cc),
	}, nil
}

// Address returns the dialled target.
func (c *Conn) Address() string {
	return c.config.Address
}

// Invoke calls method with req encoded as a Struct and returns the reply.
func (c *Conn) Invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("runner: failed to encode %s request: %w", method, err)
	}
	out := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return nil, fmt.Errorf("runner: %s failed: %w", method, err)
	}
	return out, nil
}

// Ping runs the standard health check against the whole server.
func (c *Conn) Ping(ctx context.Context) error {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("runner %s health check failed: %w", c.config.Address, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("runner %s unhealthy: %s", c.config.Address, resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection.
func (c *Conn) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// EncodeImages packs images as [{index, image}] with base64 payloads.
func EncodeImages(indices []int, images [][]byte) []any {
	out := make([]any, len(images))
	for i, img := range images {
		out[i] = map[string]any{
			"index": indices[i],
			"image": base64.StdEncoding.EncodeToString(img),
		}
	}
	return out
}
