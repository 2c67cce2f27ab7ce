// Package runnertest serves fake model runners over an in-memory listener.
package runnertest

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"reelguard/internal/pkg/runner"
)

// Handler answers one unary call.
type Handler func(method string, req *structpb.Struct) (*structpb.Struct, error)

// Server is a running fake runner.
type Server struct {
	Health *health.Server
	lis    *bufconn.Listener
}

// Start serves handler for every method except grpc.health.v1, which is
// answered by Health. The server stops when the test ends.
func Start(t testing.TB, handler Handler) *Server {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	hs := health.NewServer()

	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		req := &structpb.Struct{}
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		resp, err := handler(method, req)
		if err != nil {
			return err
		}
		return stream.SendMsg(resp)
	}))
	healthpb.RegisterHealthServer(srv, hs)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return &Server{Health: hs, lis: lis}
}

// Dial connects to the fake runner with cfg.Timeout. cfg.Address is ignored.
func (s *Server) Dial(t testing.TB, cfg runner.Config) *runner.Conn {
	t.Helper()
	cfg.Address = "passthrough:///bufnet"
	conn, err := runner.Dial(cfg, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return s.lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("runner.Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
