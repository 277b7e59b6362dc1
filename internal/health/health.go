// Package health exposes the node's serving state over the standard gRPC
// health checking protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the health service name for the overlay listener. The empty
// name reports the process as a whole.
const Service = "tailnode.Listener"

// Server serves grpc.health.v1.Health.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger

	mu      sync.Mutex
	serving bool
}

// NewServer returns a server reporting NOT_SERVING until SetServing(true).
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetServing flips both the process and listener status.
func (s *Server) SetServing(serving bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serving == serving {
		return
	}
	s.serving = serving

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
	s.logger.Info("health status changed", zap.Stringer("status", status))
}

// Serve serves on l until Stop. It returns nil after Stop.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("health service listening", zap.Stringer("addr", l.Addr()))
	if err := s.grpc.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING, so watchers are told, and stops the
// server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Probe asks the health service at target for the status of service.
// opts are passed to grpc.NewClient; without them the connection is
// plaintext.
func Probe(ctx context.Context, target, service string, opts ...grpc.DialOption) (*healthpb.HealthCheckResponse, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create health client: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return nil, fmt.Errorf("health check %q: %w", service, err)
	}
	return resp, nil
}
