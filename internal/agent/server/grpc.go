package server

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcmw "github.com/jkaberg/hass-byd-vehicle/internal/pkg/middleware/grpc"
	"github.com/jkaberg/hass-byd-vehicle/internal/poller"
	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
	"github.com/jkaberg/hass-byd-vehicle/pkg/options"
)

// GRPC serves the standard health checking service with one service name
// per vehicle stream.
type GRPC struct {
	server  *grpc.Server
	health  *health.Server
	options *options.GrpcOptions
}

var _ Server = (*GRPC)(nil)

func NewGRPC(opts *options.GrpcOptions) *GRPC {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcmw.UnaryServerTimeoutInterceptor(grpcmw.DefaultRPCTimeout)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if opts.Reflection {
		reflection.Register(s)
	}
	return &GRPC{server: s, health: hs, options: opts}
}

// HealthService names the health service of one vehicle stream.
func HealthService(vin string, kind poller.StreamKind) string {
	return fmt.Sprintf("byd.%s.%s", vin, kind)
}

// SetServing records the health of a vehicle stream.
func (s *GRPC) SetServing(vin string, kind poller.StreamKind, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(HealthService(vin, kind), status)
}

// SetReady sets the overall ("") health status.
func (s *GRPC) SetReady(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Health exposes the health server for in-process checks.
func (s *GRPC) Health() healthpb.HealthServer { return s.health }

func (s *GRPC) Start(ctx context.Context) error {
	lis, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc addr %s: %w", s.options.Addr, err)
	}

	log.Info("Starting gRPC Server", "addr", s.options.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.server.GracefulStop()
		return nil
	}
}
