package grpcx

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/circulation/libs/runtime"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server is a gRPC server that always exposes grpc.health.v1.
type Server struct {
	*grpc.Server
	health *health.Server
	logger *slog.Logger
}

func NewServer(logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerLoggingInterceptor(logger),
		),
	}
	srv := grpc.NewServer(append(base, opts...)...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &Server{Server: srv, health: hs, logger: logger}
}

// SetServing flips the health status for service ("" is the overall server).
func (s *Server) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, st)
}

// WatchReadiness re-runs checks every interval and mirrors the result into the
// health status of service until ctx is done.
func (s *Server) WatchReadiness(ctx context.Context, service string, interval time.Duration, checks ...runtime.ReadyCheck) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	probe := func() {
		failures := runtime.RunChecks(ctx, 2*time.Second, checks...)
		if len(failures) > 0 {
			s.logger.Warn("grpc health degraded", "service", service, "failures", failures)
		}
		s.SetServing(service, len(failures) == 0)
	}
	probe()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

// Shutdown marks everything NOT_SERVING and drains in-flight calls.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.GracefulStop()
}
