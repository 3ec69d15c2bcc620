package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"catalogexport/internal/config"
	"catalogexport/internal/logging"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ExporterService is the health service name reported for the export
// pipeline. The empty name reports overall server health.
const ExporterService = "catalogexport.Exporter"

const defaultHealthInterval = 10 * time.Second

// GRPCServer serves the standard health protocol. The pipeline is SERVING
// while its queue answers pings.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	log      zerolog.Logger
}

func NewGRPCServer(cfg config.APIConfig, logger *zerolog.Logger) (*GRPCServer, error) {
	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	unary := ChainUnaryInterceptors(
		LoggingUnaryInterceptor(logger),
		RateLimitUnaryInterceptor(newRateLimiter(cfg.RateLimit)),
	)
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(unary))

	hs := health.NewServer()
	hs.SetServingStatus(ExporterService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)

	if cfg.GRPC.Reflection {
		reflection.Register(grpcServer)
	}

	return &GRPCServer{
		server:   grpcServer,
		health:   hs,
		listener: lis,
		log:      logging.Component(logger, "grpc"),
	}, nil
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC API listening")
	return s.server.Serve(s.listener)
}

// CheckQueue pings the queue once and updates the exporter status.
func (s *GRPCServer) CheckQueue(ctx context.Context, queue Pinger) healthpb.HealthCheckResponse_ServingStatus {
	pingCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	st := healthpb.HealthCheckResponse_SERVING
	if err := queue.Ping(pingCtx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		s.log.Warn().Err(err).Msg("export queue unreachable")
	}
	s.health.SetServingStatus(ExporterService, st)
	return st
}

// WatchQueue re-checks the queue every interval until ctx is done.
func (s *GRPCServer) WatchQueue(ctx context.Context, queue Pinger, clock clockwork.Clock, interval time.Duration) {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	s.CheckQueue(ctx, queue)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.CheckQueue(ctx, queue)
		}
	}
}

func (s *GRPCServer) Shutdown(ctx context.Context) {
	if s.server == nil {
		return
	}
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
	}
}
