package grpcsrv

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/diagramhub/collab-service/config"
	"github.com/diagramhub/collab-service/infra/server/grpc/interceptors"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server is the operator-facing gRPC endpoint. It exposes the standard
// health service; collaboration traffic itself goes over WebSocket.
type Server struct {
	*grpc.Server
	Health *health.Server

	addr     string
	logger   *slog.Logger
	listener net.Listener
}

func New(cfg *config.Config, logger *slog.Logger, tp trace.TracerProvider) *Server {
	l := logger.With(slog.String("component", "grpc"))
	logOpts := interceptors.LoggingOptions()
	recOpts := interceptors.RecoveryOptions(l)

	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler(otelgrpc.WithTracerProvider(tp))),
		grpc.ChainUnaryInterceptor(
			logging.UnaryServerInterceptor(interceptors.Logger(l), logOpts...),
			recovery.UnaryServerInterceptor(recOpts...),
		),
		grpc.ChainStreamInterceptor(
			logging.StreamServerInterceptor(interceptors.Logger(l), logOpts...),
			recovery.StreamServerInterceptor(recOpts...),
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	return &Server{
		Server: s,
		Health: hs,
		addr:   cfg.GRPC.Address,
		logger: l,
	}
}

func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.Serve(ln); err != nil {
			s.logger.Error("GRPC_SERVER_FAILED", "err", err)
		}
	}()

	s.Health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.logger.Info("GRPC_SERVER_STARTED", "addr", ln.Addr().String())
	return nil
}

// Stop flips health to NOT_SERVING and drains, falling back to a hard stop
// when ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.Health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.Server.Stop()
	}
	return nil
}

func (s *Server) ListenAddr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}
