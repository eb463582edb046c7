package api

import (
	"context"
	"fmt"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/faqdesk/sentry-watchdog/internal/config"
	"github.com/faqdesk/sentry-watchdog/internal/models"
	"github.com/faqdesk/sentry-watchdog/internal/watchdog"
)

// Server wraps the admin gRPC endpoint: the standard health service with one
// entry per monitored target, mirrored from the status board so external
// checkers can watch individual targets over gRPC.
type Server struct {
	cfg        config.ServerConfig
	grpcServer *grpc.Server
	healthSrv  *health.Server
	listener   net.Listener
	board      *watchdog.Board
}

// NewServer constructs a gRPC server bound to the configured address.
func NewServer(cfg config.ServerConfig, board *watchdog.Board, opts ...grpc.ServerOption) (*Server, error) {
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}
	serverOpts = append(serverOpts, opts...)
	grpcServer := grpc.NewServer(serverOpts...)
	grpc_prometheus.Register(grpcServer)

	// "" is the watchdog's own liveness; per-target entries start unknown
	// until the first probe lands.
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	if board != nil {
		for _, st := range board.Statuses() {
			healthSrv.SetServingStatus(st.Target, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
		}
	}
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	// Enable server reflection so grpcurl and health probes work without stubs.
	reflection.Register(grpcServer)

	return &Server{
		cfg:        cfg,
		grpcServer: grpcServer,
		healthSrv:  healthSrv,
		listener:   lis,
		board:      board,
	}, nil
}

// Start serves incoming gRPC requests until Stop/Shutdown is invoked.
func (s *Server) Start() error {
	if s.grpcServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	return s.grpcServer.Serve(s.listener)
}

// SyncHealth mirrors the board into the health service on the given interval
// until the context ends. Run it in its own goroutine.
func (s *Server) SyncHealth(ctx context.Context, interval time.Duration) {
	if s.board == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.publish()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) publish() {
	for _, st := range s.board.Statuses() {
		s.healthSrv.SetServingStatus(st.Target, servingStatus(st))
	}
}

func servingStatus(st models.TargetStatus) healthpb.HealthCheckResponse_ServingStatus {
	if st.LastProbe == nil {
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	}
	if st.LastProbe.Status == models.StatusHealthy {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Shutdown attempts a graceful shutdown, falling back to Stop after timeout.
func (s *Server) Shutdown(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-stopped:
	}
}

// Address exposes the bound listener address (useful for tests).
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
