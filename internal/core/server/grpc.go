// Package server runs the readiness endpoint: a gRPC server exposing only the
// standard health service, with one service name per module.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// OverallService is the health service name that covers the whole agent.
const OverallService = ""

// Config is the listen address of the health server.
type Config struct {
	Host string
	Port int
}

// GRPCServer manages the health server lifecycle.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	config   Config
}

// NewGRPCServer creates the server. Every status starts NOT_SERVING until the
// app manager reports otherwise.
func NewGRPCServer(cfg Config, services []string) (*GRPCServer, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid health port %d", cfg.Port)
	}

	server := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	healthServer.SetServingStatus(OverallService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	for _, name := range services {
		healthServer.SetServingStatus(name, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	return &GRPCServer{
		server: server,
		health: healthServer,
		config: cfg,
	}, nil
}

// SetServing records the status of one service; OverallService for the agent.
func (s *GRPCServer) SetServing(service string, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// Listen binds the listener so Addr is known before Serve.
func (s *GRPCServer) Listen() error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, nil before Listen.
func (s *GRPCServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listener when needed and serves until Shutdown.
func (s *GRPCServer) Start(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	log.Info().Str("addr", s.listener.Addr().String()).Msg("Health server listening")
	return s.server.Serve(s.listener)
}

// Shutdown gracefully stops the server with a 5-second timeout.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(5 * time.Second):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}
