package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCHandler serves the standard gRPC health protocol, with one service
// entry per dependency and "" for the process as a whole.
type GRPCHandler struct {
	server *grpc.Server
	health *health.Server
	checks *HealthChecks
	logger *zap.Logger
}

func NewGRPCHandler(checks *HealthChecks, logger *zap.Logger, opts ...grpc.ServerOption) *GRPCHandler {
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &GRPCHandler{server: srv, health: hs, checks: checks, logger: logger}
}

func (h *GRPCHandler) Server() *grpc.Server {
	return h.server
}

// Refresh runs the checks once and publishes the results.
func (h *GRPCHandler) Refresh(ctx context.Context) {
	failures := h.checks.Check(ctx)

	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range h.checks.Names() {
		status := healthpb.HealthCheckResponse_SERVING
		if msg, failed := failures[name]; failed {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
			h.logger.Warn("dependency unhealthy", zap.String("dependency", name), zap.String("error", msg))
		}
		h.health.SetServingStatus(name, status)
	}
	h.health.SetServingStatus("", overall)
}

// Watch refreshes health every interval until ctx is done.
func (h *GRPCHandler) Watch(ctx context.Context, interval time.Duration) {
	h.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// Shutdown marks everything NOT_SERVING and drains in-flight calls.
func (h *GRPCHandler) Shutdown() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
