package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/hive-corporation/guardian/internal/core/domain"
)

// ConsoleService is the service name supervisors query for console health.
const ConsoleService = "guardian.Console"

// SummaryProvider yields the current dashboard summary.
type SummaryProvider interface {
	Summary(ctx context.Context) domain.Summary
}

// HealthReporter publishes the dashboard status through the standard gRPC
// health service: SERVING while every critical manager service runs,
// NOT_SERVING otherwise.
type HealthReporter struct {
	server  *health.Server
	summary SummaryProvider
	logger  *zap.Logger
	last    healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthReporter(summary SummaryProvider, logger *zap.Logger) *HealthReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := health.NewServer()
	srv.SetServingStatus(ConsoleService, healthpb.HealthCheckResponse_UNKNOWN)
	return &HealthReporter{
		server:  srv,
		summary: summary,
		logger:  logger,
		last:    healthpb.HealthCheckResponse_UNKNOWN,
	}
}

// Register attaches the health service and reflection to s.
func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
	reflection.Register(s)
}

// Server exposes the underlying health server.
func (h *HealthReporter) Server() *health.Server {
	return h.server
}

// Check samples the dashboard once and updates the served status.
func (h *HealthReporter) Check(ctx context.Context) domain.SystemStatus {
	status := h.summary.Summary(ctx).SystemStatus

	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if status == domain.StatusSecure {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	if serving != h.last {
		h.logger.Info("console health changed",
			zap.String("system_status", string(status)),
			zap.String("serving", serving.String()))
		h.last = serving
	}
	h.server.SetServingStatus(ConsoleService, serving)
	h.server.SetServingStatus("", serving)
	return status
}

// Run checks every interval until ctx is done, then marks the service as
// shutting down.
func (h *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}
