package api

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// TradingService is the health service name that tracks the circuit
// breaker. The empty service name reports process liveness.
const TradingService = "autotrader.Trading"

// Health publishes trading state over the standard gRPC health protocol:
// TradingService is SERVING while trading is active and NOT_SERVING while
// halted.
type Health struct {
	srv *health.Server
}

// NewHealth creates a Health reporter with the process marked SERVING.
func NewHealth() *Health {
	h := &Health{srv: health.NewServer()}
	h.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return h
}

// Report updates the trading service status.
func (h *Health) Report(tradingActive bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if tradingActive {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(TradingService, status)
}

// RegisterGRPC registers the health service on the given gRPC server.
func (h *Health) RegisterGRPC(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, h.srv)
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *Health) Shutdown() {
	h.srv.Shutdown()
}

// Server exposes the underlying health server for in-process checks.
func (h *Health) Server() healthpb.HealthServer {
	return h.srv
}
