// Package api provides the operator control plane for autotrader: an HTTP
// API over the engine and a gRPC health service that reflects whether
// trading is active.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"autotrader/internal/config"
	"autotrader/internal/engine"
	"autotrader/internal/performance"
)

// Controller is the set of engine operations the control plane exposes.
type Controller interface {
	ExecuteCycle(ctx context.Context) (*engine.CycleResult, error)
	EmergencyStop(ctx context.Context) (*engine.StopResult, error)
	ResetRisk() engine.RiskState
	Status() engine.Status
	PerformanceSnapshot(ctx context.Context) (performance.Snapshot, error)
}

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	ctl      Controller
	alerts   http.Handler
	gatherer prometheus.Gatherer
	health   *Health
	httpAddr string
	grpcAddr string
	log      *slog.Logger

	httpServer *http.Server
	grpcServer *grpc.Server
}

// NewServer creates a new Server configured from the given Config. alerts
// serves the alert WebSocket stream and gatherer backs /metrics; either may
// be nil.
func NewServer(cfg *config.Config, ctl Controller, alerts http.Handler, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		ctl:      ctl,
		alerts:   alerts,
		gatherer: gatherer,
		health:   NewHealth(),
		httpAddr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		log:      slog.Default().With("component", "api"),
	}
	if cfg.Server.GRPCPort > 0 {
		s.grpcAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	}
	s.health.Report(ctl.Status().Risk.TradingActive)
	return s
}

// Health returns the gRPC health reporter so cycle results can update it.
func (s *Server) Health() *Health {
	return s.health
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs. Cancellation triggers a
// graceful shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 2)

	go func() {
		s.log.Info("control plane listening", "addr", s.httpAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			_ = s.httpServer.Close()
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
		s.grpcServer = grpc.NewServer()
		s.health.RegisterGRPC(s.grpcServer)
		go func() {
			s.log.Info("grpc health listening", "addr", s.grpcAddr)
			if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
		s.log.Error("listener failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := s.Shutdown(shutdownCtx); serr != nil {
		s.log.Error("shutdown error", "err", serr)
	}
	return err
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP routes with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/cycle", s.handleCycle)
	mux.HandleFunc("POST /api/v1/emergency-stop", s.handleEmergencyStop)
	mux.HandleFunc("POST /api/v1/risk/reset", s.handleResetRisk)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/performance", s.handlePerformance)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.alerts != nil {
		mux.Handle("GET /ws/alerts", s.alerts)
	}
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}
