package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/store"
)

// HealthService is the service name reported by the gRPC health server
// alongside the overall "" status.
const HealthService = "onix"

// NewGRPCServer creates a gRPC server with recovery, logging and auth
// interceptors, registers the health service and reflection, and returns
// both ready to serve.
func NewGRPCServer(authToken string, logger *slog.Logger) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			LoggingInterceptor(logger),
			AuthInterceptor(authToken),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor(logger),
			StreamAuthInterceptor(authToken),
		),
	)

	hs := health.NewServer()
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv, hs
}

// ProbeStore performs a cheap read against st.
func ProbeStore(ctx context.Context, st store.Store) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := st.ListAudit(ctx, model.AuditFilter{Top: 1})
	return err
}

// WatchHealth probes st immediately and then every interval, updating the
// health server until ctx is canceled. On exit the service is marked
// NOT_SERVING.
func WatchHealth(ctx context.Context, hs *health.Server, st store.Store, interval time.Duration, logger *slog.Logger) {
	last := healthpb.HealthCheckResponse_UNKNOWN
	check := func() {
		next := healthpb.HealthCheckResponse_SERVING
		if err := ProbeStore(ctx, st); err != nil {
			next = healthpb.HealthCheckResponse_NOT_SERVING
			if last != next {
				logger.Warn("store health probe failed", "error", err)
			}
		}
		if next != last {
			hs.SetServingStatus(HealthService, next)
			hs.SetServingStatus("", next)
			last = next
		}
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
			hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			return
		case <-ticker.C:
			check()
		}
	}
}
