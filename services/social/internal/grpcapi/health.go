package grpcapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-check name of the comment service.
const ServiceName = "dojo.social.v1.Comments"

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReporter mirrors a Pinger into a gRPC health server.
type HealthReporter struct {
	server   *health.Server
	pinger   Pinger
	interval time.Duration
	log      *zap.Logger
}

func NewHealthReporter(server *health.Server, pinger Pinger, interval time.Duration, log *zap.Logger) *HealthReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HealthReporter{server: server, pinger: pinger, interval: interval, log: log}
}

// Check pings once and publishes the result for both the overall server and
// ServiceName.
func (h *HealthReporter) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()

	st := healthpb.HealthCheckResponse_SERVING
	if err := h.pinger.Ping(ctx); err != nil {
		h.log.Warn("readiness check failed", zap.Error(err))
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", st)
	h.server.SetServingStatus(ServiceName, st)
	return st
}

// Run checks every interval until ctx is done, then marks everything as not
// serving.
func (h *HealthReporter) Run(ctx context.Context) {
	h.Check(ctx)
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-t.C:
			h.Check(ctx)
		}
	}
}
