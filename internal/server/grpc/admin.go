// Package grpcserver runs the admin gRPC endpoint that serves grpc.health.v1
// probes for the sync engine.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name probes may ask for besides "".
const ServiceName = "crmsync.SyncEngine"

const probeTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Admin is the admin gRPC server. Its health status follows the database probe.
type Admin struct {
	srv      *grpc.Server
	hs       *health.Server
	db       Pinger
	interval time.Duration
	log      *zap.Logger
}

// NewAdmin constructs the admin server. reflect enables server reflection.
func NewAdmin(log *zap.Logger, db Pinger, interval time.Duration, reflect bool) *Admin {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if reflect {
		reflection.Register(s)
	}
	a := &Admin{srv: s, hs: hs, db: db, interval: interval, log: log}
	a.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return a
}

func (a *Admin) set(st healthpb.HealthCheckResponse_ServingStatus) {
	a.hs.SetServingStatus("", st)
	a.hs.SetServingStatus(ServiceName, st)
}

// Probe pings the database once and updates the serving status.
func (a *Admin) Probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if a.db != nil {
		if err := a.db.Ping(ctx); err != nil {
			a.log.Warn("health probe failed", zap.Error(err))
			a.set(healthpb.HealthCheckResponse_NOT_SERVING)
			return
		}
	}
	a.set(healthpb.HealthCheckResponse_SERVING)
}

// Watch probes on every interval until ctx is done, then reports NOT_SERVING.
func (a *Admin) Watch(ctx context.Context) {
	a.Probe(ctx)
	t := time.NewTicker(a.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			a.hs.Shutdown()
			return
		case <-t.C:
			a.Probe(ctx)
		}
	}
}

// Serve blocks serving lis.
func (a *Admin) Serve(lis net.Listener) error {
	return a.srv.Serve(lis)
}

// Stop drains in-flight calls, forcing the stop after timeout.
func (a *Admin) Stop(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		a.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		a.srv.Stop()
	}
}
