package grpcserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type fakePinger struct {
	mu  sync.Mutex
	err error
}

func (f *fakePinger) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakePinger) set(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func startAdmin(t *testing.T, db Pinger) (*Admin, healthpb.HealthClient) {
	t.Helper()
	a := NewAdmin(zaptest.NewLogger(t), db, time.Hour, false)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = a.Serve(lis) }()
	t.Cleanup(func() { a.Stop(time.Second) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return a, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestAdmin_HealthFollowsProbe(t *testing.T) {
	db := &fakePinger{}
	a, c := startAdmin(t, db)

	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ""), "not serving before the first probe")

	a.Probe(context.Background())
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ServiceName))

	db.set(errors.New("connection refused"))
	a.Probe(context.Background())
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ServiceName))
}

func TestAdmin_WatchStopsWithContext(t *testing.T) {
	a, c := startAdmin(t, &fakePinger{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Watch(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return check(t, c, "") == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ""))
}
