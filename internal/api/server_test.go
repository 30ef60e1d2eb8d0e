package api

import (
	"context"
	"errors"
	"io"
	"net"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"safarbook/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestGRPCServer_Health(t *testing.T) {
	logger := zerolog.New(io.Discard)
	var failing atomic.Bool
	checker := NewHealthChecker()
	checker.Register("database", func(context.Context) error {
		if failing.Load() {
			return errors.New("database is closed")
		}
		return nil
	})

	s, err := NewGRPCServer(config.APIConfig{GRPC: config.APIGRPCConfig{Port: 0}}, checker, &logger)
	require.NoError(t, err)
	go func() { _ = s.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})

	_, port, err := net.SplitHostPort(s.Addr())
	require.NoError(t, err)
	conn, err := grpc.NewClient(net.JoinHostPort("127.0.0.1", port), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	failing.Store(true)
	s.refresh(ctx)

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestGRPCServer_WatchStops(t *testing.T) {
	logger := zerolog.New(io.Discard)
	s, err := NewGRPCServer(config.APIConfig{}, nil, &logger)
	require.NoError(t, err)
	s.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Watch(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer stop()
	s.Shutdown(shutdownCtx)
}

func TestChainUnaryInterceptors(t *testing.T) {
	callCount := 0
	var calls []string

	interceptor1 := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		calls = append(calls, "interceptor1")
		return handler(ctx, req)
	}

	interceptor2 := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		calls = append(calls, "interceptor2")
		return handler(ctx, req)
	}

	handler := func(ctx context.Context, req any) (any, error) {
		callCount++
		calls = append(calls, "handler")
		return "result", nil
	}

	chained := ChainUnaryInterceptors(interceptor1, interceptor2)
	info := &grpc.UnaryServerInfo{FullMethod: "test"}

	result, err := chained(context.Background(), "request", info, handler)
	if err != nil {
		t.Fatalf("chained interceptor: %v", err)
	}
	if result != "result" {
		t.Fatalf("expected 'result', got %v", result)
	}
	if callCount != 1 {
		t.Fatalf("expected handler called once, got %d", callCount)
	}

	expected := []string{"interceptor1", "interceptor2", "handler"}
	if !reflect.DeepEqual(calls, expected) {
		t.Fatalf("expected calls %v, got %v", expected, calls)
	}
}

func TestLoggingUnaryInterceptor(t *testing.T) {
	interceptor := LoggingUnaryInterceptor(nil)
	resp, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "test"},
		func(ctx context.Context, req any) (any, error) { return "ok", nil })
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp)
}
