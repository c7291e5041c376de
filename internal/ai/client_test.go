package ai

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"trading-core/internal/breaker"
)

type fakeProvider struct {
	resp *AnalysisResponse
	err  error
}

func (f *fakeProvider) Analyze(ctx context.Context, req *AnalysisRequest) (*AnalysisResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func dialFakeServer(t *testing.T, impl providerServer) (*Client, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)

	srv := grpc.NewServer()
	RegisterProviderServer(srv, impl)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	require.NoError(t, err)

	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 3, FailureWindow: time.Minute, Cooldown: time.Minute, ProbeLimit: 1})
	client := NewWithConn(conn, breakers, Config{Timeout: 2 * time.Second})

	cleanup := func() {
		_ = conn.Close()
		srv.Stop()
	}
	return client, cleanup
}

func TestAnalyzeReturnsProviderResponseOnSuccess(t *testing.T) {
	client, cleanup := dialFakeServer(t, &fakeProvider{resp: &AnalysisResponse{Verdict: "BULLISH", Narrative: "momentum building", Confidence: 0.8}})
	defer cleanup()

	resp, err := client.Analyze(context.Background(), AnalysisRequest{Symbol: "BTCUSDT", Prompt: "read the tape"})
	require.NoError(t, err)
	assert.Equal(t, "BULLISH", resp.Verdict)
	assert.False(t, resp.Degraded)
}

func TestAnalyzeFallsBackOnUpstreamError(t *testing.T) {
	client, cleanup := dialFakeServer(t, &fakeProvider{err: errors.New("provider exploded")})
	defer cleanup()

	resp, err := client.Analyze(context.Background(), AnalysisRequest{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, "UNAVAILABLE", resp.Verdict)
}

func TestAnalyzeRecordsBreakerFailureOnUpstreamError(t *testing.T) {
	client, cleanup := dialFakeServer(t, &fakeProvider{err: errors.New("boom")})
	defer cleanup()

	for i := 0; i < 3; i++ {
		_, err := client.Analyze(context.Background(), AnalysisRequest{Symbol: "BTCUSDT"})
		require.NoError(t, err)
	}
	assert.Equal(t, breaker.StateOpen, client.breakers.State(BreakerKey))
}

func TestAnalyzeFallsBackImmediatelyWhenBreakerOpen(t *testing.T) {
	client, cleanup := dialFakeServer(t, &fakeProvider{resp: &AnalysisResponse{Verdict: "BULLISH"}})
	defer cleanup()

	client.breakers.Trip(BreakerKey)

	resp, err := client.Analyze(context.Background(), AnalysisRequest{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
}

func TestAnalyzeOnNilClientReturnsFallback(t *testing.T) {
	var client *Client
	resp, err := client.Analyze(context.Background(), AnalysisRequest{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
}

func TestDialWithEmptyAddrReturnsNilClient(t *testing.T) {
	client, err := Dial("", nil, DefaultConfig())
	require.NoError(t, err)
	assert.Nil(t, client)
}
