// Package ai is the client for the opaque AI-analysis provider. Grounded
// on a grpc_client.go (dial-with-insecure-
// creds, per-call context timeout, translate response into a local
// type), generalized from a generated protobuf stub to a hand-registered
// JSON gRPC codec since no .proto/pb.go for this service was retrieved
// in the pack. spec.md treats the provider as an opaque text-completion
// collaborator reached over a narrow interface with a timeout and a
// deterministic fallback — this package is that boundary.
package ai

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"trading-core/internal/breaker"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// BreakerKey is the shared breaker.Registry key guarding every call to
// the AI provider, matching spec.md's "ai:provider" resource key.
const BreakerKey = "ai:provider"

// Config tunes Client behavior.
type Config struct {
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Second}
}

// Client calls the AI provider over gRPC with a bounded deadline and a
// deterministic degraded fallback on any failure.
type Client struct {
	conn     *grpc.ClientConn
	breakers *breaker.Registry
	cfg      Config
}

// Dial connects to the AI provider at addr. An empty addr disables the
// client entirely (spec.md: "AI_PROVIDER_KEY absent disables AI
// endpoints gracefully") — callers should check for a nil *Client before
// wiring AI routes, same as the original worker client is only dialed
// when a worker address is configured.
func Dial(addr string, breakers *breaker.Registry, cfg Config) (*Client, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, breakers: breakers, cfg: cfg}, nil
}

// NewWithConn wraps an already-established connection (used by tests
// dialing an in-process bufconn server).
func NewWithConn(conn *grpc.ClientConn, breakers *breaker.Registry, cfg Config) *Client {
	return &Client{conn: conn, breakers: breakers, cfg: cfg}
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Analyze asks the provider for a read on symbol. On breaker-open or any
// upstream failure, it returns a deterministic fallback response with
// Degraded set, never an error — per spec.md's explicit
// "AI provider is explicitly recoverable" propagation policy, callers
// mark the HTTP response degraded:true rather than failing the request.
func (c *Client) Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResponse, error) {
	if c == nil || c.conn == nil {
		return fallback(), nil
	}

	if c.breakers != nil && !c.breakers.Allow(BreakerKey) {
		return fallback(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp := new(AnalysisResponse)
	err := c.conn.Invoke(ctx, fullMethod(), &req, resp)
	if err != nil {
		if c.breakers != nil {
			c.breakers.RecordFailure(BreakerKey)
		}
		return fallback(), nil
	}

	if c.breakers != nil {
		c.breakers.RecordSuccess(BreakerKey)
	}
	return *resp, nil
}

func fallback() AnalysisResponse {
	return AnalysisResponse{
		Verdict:    "UNAVAILABLE",
		Narrative:  "AI analysis is temporarily unavailable; falling back to a neutral read.",
		Confidence: 0,
		Degraded:   true,
	}
}
