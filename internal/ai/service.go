package ai

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName and method names mirror the naming grpc-gateway-generated
// stubs would use, kept here by hand since no .proto was retrieved for
// this service.
const (
	serviceName  = "trading.ai.Provider"
	methodAnalyze = "Analyze"
)

// AnalysisRequest asks the opaque AI provider for a market read on a
// symbol. Context carries freeform key/value hints (recent price,
// position, risk state) the provider may use; its shape is intentionally
// open since the provider is treated as opaque per spec.
type AnalysisRequest struct {
	Symbol  string            `json:"symbol"`
	Prompt  string            `json:"prompt"`
	Context map[string]string `json:"context,omitempty"`
}

// AnalysisResponse is the provider's answer. Degraded is set by the
// client itself (never by the wire response) when the call falls back
// instead of reaching the provider.
type AnalysisResponse struct {
	Verdict    string  `json:"verdict"`
	Narrative  string  `json:"narrative"`
	Confidence float64 `json:"confidence"`
	Degraded   bool    `json:"-"`
}

// providerServer is the interface an in-process fake implements for
// tests; production never implements this side, only dials it.
type providerServer interface {
	Analyze(context.Context, *AnalysisRequest) (*AnalysisResponse, error)
}

func analyzeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(AnalysisRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(providerServer).Analyze(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + methodAnalyze}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(providerServer).Analyze(ctx, req.(*AnalysisRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// serviceDesc is the hand-authored equivalent of what protoc-gen-go-grpc
// would emit for a one-method "Provider" service. Used to register the
// in-process fake server that exercises the real client Invoke path in
// tests.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*providerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: methodAnalyze,
			Handler:    analyzeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ai/provider.proto",
}

// RegisterProviderServer attaches a providerServer implementation to s,
// for tests that want to exercise Client.Analyze against a real
// in-process gRPC server instead of mocking the client interface.
func RegisterProviderServer(s grpc.ServiceRegistrar, impl providerServer) {
	s.RegisterService(&serviceDesc, impl)
}

func fullMethod() string {
	return "/" + serviceName + "/" + methodAnalyze
}
