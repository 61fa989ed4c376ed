// Package rpccodec registers a JSON encoding.Codec with gRPC under the
// content-subtype "json", so pydpiperpb's hand-authored service descriptor
// can ride real google.golang.org/grpc transport, TLS, and health-checking
// machinery without a protoc-generated binary codec.
package rpccodec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the content-subtype this codec registers under. Clients select
// it with grpc.CallContentSubtype(rpccodec.Name); servers negotiate it
// automatically once registered process-wide via init.
const Name = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements encoding.Codec by delegating to encoding/json. It
// carries no state; wire messages are the plain Go structs declared in
// internal/rpc/pydpiperpb.
type jsonCodec struct{}

func (jsonCodec) Name() string { return Name }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpccodec: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpccodec: unmarshal: %w", err)
	}
	return nil
}
