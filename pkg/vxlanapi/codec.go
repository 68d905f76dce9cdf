package vxlanapi

import (
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"
)

// codecName matches the Connect protocol's "application/json" content type.
const codecName = "json"

// Codec marshals API messages as plain JSON. It replaces connect's
// protobuf JSON codec, which only accepts proto.Message values.
type Codec struct{}

var _ connect.Codec = Codec{}

// Name implements connect.Codec.
func (Codec) Name() string { return codecName }

// Marshal implements connect.Codec.
func (Codec) Marshal(msg any) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", msg, err)
	}
	return b, nil
}

// Unmarshal implements connect.Codec. An empty body leaves msg untouched.
func (Codec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("unmarshal %T: %w", msg, err)
	}
	return nil
}
