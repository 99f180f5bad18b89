// Package remote runs trackers out of process over gRPC. Messages are plain
// Go structs carried by a JSON codec, so no generated code is involved.
package remote

import (
	"encoding/json"
	"fmt"
)

// codecName is the content subtype negotiated on the wire
const codecName = "json"

// jsonCodec implements encoding.Codec
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }
