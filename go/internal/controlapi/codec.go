package controlapi

import (
	"encoding/json"
)

// jsonCodec replaces connect's protojson codec. The API's messages are plain
// Go structs, so there are no protobuf descriptors to marshal with.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
