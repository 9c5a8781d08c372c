package grpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Codec carries the service messages as JSON so plain Go structs can be used
// without generated protobuf code.
type Codec struct{}

var _ encoding.Codec = Codec{}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (Codec) Name() string {
	return "json"
}
