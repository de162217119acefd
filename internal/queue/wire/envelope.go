// Package wire provides an optional protobuf envelope codec for queue
// message bodies: a JSON-shaped map wrapped as a protobuf Struct. A
// protobuf body can be marked with a
// `Content-Type: application/x-protobuf` message attribute. The ingestor
// does not call this package; it decodes every inbound body as JSON.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ContentTypeAttribute is the message attribute key that marks a
// protobuf body.
const ContentTypeAttribute = "Content-Type"

// ProtobufContentType is the attribute value signalling a protobuf body.
const ProtobufContentType = "application/x-protobuf"

// Encode wraps an arbitrary JSON-shaped map as a protobuf Struct and
// marshals it to bytes. Used by tests and by adapters that want to
// produce the protobuf envelope instead of plain JSON.
func Encode(fields map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("wire: build struct: %w", err)
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal envelope: %w", err)
	}
	return b, nil
}

// Decode reverses Encode, returning a plain map of the same shape a
// parsed JSON body has.
func Decode(body []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("wire: unmarshal envelope: %w", err)
	}
	return s.AsMap(), nil
}
