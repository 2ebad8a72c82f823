package proto

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// codecName is the content-subtype negotiated for every ChannelHub call
// ("application/grpc+fleetforge" on the wire). Registering under its own
// subtype, rather than overriding the "proto" codec, leaves any other
// protobuf-backed gRPC traffic in this binary untouched.
const codecName = "fleetforge"

// gobCodec implements grpc/encoding.Codec over gob instead of protobuf wire
// format: hand-rolling a real protobuf-compatible Marshal/Unmarshal for
// these message types without a protoc step (SPEC_FULL.md S4.4) is not
// worth the risk it'd carry without being able to compile and round-trip
// it, and gob already gives exact, deterministic encode/decode for plain
// Go structs including the nested pointers and time.Time fields Envelope
// uses.
type gobCodec struct{}

func (gobCodec) Name() string { return codecName }

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func init() {
	encoding.RegisterCodec(gobCodec{})
}
