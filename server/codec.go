package server

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	json "github.com/goccy/go-json"
	"google.golang.org/grpc/encoding"
)

// Codec names. Connect derives content types from them (application/json,
// application/cbor) and gRPC uses them as content subtypes.
const (
	codecJSON = "json"
	codecCBOR = "cbor"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("server: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	encoding.RegisterCodec(cborCodec{})
}

// jsonCodec encodes plain Go structs as JSON. It replaces Connect's built-in
// JSON codec, which only accepts protobuf messages.
type jsonCodec struct{}

func (jsonCodec) Name() string { return codecJSON }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// cborCodec encodes plain Go structs as canonical CBOR. It serves both
// Connect and gRPC.
type cborCodec struct{}

func (cborCodec) Name() string { return codecCBOR }

func (cborCodec) Marshal(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return cbor.Unmarshal(data, v)
}
