package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype every mrfs service speaks.
const CodecName = "json"

// MaxMessageSize bounds a single RPC message; it must fit a full block.
const MaxMessageSize = 512 << 20

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Empty is the request or response of calls that carry no payload.
type Empty struct{}
