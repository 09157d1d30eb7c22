package ipc

import (
	"github.com/vmihailenco/msgpack/v5"
)

// msgpackCodec implements connect.Codec over vmihailenco/msgpack/v5. There
// is no .proto pipeline here, so the hand-written RPC methods below use
// connect.WithCodec to swap Connect's default protobuf codec for msgpack.
type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
