package replication

import (
	"github.com/vmihailenco/msgpack"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of every message exchanged by seriesdb services.
const CodecName = "msgpack"

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

func (msgpackCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}
