package serializer

import (
	"github.com/ValentinKolb/dFlow/rpc/common"
	"github.com/hashicorp/go-msgpack/codec"
)

// NewMsgpackSerializer creates a new serializer using msgpack, the encoding
// of the record values
func NewMsgpackSerializer() IRPCSerializer {
	return &msgpackSerializerImpl{handle: &codec.MsgpackHandle{}}
}

// msgpackSerializerImpl implements the IRPCSerializer interface using msgpack encoding
type msgpackSerializerImpl struct {
	handle *codec.MsgpackHandle
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (m msgpackSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, m.handle).Encode(msg); err != nil {
		return nil, err
	}
	return buf, nil
}

func (m msgpackSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	*msg = common.Message{}
	return codec.NewDecoderBytes(b, m.handle).Decode(msg)
}
