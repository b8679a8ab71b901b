package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dFlow/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
//
// Layout: msgType(1) flags(1) followed by the fields whose flag is set, in
// flag order. Integers are big endian, byte fields are prefixed by a uint32 length.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey      byte = 1 << 0
	hasPosition byte = 1 << 1
	hasMetadata byte = 1 << 2
	hasValue    byte = 1 << 3
	hasOk       byte = 1 << 4
	hasErr      byte = 1 << 5
	hasMeta     byte = 1 << 6
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, 2, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags byte
	if msg.Key != 0 {
		flags |= hasKey
		result = binary.BigEndian.AppendUint64(result, uint64(msg.Key))
	}
	if msg.Position != 0 {
		flags |= hasPosition
		result = binary.BigEndian.AppendUint64(result, uint64(msg.Position))
	}
	if msg.Metadata != nil {
		flags |= hasMetadata
		result = appendBytes(result, msg.Metadata)
	}
	if msg.Value != nil {
		flags |= hasValue
		result = appendBytes(result, msg.Value)
	}
	if msg.Ok {
		// the flag alone carries the value
		flags |= hasOk
	}
	if msg.Err != "" {
		flags |= hasErr
		result = appendBytes(result, []byte(msg.Err))
	}
	if msg.Meta != nil {
		flags |= hasMeta
		result = appendBytes(result, msg.Meta)
	}

	result[1] = flags
	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}
	msg.MsgType = common.MessageType(data[0])
	flags := data[1]
	r := reader{data: data, pos: 2}

	var err error
	msg.Key, msg.Position = 0, 0
	if flags&hasKey != 0 {
		if msg.Key, err = r.int64("key"); err != nil {
			return err
		}
	}
	if flags&hasPosition != 0 {
		if msg.Position, err = r.int64("position"); err != nil {
			return err
		}
	}
	if msg.Metadata, err = r.optionalBytes(flags&hasMetadata != 0, "metadata", msg.Metadata); err != nil {
		return err
	}
	if msg.Value, err = r.optionalBytes(flags&hasValue != 0, "value", msg.Value); err != nil {
		return err
	}
	msg.Ok = flags&hasOk != 0

	msg.Err = ""
	if flags&hasErr != 0 {
		errBytes, err := r.bytes("error", nil)
		if err != nil {
			return err
		}
		msg.Err = string(errBytes)
	}
	if msg.Meta, err = r.optionalBytes(flags&hasMeta != 0, "meta", msg.Meta); err != nil {
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2
	if msg.Key != 0 {
		size += 8
	}
	if msg.Position != 0 {
		size += 8
	}
	if msg.Metadata != nil {
		size += 4 + len(msg.Metadata)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}
	return size
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) int64(field string) (int64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("data too short for %s", field)
	}
	v := int64(binary.BigEndian.Uint64(r.data[r.pos:]))
	r.pos += 8
	return v, nil
}

// bytes reads a length prefixed field into buf, reusing its capacity. A zero
// length field yields an empty, non-nil slice.
func (r *reader) bytes(field string, buf []byte) ([]byte, error) {
	if r.pos+4 > len(r.data) {
		return nil, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("data too short for %s data", field)
	}
	if buf == nil || cap(buf) < n {
		buf = make([]byte, n)
	} else {
		buf = buf[:n]
	}
	copy(buf, r.data[r.pos:r.pos+n])
	r.pos += n
	return buf, nil
}

func (r *reader) optionalBytes(present bool, field string, buf []byte) ([]byte, error) {
	if !present {
		return nil, nil
	}
	return r.bytes(field, buf)
}
