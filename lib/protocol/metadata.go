package protocol

import (
	"encoding/binary"
	"fmt"
)

// fixed part of a serialized RecordMetadata:
// 4 bytes types + 4 request stream id + 8 request id + 4 origin partition + 2 username length + 4 reason length
const metadataFixedSize = 4 + 4 + 8 + 4 + 2 + 4

// RecordMetadata is the envelope data of a record that is not part of its value.
type RecordMetadata struct {
	RecordType    RecordType
	ValueType     ValueType
	Intent        Intent
	RejectionType RejectionType

	// RequestStreamID and RequestID route the response back to a waiting client.
	// A RequestID of 0 means nobody is waiting.
	RequestStreamID int32
	RequestID       int64

	// OriginPartitionID is set on a distributed command and names the partition
	// that accepted the command first. 0 marks a command that was not distributed.
	OriginPartitionID int32

	// Username of the client that submitted the command, used for authorization checks.
	Username string

	RejectionReason string
}

// HasRequest reports whether a client waits for the result of this record.
func (m *RecordMetadata) HasRequest() bool {
	return m.RequestID != 0
}

// SizeBytes returns the exact number of bytes needed to serialize the metadata
func (m *RecordMetadata) SizeBytes() int {
	return metadataFixedSize + len(m.Username) + len(m.RejectionReason)
}

// Serialize encodes the metadata with the format:
// 1 byte record type, 1 byte value type, 1 byte intent, 1 byte rejection type,
// 4 bytes request stream id, 8 bytes request id, 4 bytes origin partition (all big endian),
// 2 bytes username length, N bytes username,
// 4 bytes rejection reason length, N bytes rejection reason
func (m *RecordMetadata) Serialize() []byte {
	result := make([]byte, m.SizeBytes())

	result[0] = byte(m.RecordType)
	result[1] = byte(m.ValueType)
	result[2] = byte(m.Intent)
	result[3] = byte(m.RejectionType)
	binary.BigEndian.PutUint32(result[4:8], uint32(m.RequestStreamID))
	binary.BigEndian.PutUint64(result[8:16], uint64(m.RequestID))
	binary.BigEndian.PutUint32(result[16:20], uint32(m.OriginPartitionID))

	offset := 20
	binary.BigEndian.PutUint16(result[offset:offset+2], uint16(len(m.Username)))
	offset += 2
	offset += copy(result[offset:], m.Username)

	binary.BigEndian.PutUint32(result[offset:offset+4], uint32(len(m.RejectionReason)))
	offset += 4
	copy(result[offset:], m.RejectionReason)

	return result
}

// Deserialize decodes metadata previously written by Serialize.
func (m *RecordMetadata) Deserialize(data []byte) error {
	if len(data) < metadataFixedSize {
		return fmt.Errorf("data too short for record metadata")
	}

	m.RecordType = RecordType(data[0])
	m.ValueType = ValueType(data[1])
	m.Intent = Intent(data[2])
	m.RejectionType = RejectionType(data[3])
	m.RequestStreamID = int32(binary.BigEndian.Uint32(data[4:8]))
	m.RequestID = int64(binary.BigEndian.Uint64(data[8:16]))
	m.OriginPartitionID = int32(binary.BigEndian.Uint32(data[16:20]))

	offset := 20
	userLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if len(data) < offset+userLen+4 {
		return fmt.Errorf("data too short for username of length %d", userLen)
	}
	m.Username = string(data[offset : offset+userLen])
	offset += userLen

	reasonLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if len(data) < offset+reasonLen {
		return fmt.Errorf("data too short for rejection reason of length %d", reasonLen)
	}
	m.RejectionReason = string(data[offset : offset+reasonLen])

	return nil
}

// PeekTypes reads the record, value type and intent of serialized metadata without
// decoding the rest of it.
func PeekTypes(data []byte) (RecordType, ValueType, Intent, bool) {
	if len(data) < 3 {
		return RecordTNull, ValueTNull, IntentNull, false
	}
	return RecordType(data[0]), ValueType(data[1]), Intent(data[2]), true
}
