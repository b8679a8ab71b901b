package protocol

import (
	"fmt"
)

// --------------------------------------------------------------------------
// Keys
// --------------------------------------------------------------------------

const (
	// PartitionBits is the number of upper key bits holding the partition id.
	PartitionBits = 13
	// KeyBits is the number of lower key bits holding the partition local counter.
	KeyBits = 64 - PartitionBits

	// MaxPartitions is the largest partition id a key can encode.
	MaxPartitions = 1<<PartitionBits - 1

	keyMask = int64(1)<<KeyBits - 1
)

// EncodePartitionID places the partition id in the upper bits of a partition local key.
func EncodePartitionID(partitionID int32, key int64) int64 {
	return int64(partitionID)<<KeyBits | (key & keyMask)
}

// DecodePartitionID returns the partition id a key was generated on.
func DecodePartitionID(key int64) int32 {
	return int32(key >> KeyBits)
}

// --------------------------------------------------------------------------
// Record
// --------------------------------------------------------------------------

// Record is the immutable unit of the log: a command, an event or a rejection.
type Record struct {
	PartitionID          int32
	Position             int64
	SourceRecordPosition int64
	Key                  int64
	Timestamp            int64
	Metadata             RecordMetadata
	Value                []byte
}

// IsCommand reports whether the record is a command.
func (r *Record) IsCommand() bool { return r.Metadata.RecordType == RecordTCommand }

// IsEvent reports whether the record is an event.
func (r *Record) IsEvent() bool { return r.Metadata.RecordType == RecordTEvent }

// IsRejection reports whether the record is a command rejection.
func (r *Record) IsRejection() bool { return r.Metadata.RecordType == RecordTCommandRejection }

// IsDistributed reports whether the record is a copy of a command that was accepted on another partition.
func (r *Record) IsDistributed() bool { return r.Metadata.OriginPartitionID != 0 }

func (r *Record) String() string {
	return fmt.Sprintf("Record{partition: %d, position: %d, source: %d, key: %d, %s %s %s}",
		r.PartitionID, r.Position, r.SourceRecordPosition, r.Key,
		r.Metadata.RecordType, r.Metadata.ValueType, r.Metadata.Intent)
}

// NewCommand creates a command record for the given value.
func NewCommand(valueType ValueType, intent Intent, key int64, value interface{}) (*Record, error) {
	buf, err := EncodeValue(value)
	if err != nil {
		return nil, err
	}
	return &Record{
		Key: key,
		Metadata: RecordMetadata{
			RecordType: RecordTCommand,
			ValueType:  valueType,
			Intent:     intent,
		},
		Value: buf,
	}, nil
}

// --------------------------------------------------------------------------
// Rejection
// --------------------------------------------------------------------------

// Rejection is returned to a client whose command was rejected.
type Rejection struct {
	Type   RejectionType
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("command rejected (%s): %s", r.Type, r.Reason)
}

// NewRejection creates a new rejection with a formatted reason.
func NewRejection(t RejectionType, format string, args ...interface{}) *Rejection {
	return &Rejection{Type: t, Reason: fmt.Sprintf(format, args...)}
}
