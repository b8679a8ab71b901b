package logstream

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dFlow/lib/protocol"
)

// --------------------------------------------------------------------------
// Frame layout
// --------------------------------------------------------------------------

const (
	// BatchHeaderLength is the size of the header preceding the frames of a serialized batch:
	// 8 bytes timestamp, 8 bytes first position, 8 bytes source position, 4 bytes entry count, 4 bytes reserved.
	BatchHeaderLength = 32

	// FrameHeaderLength is the size of the header of one entry frame:
	// 4 bytes frame length, 4 bytes metadata length, 8 bytes key.
	FrameHeaderLength = 16

	// FrameAlignment is the alignment of every frame in a serialized batch.
	FrameAlignment = 8

	// DefaultMaxFragmentSize is the largest framed batch a partition accepts by default.
	DefaultMaxFragmentSize = 4 * 1024 * 1024
)

func align(length int) int {
	return (length + FrameAlignment - 1) &^ (FrameAlignment - 1)
}

// --------------------------------------------------------------------------
// Append entries
// --------------------------------------------------------------------------

// LogAppendEntry is one record handed to the sequencer. Metadata is a serialized
// protocol.RecordMetadata and Value the encoded record value.
type LogAppendEntry struct {
	Key      int64
	Metadata []byte
	Value    []byte
}

// Length returns the payload length of the entry.
func (e *LogAppendEntry) Length() int {
	return len(e.Metadata) + len(e.Value)
}

// isValid reports whether the entry carries both metadata and value.
func (e *LogAppendEntry) isValid() bool {
	return len(e.Metadata) > 0 && len(e.Value) > 0
}

// NewEntry builds an append entry from a record, the record position fields are ignored.
func NewEntry(record *protocol.Record) LogAppendEntry {
	return LogAppendEntry{
		Key:      record.Key,
		Metadata: record.Metadata.Serialize(),
		Value:    record.Value,
	}
}

// --------------------------------------------------------------------------
// Sequenced batch
// --------------------------------------------------------------------------

// SequencedBatch is the unit handed to the log storage. All entries of a batch
// get consecutive positions starting at FirstPosition.
type SequencedBatch struct {
	Timestamp      int64
	FirstPosition  int64
	SourcePosition int64
	Entries        []LogAppendEntry
	Length         int // sum of the entry payload lengths
}

// LastPosition returns the position of the last entry in the batch.
func (b *SequencedBatch) LastPosition() int64 {
	return b.FirstPosition + int64(len(b.Entries)) - 1
}

// SizeBytes returns the exact number of bytes needed to serialize the batch
func (b *SequencedBatch) SizeBytes() int {
	size := BatchHeaderLength
	for i := range b.Entries {
		size += align(FrameHeaderLength + b.Entries[i].Length())
	}
	return size
}

// Serialize encodes the batch as a header followed by one aligned frame per entry.
func (b *SequencedBatch) Serialize() []byte {
	result := make([]byte, b.SizeBytes())

	binary.BigEndian.PutUint64(result[0:8], uint64(b.Timestamp))
	binary.BigEndian.PutUint64(result[8:16], uint64(b.FirstPosition))
	binary.BigEndian.PutUint64(result[16:24], uint64(b.SourcePosition))
	binary.BigEndian.PutUint32(result[24:28], uint32(len(b.Entries)))

	offset := BatchHeaderLength
	for i := range b.Entries {
		entry := &b.Entries[i]
		frameLength := FrameHeaderLength + entry.Length()

		binary.BigEndian.PutUint32(result[offset:offset+4], uint32(frameLength))
		binary.BigEndian.PutUint32(result[offset+4:offset+8], uint32(len(entry.Metadata)))
		binary.BigEndian.PutUint64(result[offset+8:offset+16], uint64(entry.Key))
		copy(result[offset+FrameHeaderLength:], entry.Metadata)
		copy(result[offset+FrameHeaderLength+len(entry.Metadata):], entry.Value)

		offset += align(frameLength)
	}

	return result
}

// Deserialize decodes a batch written by Serialize. The entries reference data.
func (b *SequencedBatch) Deserialize(data []byte) error {
	if len(data) < BatchHeaderLength {
		return fmt.Errorf("data too short for batch header")
	}

	b.Timestamp = int64(binary.BigEndian.Uint64(data[0:8]))
	b.FirstPosition = int64(binary.BigEndian.Uint64(data[8:16]))
	b.SourcePosition = int64(binary.BigEndian.Uint64(data[16:24]))
	count := int(binary.BigEndian.Uint32(data[24:28]))

	b.Entries = make([]LogAppendEntry, count)
	b.Length = 0

	offset := BatchHeaderLength
	for i := 0; i < count; i++ {
		if len(data) < offset+FrameHeaderLength {
			return fmt.Errorf("data too short for frame %d", i)
		}
		frameLength := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		metadataLength := int(binary.BigEndian.Uint32(data[offset+4 : offset+8]))
		if frameLength < FrameHeaderLength+metadataLength || len(data) < offset+frameLength {
			return fmt.Errorf("invalid frame %d of length %d", i, frameLength)
		}

		payload := data[offset+FrameHeaderLength : offset+frameLength]
		b.Entries[i] = LogAppendEntry{
			Key:      int64(binary.BigEndian.Uint64(data[offset+8 : offset+16])),
			Metadata: payload[:metadataLength],
			Value:    payload[metadataLength:],
		}
		b.Length += len(payload)

		offset += align(frameLength)
	}

	return nil
}

// Records decodes the entries of the batch into records of the given partition.
func (b *SequencedBatch) Records(partitionID int32) ([]*protocol.Record, error) {
	records := make([]*protocol.Record, len(b.Entries))
	for i := range b.Entries {
		entry := &b.Entries[i]
		record := &protocol.Record{
			PartitionID:          partitionID,
			Position:             b.FirstPosition + int64(i),
			SourceRecordPosition: b.SourcePosition,
			Key:                  entry.Key,
			Timestamp:            b.Timestamp,
			Value:                entry.Value,
		}
		if err := record.Metadata.Deserialize(entry.Metadata); err != nil {
			return nil, fmt.Errorf("record at position %d: %w", record.Position, err)
		}
		records[i] = record
	}
	return records, nil
}
