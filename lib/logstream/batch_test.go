package logstream_test

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dFlow/lib/logstream"
	"github.com/ValentinKolb/dFlow/lib/protocol"
)

func TestBatchSerializeDeserialize(t *testing.T) {
	command, err := protocol.NewCommand(protocol.ValueTRole, protocol.IntentCreate, -1, &protocol.RoleRecord{Name: "admin"})
	if err != nil {
		t.Fatalf("NewCommand() error = %v", err)
	}
	command.Metadata.RequestID = 42

	batch := &logstream.SequencedBatch{
		Timestamp:      1700000000000,
		FirstPosition:  7,
		SourcePosition: 3,
		Entries: []logstream.LogAppendEntry{
			logstream.NewEntry(command),
			testEntry(99),
		},
	}

	data := batch.Serialize()
	if len(data) != batch.SizeBytes() {
		t.Fatalf("Serialize() length = %v, want %v", len(data), batch.SizeBytes())
	}
	if len(data)%logstream.FrameAlignment != 0 {
		t.Errorf("Serialize() length %d is not aligned", len(data))
	}

	var decoded logstream.SequencedBatch
	if err := decoded.Deserialize(data); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if decoded.Timestamp != batch.Timestamp || decoded.FirstPosition != 7 || decoded.SourcePosition != 3 {
		t.Errorf("Deserialize() header = %+v", decoded)
	}
	if len(decoded.Entries) != 2 {
		t.Fatalf("Deserialize() entries = %d, want 2", len(decoded.Entries))
	}
	for i := range batch.Entries {
		want, got := batch.Entries[i], decoded.Entries[i]
		if got.Key != want.Key || !bytes.Equal(got.Metadata, want.Metadata) || !bytes.Equal(got.Value, want.Value) {
			t.Errorf("entry %d = %+v, want %+v", i, got, want)
		}
	}
	if decoded.LastPosition() != 8 {
		t.Errorf("LastPosition() = %v, want %v", decoded.LastPosition(), 8)
	}

	records, err := decoded.Records(2)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if records[0].Position != 7 || records[1].Position != 8 {
		t.Errorf("Records() positions = %d, %d, want 7, 8", records[0].Position, records[1].Position)
	}
	if !records[0].IsCommand() || records[0].Metadata.RequestID != 42 || records[0].SourceRecordPosition != 3 {
		t.Errorf("Records()[0] = %v", records[0])
	}
	if records[1].PartitionID != 2 || !records[1].IsEvent() {
		t.Errorf("Records()[1] = %v", records[1])
	}
}

func TestBatchDeserializeTruncated(t *testing.T) {
	batch := &logstream.SequencedBatch{FirstPosition: 1, Entries: []logstream.LogAppendEntry{testEntry(1)}}
	data := batch.Serialize()

	for _, length := range []int{0, logstream.BatchHeaderLength - 1, logstream.BatchHeaderLength + 4} {
		var decoded logstream.SequencedBatch
		if err := decoded.Deserialize(data[:length]); err == nil {
			t.Errorf("Deserialize() of %d bytes expected error", length)
		}
	}
}
