package raftstorage

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dFlow/lib/logstream"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

func serializedBatch(first int64, count int) []byte {
	batch := &logstream.SequencedBatch{FirstPosition: first, SourcePosition: -1}
	for i := 0; i < count; i++ {
		batch.Entries = append(batch.Entries, logstream.LogAppendEntry{
			Key:      int64(i),
			Metadata: []byte{1, 2, 3},
			Value:    []byte("value"),
		})
	}
	return batch.Serialize()
}

func TestUpdateAppendsBatches(t *testing.T) {
	fsm := NewLogStateMachine(1, 1)

	entries := []sm.Entry{
		{Index: 1, Cmd: serializedBatch(1, 2)},
		{Index: 2, Cmd: serializedBatch(3, 1)},
		{Index: 3, Cmd: serializedBatch(10, 1)},
		{Index: 4, Cmd: []byte{1, 2}},
	}

	result, err := fsm.Update(entries)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	expected := []RetCode{RetCSuccess, RetCSuccess, RetCPositionGap, RetCInternalError}
	for i, want := range expected {
		if got := RetCode(result[i].Result.Value); got != want {
			t.Errorf("Update() result %d = %v, want %v", i, got, want)
		}
	}

	if fsm.LastPosition() != 3 {
		t.Errorf("LastPosition() = %v, want %v", fsm.LastPosition(), 3)
	}
	lookup, _ := fsm.Lookup(nil)
	if lookup.(int64) != 3 {
		t.Errorf("Lookup() = %v, want %v", lookup, 3)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	fsm := NewLogStateMachine(1, 1)
	if _, err := fsm.Update([]sm.Entry{
		{Index: 1, Cmd: serializedBatch(1, 3)},
		{Index: 2, Cmd: serializedBatch(4, 2)},
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	ctx, err := fsm.PrepareSnapshot()
	if err != nil {
		t.Fatalf("PrepareSnapshot() error = %v", err)
	}
	var buf bytes.Buffer
	if err := fsm.SaveSnapshot(ctx, &buf, nil, make(chan struct{})); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	recovered := NewLogStateMachine(1, 2)
	if err := recovered.RecoverFromSnapshot(&buf, nil, make(chan struct{})); err != nil {
		t.Fatalf("RecoverFromSnapshot() error = %v", err)
	}
	if recovered.LastPosition() != 5 {
		t.Errorf("LastPosition() = %v, want %v", recovered.LastPosition(), 5)
	}

	// the recovered machine continues the log
	result, _ := recovered.Update([]sm.Entry{{Index: 3, Cmd: serializedBatch(6, 1)}})
	if RetCode(result[0].Result.Value) != RetCSuccess {
		t.Errorf("Update() after recovery = %v, want %v", RetCode(result[0].Result.Value), RetCSuccess)
	}
}

func TestReaderFollowsUpdates(t *testing.T) {
	fsm := NewLogStateMachine(1, 1)
	r := &reader{fsm: fsm, notify: make(chan struct{}, 1)}
	fsm.subscribe(r.notify)
	defer r.Close()

	if _, ok := r.Next(); ok {
		t.Fatalf("Next() on empty log returned a batch")
	}

	_, _ = fsm.Update([]sm.Entry{{Index: 1, Cmd: serializedBatch(1, 1)}})

	select {
	case <-r.Notify():
	default:
		t.Errorf("reader was not notified")
	}

	batch, ok := r.Next()
	if !ok || batch.FirstPosition != 1 {
		t.Errorf("Next() = %v, %v, want batch at position 1", batch, ok)
	}
}
