package logstream_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dFlow/lib/logstream"
	"github.com/ValentinKolb/dFlow/lib/logstream/flowcontrol"
	"github.com/ValentinKolb/dFlow/lib/logstream/memstorage"
	"github.com/ValentinKolb/dFlow/lib/protocol"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func testEntry(key int64) logstream.LogAppendEntry {
	metadata := protocol.RecordMetadata{
		RecordType: protocol.RecordTEvent,
		ValueType:  protocol.ValueTRole,
		Intent:     protocol.IntentCreated,
	}
	return logstream.LogAppendEntry{
		Key:      key,
		Metadata: metadata.Serialize(),
		Value:    []byte("value"),
	}
}

func newSequencer(storage logstream.LogStorage, limits flowcontrol.Limits, initialPosition int64) *logstream.Sequencer {
	return logstream.NewSequencer(storage, flowcontrol.New(1, limits, nil), logstream.SequencerOptions{
		PartitionID:     1,
		InitialPosition: initialPosition,
	})
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestTryWriteAssignsPositions(t *testing.T) {
	storage := memstorage.New(memstorage.Options{})
	sequencer := newSequencer(storage, flowcontrol.Limits{}, 10)

	position, err := sequencer.TryWrite([]logstream.LogAppendEntry{testEntry(1)}, -1)
	if err != nil {
		t.Fatalf("TryWrite() error = %v", err)
	}
	if position != 10 {
		t.Errorf("TryWrite() = %v, want %v", position, 10)
	}

	position, err = sequencer.TryWrite([]logstream.LogAppendEntry{testEntry(2)}, -1)
	if err != nil {
		t.Fatalf("TryWrite() error = %v", err)
	}
	if position != 11 {
		t.Errorf("TryWrite() = %v, want %v", position, 11)
	}

	position, err = sequencer.TryWrite([]logstream.LogAppendEntry{testEntry(3), testEntry(4), testEntry(5)}, 11)
	if err != nil {
		t.Fatalf("TryWrite() error = %v", err)
	}
	if position != 14 {
		t.Errorf("TryWrite() = %v, want %v", position, 14)
	}

	batches := storage.Batches()
	if len(batches) != 3 {
		t.Fatalf("storage has %d batches, want 3", len(batches))
	}
	if batches[2].FirstPosition != 12 || batches[2].SourcePosition != 11 {
		t.Errorf("last batch = first %d source %d, want first 12 source 11", batches[2].FirstPosition, batches[2].SourcePosition)
	}
	if storage.LastPosition() != 14 {
		t.Errorf("LastPosition() = %v, want %v", storage.LastPosition(), 14)
	}
}

func TestTryWriteInvalidArgument(t *testing.T) {
	tests := []struct {
		name    string
		entries []logstream.LogAppendEntry
	}{
		{"Empty batch", nil},
		{"Missing value", []logstream.LogAppendEntry{{Key: 1, Metadata: []byte{1}}}},
		{"Missing metadata", []logstream.LogAppendEntry{{Key: 1, Value: []byte{1}}}},
		{"One invalid entry", []logstream.LogAppendEntry{testEntry(1), {Key: 2, Metadata: []byte{}, Value: []byte{1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := memstorage.New(memstorage.Options{})
			sequencer := newSequencer(storage, flowcontrol.Limits{}, 1)

			if _, err := sequencer.TryWrite(tt.entries, -1); !errors.Is(err, logstream.ErrInvalidArgument) {
				t.Errorf("TryWrite() error = %v, want %v", err, logstream.ErrInvalidArgument)
			}
			if len(storage.Batches()) != 0 {
				t.Errorf("invalid batch was handed to the storage")
			}
			if sequencer.Position() != 1 {
				t.Errorf("Position() = %v, want %v", sequencer.Position(), 1)
			}
		})
	}
}

func TestTryWriteAfterClose(t *testing.T) {
	storage := memstorage.New(memstorage.Options{})
	sequencer := newSequencer(storage, flowcontrol.Limits{}, 1)

	sequencer.Close()

	if !sequencer.IsClosed() {
		t.Errorf("IsClosed() = false, want true")
	}
	if _, err := sequencer.TryWrite([]logstream.LogAppendEntry{testEntry(1)}, -1); !errors.Is(err, logstream.ErrClosed) {
		t.Errorf("TryWrite() error = %v, want %v", err, logstream.ErrClosed)
	}
}

func TestTryWriteBackpressure(t *testing.T) {
	storage := memstorage.New(memstorage.Options{ManualCommit: true})
	sequencer := newSequencer(storage, flowcontrol.Limits{MaxInFlightAppends: 1}, 1)
	entries := []logstream.LogAppendEntry{testEntry(1)}

	first, err := sequencer.TryWriteWithCompletion(entries, -1)
	if err != nil {
		t.Fatalf("TryWriteWithCompletion() error = %v", err)
	}

	if _, err := sequencer.TryWrite(entries, -1); !errors.Is(err, logstream.ErrFull) {
		t.Fatalf("TryWrite() error = %v, want %v", err, logstream.ErrFull)
	}
	if storage.Pending() != 1 {
		t.Errorf("Pending() = %v, want %v", storage.Pending(), 1)
	}

	select {
	case <-first.Written():
	default:
		t.Errorf("append was not marked as written")
	}

	storage.Commit(1)

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatalf("append was not completed")
	}
	if first.Err() != nil {
		t.Errorf("Err() = %v, want nil", first.Err())
	}

	position, err := sequencer.TryWrite(entries, -1)
	if err != nil {
		t.Fatalf("TryWrite() after commit error = %v", err)
	}
	if position != 2 {
		t.Errorf("TryWrite() = %v, want %v", position, 2)
	}
}

func TestFailedAppendReleasesPermit(t *testing.T) {
	storage := memstorage.New(memstorage.Options{ManualCommit: true})
	sequencer := newSequencer(storage, flowcontrol.Limits{MaxInFlightAppends: 1}, 1)

	completion, err := sequencer.TryWriteWithCompletion([]logstream.LogAppendEntry{testEntry(1)}, -1)
	if err != nil {
		t.Fatalf("TryWriteWithCompletion() error = %v", err)
	}

	storage.Close()

	if _, err := completion.Wait(context.Background()); !errors.Is(err, memstorage.ErrClosed) {
		t.Errorf("Wait() error = %v, want %v", err, memstorage.ErrClosed)
	}

	// the permit is free again, the closed storage fails the append itself
	next, err := sequencer.TryWriteWithCompletion([]logstream.LogAppendEntry{testEntry(2)}, -1)
	if err != nil {
		t.Fatalf("TryWriteWithCompletion() error = %v", err)
	}
	if _, err := next.Wait(context.Background()); !errors.Is(err, memstorage.ErrClosed) {
		t.Errorf("Wait() error = %v, want %v", err, memstorage.ErrClosed)
	}
}

func TestConcurrentWritesAreContiguous(t *testing.T) {
	storage := memstorage.New(memstorage.Options{})
	sequencer := newSequencer(storage, flowcontrol.Limits{}, 1)

	const (
		writers = 8
		writes  = 100
	)

	type span struct{ low, high int64 }
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		spans []span
	)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < writes; i++ {
				size := 1 + (w+i)%3
				entries := make([]logstream.LogAppendEntry, size)
				for j := range entries {
					entries[j] = testEntry(int64(j))
				}
				completion, err := sequencer.TryWriteWithCompletion(entries, -1)
				if err != nil {
					t.Errorf("TryWriteWithCompletion() error = %v", err)
					return
				}
				mu.Lock()
				spans = append(spans, span{completion.LowestPosition(), completion.HighestPosition()})
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	sort.Slice(spans, func(i, j int) bool { return spans[i].low < spans[j].low })
	next := int64(1)
	for _, s := range spans {
		if s.low != next {
			t.Fatalf("gap or overlap at position %d, span starts at %d", next, s.low)
		}
		next = s.high + 1
	}

	// the storage must have received the batches in position order
	next = 1
	for _, batch := range storage.Batches() {
		if batch.FirstPosition != next {
			t.Fatalf("storage batch starts at %d, want %d", batch.FirstPosition, next)
		}
		next = batch.LastPosition() + 1
	}
	if sequencer.Position() != next {
		t.Errorf("Position() = %v, want %v", sequencer.Position(), next)
	}
}

func TestCanWriteEvents(t *testing.T) {
	sequencer := logstream.NewSequencer(memstorage.New(memstorage.Options{}), nil, logstream.SequencerOptions{
		PartitionID:     1,
		MaxFragmentSize: 1024,
	})

	tests := []struct {
		name       string
		eventCount int
		batchSize  int
		expected   bool
	}{
		{"Small batch", 1, 100, true},
		{"Exactly max", 2, 1024 - 2*(logstream.FrameHeaderLength+logstream.FrameAlignment) - logstream.FrameAlignment, true},
		{"One byte over", 2, 1024 - 2*(logstream.FrameHeaderLength+logstream.FrameAlignment) - logstream.FrameAlignment + 1, false},
		{"Too many events", 64, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sequencer.CanWriteEvents(tt.eventCount, tt.batchSize); got != tt.expected {
				t.Errorf("CanWriteEvents(%d, %d) = %v, want %v", tt.eventCount, tt.batchSize, got, tt.expected)
			}
		})
	}
}
