package logstream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dFlow/lib/logstream/flowcontrol"
	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("logstream")

// --------------------------------------------------------------------------
// Write Failures
// --------------------------------------------------------------------------

// WriteFailure is returned by the sequencer when a batch was not admitted.
type WriteFailure uint8

const (
	// ErrClosed is returned after the sequencer was closed.
	ErrClosed WriteFailure = iota + 1
	// ErrInvalidArgument is returned for an empty batch or an entry without metadata or value.
	ErrInvalidArgument
	// ErrFull is returned when flow control denied the append. The caller should retry later.
	ErrFull
)

func (f WriteFailure) Error() string {
	switch f {
	case ErrClosed:
		return "write failure: sequencer is closed"
	case ErrInvalidArgument:
		return "write failure: invalid argument"
	case ErrFull:
		return "write failure: log is full"
	default:
		return fmt.Sprintf("write failure: unknown(%d)", f)
	}
}

// --------------------------------------------------------------------------
// Sequencer
// --------------------------------------------------------------------------

// SequencerOptions configures a sequencer
type SequencerOptions struct {
	PartitionID     int32
	InitialPosition int64
	MaxFragmentSize int
	Metrics         *metrics.Set // may be nil
}

// Sequencer is the only writer of a partition log. It assigns consecutive
// positions to batches of entries and hands them to the storage.
//
// Thread-safety: all methods are thread-safe. Position assignment and the hand
// off to the storage happen under a single lock, so the storage sees batches in
// position order.
//
// An append that fails leaves a hole the storage will not accept batches
// behind. The next write therefore starts again right after the last
// committed position of the storage.
type Sequencer struct {
	partitionID     int32
	maxFragmentSize int
	storage         LogStorage
	flowControl     *flowcontrol.FlowControl
	metrics         *sequencerMetrics

	mu       sync.Mutex
	position atomic.Int64 // next position to assign, only changed under mu
	rewind   atomic.Bool  // an append failed since the last write
	closed   atomic.Bool
}

// NewSequencer creates a sequencer that starts assigning positions at opts.InitialPosition.
func NewSequencer(storage LogStorage, flowControl *flowcontrol.FlowControl, opts SequencerOptions) *Sequencer {
	if opts.MaxFragmentSize <= 0 {
		opts.MaxFragmentSize = DefaultMaxFragmentSize
	}
	if opts.InitialPosition <= 0 {
		opts.InitialPosition = 1
	}
	if flowControl == nil {
		flowControl = flowcontrol.New(opts.PartitionID, flowcontrol.Limits{}, opts.Metrics)
	}
	log.Debugf("starting sequencer of partition %d at position %d", opts.PartitionID, opts.InitialPosition)

	s := &Sequencer{
		partitionID:     opts.PartitionID,
		maxFragmentSize: opts.MaxFragmentSize,
		storage:         storage,
		flowControl:     flowControl,
		metrics:         newSequencerMetrics(opts.PartitionID, opts.Metrics),
	}
	s.position.Store(opts.InitialPosition)
	return s
}

// CanWriteEvents reports whether a batch of eventCount entries with batchSize
// payload bytes fits into one fragment once framed.
func (s *Sequencer) CanWriteEvents(eventCount, batchSize int) bool {
	framedLength := batchSize + eventCount*(FrameHeaderLength+FrameAlignment) + FrameAlignment
	return framedLength <= s.maxFragmentSize
}

// TryWrite appends the entries as one batch and returns the position of the last entry.
// It never blocks on I/O, durability is observed through TryWriteWithCompletion.
func (s *Sequencer) TryWrite(entries []LogAppendEntry, sourcePosition int64) (int64, error) {
	completion, err := s.TryWriteWithCompletion(entries, sourcePosition)
	if err != nil {
		return 0, err
	}
	return completion.HighestPosition(), nil
}

// TryWriteWithCompletion works like TryWrite but returns the completion of the append.
func (s *Sequencer) TryWriteWithCompletion(entries []LogAppendEntry, sourcePosition int64) (*AppendCompletion, error) {
	if s.closed.Load() {
		log.Warningf("rejecting write of %d entries, sequencer of partition %d is closed", len(entries), s.partitionID)
		return nil, ErrClosed
	}
	if len(entries) == 0 {
		return nil, ErrInvalidArgument
	}
	batchLength := 0
	for i := range entries {
		if !entries[i].isValid() {
			log.Warningf("rejecting write of invalid entry with key %d on partition %d", entries[i].Key, s.partitionID)
			return nil, ErrInvalidArgument
		}
		batchLength += entries[i].Length()
	}

	inflight, err := s.flowControl.TryAcquire(batchLength)
	if err != nil {
		return nil, ErrFull
	}

	// only the types are kept for the metrics so the batch can be released after the append
	types := make([]entryTypes, len(entries))
	for i := range entries {
		types[i] = peekEntryTypes(entries[i].Metadata)
	}
	onWritten := func() { s.metrics.recordAppended(types) }
	onFailed := func() { s.rewind.Store(true) }

	s.mu.Lock()
	if s.rewind.Swap(false) {
		s.rewindLocked()
	}
	current := s.position.Load()
	highest := current + int64(len(entries)) - 1
	batch := &SequencedBatch{
		Timestamp:      time.Now().UnixMilli(),
		FirstPosition:  current,
		SourcePosition: sourcePosition,
		Entries:        entries,
		Length:         batchLength,
	}
	completion := newAppendCompletion(current, highest, inflight, onWritten, onFailed)
	inflight.Start(highest)
	s.storage.Append(current, highest, batch, completion)
	s.position.Store(current + int64(len(entries)))
	s.mu.Unlock()

	s.metrics.observeBatch(len(entries), batchLength)
	return completion, nil
}

// rewindLocked moves the next position back to the end of the committed log.
// Appends still in flight behind that position fail and rewind again, until a
// batch continues the log.
func (s *Sequencer) rewindLocked() {
	next := s.storage.LastPosition() + 1
	if current := s.position.Load(); next < current {
		log.Warningf("an append of partition %d failed, writing from position %d instead of %d", s.partitionID, next, current)
		s.position.Store(next)
	}
}

// Position returns the next position the sequencer will assign.
func (s *Sequencer) Position() int64 {
	return s.position.Load()
}

// Close rejects all further writes. Writes that were admitted just before may still complete.
func (s *Sequencer) Close() {
	log.Infof("closing sequencer of partition %d for writing", s.partitionID)
	s.closed.Store(true)
}

// IsClosed reports whether Close was called.
func (s *Sequencer) IsClosed() bool {
	return s.closed.Load()
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

type entryTypes struct {
	recordType protocol.RecordType
	valueType  protocol.ValueType
	intent     protocol.Intent
}

func peekEntryTypes(metadata []byte) entryTypes {
	rt, vt, intent, _ := protocol.PeekTypes(metadata)
	return entryTypes{recordType: rt, valueType: vt, intent: intent}
}

type sequencerMetrics struct {
	partitionID int32
	set         *metrics.Set
	batchSize   *metrics.Histogram
	batchLength *metrics.Histogram
}

func newSequencerMetrics(partitionID int32, set *metrics.Set) *sequencerMetrics {
	if set == nil {
		set = metrics.NewSet()
	}
	return &sequencerMetrics{
		partitionID: partitionID,
		set:         set,
		batchSize:   set.GetOrCreateHistogram(fmt.Sprintf(`dflow_sequencer_batch_size{partition="%d"}`, partitionID)),
		batchLength: set.GetOrCreateHistogram(fmt.Sprintf(`dflow_sequencer_batch_length_bytes{partition="%d"}`, partitionID)),
	}
}

func (m *sequencerMetrics) observeBatch(size, length int) {
	m.batchSize.Update(float64(size))
	m.batchLength.Update(float64(length))
}

func (m *sequencerMetrics) recordAppended(types []entryTypes) {
	for _, t := range types {
		m.set.GetOrCreateCounter(fmt.Sprintf(
			`dflow_log_appended_records_total{partition="%d",recordType="%s",valueType="%s",intent="%s"}`,
			m.partitionID, t.recordType, t.valueType, t.intent)).Inc()
	}
}
