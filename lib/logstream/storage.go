package logstream

import (
	"context"
	"sync"

	"github.com/ValentinKolb/dFlow/lib/logstream/flowcontrol"
)

// --------------------------------------------------------------------------
// Log Storage
// --------------------------------------------------------------------------

// LogStorage is the replicated storage a sequencer appends to.
//
// Append must not block on I/O. The storage reports progress through the
// completion: OnWrite once the batch is written locally and OnCommit once it is
// durable, or OnFailure if it will never be committed. Once OnCommit was called
// for a position, that position must survive a restart.
type LogStorage interface {
	Append(lowestPosition, highestPosition int64, batch *SequencedBatch, completion *AppendCompletion)

	// IsOpen reports whether the storage accepts appends.
	IsOpen() bool

	// LastPosition returns the highest committed position, 0 for an empty log.
	LastPosition() int64

	// NewReader returns a reader over the committed batches.
	NewReader() LogReader
}

// LogReader iterates over the committed batches of a log in position order.
type LogReader interface {
	// Next returns the next committed batch, or false if none is available yet.
	Next() (*SequencedBatch, bool)

	// Notify returns a channel that receives a value whenever new batches were committed.
	Notify() <-chan struct{}

	// Close releases the reader.
	Close()
}

// --------------------------------------------------------------------------
// Append Completion
// --------------------------------------------------------------------------

// AppendCompletion tracks one append from the sequencer to the storage. The
// storage side calls OnWrite, OnCommit and OnFailure, the writer side waits on
// Written and Done.
//
// Thread-safety: all methods are thread-safe, every transition happens at most once.
type AppendCompletion struct {
	lowest, highest int64
	inflight        *flowcontrol.InFlightAppend
	onWritten       func()
	onFailed        func()

	written   chan struct{}
	done      chan struct{}
	writeOnce sync.Once
	doneOnce  sync.Once
	err       error
}

func newAppendCompletion(lowest, highest int64, inflight *flowcontrol.InFlightAppend, onWritten, onFailed func()) *AppendCompletion {
	return &AppendCompletion{
		lowest:    lowest,
		highest:   highest,
		inflight:  inflight,
		onWritten: onWritten,
		onFailed:  onFailed,
		written:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// LowestPosition returns the position of the first entry of the append.
func (c *AppendCompletion) LowestPosition() int64 { return c.lowest }

// HighestPosition returns the position of the last entry of the append.
func (c *AppendCompletion) HighestPosition() int64 { return c.highest }

// OnWrite marks the append as written.
func (c *AppendCompletion) OnWrite() {
	c.writeOnce.Do(func() {
		if c.inflight != nil {
			c.inflight.OnWrite()
		}
		if c.onWritten != nil {
			c.onWritten()
		}
		close(c.written)
	})
}

// OnCommit marks the append as committed and releases its flow control permit.
// A commit implies a write.
func (c *AppendCompletion) OnCommit() {
	c.OnWrite()
	c.doneOnce.Do(func() {
		if c.inflight != nil {
			c.inflight.OnCommit()
		}
		close(c.done)
	})
}

// OnFailure marks the append as failed and releases its flow control permit.
func (c *AppendCompletion) OnFailure(err error) {
	c.doneOnce.Do(func() {
		c.err = err
		if c.inflight != nil {
			c.inflight.Fail()
		}
		if c.onFailed != nil {
			c.onFailed()
		}
		close(c.done)
	})
}

// Written is closed once the append was written by the storage.
func (c *AppendCompletion) Written() <-chan struct{} { return c.written }

// Done is closed once the append was committed or failed.
func (c *AppendCompletion) Done() <-chan struct{} { return c.done }

// Err returns the failure of the append. It is only meaningful after Done was closed.
func (c *AppendCompletion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the append is committed or failed, or ctx is done.
// It returns the highest position of the append.
func (c *AppendCompletion) Wait(ctx context.Context) (int64, error) {
	select {
	case <-c.done:
		return c.highest, c.err
	case <-ctx.Done():
		return c.highest, ctx.Err()
	}
}
