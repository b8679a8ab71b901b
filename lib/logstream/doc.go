// Package logstream implements the write path of a partition log.
//
// The Sequencer is the only writer of a partition. It validates batches of
// LogAppendEntry values, takes a permit from the flow control, assigns
// consecutive positions and hands one SequencedBatch to the LogStorage. Every
// append is tracked by an AppendCompletion whose channels are closed when the
// batch is written and when it is committed (or failed).
//
// Storage implementations live in the sub packages:
//
//   - memstorage: an in-memory log used for tests and single node setups
//   - raftstorage: a log replicated with dragonboat, one raft shard per partition
//
// Backpressure is never absorbed by the sequencer: when the flow control is
// exhausted TryWrite fails with ErrFull and the caller decides when to retry.
package logstream
