// Package raftstorage replicates a partition log with dragonboat.
//
// Every partition is one raft shard. The Storage proposes each SequencedBatch
// as one raft entry and reports the commit through the AppendCompletion once
// dragonboat applied the entry. The committed batches are kept by the
// LogStateMachine of the local replica, which is also what readers iterate over.
package raftstorage

import (
	"errors"
	"time"

	"github.com/ValentinKolb/dFlow/lib/logstream"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("raftlog")

// ErrNoLocalReplica is returned by New when the shard was not started on this node.
var ErrNoLocalReplica = errors.New("raftstorage: shard has no local replica")

// Storage is a logstream.LogStorage backed by a dragonboat shard.
type Storage struct {
	nh        *dragonboat.NodeHost
	shardID   uint64
	replicaID uint64
	cs        *client.Session
	timeout   time.Duration
	fsm       *LogStateMachine
}

// New creates the storage of a shard that was started with registry.Factory() on nh.
func New(nh *dragonboat.NodeHost, registry *Registry, shardID, replicaID uint64, timeout time.Duration) (*Storage, error) {
	fsm, ok := registry.Get(shardID)
	if !ok {
		return nil, ErrNoLocalReplica
	}
	return &Storage{
		nh:        nh,
		shardID:   shardID,
		replicaID: replicaID,
		cs:        nh.GetNoOPSession(shardID),
		timeout:   timeout,
		fsm:       fsm,
	}, nil
}

// Append proposes the batch and completes the append asynchronously. Proposals
// of one node host are applied in the order they were made, which keeps the
// sequencer order.
func (s *Storage) Append(_, highestPosition int64, batch *logstream.SequencedBatch, completion *logstream.AppendCompletion) {
	rs, err := s.nh.Propose(s.cs, batch.Serialize(), s.timeout)
	if err != nil {
		log.Warningf("failed to propose batch up to position %d on shard %d: %v", highestPosition, s.shardID, err)
		completion.OnFailure(err)
		return
	}

	go func() {
		defer rs.Release()
		result := <-rs.ResultC()
		switch {
		case result.Completed():
			res := result.GetResult()
			if RetCode(res.Value) != RetCSuccess {
				completion.OnFailure(&Error{Code: RetCode(res.Value), Msg: string(res.Data)})
				return
			}
			completion.OnCommit()
		case result.Timeout():
			completion.OnFailure(dragonboat.ErrTimeout)
		case result.Terminated():
			completion.OnFailure(dragonboat.ErrShardClosed)
		case result.Dropped():
			completion.OnFailure(dragonboat.ErrShardNotReady)
		default:
			completion.OnFailure(dragonboat.ErrAborted)
		}
	}()
}

// IsOpen reports whether the shard has a known leader.
func (s *Storage) IsOpen() bool {
	_, _, valid, err := s.nh.GetLeaderID(s.shardID)
	return err == nil && valid
}

// IsLeader reports whether the local replica leads the shard.
func (s *Storage) IsLeader() bool {
	leaderID, _, valid, err := s.nh.GetLeaderID(s.shardID)
	return err == nil && valid && leaderID == s.replicaID
}

// LastPosition implements logstream.LogStorage
func (s *Storage) LastPosition() int64 {
	return s.fsm.LastPosition()
}

// NewReader implements logstream.LogStorage
func (s *Storage) NewReader() logstream.LogReader {
	r := &reader{fsm: s.fsm, notify: make(chan struct{}, 1)}
	s.fsm.subscribe(r.notify)
	return r
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

type reader struct {
	fsm    *LogStateMachine
	next   int
	notify chan struct{}
}

func (r *reader) Next() (*logstream.SequencedBatch, bool) {
	batch, ok := r.fsm.batchAt(r.next)
	if ok {
		r.next++
	}
	return batch, ok
}

func (r *reader) Notify() <-chan struct{} {
	return r.notify
}

func (r *reader) Close() {
	r.fsm.unsubscribe(r.notify)
}
