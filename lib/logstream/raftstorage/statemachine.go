package raftstorage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ValentinKolb/dFlow/lib/logstream"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

// RetCode is the result value of an applied raft entry
type RetCode uint64

const (
	RetCSuccess       RetCode = iota // 0: batch appended
	RetCInternalError                // 1: batch could not be decoded
	RetCPositionGap                  // 2: batch does not continue the log
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCPositionGap:
		return "PositionGap"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(c))
	}
}

// Error wraps a return code of the state machine and its message
type Error struct {
	Code RetCode
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// --------------------------------------------------------------------------
// State Machine Registry
// --------------------------------------------------------------------------

// Registry keeps the log state machines dragonboat created on this node so a
// Storage can read the committed batches of its shard locally.
type Registry struct {
	machines *xsync.MapOf[uint64, *LogStateMachine]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{machines: xsync.NewMapOf[uint64, *LogStateMachine]()}
}

// Factory returns the state machine factory to pass to NodeHost.StartConcurrentReplica.
func (r *Registry) Factory() func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		fsm := NewLogStateMachine(shardID, replicaID)
		r.machines.Store(shardID, fsm)
		return fsm
	}
}

// Get returns the state machine of a shard started on this node.
func (r *Registry) Get(shardID uint64) (*LogStateMachine, bool) {
	return r.machines.Load(shardID)
}

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// LogStateMachine is the dragonboat state machine of one partition log. Every raft
// entry carries one serialized SequencedBatch, the machine keeps the committed
// batches in position order.
type LogStateMachine struct {
	shardID   uint64
	replicaID uint64

	mu           sync.RWMutex
	batches      []*logstream.SequencedBatch
	lastPosition int64
	listeners    map[chan struct{}]struct{}
}

// NewLogStateMachine creates an empty log state machine
func NewLogStateMachine(shardID, replicaID uint64) *LogStateMachine {
	return &LogStateMachine{
		shardID:   shardID,
		replicaID: replicaID,
		listeners: make(map[chan struct{}]struct{}),
	}
}

// Lookup returns the last committed position, the query is ignored.
func (fsm *LogStateMachine) Lookup(_ interface{}) (interface{}, error) {
	fsm.mu.RLock()
	defer fsm.mu.RUnlock()
	return fsm.lastPosition, nil
}

// Update appends the batches of the entries. A batch has to start right after
// the last committed position, otherwise it is rejected with RetCPositionGap.
func (fsm *LogStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	fsm.mu.Lock()
	for idx, e := range entries {
		batch := &logstream.SequencedBatch{}
		if err := batch.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{
				Value: uint64(RetCInternalError),
				Data:  []byte(fmt.Sprintf("failed to deserialize batch: %v", err)),
			}
			continue
		}

		if fsm.lastPosition != 0 && batch.FirstPosition != fsm.lastPosition+1 {
			entries[idx].Result = sm.Result{
				Value: uint64(RetCPositionGap),
				Data:  []byte(fmt.Sprintf("batch starts at %d, expected %d", batch.FirstPosition, fsm.lastPosition+1)),
			}
			continue
		}

		fsm.batches = append(fsm.batches, batch)
		fsm.lastPosition = batch.LastPosition()
		entries[idx].Result = sm.Result{Value: uint64(RetCSuccess)}
	}
	fsm.notifyLocked()
	fsm.mu.Unlock()

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("log state machine of shard %d took long to update. Batch updated %d entries, took %.2fms", fsm.shardID, len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot captures the batches to save, batches are immutable so the slice header is enough.
func (fsm *LogStateMachine) PrepareSnapshot() (interface{}, error) {
	fsm.mu.RLock()
	defer fsm.mu.RUnlock()
	return fsm.batches[:len(fsm.batches):len(fsm.batches)], nil
}

// SaveSnapshot writes the prepared batches as length prefixed frames.
func (fsm *LogStateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, done <-chan struct{}) error {
	batches, ok := ctx.([]*logstream.SequencedBatch)
	if !ok {
		return fmt.Errorf("invalid snapshot context %T", ctx)
	}

	w := bufio.NewWriter(writer)
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(batches)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	for _, batch := range batches {
		select {
		case <-done:
			return sm.ErrSnapshotStopped
		default:
		}
		data := batch.Serialize()
		binary.BigEndian.PutUint32(header[:], uint32(len(data)))
		if _, err := w.Write(header[:]); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return w.Flush()
}

// RecoverFromSnapshot replaces the batches with the ones of the snapshot.
func (fsm *LogStateMachine) RecoverFromSnapshot(reader io.Reader, _ []sm.SnapshotFile, done <-chan struct{}) error {
	r := bufio.NewReader(reader)
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	count := int(binary.BigEndian.Uint32(header[:]))

	batches := make([]*logstream.SequencedBatch, 0, count)
	for i := 0; i < count; i++ {
		select {
		case <-done:
			return sm.ErrSnapshotStopped
		default:
		}
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return err
		}
		data := make([]byte, binary.BigEndian.Uint32(header[:]))
		if _, err := io.ReadFull(r, data); err != nil {
			return err
		}
		batch := &logstream.SequencedBatch{}
		if err := batch.Deserialize(data); err != nil {
			return err
		}
		batches = append(batches, batch)
	}

	fsm.mu.Lock()
	fsm.batches = batches
	fsm.lastPosition = 0
	if len(batches) > 0 {
		fsm.lastPosition = batches[len(batches)-1].LastPosition()
	}
	fsm.notifyLocked()
	fsm.mu.Unlock()
	return nil
}

// Close performs any necessary cleanup.
func (fsm *LogStateMachine) Close() error {
	return nil
}

// LastPosition returns the highest committed position.
func (fsm *LogStateMachine) LastPosition() int64 {
	fsm.mu.RLock()
	defer fsm.mu.RUnlock()
	return fsm.lastPosition
}

func (fsm *LogStateMachine) batchAt(idx int) (*logstream.SequencedBatch, bool) {
	fsm.mu.RLock()
	defer fsm.mu.RUnlock()
	if idx >= len(fsm.batches) {
		return nil, false
	}
	return fsm.batches[idx], true
}

func (fsm *LogStateMachine) subscribe(ch chan struct{}) {
	fsm.mu.Lock()
	fsm.listeners[ch] = struct{}{}
	fsm.mu.Unlock()
}

func (fsm *LogStateMachine) unsubscribe(ch chan struct{}) {
	fsm.mu.Lock()
	delete(fsm.listeners, ch)
	fsm.mu.Unlock()
}

func (fsm *LogStateMachine) notifyLocked() {
	for ch := range fsm.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
