// Package memstorage provides an in-memory logstream.LogStorage.
//
// By default every append is written and committed immediately. With
// Options.ManualCommit appends stay pending until Commit is called, which is
// how tests simulate slow replication.
package memstorage

import (
	"errors"
	"sync"

	"github.com/ValentinKolb/dFlow/lib/logstream"
)

// ErrClosed is passed to the completions of pending appends when the storage is closed.
var ErrClosed = errors.New("memstorage: closed")

// Options configures the storage
type Options struct {
	ManualCommit bool
}

type pendingAppend struct {
	batch      *logstream.SequencedBatch
	completion *logstream.AppendCompletion
}

// Storage is an in-memory log.
//
// Thread-safety: all methods are thread-safe.
type Storage struct {
	opts Options

	mu        sync.Mutex
	committed []*logstream.SequencedBatch
	pending   []pendingAppend
	readers   map[*reader]struct{}
	closed    bool
}

// New creates an empty storage
func New(opts Options) *Storage {
	return &Storage{
		opts:    opts,
		readers: make(map[*reader]struct{}),
	}
}

// Append implements logstream.LogStorage
func (s *Storage) Append(_, _ int64, batch *logstream.SequencedBatch, completion *logstream.AppendCompletion) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		completion.OnFailure(ErrClosed)
		return
	}
	if s.opts.ManualCommit {
		s.pending = append(s.pending, pendingAppend{batch: batch, completion: completion})
		s.mu.Unlock()
		completion.OnWrite()
		return
	}
	s.committed = append(s.committed, batch)
	s.notifyLocked()
	s.mu.Unlock()

	completion.OnCommit()
}

// Commit commits the oldest n pending appends and returns how many were committed.
func (s *Storage) Commit(n int) int {
	s.mu.Lock()
	if n > len(s.pending) {
		n = len(s.pending)
	}
	toCommit := s.pending[:n]
	s.pending = s.pending[n:]
	for _, p := range toCommit {
		s.committed = append(s.committed, p.batch)
	}
	s.notifyLocked()
	s.mu.Unlock()

	for _, p := range toCommit {
		p.completion.OnCommit()
	}
	return n
}

// CommitAll commits every pending append.
func (s *Storage) CommitAll() int {
	return s.Commit(int(^uint(0) >> 1))
}

// Pending returns the number of appends waiting for Commit.
func (s *Storage) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// IsOpen implements logstream.LogStorage
func (s *Storage) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// LastPosition implements logstream.LogStorage
func (s *Storage) LastPosition() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.committed) == 0 {
		return 0
	}
	return s.committed[len(s.committed)-1].LastPosition()
}

// Batches returns a copy of the committed batches.
func (s *Storage) Batches() []*logstream.SequencedBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*logstream.SequencedBatch(nil), s.committed...)
}

// Close fails all pending appends and rejects further appends. Committed
// batches stay readable.
func (s *Storage) Close() {
	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, p := range pending {
		p.completion.OnFailure(ErrClosed)
	}
}

// NewReader implements logstream.LogStorage
func (s *Storage) NewReader() logstream.LogReader {
	r := &reader{storage: s, notify: make(chan struct{}, 1)}
	s.mu.Lock()
	s.readers[r] = struct{}{}
	s.mu.Unlock()
	return r
}

func (s *Storage) notifyLocked() {
	for r := range s.readers {
		select {
		case r.notify <- struct{}{}:
		default:
		}
	}
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

type reader struct {
	storage *Storage
	next    int
	notify  chan struct{}
}

func (r *reader) Next() (*logstream.SequencedBatch, bool) {
	r.storage.mu.Lock()
	defer r.storage.mu.Unlock()
	if r.next >= len(r.storage.committed) {
		return nil, false
	}
	batch := r.storage.committed[r.next]
	r.next++
	return batch, true
}

func (r *reader) Notify() <-chan struct{} {
	return r.notify
}

func (r *reader) Close() {
	r.storage.mu.Lock()
	delete(r.storage.readers, r)
	r.storage.mu.Unlock()
}
