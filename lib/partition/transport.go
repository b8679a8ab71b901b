package partition

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrUnknownPartition is returned when no route to a partition exists.
var ErrUnknownPartition = errors.New("partition: unknown partition")

// Transport delivers records written by one partition to another one. Send
// returns once the target accepted the record into its log or failed to.
type Transport interface {
	Send(ctx context.Context, partitionID int32, record *protocol.Record) error
}

// Router is the Transport between partitions of the same process. Partitions
// hosted elsewhere are reached through a fallback transport.
//
// Thread-safety: all methods are thread-safe.
type Router struct {
	partitions *xsync.MapOf[int32, *Partition]
	fallback   Transport
}

// NewRouter creates a router. fallback may be nil.
func NewRouter(fallback Transport) *Router {
	return &Router{
		partitions: xsync.NewMapOf[int32, *Partition](),
		fallback:   fallback,
	}
}

// Register makes a local partition reachable.
func (r *Router) Register(p *Partition) {
	r.partitions.Store(p.ID(), p)
}

// Unregister removes a local partition.
func (r *Router) Unregister(partitionID int32) {
	r.partitions.Delete(partitionID)
}

// Get returns the local partition with the given id.
func (r *Router) Get(partitionID int32) (*Partition, bool) {
	return r.partitions.Load(partitionID)
}

// Partitions returns the ids of all local partitions.
func (r *Router) Partitions() []int32 {
	ids := make([]int32, 0, r.partitions.Size())
	r.partitions.Range(func(id int32, _ *Partition) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// Send implements Transport. A local replica only receives the record while
// it leads, otherwise the fallback transport reaches the leader elsewhere.
func (r *Router) Send(ctx context.Context, partitionID int32, record *protocol.Record) error {
	p, local := r.partitions.Load(partitionID)
	if local && p.IsLeader() {
		return p.Receive(ctx, record)
	}
	if r.fallback != nil {
		return r.fallback.Send(ctx, partitionID, record)
	}
	if local {
		return p.Receive(ctx, record)
	}
	return fmt.Errorf("%w: %d", ErrUnknownPartition, partitionID)
}
