package partition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dFlow/lib/db/util"
	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cenkalti/backoff/v5"
)

// RedistributionConfig configures the redelivery of distributed commands.
type RedistributionConfig struct {
	// InitialInterval is the delay before the first redelivery.
	InitialInterval time.Duration
	// MaxInterval caps the delay between two redeliveries.
	MaxInterval time.Duration
	// SendTimeout bounds a single delivery attempt.
	SendTimeout time.Duration
}

// DefaultRedistributionConfig returns the redelivery settings used when
// nothing else is configured.
func DefaultRedistributionConfig() RedistributionConfig {
	return RedistributionConfig{
		InitialInterval: 10 * time.Second,
		MaxInterval:     5 * time.Minute,
		SendTimeout:     5 * time.Second,
	}
}

func (c RedistributionConfig) withDefaults() RedistributionConfig {
	def := DefaultRedistributionConfig()
	if c.InitialInterval <= 0 {
		c.InitialInterval = def.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = def.MaxInterval
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = def.SendTimeout
	}
	return c
}

type redistributionOp uint8

const (
	opDistribute redistributionOp = iota + 1
	opAcknowledged
	opAcknowledge
	opClear
)

type redistributionEvent struct {
	op        redistributionOp
	key       int64
	partition int32
	queue     string
	record    *protocol.Record
}

type retryTarget struct {
	key       int64
	partition int32
}

// queueTarget is the ordered stream of distributions of one queue to one
// partition.
type queueTarget struct {
	queue     string
	partition int32
}

type retryEntry struct {
	target  retryTarget
	queue   string
	record  *protocol.Record
	backoff *backoff.ExponentialBackOff
	active  bool // sent and scheduled for redelivery
}

// Redistributor sends distributed commands and acknowledgements to other
// partitions. It implements engine.Sender: the engine hands it work from its
// side effects without blocking, a single goroutine owns the redelivery
// schedule and resends every distribution until it is acknowledged.
//
// Distributions of the same queue reach a target in the order they were
// handed over: only the oldest unacknowledged distribution of a queue is sent,
// the next one follows its acknowledgement. Distributions without a queue are
// sent independently.
//
// Acknowledgements are sent once. A lost acknowledgement is repaired by the
// redelivery of the distributed command, which is acknowledged again.
type Redistributor struct {
	partitionID int32
	transport   Transport
	cfg         RedistributionConfig
	events      *util.LockFreeMPSC[redistributionEvent]
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// owned by the run goroutine
	schedule *util.MapHeap
	entries  map[uint64]*retryEntry
	ids      map[retryTarget]uint64
	queues   map[queueTarget][]uint64 // head is the active entry
	nextID   uint64

	sent    *metrics.Counter
	failed  *metrics.Counter
	pending *metrics.Counter
	queued  *metrics.Counter
}

// NewRedistributor creates a redistributor for the partition and starts its
// goroutine. set may be nil.
func NewRedistributor(partitionID int32, transport Transport, cfg RedistributionConfig, set *metrics.Set) *Redistributor {
	if set == nil {
		set = metrics.NewSet()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Redistributor{
		partitionID: partitionID,
		transport:   transport,
		cfg:         cfg.withDefaults(),
		events:      util.NewLockFreeMPSC[redistributionEvent](),
		ctx:         ctx,
		cancel:      cancel,
		schedule:    util.NewMapHeap(),
		entries:     make(map[uint64]*retryEntry),
		ids:         make(map[retryTarget]uint64),
		queues:      make(map[queueTarget][]uint64),
		sent:        set.GetOrCreateCounter(fmt.Sprintf(`dflow_distribution_sent_total{partition="%d"}`, partitionID)),
		failed:      set.GetOrCreateCounter(fmt.Sprintf(`dflow_distribution_send_failures_total{partition="%d"}`, partitionID)),
		pending:     set.GetOrCreateCounter(fmt.Sprintf(`dflow_distribution_pending{partition="%d"}`, partitionID)),
		queued:      set.GetOrCreateCounter(fmt.Sprintf(`dflow_distribution_queued{partition="%d"}`, partitionID)),
	}

	r.wg.Add(1)
	go r.run()
	return r
}

// Distribute implements engine.Sender.
func (r *Redistributor) Distribute(distributionKey int64, targetPartitionID int32, queueID string, command *protocol.Record) {
	r.events.Push(&redistributionEvent{op: opDistribute, key: distributionKey, partition: targetPartitionID, queue: queueID, record: command})
}

// Acknowledged implements engine.Sender.
func (r *Redistributor) Acknowledged(distributionKey int64, targetPartitionID int32) {
	r.events.Push(&redistributionEvent{op: opAcknowledged, key: distributionKey, partition: targetPartitionID})
}

// Acknowledge implements engine.Sender.
func (r *Redistributor) Acknowledge(originPartitionID int32, command *protocol.Record) {
	r.events.Push(&redistributionEvent{op: opAcknowledge, partition: originPartitionID, record: command})
}

// Clear drops every scheduled redelivery. It is used when the partition loses
// its leadership, the next leader resumes the distributions from its state.
func (r *Redistributor) Clear() {
	r.events.Push(&redistributionEvent{op: opClear})
}

// Stop ends the redelivery. Scheduled redeliveries are dropped.
func (r *Redistributor) Stop() {
	r.cancel()
	r.events.Close()
	r.wg.Wait()
}

func (r *Redistributor) run() {
	defer r.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if next, ok := r.schedule.Peek(); ok {
			resetTimer(timer, time.Until(time.Unix(0, int64(next.Priority))))
		} else {
			resetTimer(timer, time.Hour)
		}

		select {
		case ev, ok := <-r.events.Recv():
			if !ok {
				return
			}
			if r.ctx.Err() != nil {
				// drain the queue so the consumer goroutine can exit
				continue
			}
			r.handle(ev)
		case <-timer.C:
			r.redeliverDue(time.Now())
		}
	}
}

func (r *Redistributor) handle(ev *redistributionEvent) {
	switch ev.op {
	case opDistribute:
		target := retryTarget{key: ev.key, partition: ev.partition}
		id, ok := r.ids[target]
		if !ok {
			r.nextID++
			id = r.nextID
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = r.cfg.InitialInterval
			b.MaxInterval = r.cfg.MaxInterval
			r.ids[target] = id
			r.entries[id] = &retryEntry{target: target, queue: ev.queue, backoff: b}
			if ev.queue != "" {
				qt := queueTarget{queue: ev.queue, partition: ev.partition}
				r.queues[qt] = append(r.queues[qt], id)
			}
		}
		entry := r.entries[id]
		entry.record = ev.record
		if entry.queue == "" || r.queues[queueTarget{queue: entry.queue, partition: entry.target.partition}][0] == id {
			r.activate(id, entry)
		}

	case opAcknowledged:
		target := retryTarget{key: ev.key, partition: ev.partition}
		if id, ok := r.ids[target]; ok {
			entry := r.entries[id]
			r.schedule.Remove(id)
			delete(r.entries, id)
			delete(r.ids, target)
			if entry.queue != "" {
				r.dequeue(queueTarget{queue: entry.queue, partition: target.partition}, id)
			}
		}

	case opAcknowledge:
		r.send(ev.partition, ev.record)

	case opClear:
		if len(r.entries) > 0 {
			log.Infof("dropping %d scheduled redeliveries of partition %d", len(r.entries), r.partitionID)
		}
		r.schedule = util.NewMapHeap()
		r.entries = make(map[uint64]*retryEntry)
		r.ids = make(map[retryTarget]uint64)
		r.queues = make(map[queueTarget][]uint64)
	}

	queued := 0
	for _, entry := range r.entries {
		if !entry.active {
			queued++
		}
	}
	r.pending.Set(uint64(len(r.entries)))
	r.queued.Set(uint64(queued))
}

// activate sends the entry now and schedules its redelivery.
func (r *Redistributor) activate(id uint64, entry *retryEntry) {
	entry.active = true
	entry.backoff.Reset()
	r.send(entry.target.partition, entry.record)
	r.schedule.Set(id, uint64(time.Now().Add(entry.backoff.NextBackOff()).UnixNano()))
}

// dequeue removes id from its queue and activates the next entry if id was
// the head.
func (r *Redistributor) dequeue(qt queueTarget, id uint64) {
	ids := r.queues[qt]
	for i, queued := range ids {
		if queued == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.queues, qt)
		return
	}
	r.queues[qt] = ids
	if next := r.entries[ids[0]]; !next.active {
		r.activate(ids[0], next)
	}
}

func (r *Redistributor) redeliverDue(now time.Time) {
	for {
		it, ok := r.schedule.PopDue(uint64(now.UnixNano()))
		if !ok {
			return
		}
		entry := r.entries[it.Key]
		log.Debugf("redelivering distribution %d from partition %d to partition %d",
			entry.target.key, r.partitionID, entry.target.partition)
		r.send(entry.target.partition, entry.record)
		r.schedule.Set(it.Key, uint64(time.Now().Add(entry.backoff.NextBackOff()).UnixNano()))
	}
}

func (r *Redistributor) send(partitionID int32, record *protocol.Record) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.SendTimeout)
	defer cancel()

	copied := *record
	if err := r.transport.Send(ctx, partitionID, &copied); err != nil {
		r.failed.Inc()
		log.Debugf("failed to send %s %s with key %d from partition %d to partition %d: %v",
			record.Metadata.ValueType, record.Metadata.Intent, record.Key, r.partitionID, partitionID, err)
		return
	}
	r.sent.Inc()
}

// resetTimer resets a timer whose channel may or may not have fired.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}
