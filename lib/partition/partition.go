// Package partition runs one partition of the engine: it replays the log into
// the state, processes committed commands while leading, answers waiting
// clients and delivers distributed commands to the other partitions.
package partition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/engine"
	"github.com/ValentinKolb/dFlow/lib/logstream"
	"github.com/ValentinKolb/dFlow/lib/logstream/flowcontrol"
	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/ValentinKolb/dFlow/lib/state"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cenkalti/backoff/v5"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("partition")

var (
	// ErrNotLeader is returned when a record is written to a partition that
	// does not lead its log.
	ErrNotLeader = errors.New("partition: not the leader")
	// ErrInvalidRecord is returned for records that are not commands.
	ErrInvalidRecord = errors.New("partition: invalid record")
)

// Config configures a partition.
type Config struct {
	PartitionID    int32
	PartitionCount int32

	// MaxFragmentSize bounds the size of one batch, 0 uses the log default.
	MaxFragmentSize int
	// FlowControl limits the in-flight appends, the zero value uses the defaults.
	FlowControl   flowcontrol.Limits
	Authorization engine.AuthorizationConfig

	// RequestTimeout bounds how long Submit waits for a response.
	RequestTimeout      time.Duration
	// LeaderCheckInterval is how often the leadership of the log is polled.
	LeaderCheckInterval time.Duration
	Redistribution      RedistributionConfig

	Metrics *metrics.Set // may be nil
}

func (c Config) withDefaults() Config {
	if c.PartitionCount <= 0 {
		c.PartitionCount = 1
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.LeaderCheckInterval <= 0 {
		c.LeaderCheckInterval = 100 * time.Millisecond
	}
	if c.FlowControl == (flowcontrol.Limits{}) {
		c.FlowControl = flowcontrol.DefaultLimits()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewSet()
	}
	return c
}

// LeadershipAware is implemented by log storages that can be led by another
// node. Storages without it lead while they are open.
type LeadershipAware interface {
	IsLeader() bool
}

// Partition is one partition of the engine.
//
// Thread-safety: Submit, Receive and the accessors are thread-safe. Start and
// Stop must be called once each.
type Partition struct {
	cfg           Config
	storage       logstream.LogStorage
	state         *state.State
	engine        *engine.Engine
	redistributor *Redistributor
	flowControl   *flowcontrol.FlowControl
	responses     *responseRegistry
	metrics       *partitionMetrics

	sequencer  atomic.Pointer[logstream.Sequencer]
	requestIDs atomic.Int64

	processor *streamProcessor
	ready     chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	err       atomic.Pointer[error]
}

// New creates a partition on top of its log and database. transport reaches
// the other partitions.
func New(cfg Config, storage logstream.LogStorage, database db.KVDB, transport Transport) (*Partition, error) {
	cfg = cfg.withDefaults()
	if cfg.PartitionID <= 0 || cfg.PartitionID > cfg.PartitionCount || cfg.PartitionID > protocol.MaxPartitions {
		return nil, fmt.Errorf("invalid partition %d of %d", cfg.PartitionID, cfg.PartitionCount)
	}

	st, err := state.New(cfg.PartitionID, database)
	if err != nil {
		return nil, fmt.Errorf("failed to open the state of partition %d: %w", cfg.PartitionID, err)
	}
	var lastProcessed int64
	if err := st.View(func(tx db.ReadTx) error {
		lastProcessed, err = st.LastProcessedPosition(tx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to read the last processed position of partition %d: %w", cfg.PartitionID, err)
	}

	p := &Partition{
		cfg:         cfg,
		storage:     storage,
		state:       st,
		flowControl: flowcontrol.New(cfg.PartitionID, cfg.FlowControl, cfg.Metrics),
		responses:   newResponseRegistry(cfg.PartitionID, cfg.RequestTimeout, cfg.Metrics),
		metrics:     newPartitionMetrics(cfg.PartitionID, cfg.Metrics),
		ready:       make(chan struct{}),
	}
	p.redistributor = NewRedistributor(cfg.PartitionID, transport, cfg.Redistribution, cfg.Metrics)
	p.engine = engine.New(engine.Config{
		PartitionID:    cfg.PartitionID,
		PartitionCount: cfg.PartitionCount,
		Authorization:  cfg.Authorization,
	}, st, p.redistributor)
	p.processor = newStreamProcessor(p, lastProcessed)
	// request ids must not repeat the ids of commands written before a restart
	p.requestIDs.Store(time.Now().UnixNano())
	return p, nil
}

// ID returns the partition id.
func (p *Partition) ID() int32 {
	return p.cfg.PartitionID
}

// State returns the state of the partition. It must only be read.
func (p *Partition) State() *state.State {
	return p.state
}

// Ready is closed once the log was replayed after Start.
func (p *Partition) Ready() <-chan struct{} {
	return p.ready
}

// IsLeader reports whether the partition currently accepts writes.
func (p *Partition) IsLeader() bool {
	seq := p.sequencer.Load()
	return seq != nil && !seq.IsClosed()
}

// Err returns the error that stopped the processing, if any.
func (p *Partition) Err() error {
	if err := p.err.Load(); err != nil {
		return *err
	}
	return nil
}

// FlowControl returns the in-flight statistics of the log writer.
func (p *Partition) FlowControl() flowcontrol.Stats {
	return p.flowControl.Stats()
}

// Start replays the log and starts processing in the background.
func (p *Partition) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	log.Infof("starting partition %d of %d", p.cfg.PartitionID, p.cfg.PartitionCount)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.processor.run(ctx, p.ready); err != nil {
			log.Errorf("partition %d stopped processing: %v", p.cfg.PartitionID, err)
			p.err.Store(&err)
		}
	}()
}

// Stop ends the processing and the redelivery. Waiting clients time out.
func (p *Partition) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.redistributor.Stop()
	p.responses.close()
	log.Infof("stopped partition %d", p.cfg.PartitionID)
}

// Submit writes a command to the log and waits for its processing. The
// response is the follow-up event or the rejection of the command.
func (p *Partition) Submit(ctx context.Context, command *protocol.Record) (*protocol.Record, error) {
	if command == nil || !command.IsCommand() {
		return nil, fmt.Errorf("%w: expected a command", ErrInvalidRecord)
	}

	requestID := p.requestIDs.Add(1)
	cmd := *command
	cmd.Metadata.RequestStreamID = p.cfg.PartitionID
	cmd.Metadata.RequestID = requestID
	cmd.Metadata.OriginPartitionID = 0

	response := p.responses.register(requestID)
	defer p.responses.remove(requestID)

	if err := p.write(ctx, &cmd); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()
	select {
	case record := <-response:
		return record, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for the response to %s %s on partition %d: %w",
			cmd.Metadata.ValueType, cmd.Metadata.Intent, p.cfg.PartitionID, ctx.Err())
	}
}

// Receive writes a command that another partition distributed or an
// acknowledgement. Nobody waits for its processing.
func (p *Partition) Receive(ctx context.Context, record *protocol.Record) error {
	if record == nil || !record.IsCommand() {
		return fmt.Errorf("%w: expected a command", ErrInvalidRecord)
	}
	cmd := *record
	cmd.Metadata.RequestStreamID = 0
	cmd.Metadata.RequestID = 0
	return p.write(ctx, &cmd)
}

// write appends a single command, retrying while the log is full.
func (p *Partition) write(ctx context.Context, record *protocol.Record) error {
	entries := []logstream.LogAppendEntry{logstream.NewEntry(record)}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (int64, error) {
		seq := p.sequencer.Load()
		if seq == nil {
			return 0, backoff.Permanent(ErrNotLeader)
		}
		position, err := seq.TryWrite(entries, -1)
		switch {
		case err == nil:
			return position, nil
		case errors.Is(err, logstream.ErrFull):
			p.metrics.backpressure.Inc()
			return 0, err
		case errors.Is(err, logstream.ErrClosed):
			return 0, backoff.Permanent(ErrNotLeader)
		default:
			return 0, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(p.cfg.RequestTimeout))
	if err != nil {
		return fmt.Errorf("failed to write %s %s to partition %d: %w",
			record.Metadata.ValueType, record.Metadata.Intent, p.cfg.PartitionID, err)
	}
	return nil
}

func (p *Partition) storageLeads() bool {
	if la, ok := p.storage.(LeadershipAware); ok {
		return la.IsLeader()
	}
	return p.storage.IsOpen()
}
