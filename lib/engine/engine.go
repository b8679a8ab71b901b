// Package engine turns commands into follow-up records and applies committed
// records to the partition state.
//
// Processors and appliers are selected from dispatch tables keyed by the
// (ValueType, Intent) pair of a record. Both tables are built once in New.
// A processor declares which commands it handles by implementing
// HandlesNewCommand, HandlesDistributedCommand or both.
package engine

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/ValentinKolb/dFlow/lib/state"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("engine")

// --------------------------------------------------------------------------
// Processor capabilities
// --------------------------------------------------------------------------

// ProcessingContext is handed to a processor for one command.
type ProcessingContext struct {
	Tx      db.ReadTx
	Writers *Writers
}

// HandlesNewCommand is implemented by processors of commands submitted to
// this partition. Returning a *protocol.Rejection rejects the command, any
// other error rejects it as a processing error.
type HandlesNewCommand interface {
	ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error
}

// HandlesDistributedCommand is implemented by processors of commands that
// another partition accepted and distributed to this one. They never reject
// and never generate keys.
type HandlesDistributedCommand interface {
	ProcessDistributedCommand(ctx *ProcessingContext, command *protocol.Record) error
}

type recordKind struct {
	valueType protocol.ValueType
	intent    protocol.Intent
}

func (k recordKind) String() string {
	return fmt.Sprintf("%s %s", k.valueType, k.intent)
}

type processorEntry struct {
	newCommand  HandlesNewCommand
	distributed HandlesDistributedCommand
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Config configures the engine of one partition.
type Config struct {
	PartitionID    int32
	PartitionCount int32
	Authorization  AuthorizationConfig
}

// Engine processes commands and applies records for one partition. It is not
// safe for concurrent use, a partition drives it from a single goroutine.
type Engine struct {
	partitionID  int32
	state        *state.State
	distribution *CommandDistributionBehavior
	processors   map[recordKind]processorEntry
	appliers     map[recordKind]Applier

	// key generator state before the last Process call
	keyCheckpoint int64
}

// New creates the engine of a partition. sender delivers distributed commands
// and acknowledgements to other partitions.
func New(cfg Config, st *state.State, sender Sender) *Engine {
	e := &Engine{
		partitionID:  cfg.PartitionID,
		state:        st,
		distribution: newCommandDistributionBehavior(cfg.PartitionID, cfg.PartitionCount, sender),
		processors:   make(map[recordKind]processorEntry),
		appliers:     newAppliers(st),
	}

	auth := newAuthorizationCheckBehavior(cfg.Authorization, st)
	deps := processorDeps{state: st, keys: st.Keys, distribution: e.distribution, auth: auth}

	e.register(protocol.ValueTRole, protocol.IntentCreate, &roleCreateProcessor{deps})
	e.register(protocol.ValueTRole, protocol.IntentUpdate, &roleUpdateProcessor{deps})
	e.register(protocol.ValueTRole, protocol.IntentDelete, &roleDeleteProcessor{deps})
	e.register(protocol.ValueTRole, protocol.IntentAddEntity, &roleAddEntityProcessor{deps})
	e.register(protocol.ValueTRole, protocol.IntentRemoveEntity, &roleRemoveEntityProcessor{deps})
	e.register(protocol.ValueTUser, protocol.IntentCreate, &userCreateProcessor{deps})
	e.register(protocol.ValueTUser, protocol.IntentDelete, &userDeleteProcessor{deps})
	e.register(protocol.ValueTAuthorization, protocol.IntentCreate, &authorizationCreateProcessor{deps})
	e.register(protocol.ValueTAuthorization, protocol.IntentDelete, &authorizationDeleteProcessor{deps})
	e.register(protocol.ValueTTenant, protocol.IntentCreate, &tenantCreateProcessor{deps})
	e.register(protocol.ValueTTenant, protocol.IntentAddEntity, &tenantAddEntityProcessor{deps})
	e.register(protocol.ValueTMessageSubscription, protocol.IntentCreate, &messageSubscriptionCreateProcessor{deps})
	e.register(protocol.ValueTMessageSubscription, protocol.IntentCorrelate, &messageSubscriptionCorrelateProcessor{deps})
	e.register(protocol.ValueTMessageSubscription, protocol.IntentDelete, &messageSubscriptionDeleteProcessor{deps})
	e.register(protocol.ValueTCommandDistribution, protocol.IntentAcknowledge, &distributionAcknowledgeProcessor{deps})

	return e
}

// register adds p to the dispatch table with the capabilities it implements.
func (e *Engine) register(valueType protocol.ValueType, intent protocol.Intent, p interface{}) {
	var entry processorEntry
	if h, ok := p.(HandlesNewCommand); ok {
		entry.newCommand = h
	}
	if h, ok := p.(HandlesDistributedCommand); ok {
		entry.distributed = h
	}
	if entry.newCommand == nil && entry.distributed == nil {
		panic(fmt.Sprintf("processor %T for %s %s handles no commands", p, valueType, intent))
	}
	e.processors[recordKind{valueType, intent}] = entry
}

// State returns the state the engine works on.
func (e *Engine) State() *state.State {
	return e.state
}

// Process runs the processor of command against the state visible in tx and
// returns the records to append. Process never changes the state. Keys drawn
// by a rejected command are released again.
func (e *Engine) Process(tx db.ReadTx, command *protocol.Record) *Result {
	e.keyCheckpoint = e.state.Keys.Checkpoint()
	w := newWriters(command)
	ctx := &ProcessingContext{Tx: tx, Writers: w}
	kind := recordKind{command.Metadata.ValueType, command.Metadata.Intent}

	var err error
	entry, ok := e.processors[kind]
	switch {
	case !ok:
		err = fmt.Errorf("no processor registered for %s", kind)
	case command.IsDistributed() && entry.distributed == nil:
		err = fmt.Errorf("%s commands can not be distributed", kind)
	case command.IsDistributed():
		err = entry.distributed.ProcessDistributedCommand(ctx, command)
	case entry.newCommand == nil:
		err = fmt.Errorf("%s commands are only accepted from other partitions", kind)
	default:
		err = entry.newCommand.ProcessNewCommand(ctx, command)
	}

	if err != nil {
		w.reset()
		e.state.Keys.Rollback(e.keyCheckpoint)
		var rejection *protocol.Rejection
		if !errors.As(err, &rejection) {
			log.Errorf("failed to process %s command at position %d on partition %d: %v", kind, command.Position, e.partitionID, err)
			rejection = protocol.NewRejection(protocol.RejectionTProcessingError, "Expected to process command, but an unexpected error occurred: %v", err)
		}
		w.WriteRejectionOnCommand(w.AppendRejection(rejection))
	}
	return w.result
}

// RejectOversized replaces the result of the last processed command with a
// rejection because its records do not fit into one batch. The keys drawn for
// the replaced result are released.
func (e *Engine) RejectOversized(command *protocol.Record) *Result {
	e.state.Keys.Rollback(e.keyCheckpoint)
	w := newWriters(command)
	w.WriteRejectionOnCommand(w.AppendRejection(protocol.NewRejection(protocol.RejectionTProcessingError,
		"Expected to write the follow-up records of the %s %s command, but they exceed the maximum batch size",
		command.Metadata.ValueType, command.Metadata.Intent)))
	return w.result
}

// Apply applies a committed record in tx. Events run their applier, every
// record advances the last processed position to its source position.
func (e *Engine) Apply(tx db.Tx, record *protocol.Record) error {
	if record.IsCommand() {
		return nil
	}

	if record.IsEvent() {
		kind := recordKind{record.Metadata.ValueType, record.Metadata.Intent}
		applier, ok := e.appliers[kind]
		if !ok {
			return fmt.Errorf("no applier registered for %s", kind)
		}
		if err := applier.ApplyState(tx, record.Key, record.Value); err != nil {
			return fmt.Errorf("failed to apply %s event at position %d: %w", kind, record.Position, err)
		}
		if err := e.state.Keys.SetKeyIfHigher(tx, record.Key); err != nil {
			return err
		}
	}

	return e.state.MarkProcessed(tx, record.SourceRecordPosition)
}

// ResumeDistributions hands every unacknowledged distribution to the sender
// again. It is called once the state was recovered.
func (e *Engine) ResumeDistributions(tx db.ReadTx) error {
	return e.distribution.resume(tx, e.state)
}
