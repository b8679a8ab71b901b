package engine

import (
	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/ValentinKolb/dFlow/lib/state"
)

// Sender delivers records to other partitions. All methods must return
// without waiting for the delivery.
type Sender interface {
	// Distribute delivers command to the target partition and keeps
	// redelivering it until Acknowledged is called for the same pair. A
	// distribution with a queue id is only delivered after every earlier
	// distribution of the same queue to the same target was acknowledged.
	Distribute(distributionKey int64, targetPartitionID int32, queueID string, command *protocol.Record)

	// Acknowledged stops the redelivery of a distribution to a target.
	Acknowledged(distributionKey int64, targetPartitionID int32)

	// Acknowledge delivers the acknowledgement of a distributed command to
	// the partition it originates from.
	Acknowledge(originPartitionID int32, command *protocol.Record)
}

// CommandDistributionBehavior distributes accepted commands to all other
// partitions and acknowledges distributed commands.
type CommandDistributionBehavior struct {
	partitionID    int32
	partitionCount int32
	sender         Sender
}

func newCommandDistributionBehavior(partitionID, partitionCount int32, sender Sender) *CommandDistributionBehavior {
	return &CommandDistributionBehavior{
		partitionID:    partitionID,
		partitionCount: partitionCount,
		sender:         sender,
	}
}

// DistributionRequest is a distribution under construction.
type DistributionRequest struct {
	behavior *CommandDistributionBehavior
	key      int64
	queueID  string
}

// WithKey starts a distribution identified by key. The key must be unique
// among the distributions of this partition.
func (b *CommandDistributionBehavior) WithKey(key int64) *DistributionRequest {
	return &DistributionRequest{behavior: b, key: key}
}

// InQueue tags the distribution with a queue id. Distributions of one queue
// are delivered to each target in the order they were started.
func (r *DistributionRequest) InQueue(queueID string) *DistributionRequest {
	r.queueID = queueID
	return r
}

// Distribute appends the STARTED and one DISTRIBUTING event per target to the
// result of command and sends the distributed copies once they are applied.
// value replaces the value of the command in the copies, so keys assigned on
// this partition reach the others.
func (r *DistributionRequest) Distribute(w *Writers, command *protocol.Record, value interface{}) error {
	b := r.behavior
	targets := b.targets()
	if len(targets) == 0 {
		return nil
	}

	commandValue, err := protocol.EncodeValue(value)
	if err != nil {
		return err
	}

	record := protocol.CommandDistributionRecord{
		PartitionID:  b.partitionID,
		QueueID:      r.queueID,
		ValueType:    command.Metadata.ValueType,
		Intent:       command.Metadata.Intent,
		CommandValue: commandValue,
	}
	if _, err := w.AppendFollowUpEvent(r.key, protocol.ValueTCommandDistribution, protocol.IntentStarted, record); err != nil {
		return err
	}
	for _, target := range targets {
		record.PartitionID = target
		if _, err := w.AppendFollowUpEvent(r.key, protocol.ValueTCommandDistribution, protocol.IntentDistributing, record); err != nil {
			return err
		}
	}

	distributed := b.distributedCopy(r.key, record.ValueType, record.Intent, commandValue)
	key, queueID := r.key, r.queueID
	w.AppendSideEffect(func() {
		for _, target := range targets {
			b.sender.Distribute(key, target, queueID, distributed)
		}
	})
	return nil
}

// AcknowledgeCommand sends the acknowledgement of a distributed command to its
// origin once the follow-up records are applied.
func (b *CommandDistributionBehavior) AcknowledgeCommand(w *Writers, command *protocol.Record) error {
	value, err := protocol.EncodeValue(protocol.CommandDistributionRecord{
		PartitionID: b.partitionID,
		ValueType:   command.Metadata.ValueType,
		Intent:      command.Metadata.Intent,
	})
	if err != nil {
		return err
	}

	ack := &protocol.Record{
		Key: command.Key,
		Metadata: protocol.RecordMetadata{
			RecordType: protocol.RecordTCommand,
			ValueType:  protocol.ValueTCommandDistribution,
			Intent:     protocol.IntentAcknowledge,
		},
		Value: value,
	}
	origin := command.Metadata.OriginPartitionID
	w.AppendSideEffect(func() {
		b.sender.Acknowledge(origin, ack)
	})
	return nil
}

// targets returns all partitions except this one. Partition ids start at 1.
func (b *CommandDistributionBehavior) targets() []int32 {
	var targets []int32
	for p := int32(1); p <= b.partitionCount; p++ {
		if p != b.partitionID {
			targets = append(targets, p)
		}
	}
	return targets
}

func (b *CommandDistributionBehavior) distributedCopy(key int64, valueType protocol.ValueType, intent protocol.Intent, value []byte) *protocol.Record {
	return &protocol.Record{
		Key: key,
		Metadata: protocol.RecordMetadata{
			RecordType:        protocol.RecordTCommand,
			ValueType:         valueType,
			Intent:            intent,
			OriginPartitionID: b.partitionID,
		},
		Value: value,
	}
}

func (b *CommandDistributionBehavior) resume(tx db.ReadTx, st *state.State) error {
	resumed := 0
	err := st.Distributions.ForEachPending(tx, func(d state.Distribution, target int32) bool {
		b.sender.Distribute(d.DistributionKey, target, d.QueueID, b.distributedCopy(d.DistributionKey, d.ValueType, d.Intent, d.CommandValue))
		resumed++
		return true
	})
	if resumed > 0 {
		log.Infof("resumed %d pending distributions on partition %d", resumed, b.partitionID)
	}
	return err
}

// --------------------------------------------------------------------------
// Acknowledge processor
// --------------------------------------------------------------------------

// distributionAcknowledgeProcessor handles the acknowledgements arriving at
// the origin partition of a distribution.
type distributionAcknowledgeProcessor struct {
	processorDeps
}

func (p *distributionAcknowledgeProcessor) ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.CommandDistributionRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}

	distributionKey := command.Key
	if !p.state.Distributions.IsPending(ctx.Tx, distributionKey, record.PartitionID) {
		return protocol.NewRejection(protocol.RejectionTNotFound,
			"Expected to acknowledge distribution with key %d for partition %d, but no such pending distribution exists",
			distributionKey, record.PartitionID)
	}

	pending, err := p.state.Distributions.PendingPartitions(ctx.Tx, distributionKey)
	if err != nil {
		return err
	}

	w := ctx.Writers
	if _, err := w.AppendFollowUpEvent(distributionKey, protocol.ValueTCommandDistribution, protocol.IntentAcknowledged, record); err != nil {
		return err
	}
	if len(pending) == 1 {
		if _, err := w.AppendFollowUpEvent(distributionKey, protocol.ValueTCommandDistribution, protocol.IntentFinished, record); err != nil {
			return err
		}
	}

	target := record.PartitionID
	w.AppendSideEffect(func() {
		p.distribution.sender.Acknowledged(distributionKey, target)
	})
	return nil
}
