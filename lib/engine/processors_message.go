package engine

import (
	"github.com/ValentinKolb/dFlow/lib/protocol"
)

// Message subscriptions live on the partition of their element instance and
// are never distributed.

type messageSubscriptionCreateProcessor struct{ processorDeps }

func (p *messageSubscriptionCreateProcessor) ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.MessageSubscriptionRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	if record.MessageName == "" || record.ElementInstanceKey <= 0 {
		return protocol.NewRejection(protocol.RejectionTInvalidArgument,
			"Expected to open a message subscription for an element instance and a message name, but got element instance key '%d' and message name '%s'",
			record.ElementInstanceKey, record.MessageName)
	}
	if _, exists, err := p.state.MessageSubscriptions.Get(ctx.Tx, record.ElementInstanceKey, record.MessageName); err != nil {
		return err
	} else if exists {
		return protocol.NewRejection(protocol.RejectionTAlreadyExists,
			"Expected to open a new message subscription for element with key '%d' and message name '%s', but there is already a message subscription for that element key and message name opened",
			record.ElementInstanceKey, record.MessageName)
	}

	event, err := ctx.Writers.AppendFollowUpEvent(p.keys.NextKey(), protocol.ValueTMessageSubscription, protocol.IntentCreated, record)
	if err != nil {
		return err
	}
	ctx.Writers.WriteEventOnCommand(event)
	return nil
}

type messageSubscriptionCorrelateProcessor struct{ processorDeps }

func (p *messageSubscriptionCorrelateProcessor) ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.MessageSubscriptionRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	sub, exists, err := p.state.MessageSubscriptions.Get(ctx.Tx, record.ElementInstanceKey, record.MessageName)
	if err != nil {
		return err
	}
	if !exists {
		return protocol.NewRejection(protocol.RejectionTNotFound,
			"Expected to correlate subscription for element with key '%d' and message name '%s', but no such message subscription exists",
			record.ElementInstanceKey, record.MessageName)
	}
	if sub.Correlated && (sub.Interrupting || sub.MessageKey == record.MessageKey) {
		return protocol.NewRejection(protocol.RejectionTInvalidState,
			"Expected to correlate subscription for element with key '%d' and message name '%s', but it is already correlated",
			record.ElementInstanceKey, record.MessageName)
	}

	record.CorrelationKey = sub.CorrelationKey
	record.Interrupting = sub.Interrupting
	event, err := ctx.Writers.AppendFollowUpEvent(sub.Key, protocol.ValueTMessageSubscription, protocol.IntentCorrelated, record)
	if err != nil {
		return err
	}
	ctx.Writers.WriteEventOnCommand(event)
	return nil
}

type messageSubscriptionDeleteProcessor struct{ processorDeps }

func (p *messageSubscriptionDeleteProcessor) ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.MessageSubscriptionRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	sub, exists, err := p.state.MessageSubscriptions.Get(ctx.Tx, record.ElementInstanceKey, record.MessageName)
	if err != nil {
		return err
	}
	if !exists {
		return protocol.NewRejection(protocol.RejectionTNotFound,
			"Expected to close message subscription for element with key '%d' and message name '%s', but no such message subscription exists",
			record.ElementInstanceKey, record.MessageName)
	}

	record.CorrelationKey = sub.CorrelationKey
	event, err := ctx.Writers.AppendFollowUpEvent(sub.Key, protocol.ValueTMessageSubscription, protocol.IntentDeleted, record)
	if err != nil {
		return err
	}
	ctx.Writers.WriteEventOnCommand(event)
	return nil
}
