package state

import (
	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/protocol"
)

// MessageSubscription is the persisted form of a message subscription. A
// subscription is identified by its element instance and message name.
type MessageSubscription struct {
	Key                int64  `codec:"key"`
	ElementInstanceKey int64  `codec:"elementInstanceKey"`
	MessageName        string `codec:"messageName"`
	CorrelationKey     string `codec:"correlationKey"`
	MessageKey         int64  `codec:"messageKey"`
	Interrupting       bool   `codec:"interrupting"`
	Correlated         bool   `codec:"correlated"`
}

// MessageSubscriptionState stores the message subscriptions of a partition.
type MessageSubscriptionState struct {
	subscriptions *db.Table[MessageSubscription]
}

func newMessageSubscriptionState() *MessageSubscriptionState {
	return &MessageSubscriptionState{
		subscriptions: db.NewTable[MessageSubscription](cfMessageSubscriptions),
	}
}

// Get returns the subscription of an element instance for a message name.
func (s *MessageSubscriptionState) Get(tx db.ReadTx, elementInstanceKey int64, messageName string) (MessageSubscription, bool, error) {
	return s.subscriptions.Get(tx, db.LongKey(elementInstanceKey), db.StringKey(messageName))
}

// Put stores a subscription.
func (s *MessageSubscriptionState) Put(tx db.Tx, key int64, record protocol.MessageSubscriptionRecord) error {
	sub := MessageSubscription{
		Key:                key,
		ElementInstanceKey: record.ElementInstanceKey,
		MessageName:        record.MessageName,
		CorrelationKey:     record.CorrelationKey,
		MessageKey:         record.MessageKey,
		Interrupting:       record.Interrupting,
	}
	return s.subscriptions.Upsert(tx, sub, db.LongKey(record.ElementInstanceKey), db.StringKey(record.MessageName))
}

// Correlate marks a subscription as correlated with a message.
func (s *MessageSubscriptionState) Correlate(tx db.Tx, record protocol.MessageSubscriptionRecord) error {
	sub, ok, err := s.Get(tx, record.ElementInstanceKey, record.MessageName)
	if err != nil || !ok {
		return err
	}
	sub.MessageKey = record.MessageKey
	sub.Correlated = true
	return s.subscriptions.Upsert(tx, sub, db.LongKey(record.ElementInstanceKey), db.StringKey(record.MessageName))
}

// Delete removes a subscription.
func (s *MessageSubscriptionState) Delete(tx db.Tx, elementInstanceKey int64, messageName string) error {
	return s.subscriptions.Delete(tx, db.LongKey(elementInstanceKey), db.StringKey(messageName))
}
