package state

import (
	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/protocol"
)

// Distribution is a command this partition distributes to other partitions.
type Distribution struct {
	DistributionKey int64              `codec:"distributionKey"`
	QueueID         string             `codec:"queueId"`
	ValueType       protocol.ValueType `codec:"valueType"`
	Intent          protocol.Intent    `codec:"intent"`
	CommandValue    []byte             `codec:"commandValue"`
}

// DistributionState stores the distributions of the partition and the target
// partitions that have not acknowledged them yet.
type DistributionState struct {
	distributions *db.Table[Distribution]
	pending       *db.Table[int32]
}

func newDistributionState() *DistributionState {
	return &DistributionState{
		distributions: db.NewTable[Distribution](cfDistributions),
		pending:       db.NewTable[int32](cfPendingDistributions),
	}
}

// Get returns the distribution with the given key.
func (s *DistributionState) Get(tx db.ReadTx, distributionKey int64) (Distribution, bool, error) {
	return s.distributions.Get(tx, db.LongKey(distributionKey))
}

// Add stores a distribution.
func (s *DistributionState) Add(tx db.Tx, distributionKey int64, record protocol.CommandDistributionRecord) error {
	return s.distributions.Upsert(tx, Distribution{
		DistributionKey: distributionKey,
		QueueID:         record.QueueID,
		ValueType:       record.ValueType,
		Intent:          record.Intent,
		CommandValue:    record.CommandValue,
	}, db.LongKey(distributionKey))
}

// AddPending marks a target partition as not yet acknowledged.
func (s *DistributionState) AddPending(tx db.Tx, distributionKey int64, partitionID int32) error {
	return s.pending.Upsert(tx, partitionID, db.LongKey(distributionKey), db.IntKey(partitionID))
}

// RemovePending removes a target partition from the pending set.
func (s *DistributionState) RemovePending(tx db.Tx, distributionKey int64, partitionID int32) error {
	return s.pending.Delete(tx, db.LongKey(distributionKey), db.IntKey(partitionID))
}

// IsPending reports whether the target partition has not acknowledged the distribution.
func (s *DistributionState) IsPending(tx db.ReadTx, distributionKey int64, partitionID int32) bool {
	return s.pending.Exists(tx, db.LongKey(distributionKey), db.IntKey(partitionID))
}

// PendingPartitions returns the target partitions that have not acknowledged
// the distribution, in ascending order.
func (s *DistributionState) PendingPartitions(tx db.ReadTx, distributionKey int64) ([]int32, error) {
	var partitions []int32
	err := s.pending.ForEach(tx, func(_ []byte, partitionID int32) bool {
		partitions = append(partitions, partitionID)
		return true
	}, db.LongKey(distributionKey))
	return partitions, err
}

// Remove deletes a distribution and its pending set.
func (s *DistributionState) Remove(tx db.Tx, distributionKey int64) error {
	partitions, err := s.PendingPartitions(tx, distributionKey)
	if err != nil {
		return err
	}
	for _, p := range partitions {
		if err := s.RemovePending(tx, distributionKey, p); err != nil {
			return err
		}
	}
	return s.distributions.Delete(tx, db.LongKey(distributionKey))
}

// ForEachPending calls fn for every pending target of every distribution, in
// distribution key order, until fn returns false.
func (s *DistributionState) ForEachPending(tx db.ReadTx, fn func(d Distribution, partitionID int32) bool) error {
	var (
		stop    bool
		loopErr error
	)
	err := s.distributions.ForEach(tx, func(_ []byte, d Distribution) bool {
		partitions, err := s.PendingPartitions(tx, d.DistributionKey)
		if err != nil {
			loopErr = err
			return false
		}
		for _, p := range partitions {
			if !fn(d, p) {
				stop = true
				return false
			}
		}
		return !stop
	})
	if err != nil {
		return err
	}
	return loopErr
}
