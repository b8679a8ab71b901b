// Package state holds the keyed entity state of one partition. The state is
// stored in column families of a db.KVDB and only changes inside the
// transactions the appliers of the engine run; processors read it through
// read transactions.
package state

import (
	"fmt"

	"github.com/ValentinKolb/dFlow/lib/db"
)

// column families of the partition state, the ids are part of the persisted format
const (
	cfMeta db.ColumnFamily = iota + 1
	cfKeyGenerator
	cfRoles
	cfRoleByName
	cfRoleEntities
	cfUsers
	cfUserByUsername
	cfAuthorizations
	cfAuthorizationsByOwner
	cfTenants
	cfTenantByID
	cfTenantEntities
	cfMessageSubscriptions
	cfDistributions
	cfPendingDistributions
)

var keyLastProcessedPosition = db.StringKey("lastProcessedPosition")

// State bundles the entity states of a partition.
type State struct {
	partitionID int32
	database    db.KVDB

	Keys                 *KeyGenerator
	Roles                *RoleState
	Users                *UserState
	Authorizations       *AuthorizationState
	Tenants              *TenantState
	MessageSubscriptions *MessageSubscriptionState
	Distributions        *DistributionState

	meta *db.Table[int64]
}

// New creates the state of a partition on top of database and restores the
// key generator from it.
func New(partitionID int32, database db.KVDB) (*State, error) {
	s := &State{
		partitionID:          partitionID,
		database:             database,
		Keys:                 newKeyGenerator(partitionID),
		Roles:                newRoleState(),
		Users:                newUserState(),
		Authorizations:       newAuthorizationState(),
		Tenants:              newTenantState(),
		MessageSubscriptions: newMessageSubscriptionState(),
		Distributions:        newDistributionState(),
		meta:                 db.NewTable[int64](cfMeta),
	}

	if err := database.View(s.Keys.restore); err != nil {
		return nil, fmt.Errorf("failed to restore key generator of partition %d: %w", partitionID, err)
	}
	return s, nil
}

// PartitionID returns the id of the partition owning the state.
func (s *State) PartitionID() int32 {
	return s.partitionID
}

// DB returns the underlying database.
func (s *State) DB() db.KVDB {
	return s.database
}

// View runs fn in a read transaction.
func (s *State) View(fn func(tx db.ReadTx) error) error {
	return s.database.View(fn)
}

// Update runs fn in a write transaction.
func (s *State) Update(fn func(tx db.Tx) error) error {
	return s.database.Update(fn)
}

// LastProcessedPosition returns the position of the last command whose
// follow-up records were applied, 0 if none.
func (s *State) LastProcessedPosition(tx db.ReadTx) (int64, error) {
	position, _, err := s.meta.Get(tx, keyLastProcessedPosition)
	return position, err
}

// MarkProcessed raises the last processed position to position. Lower
// positions are ignored.
func (s *State) MarkProcessed(tx db.Tx, position int64) error {
	current, err := s.LastProcessedPosition(tx)
	if err != nil {
		return err
	}
	if position <= current {
		return nil
	}
	return s.meta.Upsert(tx, position, keyLastProcessedPosition)
}
