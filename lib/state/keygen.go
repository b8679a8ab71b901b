package state

import (
	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/protocol"
)

var keyCounter = db.StringKey("key")

// KeyGenerator hands out the keys of new entities. A key carries the id of the
// partition that generated it in its upper bits, so keys are unique across
// partitions without coordination.
//
// The generator is owned by the processing goroutine of its partition and is
// not safe for concurrent use.
type KeyGenerator struct {
	partitionID int32
	counter     int64
	persisted   *db.Table[int64]
}

func newKeyGenerator(partitionID int32) *KeyGenerator {
	return &KeyGenerator{
		partitionID: partitionID,
		persisted:   db.NewTable[int64](cfKeyGenerator),
	}
}

// NextKey returns a new key. The key is only persisted once an event carrying
// it is applied, so keys of commands that never produced an event may be reused
// after a restart.
func (g *KeyGenerator) NextKey() int64 {
	g.counter++
	return protocol.EncodePartitionID(g.partitionID, g.counter)
}

// Checkpoint returns the state of the generator before the next key is drawn.
func (g *KeyGenerator) Checkpoint() int64 {
	return g.counter
}

// Rollback releases every key drawn since checkpoint was taken. It must only
// be called together with a rollback of the transaction the keys were used in.
func (g *KeyGenerator) Rollback(checkpoint int64) {
	if checkpoint < g.counter {
		g.counter = checkpoint
	}
}

// CurrentKey returns the last key handed out.
func (g *KeyGenerator) CurrentKey() int64 {
	return protocol.EncodePartitionID(g.partitionID, g.counter)
}

// SetKeyIfHigher persists key as the highest key in use if it was generated
// by this partition and is higher than the persisted one.
func (g *KeyGenerator) SetKeyIfHigher(tx db.Tx, key int64) error {
	if key <= 0 || protocol.DecodePartitionID(key) != g.partitionID {
		return nil
	}

	counter := key - protocol.EncodePartitionID(g.partitionID, 0)
	current, _, err := g.persisted.Get(tx, keyCounter)
	if err != nil {
		return err
	}
	if counter > g.counter {
		g.counter = counter
	}
	if counter <= current {
		return nil
	}
	return g.persisted.Upsert(tx, counter, keyCounter)
}

func (g *KeyGenerator) restore(tx db.ReadTx) error {
	counter, _, err := g.persisted.Get(tx, keyCounter)
	if err != nil {
		return err
	}
	g.counter = counter
	return nil
}
