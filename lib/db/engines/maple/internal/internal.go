package internal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ValentinKolb/dFlow/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Write Types are used to buffer changes of a transaction
// --------------------------------------------------------------------------

type WriteType int

const (
	WriteTPut WriteType = iota
	WriteTDelete
)

func (w WriteType) String() string {
	switch w {
	case WriteTPut:
		return "Put"
	case WriteTDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// Write is a buffered change of a transaction
type Write struct {
	Type  WriteType
	Value []byte
}

func (w Write) String() string {
	return fmt.Sprintf("Write{Type: %s, Len: %d}", w.Type, len(w.Value))
}

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// Shard holds the entries of all column families whose prefix hashes to it.
type Shard struct {
	Data *xsync.MapOf[string, []byte]
}

// NewShard creates an empty shard
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, []byte](),
	}
}

// SortedKeys returns all keys of the shard starting with prefix in ascending order.
func (s *Shard) SortedKeys(prefix string) []string {
	var keys []string
	s.Data.Range(func(key string, _ []byte) bool {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})
	sort.Strings(keys)
	return keys
}

// GetShard returns the appropriate shard for a given hash
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key util.UintKey, shards []*T) *T {
	// Shift right by 7 bits to use higher-quality bits for distribution
	shiftedKey := uint64(key) >> 7
	shardPos := shiftedKey % uint64(len(shards))
	return shards[shardPos]
}
