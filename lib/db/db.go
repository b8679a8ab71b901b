package db

import (
	"errors"
	"io"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
	ImplBolt  Implementation = "bolt"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureGet        Feature = 1 << iota // Support for point reads
	FeaturePut                            // Support for writes
	FeatureDelete                         // Support for deletes
	FeatureIterate                        // Support for ordered prefix iteration
	FeatureSave                           // Support for Save operations
	FeaturePersistent                     // Data survives a restart of the process
)

func (f Feature) String() string {
	switch f {
	case FeatureGet:
		return "Get"
	case FeaturePut:
		return "Put"
	case FeatureDelete:
		return "Delete"
	case FeatureIterate:
		return "Iterate"
	case FeatureSave:
		return "Save"
	case FeaturePersistent:
		return "Persistent"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	Entries           int            `json:"entries"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// ErrClosed is returned by transactions on a closed database.
var ErrClosed = errors.New("db: database is closed")

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// ReadTx is a consistent view of the database.
// Slices returned by a transaction are only valid until the transaction ends.
type ReadTx interface {

	// Get retrieves the value for an exact key.
	Get(key []byte) (value []byte, loaded bool)

	// ForEachPrefix calls fn for every entry whose key starts with prefix,
	// in ascending key order, until fn returns false.
	// The database must not be modified from within fn.
	ForEachPrefix(prefix []byte, fn func(key, value []byte) bool) error
}

// Tx is a read-write transaction. A transaction observes its own writes.
type Tx interface {
	ReadTx

	// Put inserts or overwrites the value of key.
	Put(key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key []byte) error
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for ordered, transactional key-value databases.
// All writes happen inside Update, which applies either every write of the
// transaction or none of them.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Transactions
	// --------------------------------------------------------------------------

	// View runs fn in a read-only transaction.
	View(fn func(tx ReadTx) error) (err error)

	// Update runs fn in a read-write transaction. If fn returns an error, all
	// writes of the transaction are discarded and the error is returned.
	// Only one Update runs at a time.
	Update(fn func(tx Tx) error) (err error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save writes the content of the database to w. The output only depends on
	// the stored keys and values, two databases with equal content produce
	// byte-identical output, independent of the implementation.
	Save(w io.Writer) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close closes the database.
	Close() (err error)
}
