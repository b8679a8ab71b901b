package maple

import (
	"bytes"
	"io"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/dFlow/lib/db/util"
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl is an in-memory database. Entries are spread over shards by the
// column family prefix of their key, so a prefix scan only touches one shard.
type mapleImpl struct {
	numShards int               // Number of shards
	seed      uint64            // Seed for hash function
	shards    []*internal.Shard // Array of shards
	closed    atomic.Bool

	// writeMu serializes Update calls, commitMu makes a commit atomic for readers
	writeMu  sync.Mutex
	commitMu sync.RWMutex
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards int // Number of shards (0 = auto)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards: runtime.NumCPU(), // Auto-determine based on CPU count
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
func NewMapleDB(opts *DBOptions) db.KVDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}

	shards := make([]*internal.Shard, opts.NumShards)
	for i := 0; i < opts.NumShards; i++ {
		shards[i] = internal.NewShard()
	}

	return &mapleImpl{
		numShards: opts.NumShards,
		seed:      util.GenerateSeed(),
		shards:    shards,
	}
}

// shardFor returns the shard of a key, chosen by its column family prefix.
func (maple *mapleImpl) shardFor(key string) *internal.Shard {
	if len(key) > db.ColumnFamilyPrefixLength {
		key = key[:db.ColumnFamilyPrefixLength]
	}
	return internal.GetShard(util.HashString(key, maple.seed), maple.shards)
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

func (maple *mapleImpl) View(fn func(tx db.ReadTx) error) error {
	if maple.closed.Load() {
		return db.ErrClosed
	}
	maple.commitMu.RLock()
	defer maple.commitMu.RUnlock()
	return fn(&mapleTx{db: maple})
}

func (maple *mapleImpl) Update(fn func(tx db.Tx) error) error {
	if maple.closed.Load() {
		return db.ErrClosed
	}
	maple.writeMu.Lock()
	defer maple.writeMu.Unlock()

	tx := &mapleTx{db: maple, writes: make(map[string]internal.Write)}
	if err := fn(tx); err != nil {
		return err
	}

	// commit the buffered writes
	maple.commitMu.Lock()
	defer maple.commitMu.Unlock()
	for key, w := range tx.writes {
		shard := maple.shardFor(key)
		switch w.Type {
		case internal.WriteTPut:
			shard.Data.Store(key, w.Value)
		case internal.WriteTDelete:
			shard.Data.Delete(key)
		}
	}
	return nil
}

// mapleTx reads committed entries through an overlay of its own buffered writes.
// A read transaction has no overlay.
type mapleTx struct {
	db     *mapleImpl
	writes map[string]internal.Write
}

func (tx *mapleTx) Get(key []byte) ([]byte, bool) {
	k := string(key)
	if w, ok := tx.writes[k]; ok {
		return w.Value, w.Type == internal.WriteTPut
	}
	return tx.db.shardFor(k).Data.Load(k)
}

func (tx *mapleTx) ForEachPrefix(prefix []byte, fn func(key, value []byte) bool) error {
	p := string(prefix)

	var keys []string
	if len(p) >= db.ColumnFamilyPrefixLength {
		keys = tx.db.shardFor(p).SortedKeys(p)
	} else {
		for _, shard := range tx.db.shards {
			keys = append(keys, shard.SortedKeys(p)...)
		}
	}

	// merge the keys written in this transaction
	if len(tx.writes) > 0 {
		seen := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			seen[k] = struct{}{}
		}
		for k, w := range tx.writes {
			if _, ok := seen[k]; !ok && w.Type == internal.WriteTPut && strings.HasPrefix(k, p) {
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		value, ok := tx.Get([]byte(k))
		if !ok {
			continue
		}
		if !fn([]byte(k), value) {
			return nil
		}
	}
	return nil
}

func (tx *mapleTx) Put(key, value []byte) error {
	tx.writes[string(key)] = internal.Write{Type: internal.WriteTPut, Value: bytes.Clone(value)}
	return nil
}

func (tx *mapleTx) Delete(key []byte) error {
	tx.writes[string(key)] = internal.Write{Type: internal.WriteTDelete}
	return nil
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes all entries in key order.
func (maple *mapleImpl) Save(w io.Writer) error {
	maple.commitMu.RLock()
	defer maple.commitMu.RUnlock()

	var keys []string
	for _, shard := range maple.shards {
		keys = append(keys, shard.SortedKeys("")...)
	}
	sort.Strings(keys)

	return db.WriteSnapshot(w, len(keys), func(emit func(key, value []byte) error) error {
		for _, k := range keys {
			value, _ := maple.shardFor(k).Data.Load(k)
			if err := emit([]byte(k), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// --------------------------------------------------------------------------
// Feature Support
// --------------------------------------------------------------------------

func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureGet | db.FeaturePut | db.FeatureDelete | db.FeatureIterate | db.FeatureSave
	return (supportedFeatures & feature) == feature
}

// GetInfo counts all entries, which takes time proportional to the size of the database.
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	maple.commitMu.RLock()
	defer maple.commitMu.RUnlock()

	var (
		entries    int
		sizeBytes  int
		shardSizes = make([]float64, maple.numShards)
		histogram  = util.NewSizeHistogram()
	)
	for i, shard := range maple.shards {
		shard.Data.Range(func(key string, value []byte) bool {
			entries++
			sizeBytes += len(key) + len(value)
			histogram.AddSample(len(value))
			return true
		})
		shardSizes[i] = float64(shard.Data.Size())
	}

	boundaries, distribution := histogram.SizeDistribution()

	return db.DatabaseInfo{
		SizeBytes: sizeBytes,
		Entries:   entries,
		DbType:    db.ImplMaple,
		SupportedFeatures: []db.Feature{
			db.FeatureGet, db.FeaturePut, db.FeatureDelete, db.FeatureIterate, db.FeatureSave,
		},
		Metadata: map[string]interface{}{
			"shards":             maple.numShards,
			"shard_distribution": util.NewDistributionStats(shardSizes),
			"value_size_median":  histogram.MedianEstimate(),
			"value_size_p99":     histogram.GetPercentileEstimate(99),
			"size_boundaries":    boundaries,
			"size_distribution":  distribution,
		},
	}
}

func (maple *mapleImpl) Close() error {
	maple.closed.Store(true)
	return nil
}
