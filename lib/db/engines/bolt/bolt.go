// Package bolt implements the db.KVDB interface on top of bbolt, a
// persistent B+tree store. All entries live in one bucket, so the bucket
// cursor yields every column family in key order.
package bolt

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/ValentinKolb/dFlow/lib/db"
	"go.etcd.io/bbolt"
)

var stateBucket = []byte("state")

// boltImpl is a KVDB stored in a single bbolt file
type boltImpl struct {
	db   *bbolt.DB
	path string
}

// NewBoltDB opens (or creates) the database file at path.
func NewBoltDB(path string) (db.KVDB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	bdb, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	if err := bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("create state bucket: %w", err)
	}

	return &boltImpl{db: bdb, path: cleanPath}, nil
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

func (b *boltImpl) View(fn func(tx db.ReadTx) error) error {
	err := b.db.View(func(tx *bbolt.Tx) error {
		return fn(&boltTx{bucket: tx.Bucket(stateBucket)})
	})
	return mapErr(err)
}

func (b *boltImpl) Update(fn func(tx db.Tx) error) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltTx{bucket: tx.Bucket(stateBucket)})
	})
	return mapErr(err)
}

func mapErr(err error) error {
	if err == bbolt.ErrDatabaseNotOpen {
		return db.ErrClosed
	}
	return err
}

type boltTx struct {
	bucket *bbolt.Bucket
}

func (tx *boltTx) Get(key []byte) ([]byte, bool) {
	value := tx.bucket.Get(key)
	return value, value != nil
}

func (tx *boltTx) ForEachPrefix(prefix []byte, fn func(key, value []byte) bool) error {
	c := tx.bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if !fn(k, v) {
			return nil
		}
	}
	return nil
}

func (tx *boltTx) Put(key, value []byte) error {
	return tx.bucket.Put(key, value)
}

func (tx *boltTx) Delete(key []byte) error {
	return tx.bucket.Delete(key)
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

func (b *boltImpl) Save(w io.Writer) error {
	return mapErr(b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(stateBucket)
		count := bucket.Stats().KeyN
		return db.WriteSnapshot(w, count, func(emit func(key, value []byte) error) error {
			return bucket.ForEach(emit)
		})
	}))
}

// --------------------------------------------------------------------------
// Feature Support
// --------------------------------------------------------------------------

func (b *boltImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureGet | db.FeaturePut | db.FeatureDelete | db.FeatureIterate | db.FeatureSave | db.FeaturePersistent
	return (supportedFeatures & feature) == feature
}

func (b *boltImpl) GetInfo() db.DatabaseInfo {
	info := db.DatabaseInfo{
		DbType: db.ImplBolt,
		SupportedFeatures: []db.Feature{
			db.FeatureGet, db.FeaturePut, db.FeatureDelete, db.FeatureIterate, db.FeatureSave, db.FeaturePersistent,
		},
	}
	_ = b.db.View(func(tx *bbolt.Tx) error {
		stats := tx.Bucket(stateBucket).Stats()
		info.Entries = stats.KeyN
		info.SizeBytes = int(tx.Size())
		info.Metadata = map[string]interface{}{
			"path":        b.path,
			"depth":       stats.Depth,
			"leaf_pages":  stats.LeafPageN,
			"leaf_in_use": stats.LeafInuse,
		}
		return nil
	})
	return info
}

func (b *boltImpl) Close() error {
	return b.db.Close()
}
