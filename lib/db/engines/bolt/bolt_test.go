package bolt

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/db/engines/maple"
	dbtesting "github.com/ValentinKolb/dFlow/lib/db/testing"
)

func factory(t testing.TB) dbtesting.DBFactory {
	dir := t.TempDir()
	var n atomic.Int64
	return func() db.KVDB {
		database, err := NewBoltDB(filepath.Join(dir, fmt.Sprintf("state-%d.db", n.Add(1))))
		if err != nil {
			t.Fatalf("NewBoltDB() error = %v", err)
		}
		return database
	}
}

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "BoltDB", factory(t))
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	database, err := NewBoltDB(path)
	if err != nil {
		t.Fatalf("NewBoltDB() error = %v", err)
	}
	if err := database.Update(func(tx db.Tx) error {
		return tx.Put([]byte("key"), []byte("value"))
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewBoltDB(path)
	if err != nil {
		t.Fatalf("NewBoltDB() reopen error = %v", err)
	}
	defer reopened.Close()

	_ = reopened.View(func(tx db.ReadTx) error {
		if v, ok := tx.Get([]byte("key")); !ok || string(v) != "value" {
			t.Errorf("Get(key) after reopen = %q, %v", v, ok)
		}
		return nil
	})
}

func TestNewBoltDBRequiresPath(t *testing.T) {
	if _, err := NewBoltDB("  "); err == nil {
		t.Errorf("NewBoltDB(blank) succeeded")
	}
}

// A snapshot must not depend on the engine that wrote it.
func TestSaveMatchesMaple(t *testing.T) {
	boltDB := factory(t)()
	defer boltDB.Close()
	mapleDB := maple.NewMapleDB(nil)
	defer mapleDB.Close()

	for _, database := range []db.KVDB{boltDB, mapleDB} {
		if err := database.Update(func(tx db.Tx) error {
			for i := 0; i < 50; i++ {
				if err := tx.Put(db.ColumnFamily(i%5).Prefix(db.LongKey(int64(i))), []byte(fmt.Sprint("v", i))); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}

	var fromBolt, fromMaple bytes.Buffer
	if err := boltDB.Save(&fromBolt); err != nil {
		t.Fatalf("bolt Save() error = %v", err)
	}
	if err := mapleDB.Save(&fromMaple); err != nil {
		t.Fatalf("maple Save() error = %v", err)
	}
	if !bytes.Equal(fromBolt.Bytes(), fromMaple.Bytes()) {
		t.Errorf("bolt and maple snapshots differ")
	}
	if a, b := boltDB.GetInfo().Entries, mapleDB.GetInfo().Entries; a != 50 || b != 50 {
		t.Errorf("GetInfo().Entries = %d (bolt), %d (maple), want 50", a, b)
	}
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "BoltDB", factory(b))
}
