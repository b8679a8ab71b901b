package maple

import (
	"testing"

	"github.com/ValentinKolb/dFlow/lib/db"
	dbtesting "github.com/ValentinKolb/dFlow/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB", func() db.KVDB {
		return NewMapleDB(nil)
	})
}

func TestSingleShard(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB(1 shard)", func() db.KVDB {
		return NewMapleDB(&DBOptions{NumShards: 1})
	})
}

func TestClosed(t *testing.T) {
	database := NewMapleDB(nil)
	_ = database.Close()
	if err := database.View(func(db.ReadTx) error { return nil }); err != db.ErrClosed {
		t.Errorf("View() after Close() error = %v, want %v", err, db.ErrClosed)
	}
	if err := database.Update(func(db.Tx) error { return nil }); err != db.ErrClosed {
		t.Errorf("Update() after Close() error = %v, want %v", err, db.ErrClosed)
	}
}

func Benchmark(t *testing.B) {
	dbtesting.RunKVDBBenchmarks(t, "MapleDB", func() db.KVDB {
		return NewMapleDB(nil)
	})
}
