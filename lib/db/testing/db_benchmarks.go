package testing

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ValentinKolb/dFlow/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Put", func(b *testing.B) {
		benchmarkPut(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("TableUpsert", func(b *testing.B) {
		benchmarkTableUpsert(b, factory())
	})

	b.Run("ForEachPrefix", func(b *testing.B) {
		benchmarkForEachPrefix(b, factory())
	})

	b.Run("Save", func(b *testing.B) {
		benchmarkSave(b, factory())
	})
}

func benchmarkPut(b *testing.B, database db.KVDB) {
	defer database.Close()
	value := []byte("benchmark-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := db.LongKey(int64(i))
		_ = database.Update(func(tx db.Tx) error {
			return tx.Put(key, value)
		})
	}
}

func benchmarkGet(b *testing.B, database db.KVDB) {
	defer database.Close()
	_ = database.Update(func(tx db.Tx) error {
		for i := 0; i < 1000; i++ {
			_ = tx.Put(db.LongKey(int64(i)), []byte("value"))
		}
		return nil
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := db.LongKey(int64(i % 1000))
		_ = database.View(func(tx db.ReadTx) error {
			_, _ = tx.Get(key)
			return nil
		})
	}
}

func benchmarkTableUpsert(b *testing.B, database db.KVDB) {
	defer database.Close()
	table := db.NewTable[tableValue](1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = database.Update(func(tx db.Tx) error {
			return table.Upsert(tx, tableValue{Name: "bench", Count: int64(i)}, db.LongKey(int64(i)))
		})
	}
}

func benchmarkForEachPrefix(b *testing.B, database db.KVDB) {
	defer database.Close()
	table := db.NewTable[tableValue](1)
	_ = database.Update(func(tx db.Tx) error {
		for owner := int64(0); owner < 100; owner++ {
			for i := int64(0); i < 10; i++ {
				_ = table.Upsert(tx, tableValue{Count: i}, db.LongKey(owner), db.LongKey(i))
			}
		}
		return nil
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = database.View(func(tx db.ReadTx) error {
			return table.ForEach(tx, func(_ []byte, _ tableValue) bool { return true }, db.LongKey(int64(i%100)))
		})
	}
}

func benchmarkSave(b *testing.B, database db.KVDB) {
	defer database.Close()
	_ = database.Update(func(tx db.Tx) error {
		for i := 0; i < 10000; i++ {
			_ = tx.Put([]byte(fmt.Sprintf("key-%d", i)), []byte("value"))
		}
		return nil
	})

	var snapshot bytes.Buffer
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		snapshot.Reset()
		_ = database.Save(&snapshot)
	}
}
