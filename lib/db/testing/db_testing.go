package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/dFlow/lib/db"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Rollback", func(t *testing.T) {
			testRollback(t, factory())
		})

		t.Run("ReadYourWrites", func(t *testing.T) {
			testReadYourWrites(t, factory())
		})

		t.Run("ForEachPrefix", func(t *testing.T) {
			testForEachPrefix(t, factory())
		})

		t.Run("Table", func(t *testing.T) {
			testTable(t, factory())
		})

		t.Run("DeterministicSave", func(t *testing.T) {
			testDeterministicSave(t, factory)
		})

		t.Run("ConcurrentViews", func(t *testing.T) {
			testConcurrentViews(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

func put(t testing.TB, database db.KVDB, key, value string) {
	t.Helper()
	if err := database.Update(func(tx db.Tx) error {
		return tx.Put([]byte(key), []byte(value))
	}); err != nil {
		t.Fatalf("Update(Put %q) error = %v", key, err)
	}
}

func get(t testing.TB, database db.KVDB, key string) (string, bool) {
	t.Helper()
	var (
		value string
		found bool
	)
	if err := database.View(func(tx db.ReadTx) error {
		v, ok := tx.Get([]byte(key))
		value, found = string(v), ok
		return nil
	}); err != nil {
		t.Fatalf("View(Get %q) error = %v", key, err)
	}
	return value, found
}

func keysWithPrefix(t testing.TB, database db.KVDB, prefix string) []string {
	t.Helper()
	var keys []string
	if err := database.View(func(tx db.ReadTx) error {
		return tx.ForEachPrefix([]byte(prefix), func(key, _ []byte) bool {
			keys = append(keys, string(key))
			return true
		})
	}); err != nil {
		t.Fatalf("View(ForEachPrefix %q) error = %v", prefix, err)
	}
	return keys
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, database db.KVDB) {
	requireFeature(t, database, db.FeatureGet|db.FeaturePut)
	defer database.Close()

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"simple", "key1", "value1"},
		{"binary key", "\x00\x01\xff", "value2"},
		{"large value", "key3", string(bytes.Repeat([]byte("x"), 64*1024))},
		{"overwrite", "key1", "value4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			put(t, database, tt.key, tt.value)
			got, ok := get(t, database, tt.key)
			if !ok || got != tt.value {
				t.Errorf("Get(%q) = %d bytes, %v, want %d bytes", tt.key, len(got), ok, len(tt.value))
			}
		})
	}

	if _, ok := get(t, database, "missing"); ok {
		t.Errorf("Get(missing) found a value")
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	requireFeature(t, database, db.FeatureDelete)
	defer database.Close()

	put(t, database, "key", "value")
	if err := database.Update(func(tx db.Tx) error {
		if err := tx.Delete([]byte("key")); err != nil {
			return err
		}
		// deleting a missing key is fine
		return tx.Delete([]byte("missing"))
	}); err != nil {
		t.Fatalf("Update(Delete) error = %v", err)
	}

	if _, ok := get(t, database, "key"); ok {
		t.Errorf("Get(key) after Delete found a value")
	}
}

func testRollback(t *testing.T, database db.KVDB) {
	defer database.Close()

	put(t, database, "kept", "v1")

	errAbort := errors.New("abort")
	err := database.Update(func(tx db.Tx) error {
		_ = tx.Put([]byte("kept"), []byte("v2"))
		_ = tx.Put([]byte("new"), []byte("v"))
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("Update() error = %v, want %v", err, errAbort)
	}

	if got, _ := get(t, database, "kept"); got != "v1" {
		t.Errorf("Get(kept) = %q, want %q", got, "v1")
	}
	if _, ok := get(t, database, "new"); ok {
		t.Errorf("Get(new) found a value of an aborted transaction")
	}
}

func testReadYourWrites(t *testing.T, database db.KVDB) {
	defer database.Close()

	put(t, database, "a/1", "old")
	put(t, database, "a/3", "three")

	err := database.Update(func(tx db.Tx) error {
		_ = tx.Put([]byte("a/1"), []byte("new"))
		_ = tx.Put([]byte("a/2"), []byte("two"))
		_ = tx.Delete([]byte("a/3"))

		if v, ok := tx.Get([]byte("a/1")); !ok || string(v) != "new" {
			t.Errorf("Get(a/1) in tx = %q, %v, want %q", v, ok, "new")
		}
		if _, ok := tx.Get([]byte("a/3")); ok {
			t.Errorf("Get(a/3) in tx found a deleted value")
		}

		var keys []string
		_ = tx.ForEachPrefix([]byte("a/"), func(key, _ []byte) bool {
			keys = append(keys, string(key))
			return true
		})
		if fmt.Sprint(keys) != "[a/1 a/2]" {
			t.Errorf("ForEachPrefix in tx = %v, want [a/1 a/2]", keys)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func testForEachPrefix(t *testing.T, database db.KVDB) {
	requireFeature(t, database, db.FeatureIterate)
	defer database.Close()

	for _, k := range []string{"b/2", "a/1", "b/10", "b/1", "c/1", "b"} {
		put(t, database, k, "v")
	}

	tests := []struct {
		prefix string
		want   string
	}{
		{"b/", "[b/1 b/10 b/2]"},
		{"b", "[b b/1 b/10 b/2]"},
		{"a/", "[a/1]"},
		{"d", "[]"},
		{"", "[a/1 b b/1 b/10 b/2 c/1]"},
	}
	for _, tt := range tests {
		if got := fmt.Sprint(keysWithPrefix(t, database, tt.prefix)); got != tt.want {
			t.Errorf("ForEachPrefix(%q) = %v, want %v", tt.prefix, got, tt.want)
		}
	}

	// stop early
	count := 0
	_ = database.View(func(tx db.ReadTx) error {
		return tx.ForEachPrefix([]byte("b/"), func(_, _ []byte) bool {
			count++
			return false
		})
	})
	if count != 1 {
		t.Errorf("ForEachPrefix visited %d entries after stop, want 1", count)
	}
}

type tableValue struct {
	Name  string `codec:"name"`
	Count int64  `codec:"count"`
}

func testTable(t *testing.T, database db.KVDB) {
	defer database.Close()

	const cfA, cfB db.ColumnFamily = 1, 2
	table := db.NewTable[tableValue](cfA)
	other := db.NewTable[tableValue](cfB)

	err := database.Update(func(tx db.Tx) error {
		for i := int64(1); i <= 3; i++ {
			if err := table.Upsert(tx, tableValue{Name: fmt.Sprint("v", i), Count: i}, db.LongKey(7), db.LongKey(i)); err != nil {
				return err
			}
		}
		if err := table.Upsert(tx, tableValue{Name: "other"}, db.LongKey(8), db.LongKey(1)); err != nil {
			return err
		}
		return other.Upsert(tx, tableValue{Name: "b"}, db.LongKey(7))
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	_ = database.View(func(tx db.ReadTx) error {
		v, ok, err := table.Get(tx, db.LongKey(7), db.LongKey(2))
		if err != nil || !ok || v.Count != 2 {
			t.Errorf("Get(7,2) = %v, %v, %v", v, ok, err)
		}

		var counts []int64
		err = table.ForEach(tx, func(key []byte, v tableValue) bool {
			k, _ := db.DecodeLong(key)
			if k != v.Count {
				t.Errorf("ForEach key %d does not match value %d", k, v.Count)
			}
			counts = append(counts, v.Count)
			return true
		}, db.LongKey(7))
		if err != nil || fmt.Sprint(counts) != "[1 2 3]" {
			t.Errorf("ForEach(7) = %v, %v, want [1 2 3]", counts, err)
		}

		if empty, _ := table.IsEmpty(tx, db.LongKey(9)); !empty {
			t.Errorf("IsEmpty(9) = false, want true")
		}
		return nil
	})

	// Update requires an existing key
	err = database.Update(func(tx db.Tx) error {
		return table.Update(tx, tableValue{}, db.LongKey(99))
	})
	if !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want %v", err, db.ErrNotFound)
	}

	// delete while iterating
	err = database.Update(func(tx db.Tx) error {
		return table.ForEach(tx, func(key []byte, _ tableValue) bool {
			_ = table.Delete(tx, db.LongKey(7), key)
			return true
		}, db.LongKey(7))
	})
	if err != nil {
		t.Fatalf("Update(delete all) error = %v", err)
	}
	_ = database.View(func(tx db.ReadTx) error {
		if empty, _ := table.IsEmpty(tx, db.LongKey(7)); !empty {
			t.Errorf("IsEmpty(7) after delete = false, want true")
		}
		if !other.Exists(tx, db.LongKey(7)) {
			t.Errorf("delete leaked into another column family")
		}
		return nil
	})
}

func testDeterministicSave(t *testing.T, factory DBFactory) {
	requireFeature(t, factory(), db.FeatureSave)

	first, second := factory(), factory()
	defer first.Close()
	defer second.Close()

	keys := []string{"c", "a", "b/2", "b/1", "d"}
	for _, k := range keys {
		put(t, first, k, "v-"+k)
	}
	for i := len(keys) - 1; i >= 0; i-- {
		put(t, second, keys[i], "tmp")
		put(t, second, keys[i], "v-"+keys[i])
	}

	var a, b bytes.Buffer
	if err := first.Save(&a); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := second.Save(&b); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Errorf("Save() of equal content differs")
	}
}

func testConcurrentViews(t *testing.T, database db.KVDB) {
	defer database.Close()

	// every update writes both keys, a view must never see them differ
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			v := []byte(fmt.Sprint(i))
			_ = database.Update(func(tx db.Tx) error {
				_ = tx.Put([]byte("x"), v)
				return tx.Put([]byte("y"), v)
			})
		}
	}()

	for i := 0; i < 200; i++ {
		_ = database.View(func(tx db.ReadTx) error {
			x, _ := tx.Get([]byte("x"))
			y, _ := tx.Get([]byte("y"))
			if !bytes.Equal(x, y) {
				t.Errorf("View saw a partial transaction: x=%q y=%q", x, y)
			}
			return nil
		})
	}
	wg.Wait()
}
