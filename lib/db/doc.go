// Package db provides a standardized interface for the ordered, transactional
// key-value stores that hold the state of a partition.
//
// Key Components:
//
//   - KVDB Interface: The core interface that all database implementations must satisfy.
//     Reads run in View, writes run in Update. An Update either applies all of its
//     writes or none of them, and a transaction observes its own writes.
//
//   - Column Families: Logical tables inside one KVDB. Every key starts with the two
//     byte id of its ColumnFamily, followed by encoded key parts (LongKey, IntKey,
//     StringKey). Table[V] is a typed view on a column family with msgpack encoded values.
//
//   - Snapshots: Save writes all entries in key order using WriteSnapshot. The format
//     only depends on the stored keys and values, so two databases that applied the
//     same records produce byte-identical snapshots, regardless of the implementation.
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method.
//
//   - Database Information: DatabaseInfo reports entry count, size and
//     implementation-specific metadata.
//
// Related Packages:
//
// The engines/maple package provides a sharded in-memory implementation built on
// xsync maps. The engines/bolt package provides a persistent implementation built on bbolt.
//
// The util package provides complementary tools: SizeHistogram and distribution
// statistics for GetInfo, MapHeap and LockFreeMPSC for schedulers outside the database.
//
// The testing package provides a standard test suite (RunKVDBTests) and benchmarks
// (RunKVDBBenchmarks) for implementations of KVDB.
package db
