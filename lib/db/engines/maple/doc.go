// Package maple implements an in-memory key-value database (KVDB) with a focus
// on concurrent reads.
//
// Key Components:
//
//   - mapleImpl: The central database structure implementing db.KVDB. It manages
//     the shards and serializes write transactions.
//
//   - Shard: A partition of the database holding an xsync.MapOf. Keys are assigned
//     to shards by hashing their column family prefix with a database-specific seed,
//     so all entries of one column family live in the same shard and a prefix scan
//     only visits one map.
//
//   - mapleTx: A transaction. Writes are buffered in an overlay map and only reach
//     the shards when the Update function returns without error. Reads inside the
//     transaction consult the overlay first.
//
// Concurrency:
//
//   - Only one Update runs at a time. The commit of the overlay happens under an
//     exclusive lock that View holds in shared mode, so a View never observes a
//     partially committed transaction.
//
//   - Prefix iteration collects the matching keys and sorts them, which costs time
//     proportional to the size of the column family.
//
// Persistence Format: Save uses db.WriteSnapshot. The hash seed is not part of
// the snapshot, so equal content saves to equal bytes on every instance.
package maple
