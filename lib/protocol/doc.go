// Package protocol defines the records written to a partition log.
//
// A record is split in three parts:
//
//   - the key: the stable numeric key of the entity the record is about. Keys carry
//     the id of the partition that generated them in the upper PartitionBits bits.
//   - the metadata: record type, value type, intent, rejection and the request
//     information needed to route a response back to a client. Metadata uses a
//     small hand written big endian format so the log layer can peek at the types
//     without decoding the value.
//   - the value: one of the *Record structs of this package encoded with msgpack.
//
// Handlers are always selected by the (ValueType, Intent) pair. Intents are shared
// between value types, e.g. IntentCreate is used for roles, users and tenants.
package protocol
