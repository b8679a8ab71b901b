// Package rpc is the communication layer of dFlow. Clients submit commands to
// partitions through it and partitions use it to distribute commands to
// partitions hosted by other servers.
//
// The package is organized into several subpackages:
//
//   - common: The Message protocol, configuration structures and logging.
//
//   - transport: Network communication abstractions with pluggable
//     implementations (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization (Binary, JSON, GOB, Msgpack).
//
//   - client: The PartitionClient and the RemoteTransport used between servers.
//
//   - server: Hosts partitions and dispatches requests to them.
package rpc
