// Package common provides the data structures shared by the RPC clients and
// servers of dFlow.
//
// Key Components:
//
//   - Message: The single structure exchanged over every transport. Records
//     travel as key, position, serialized metadata and value. Factory methods
//     create the Submit, Deliver and Status requests and their responses.
//
//   - ServerConfig: The partitions of a server, its peers, the engine limits
//     and the raft parameters. It converts itself into the dragonboat node
//     host and shard configuration.
//
//   - ClientConfig: Endpoints, timeouts, retries and socket options of a client.
//
//   - Logger: A dragonboat logger.ILogger with consistent formatting. InitLoggers
//     installs it and sets the level of all components.
package common
