// Package server hosts the partitions of a dFlow node and serves them over a
// transport.
//
// Init opens the log and state of every configured partition, starts it and
// waits until its log is replayed. The partitions are registered at a router,
// records for partitions of other servers are forwarded over a RemoteTransport
// to the configured peers. Raft logs share one dragonboat NodeHost.
//
// Requests are dispatched by the IRPCServerAdapter:
//
//   - Submit: writes a command to the partition and waits for its follow-up
//     event or rejection.
//   - Deliver: hands a distributed command or an acknowledgement to the partition.
//   - Status: leadership and flow control state of the partition.
//
// Example:
//
//	config := common.ServerConfig{
//		Partitions: []common.ServerPartition{
//			{PartitionID: 1, Log: common.LogTypeMemory, State: common.StateTypeMaple},
//			{PartitionID: 2, Log: common.LogTypeMemory, State: common.StateTypeMaple},
//		},
//		PartitionCount: 2,
//		TimeoutSecond:  5,
//		Transport:      common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPDefaultServerTransport(), tcp.NewTCPClientTransport, serializer.NewBinarySerializer(), nil)
//	if err := s.Serve(); err != nil {
//		log.Fatalf("server error: %v", err)
//	}
package server
