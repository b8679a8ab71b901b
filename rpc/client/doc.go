// Package client implements the RPC clients of dFlow.
//
// PartitionClient submits commands to a partition and returns the follow-up
// event. Rejections are returned as a *protocol.Rejection error. Typed helpers
// exist for the identity and message subscription commands:
//
//	c, err := client.NewPartitionClient(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	roleKey, err := c.CreateRole(1, "admins")
//	var rejection *protocol.Rejection
//	if errors.As(err, &rejection) && rejection.Type == protocol.RejectionTAlreadyExists {
//		...
//	}
//
// RemoteTransport implements partition.Transport on top of PartitionClient. A
// server uses it to deliver distributed commands and acknowledgements to
// partitions hosted by its peers.
//
// All clients are thread-safe.
package client
