package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/ValentinKolb/dFlow/lib/partition"
	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/ValentinKolb/dFlow/rpc/common"
	"github.com/ValentinKolb/dFlow/rpc/serializer"
	"github.com/ValentinKolb/dFlow/rpc/transport"
)

// RemoteTransport delivers records to partitions hosted by other servers.
// Connections are opened on first use, one per endpoint.
//
// Thread-safety: all methods are thread-safe.
type RemoteTransport struct {
	peers        map[int32]string
	config       common.ClientConfig
	newTransport func() transport.IRPCClientTransport
	serializer   serializer.IRPCSerializer

	mu      sync.Mutex
	clients map[string]*PartitionClient
}

// NewRemoteTransport creates a transport to the given peers. config provides
// the timeouts and socket options, its endpoints are ignored.
func NewRemoteTransport(
	peers map[int32]string,
	config common.ClientConfig,
	newTransport func() transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) *RemoteTransport {
	return &RemoteTransport{
		peers:        peers,
		config:       config,
		newTransport: newTransport,
		serializer:   serializer,
		clients:      make(map[string]*PartitionClient),
	}
}

var _ partition.Transport = (*RemoteTransport)(nil)

// Send implements partition.Transport.
func (r *RemoteTransport) Send(ctx context.Context, partitionID int32, record *protocol.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := r.client(partitionID)
	if err != nil {
		return err
	}
	return c.Deliver(partitionID, record)
}

// Close closes all connections
func (r *RemoteTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for endpoint, c := range r.clients {
		if err := c.Close(); err != nil {
			Logger.Warningf("failed to close the connection to %s: %v", endpoint, err)
		}
	}
	r.clients = make(map[string]*PartitionClient)
	return nil
}

func (r *RemoteTransport) client(partitionID int32) (*PartitionClient, error) {
	endpoint, ok := r.peers[partitionID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", partition.ErrUnknownPartition, partitionID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[endpoint]; ok {
		return c, nil
	}

	config := r.config
	config.Transport.Endpoints = []string{endpoint}
	c, err := NewPartitionClient(config, r.newTransport(), r.serializer)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to partition %d at %s: %w", partitionID, endpoint, err)
	}
	r.clients[endpoint] = c
	Logger.Infof("connected to partition %d at %s", partitionID, endpoint)
	return c, nil
}
