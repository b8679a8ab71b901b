package server

import (
	"context"

	"github.com/ValentinKolb/dFlow/lib/partition"
	"github.com/ValentinKolb/dFlow/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request for a partition and returns a response
	// If an error occurs, it should be set in the response
	Handle(ctx context.Context, req *common.Message, p *partition.Partition) (resp *common.Message)
}
