package client

import (
	"fmt"

	"github.com/ValentinKolb/dFlow/rpc/common"
	"github.com/ValentinKolb/dFlow/rpc/serializer"
	"github.com/ValentinKolb/dFlow/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter stores all data needed by an RPC client
// Used by the PartitionClient and the RemoteTransport with composition pattern
type rpcClientAdapter struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invoke sends a request to a partition and returns the response. Error
// responses and responses of an unexpected type are returned as errors.
func (a *rpcClientAdapter) invoke(partitionID int32, req *common.Message) (*common.Message, error) {
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	respBytes, err := a.transport.Send(partitionID, reqBytes)
	if err != nil {
		return nil, err
	}

	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("RPC partition %d - invalid response: %w", partitionID, err)
	}

	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return nil, fmt.Errorf("RPC partition %d - Error: %s", partitionID, resp.Err)
	}
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("RPC partition %d - Unexpected message type: %s, expected %s", partitionID, resp.MsgType, req.MsgType)
	}
	return resp, nil
}
