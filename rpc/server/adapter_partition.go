package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/partition"
	"github.com/ValentinKolb/dFlow/rpc/common"
)

// NewPartitionServerAdapter creates the adapter that maps the partition
// operations onto messages
func NewPartitionServerAdapter() IRPCServerAdapter {
	return &partitionServerAdapterImpl{}
}

type partitionServerAdapterImpl struct{}

func (adapter *partitionServerAdapterImpl) Handle(ctx context.Context, req *common.Message, p *partition.Partition) *common.Message {
	if p == nil {
		return common.NewErrorResponse("handler: partition is nil")
	}

	switch req.MsgType {
	case common.MsgTSubmit:
		command, err := req.Record()
		if err != nil {
			return common.NewSubmitResponse(nil, err)
		}
		return common.NewSubmitResponse(p.Submit(ctx, command))
	case common.MsgTDeliver:
		record, err := req.Record()
		if err != nil {
			return common.NewDeliverResponse(err)
		}
		return common.NewDeliverResponse(p.Receive(ctx, record))
	case common.MsgTStatus:
		return common.NewStatusResponse(partitionStatus(p), p.Err())
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC PartitionAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}

// partitionStatus reports the flow control and the state database of p.
// GetInfo of the in-memory database counts every entry, so a status request
// costs time proportional to the size of the state.
func partitionStatus(p *partition.Partition) common.PartitionStatus {
	stats := p.FlowControl()
	database := p.State().DB()
	info := database.GetInfo()

	features := make([]string, len(info.SupportedFeatures))
	for i, f := range info.SupportedFeatures {
		features[i] = f.String()
	}

	return common.PartitionStatus{
		PartitionID:       p.ID(),
		Leader:            p.IsLeader(),
		InFlightAppends:   stats.InFlight,
		InFlightBytes:     stats.InFlightBytes,
		RejectedAppends:   stats.Rejected,
		CommittedAppends:  stats.Committed,
		CommitLatencyMean: stats.CommitLatencyMean.String(),
		StateType:         string(info.DbType),
		StatePersistent:   database.SupportsFeature(db.FeaturePersistent),
		StateEntries:      info.Entries,
		StateSizeBytes:    info.SizeBytes,
		StateFeatures:     features,
		StateMetadata:     info.Metadata,
	}
}
