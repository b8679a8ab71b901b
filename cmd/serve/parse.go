package serve

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dFlow/lib/db/util"
	"github.com/ValentinKolb/dFlow/rpc/common"
)

// parsePartitions parses a list like "1=memory:maple,2=raft:bolt". The state
// type may be omitted ("1=memory"), it defaults to maple.
func parsePartitions(value string) ([]common.ServerPartition, error) {
	var partitions []common.ServerPartition
	seen := make(map[int32]bool)

	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, spec, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid partition format: %s (expected ID=LOG[:STATE])", entry)
		}
		partitionID, err := parsePartitionID(id)
		if err != nil {
			return nil, err
		}
		if seen[partitionID] {
			return nil, fmt.Errorf("partition %d is configured twice", partitionID)
		}
		seen[partitionID] = true

		logType, stateType, _ := strings.Cut(strings.TrimSpace(spec), ":")
		p := common.ServerPartition{
			PartitionID: partitionID,
			Log:         common.LogType(logType),
			State:       common.StateType(stateType),
		}
		switch p.Log {
		case common.LogTypeMemory, common.LogTypeRaft:
		default:
			return nil, fmt.Errorf("invalid log type: %s (expected one of: memory, raft)", logType)
		}
		switch p.State {
		case "":
			p.State = common.StateTypeMaple
		case common.StateTypeMaple, common.StateTypeBolt:
		default:
			return nil, fmt.Errorf("invalid state type: %s (expected one of: maple, bolt)", stateType)
		}
		partitions = append(partitions, p)
	}

	if len(partitions) == 0 {
		return nil, fmt.Errorf("at least one partition is required")
	}
	return partitions, nil
}

// parsePeers parses a list like "2=host:8080,3=host:8081"
func parsePeers(value string) (map[int32]string, error) {
	peers := make(map[int32]string)
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, endpoint, ok := strings.Cut(entry, "=")
		if !ok || endpoint == "" {
			return nil, fmt.Errorf("invalid peer format: %s (expected ID=ENDPOINT)", entry)
		}
		partitionID, err := parsePartitionID(id)
		if err != nil {
			return nil, err
		}
		peers[partitionID] = strings.TrimSpace(endpoint)
	}
	return peers, nil
}

// parseClusterMembers parses "node-1=localhost:63001,..." into raft addresses
// keyed by the hashed node name
func parseClusterMembers(value string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	for _, member := range strings.Split(value, ",") {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}
		name, address, ok := strings.Cut(member, "=")
		if !ok {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		members[replicaID(name)] = address
	}
	return members, nil
}

// parseList splits a comma separated list and drops empty entries
func parseList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parsePartitionID(value string) (int32, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid partition ID %s: %v", value, err)
	}
	if id < 1 {
		return 0, fmt.Errorf("invalid partition ID %d: partition IDs start at 1", id)
	}
	return int32(id), nil
}

func replicaID(name string) uint64 {
	return uint64(util.HashString(strings.TrimSpace(name), 0))
}
