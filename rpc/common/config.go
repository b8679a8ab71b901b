package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server util)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to the Dragonboat Config of a partition log
func (c *ServerConfig) ToDragonboatConfig(partitionID int32) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            uint64(partitionID),
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Transport configuration
// --------------------------------------------------------------------------

// SocketConf configures the socket buffers of stream transports
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf configures TCP specific socket options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ServerTransportConfig configures the server side of a transport
type ServerTransportConfig struct {
	// Endpoint is the address the server listens on
	Endpoint string
	// WorkersPerConn limits the requests handled concurrently per connection (tcp only)
	WorkersPerConn int
	// BufferSize is the size of the pooled read buffers (tcp only)
	BufferSize int

	SocketConf
	TCPConf
}

// ClientTransportConfig configures the client side of a transport
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int

	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// LogType selects the log storage of a partition
type LogType string

const (
	LogTypeMemory LogType = "memory"
	LogTypeRaft   LogType = "raft"
)

// StateType selects the database engine holding the state of a partition
type StateType string

const (
	StateTypeMaple StateType = "maple"
	StateTypeBolt  StateType = "bolt"
)

// ServerPartition is a partition hosted by the server
type ServerPartition struct {
	PartitionID int32
	Log         LogType
	State       StateType
}

// EngineConfig holds the parameters shared by all partitions of a server
type EngineConfig struct {
	MaxFragmentSize    int
	MaxInFlightAppends int
	MaxInFlightBytes   int64

	// redelivery of distributed commands
	RedistributionIntervalMs    int64
	RedistributionMaxIntervalMs int64

	AuthorizationEnabled bool
	AdminUsernames       []string
}

// ServerConfig holds all configuration parameters of a server.
type ServerConfig struct {
	// Partitions hosted by this server
	Partitions []ServerPartition
	// PartitionCount is the number of partitions of the whole cluster
	PartitionCount int32
	// Peers are the RPC endpoints of partitions hosted by other servers
	Peers map[int32]string

	Engine EngineConfig

	// Dragenboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// request timeout of clients and peers
	TimeoutSecond int64

	Transport ServerTransportConfig

	// Logging configuration
	LogLevel string
}

// HasRaftPartition checks if any partition log is replicated with raft
func (c *ServerConfig) HasRaftPartition() bool {
	for _, p := range c.Partitions {
		if p.Log == LogTypeRaft {
			return true
		}
	}
	return false
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Engine")
	addField("Partition Count", strconv.Itoa(int(c.PartitionCount)))
	addField("Max Fragment Size", strconv.Itoa(c.Engine.MaxFragmentSize))
	addField("In-Flight Appends", strconv.Itoa(c.Engine.MaxInFlightAppends))
	addField("In-Flight Bytes", strconv.FormatInt(c.Engine.MaxInFlightBytes, 10))
	addField("Redelivery Interval", fmt.Sprintf("%d ms (max %d ms)", c.Engine.RedistributionIntervalMs, c.Engine.RedistributionMaxIntervalMs))
	addField("Authorization", fmt.Sprintf("%t", c.Engine.AuthorizationEnabled))

	addSection("Partitions")
	for _, p := range c.Partitions {
		addField(strconv.Itoa(int(p.PartitionID)), fmt.Sprintf("log=%s state=%s", p.Log, p.State))
	}

	if len(c.Peers) > 0 {
		addSection("Peers")
		ids := make([]int, 0, len(c.Peers))
		for id := range c.Peers {
			ids = append(ids, int(id))
		}
		sort.Ints(ids)
		for _, id := range ids {
			addField(strconv.Itoa(id), c.Peers[int32(id)])
		}
	}

	if c.HasRaftPartition() {
		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

		addSection("Storage")
		addField("Data Directory", c.DataDir)

		addSection("Cluster")
		sb.WriteString("  Initial Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	TimeoutSecond int
	// Username is sent with every command for the authorization checks
	Username  string
	Transport ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Username", c.Username)
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
