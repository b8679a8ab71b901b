package serve

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dFlow/cmd/util"
	"github.com/ValentinKolb/dFlow/rpc/common"
	"github.com/ValentinKolb/dFlow/rpc/server"
	"github.com/ValentinKolb/dFlow/rpc/transport"
	"github.com/ValentinKolb/dFlow/rpc/transport/http"
	"github.com/ValentinKolb/dFlow/rpc/transport/tcp"
	"github.com/ValentinKolb/dFlow/rpc/transport/unix"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dFlow server",
		Long:    `Start the dFlow server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DFLOW_<flag> (e.g. DFLOW_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitEnv)

	// partitions
	key := "partitions"
	ServeCmd.PersistentFlags().String(key, "1=memory:maple", cmdUtil.WrapString("Comma-separated list of partitions to serve. Format: ID=LOG[:STATE] where LOG is one of: memory, raft and STATE is one of: maple, bolt"))

	key = "partition-count"
	ServeCmd.PersistentFlags().Int32(key, 0, cmdUtil.WrapString("Number of partitions of the whole cluster. Defaults to the highest served or peered partition ID"))

	key = "peers"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of partitions served by other servers. Format: ID=ENDPOINT (e.g. 2=localhost:8081). The peers are reached with the configured transport and serializer"))

	// engine
	key = "max-fragment-size"
	ServeCmd.PersistentFlags().Int(key, 4*1024*1024, cmdUtil.WrapString("Maximum size in bytes of the follow-up records of one command"))

	key = "max-in-flight-appends"
	ServeCmd.PersistentFlags().Int(key, 1024, cmdUtil.WrapString("Number of appends that may wait for their commit before new commands are rejected (0 disables the limit)"))

	key = "max-in-flight-bytes"
	ServeCmd.PersistentFlags().Int64(key, 64*1024*1024, cmdUtil.WrapString("Number of bytes that may wait for their commit before new commands are rejected (0 disables the limit)"))

	key = "redistribution-interval"
	ServeCmd.PersistentFlags().Int64(key, 1000, cmdUtil.WrapString("Initial interval in milliseconds after which unacknowledged distributed commands are sent again"))

	key = "redistribution-max-interval"
	ServeCmd.PersistentFlags().Int64(key, 60000, cmdUtil.WrapString("Maximum interval in milliseconds between two redistributions of a command"))

	key = "authorization"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Check the permissions of the user submitting a command"))

	key = "admin-users"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of usernames that bypass the authorization checks"))

	// raft
	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(raft) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. Other raft configuration parameters (ElectionRTT=value/10, HeartbeatRTT=value/100) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 1000, cmdUtil.WrapString("(raft) SnapshotEntries defines how often the log should be snapshotted automatically in terms of applied entries. 0 disables automatic snapshots"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 500, cmdUtil.WrapString("(raft) CompactionOverhead defines the number of entries kept after a compaction"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("Directory of the raft data and the bolt partition states"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	// server
	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds of requests and of calls to peers"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/dflow.sock, ...)"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("Number of requests handled concurrently per connection (tcp and unix only)"))

	key = "buffer-size"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("The size of the read buffers of the transport (in KB, tcp and unix only)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	partitions, err := parsePartitions(viper.GetString("partitions"))
	if err != nil {
		return err
	}
	peers, err := parsePeers(viper.GetString("peers"))
	if err != nil {
		return err
	}
	for _, p := range partitions {
		if _, ok := peers[p.PartitionID]; ok {
			return fmt.Errorf("partition %d is served locally and by a peer", p.PartitionID)
		}
	}
	serveCmdConfig.Partitions = partitions
	serveCmdConfig.Peers = peers

	serveCmdConfig.PartitionCount = viper.GetInt32("partition-count")
	if serveCmdConfig.PartitionCount == 0 {
		for _, p := range partitions {
			serveCmdConfig.PartitionCount = max(serveCmdConfig.PartitionCount, p.PartitionID)
		}
		for id := range peers {
			serveCmdConfig.PartitionCount = max(serveCmdConfig.PartitionCount, id)
		}
	}

	serveCmdConfig.Engine = common.EngineConfig{
		MaxFragmentSize:             viper.GetInt("max-fragment-size"),
		MaxInFlightAppends:          viper.GetInt("max-in-flight-appends"),
		MaxInFlightBytes:            viper.GetInt64("max-in-flight-bytes"),
		RedistributionIntervalMs:    viper.GetInt64("redistribution-interval"),
		RedistributionMaxIntervalMs: viper.GetInt64("redistribution-max-interval"),
		AuthorizationEnabled:        viper.GetBool("authorization"),
		AdminUsernames:              parseList(viper.GetString("admin-users")),
	}

	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:       viper.GetString("endpoint"),
		WorkersPerConn: viper.GetInt("workers-per-conn"),
		BufferSize:     viper.GetInt("buffer-size") * 1024,
	}

	// replica id and cluster members are only needed for raft logs
	if id := viper.GetString("replica-id"); id != "" {
		serveCmdConfig.ReplicaID = replicaID(id)
	} else if serveCmdConfig.HasRaftPartition() {
		return fmt.Errorf("ReplicaId is required for raft partitions")
	}

	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		if serveCmdConfig.ClusterMembers, err = parseClusterMembers(clusterMembers); err != nil {
			return err
		}
	} else if serveCmdConfig.HasRaftPartition() {
		return fmt.Errorf("ClusterMembers is required for raft partitions")
	}

	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok && serveCmdConfig.HasRaftPartition() {
		return fmt.Errorf("no address found for replica ID %d in cluster members", serveCmdConfig.ReplicaID)
	}

	return nil
}

// run starts the dFlow server and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	newPeerTransport, err := cmdUtil.GetTransportFactory()
	if err != nil {
		return err
	}

	set := metrics.NewSet()
	bufferSize := serveCmdConfig.Transport.BufferSize
	workers := serveCmdConfig.Transport.WorkersPerConn

	var t transport.IRPCServerTransport
	switch viper.GetString("transport") {
	case "http":
		t = http.NewHttpServerTransport(set)
	case "tcp":
		t = tcp.NewTCPServerTransport(bufferSize, workers)
	case "unix":
		t = unix.NewUnixServerTransport(bufferSize, workers)
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, newPeerTransport, s, set)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		if _, ok := <-signals; ok {
			server.Logger.Infof("shutting down")
			serv.Stop()
		}
	}()

	return serv.Serve()
}
