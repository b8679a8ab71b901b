package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/db/engines/bolt"
	"github.com/ValentinKolb/dFlow/lib/db/engines/maple"
	"github.com/ValentinKolb/dFlow/lib/engine"
	"github.com/ValentinKolb/dFlow/lib/logstream"
	"github.com/ValentinKolb/dFlow/lib/logstream/flowcontrol"
	"github.com/ValentinKolb/dFlow/lib/logstream/memstorage"
	"github.com/ValentinKolb/dFlow/lib/logstream/raftstorage"
	"github.com/ValentinKolb/dFlow/lib/partition"
	"github.com/ValentinKolb/dFlow/rpc/client"
	"github.com/ValentinKolb/dFlow/rpc/common"
	"github.com/ValentinKolb/dFlow/rpc/serializer"
	"github.com/ValentinKolb/dFlow/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cenkalti/backoff/v5"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new RPC server hosting the partitions of the config.
// newPeerTransport creates the client transport used to reach partitions of
// other servers, it may be nil if the config has no peers. set receives the
// metrics of all partitions and may be nil.
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPDefaultServerTransport(),
//		tcp.NewTCPClientTransport,
//		serializer.NewBinarySerializer(),
//		nil,
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	newPeerTransport func() transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
	set *metrics.Set,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}
	if set == nil {
		set = metrics.NewSet()
	}

	return &RPCServer{
		config:           config,
		transport:        transport,
		newPeerTransport: newPeerTransport,
		serializer:       serializer,
		adapter:          NewPartitionServerAdapter(),
		metrics:          set,
	}
}

// RPCServer hosts partitions and serves their operations over a transport.
type RPCServer struct {
	config           common.ServerConfig
	transport        transport.IRPCServerTransport
	newPeerTransport func() transport.IRPCClientTransport
	serializer       serializer.IRPCSerializer
	adapter          IRPCServerAdapter
	metrics          *metrics.Set

	router     *partition.Router
	remote     *client.RemoteTransport
	nodeHost   *dragonboat.NodeHost
	partitions []*partition.Partition
	closers    []func()
}

// Router returns the router of the hosted partitions, it is nil before Init.
func (s *RPCServer) Router() *partition.Router {
	return s.router
}

func (s *RPCServer) registerTransportHandler() {
	timeout := s.requestTimeout()

	s.transport.RegisterHandler(func(partitionID int32, req []byte) []byte {
		var respMsg *common.Message

		p, ok := s.router.Get(partitionID)
		if !ok {
			respMsg = common.NewErrorResponse(fmt.Sprintf("partition %d not found", partitionID))
		} else {
			var msg common.Message
			if err := s.serializer.Deserialize(req, &msg); err != nil {
				respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
			} else {
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				respMsg = s.adapter.Handle(ctx, &msg, p)
				cancel()
			}
		}

		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response for partition %d: %v", partitionID, err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
		}
		return val
	})
}

func (s *RPCServer) requestTimeout() time.Duration {
	if s.config.TimeoutSecond <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.config.TimeoutSecond) * time.Second
}

// Init creates and starts all partitions of the config and waits until they
// replayed their logs.
func (s *RPCServer) Init() error {
	if err := common.InitLoggers(s.config); err != nil {
		return err
	}
	Logger.Infof(s.config.String())

	if len(s.config.Partitions) == 0 {
		return fmt.Errorf("no partitions configured")
	}

	if len(s.config.Peers) > 0 {
		if s.newPeerTransport == nil {
			return fmt.Errorf("peers are configured but no peer transport is given")
		}
		s.remote = client.NewRemoteTransport(s.config.Peers, common.ClientConfig{
			TimeoutSecond: int(s.requestTimeout() / time.Second),
			Transport:     common.ClientTransportConfig{RetryCount: 1},
		}, s.newPeerTransport, s.serializer)
		s.closers = append(s.closers, func() { _ = s.remote.Close() })
	}
	var fallback partition.Transport
	if s.remote != nil {
		fallback = s.remote
	}
	s.router = partition.NewRouter(fallback)

	registry := raftstorage.NewRegistry()
	if s.config.HasRaftPartition() {
		nh, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nh
	}

	for _, pc := range s.config.Partitions {
		p, err := s.createPartition(pc, registry)
		if err != nil {
			s.Stop()
			return err
		}
		s.router.Register(p)
		s.partitions = append(s.partitions, p)
		p.Start()
	}

	for _, p := range s.partitions {
		<-p.Ready()
	}

	s.registerTransportHandler()
	Logger.Infof("dFlow setup completed successfully with %d partitions", len(s.partitions))
	return nil
}

// createPartition opens the log and state of a partition
func (s *RPCServer) createPartition(pc common.ServerPartition, registry *raftstorage.Registry) (*partition.Partition, error) {
	storage, err := s.openLog(pc, registry)
	if err != nil {
		return nil, err
	}
	database, err := s.openState(pc)
	if err != nil {
		return nil, err
	}

	e := s.config.Engine
	p, err := partition.New(partition.Config{
		PartitionID:     pc.PartitionID,
		PartitionCount:  s.config.PartitionCount,
		MaxFragmentSize: e.MaxFragmentSize,
		FlowControl: flowcontrol.Limits{
			MaxInFlightAppends: e.MaxInFlightAppends,
			MaxInFlightBytes:   e.MaxInFlightBytes,
		},
		Authorization: engine.AuthorizationConfig{
			Enabled:        e.AuthorizationEnabled,
			AdminUsernames: e.AdminUsernames,
		},
		RequestTimeout: s.requestTimeout(),
		Redistribution: partition.RedistributionConfig{
			InitialInterval: time.Duration(e.RedistributionIntervalMs) * time.Millisecond,
			MaxInterval:     time.Duration(e.RedistributionMaxIntervalMs) * time.Millisecond,
		},
		Metrics: s.metrics,
	}, storage, database, s.router)
	if err != nil {
		return nil, err
	}
	Logger.Infof("created partition %d (log=%s, state=%s)", pc.PartitionID, pc.Log, pc.State)
	return p, nil
}

func (s *RPCServer) openLog(pc common.ServerPartition, registry *raftstorage.Registry) (logstream.LogStorage, error) {
	switch pc.Log {
	case common.LogTypeMemory, "":
		storage := memstorage.New(memstorage.Options{})
		s.closers = append(s.closers, storage.Close)
		return storage, nil

	case common.LogTypeRaft:
		if s.nodeHost == nil {
			return nil, fmt.Errorf("node host is nil, cannot create the raft log of partition %d", pc.PartitionID)
		}
		shardID := uint64(pc.PartitionID)
		if err := s.nodeHost.StartConcurrentReplica(s.config.ClusterMembers, false, registry.Factory(), s.config.ToDragonboatConfig(pc.PartitionID)); err != nil {
			return nil, fmt.Errorf("failed to start the raft log of partition %d: %w", pc.PartitionID, err)
		}

		// the state machine is registered once dragonboat created it
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 10 * time.Millisecond
		return backoff.Retry(context.Background(), func() (logstream.LogStorage, error) {
			storage, err := raftstorage.New(s.nodeHost, registry, shardID, s.config.ReplicaID, s.requestTimeout())
			if err != nil && !errors.Is(err, raftstorage.ErrNoLocalReplica) {
				return nil, backoff.Permanent(err)
			}
			return storage, err
		}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(10*time.Second))

	default:
		return nil, fmt.Errorf("invalid log type %q of partition %d", pc.Log, pc.PartitionID)
	}
}

func (s *RPCServer) openState(pc common.ServerPartition) (db.KVDB, error) {
	switch pc.State {
	case common.StateTypeMaple, "":
		database := maple.NewMapleDB(nil)
		s.closers = append(s.closers, func() { _ = database.Close() })
		return database, nil

	case common.StateTypeBolt:
		dir := s.config.DataDir
		if dir == "" {
			dir = "."
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
		path := filepath.Join(dir, "partition-"+strconv.Itoa(int(pc.PartitionID))+".db")
		database, err := bolt.NewBoltDB(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open the state of partition %d: %w", pc.PartitionID, err)
		}
		s.closers = append(s.closers, func() { _ = database.Close() })
		return database, nil

	default:
		return nil, fmt.Errorf("invalid state type %q of partition %d", pc.State, pc.PartitionID)
	}
}

// Serve initializes the server and starts the transport layer. It blocks
// until Stop is called.
func (s *RPCServer) Serve() error {
	if err := s.Init(); err != nil {
		return err
	}
	err := s.transport.Listen(s.config)
	if errors.Is(err, transport.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes the transport and stops all partitions
func (s *RPCServer) Stop() {
	if err := s.transport.Close(); err != nil {
		Logger.Warningf("failed to close the transport: %v", err)
	}
	for _, p := range s.partitions {
		p.Stop()
	}
	s.partitions = nil
	if s.nodeHost != nil {
		s.nodeHost.Close()
		s.nodeHost = nil
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
