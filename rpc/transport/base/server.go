package base

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dFlow/rpc/common"
	"github.com/ValentinKolb/dFlow/rpc/transport"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector         IServerConnector
	handler           transport.ServerHandleFunc
	config            common.ServerConfig
	bufferPool        *sync.Pool
	maxWorkersPerConn int

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with per-connection worker pool
func NewBaseServerTransport(connector IServerConnector, bufferSize int, maxWorkersPerConn int) transport.IRPCServerTransport {
	bufferSize = max(bufferSize, frameHeaderSize)
	return &serverTransport{
		connector:         connector,
		maxWorkersPerConn: max(maxWorkersPerConn, 1),
		conns:             make(map[net.Conn]struct{}),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.config = config

	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()
	if t.closed.Load() {
		listener.Close()
		return transport.ErrServerClosed
	}

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), listener.Addr(), t.maxWorkersPerConn)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				t.wg.Wait()
				return transport.ErrServerClosed
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		t.mu.Lock()
		t.conns[conn] = struct{}{}
		t.mu.Unlock()

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handleConnection(conn)
			t.mu.Lock()
			delete(t.conns, conn)
			t.mu.Unlock()
		}()
	}
}

func (t *serverTransport) Close() error {
	t.closed.Store(true)

	t.mu.Lock()
	defer t.mu.Unlock()
	for conn := range t.conns {
		conn.Close()
	}
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection reads the requests of one connection and processes up to
// maxWorkersPerConn of them concurrently. Responses carry the request id.
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer conn.Close()

	// idle connections stay open, only writes are bounded
	timeout := time.Duration(t.config.TimeoutSecond) * time.Second

	workerSemaphore := make(chan struct{}, t.maxWorkersPerConn)
	var workers sync.WaitGroup
	var writeMu sync.Mutex

	respond := func(partitionID int32, requestID uint64, data []byte) {
		start := time.Now()
		resp := t.handler(partitionID, data)
		Logger.Debugf("Processed request %d for partition %d in %s", requestID, partitionID, time.Since(start))

		writeMu.Lock()
		defer writeMu.Unlock()
		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("Failed to set write deadline: %v", err)
				return
			}
		}
		if err := writeFrame(conn, partitionID, requestID, resp); err != nil {
			Logger.Errorf("Failed to write response: %v", err)
		}
	}

read:
	for {
		buf := t.bufferPool.Get().([]byte)
		partitionID, requestID, data, err := readFrame(conn, buf)
		if err != nil {
			t.bufferPool.Put(buf)
			switch {
			case errors.Is(err, io.EOF):
				Logger.Debugf("Connection closed by client %s", conn.RemoteAddr())
			case t.closed.Load():
			default:
				Logger.Errorf("Error reading request from %s: %v", conn.RemoteAddr(), err)
			}
			break read
		}

		// blocks while maxWorkersPerConn requests are processed
		workerSemaphore <- struct{}{}
		workers.Add(1)
		go func() {
			defer func() {
				t.bufferPool.Put(buf)
				<-workerSemaphore
				workers.Done()
			}()
			respond(partitionID, requestID, data)
		}()
	}

	// in-progress requests still get their response written
	workers.Wait()
}
