package transport

import (
	"errors"

	"github.com/ValentinKolb/dFlow/rpc/common"
)

// ErrServerClosed is returned by Listen after Close was called
var ErrServerClosed = errors.New("transport: server closed")

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes the id of the addressed partition and a request and returns a response
type ServerHandleFunc func(partitionID int32, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	// The handler is responsible for routing the request to the addressed partition
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and blocks until Close is called
	Listen(config common.ServerConfig) error
	// Close stops listening, Listen returns ErrServerClosed
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request for a partition to the server and returns the response
	Send(partitionID int32, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
