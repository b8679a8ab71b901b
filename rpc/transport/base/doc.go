// Package base implements the framed client and server transport shared by
// the tcp and unix packages. The stream specific parts are injected through
// IClientConnector and IServerConnector.
//
// Every frame starts with a 16 byte header holding the partition ID, a request
// ID and the payload length. The request ID correlates responses with their
// requests, so a connection carries many requests at once.
//
// Client:
//
//   - Multiple connections per endpoint, selected round robin.
//   - Failed sends are retried on the next connection with exponential backoff.
//   - A broken connection fails its pending requests and reconnects in the
//     background.
//
// Server:
//
//   - One goroutine reads the frames of a connection, up to WorkersPerConn
//     requests are handled concurrently. Responses may be written out of order.
//   - Read buffers come from a sync.Pool.
//   - Close stops accepting, closes all connections and waits for the
//     in-progress requests.
//
// All public methods are thread-safe.
package base
