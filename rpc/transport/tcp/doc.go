// Package tcp provides the TCP connectors of the base transport. Accepted and
// dialed connections get the configured buffer sizes, TCP_NODELAY, keepalive
// and linger settings.
//
// The default server uses 512 KB read buffers and 64 workers per connection.
package tcp
