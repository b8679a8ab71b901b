// Package unix provides Unix domain socket connectors of the base transport,
// for clients running on the same machine as the server. A stale socket file
// is removed before listening.
//
// The default server uses 64 KB read buffers and 64 workers per connection.
package unix
