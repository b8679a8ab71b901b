// Package transport defines the client and server contracts every RPC
// transport implements. Requests are opaque byte slices addressed to a
// partition ID, the server hands them to a ServerHandleFunc.
package transport
